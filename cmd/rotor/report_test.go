package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"proxyrotor/proxypool/analytics"
	"proxyrotor/proxypool/model"
)

func sampleReport() analytics.Report {
	return analytics.Report{
		PoolSize:            3,
		Usable:              2,
		Strategy:            "anti_pattern",
		TargetCaptchaRate:   0.15,
		TrailingCaptchaRate: 0.2,
		WindowSamples:       40,
		Levels:              map[model.QualityLevel]int{model.LevelPremium: 1, model.LevelAverage: 1, model.LevelBanned: 1},
		TopPerformers:       []analytics.Performer{{Key: "10.0.0.1:8080", QualityScore: 92, QualityLevel: model.LevelPremium}},
	}
}

func TestWriteReport_Formats(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReport(&buf, sampleReport(), "json"); err != nil {
		t.Fatalf("json: %v", err)
	}
	var fromJSON analytics.Report
	if err := json.Unmarshal(buf.Bytes(), &fromJSON); err != nil || fromJSON.Strategy != "anti_pattern" {
		t.Errorf("Unexpected JSON output: %s (%v)", buf.String(), err)
	}

	buf.Reset()
	if err := writeReport(&buf, sampleReport(), "yaml"); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var fromYAML map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &fromYAML); err != nil || fromYAML["pool_size"] != 3 {
		t.Errorf("Unexpected YAML output: %s (%v)", buf.String(), err)
	}

	buf.Reset()
	if err := writeReport(&buf, sampleReport(), "table"); err != nil {
		t.Fatalf("table: %v", err)
	}
	if !strings.Contains(buf.String(), "10.0.0.1:8080") {
		t.Errorf("Expected the top performer in the table, got:\n%s", buf.String())
	}

	if err := writeReport(&buf, sampleReport(), "xml"); err == nil {
		t.Error("Expected an error for an unknown format")
	}
}
