package quality

import (
	"math/rand"
	"testing"
	"time"

	"proxyrotor/proxypool/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func outcome(success bool, sev model.CaptchaSeverity, rt time.Duration) model.SessionOutcome {
	return model.SessionOutcome{
		ProxyKey:        "10.0.0.1:8080",
		Timestamp:       t0,
		Success:         success,
		CaptchaSeverity: sev,
		ResponseTime:    rt,
	}
}

func TestNewRecord_NeutralPrior(t *testing.T) {
	rec := NewRecord(model.Candidate{Host: "10.0.0.1", Port: 8080, Country: "US"})

	if rec.QualityScore != 50 {
		t.Errorf("Expected fresh score 50, got %v", rec.QualityScore)
	}
	if rec.QualityLevel != model.LevelAverage {
		t.Errorf("Expected fresh level AVERAGE, got %s", rec.QualityLevel)
	}
	if rec.Key() != "10.0.0.1:8080" {
		t.Errorf("Unexpected key %s", rec.Key())
	}
}

func TestLevelFor_Boundaries(t *testing.T) {
	tests := []struct {
		rate float64
		want model.QualityLevel
	}{
		{0, model.LevelPremium},
		{0.10, model.LevelPremium},
		{0.1001, model.LevelGood},
		{0.25, model.LevelGood},
		{0.50, model.LevelAverage},
		{0.75, model.LevelPoor},
		{0.7501, model.LevelBanned},
		{1, model.LevelBanned},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.rate); got != tt.want {
			t.Errorf("LevelFor(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}
}

func TestRecalc_BoundariesFromCounters(t *testing.T) {
	tests := []struct {
		total, captchas int64
		want            model.QualityLevel
	}{
		{10, 1, model.LevelPremium},
		{4, 1, model.LevelGood},
		{2, 1, model.LevelAverage},
		{4, 3, model.LevelPoor},
		{5, 4, model.LevelBanned},
	}
	for _, tt := range tests {
		rec := &model.ProxyRecord{TotalUses: tt.total, SuccessfulUses: tt.total, CaptchaEncounters: tt.captchas}
		Recalc(rec)
		if rec.QualityLevel != tt.want {
			t.Errorf("%d/%d captchas: got %s, want %s", tt.captchas, tt.total, rec.QualityLevel, tt.want)
		}
	}
}

func TestUpdate_EMA(t *testing.T) {
	rec := NewRecord(model.Candidate{Host: "10.0.0.1", Port: 8080})

	Update(rec, outcome(true, model.SeverityNone, 3*time.Second))
	if rec.AvgResponseTime != 3 {
		t.Fatalf("Expected first sample to seed the average, got %v", rec.AvgResponseTime)
	}

	Update(rec, outcome(true, model.SeverityNone, 1*time.Second))
	// 0.2*1 + 0.8*3
	if diff := rec.AvgResponseTime - 2.6; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected EMA 2.6, got %v", rec.AvgResponseTime)
	}
}

func TestUpdate_CountersAndTimestamps(t *testing.T) {
	rec := NewRecord(model.Candidate{Host: "10.0.0.1", Port: 8080})

	Update(rec, outcome(true, model.SeverityNone, time.Second))
	Update(rec, outcome(false, model.SeverityPuzzle, time.Second))
	Update(rec, outcome(false, model.SeverityComplex, time.Second))
	Recalc(rec)

	if rec.TotalUses != 3 || rec.SuccessfulUses != 1 || rec.CaptchaEncounters != 2 {
		t.Errorf("Unexpected counters: %+v", rec)
	}
	if rec.CaptchaBySeverity[model.SeverityPuzzle] != 1 || rec.CaptchaBySeverity[model.SeverityComplex] != 1 {
		t.Errorf("Unexpected severity subtotals: %v", rec.CaptchaBySeverity)
	}
	if !rec.LastCaptcha.Equal(t0) || !rec.LastSuccess.Equal(t0) || !rec.LastUsed.Equal(t0) {
		t.Errorf("Expected timestamps to be set to the outcome time")
	}
	// 33.3 - 33.3 = 0
	if rec.QualityScore > 1e-9 {
		t.Errorf("Expected score 0, got %v", rec.QualityScore)
	}
}

func TestRecalc_SlowPenaltyAndROI(t *testing.T) {
	rec := &model.ProxyRecord{TotalUses: 10, SuccessfulUses: 10, AvgResponseTime: 3.5, CostPerUse: 0.5}
	Recalc(rec)

	// 100 - 0 - 15
	if rec.QualityScore != 85 {
		t.Errorf("Expected score 85, got %v", rec.QualityScore)
	}
	if rec.ROIScore != 200 {
		t.Errorf("Expected ROI 200, got %v", rec.ROIScore)
	}

	rec.CostPerUse = 0
	Recalc(rec)
	if rec.ROIScore != 100 {
		t.Errorf("Expected ROI 100 without cost, got %v", rec.ROIScore)
	}
}

func TestRatesStayInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	severities := []model.CaptchaSeverity{model.SeverityNone, model.SeveritySimple, model.SeverityPuzzle, model.SeverityComplex, model.SeverityOther}
	rec := NewRecord(model.Candidate{Host: "10.0.0.1", Port: 8080})

	const n = 500
	for i := 0; i < n; i++ {
		o := outcome(rng.Intn(2) == 0, severities[rng.Intn(len(severities))], time.Duration(rng.Intn(8000))*time.Millisecond)
		Update(rec, o)
		Recalc(rec)
		if rec.SuccessRate < 0 || rec.SuccessRate > 1 || rec.CaptchaRate < 0 || rec.CaptchaRate > 1 {
			t.Fatalf("rates out of range after %d outcomes: %v %v", i+1, rec.SuccessRate, rec.CaptchaRate)
		}
		if rec.QualityScore < 0 || rec.QualityScore > 100 {
			t.Fatalf("score out of range: %v", rec.QualityScore)
		}
	}
	if rec.TotalUses != n {
		t.Errorf("Expected total_uses %d, got %d", n, rec.TotalUses)
	}
}

func TestBestOf_DeterministicTieBreak(t *testing.T) {
	a := &model.ProxyRecord{Host: "10.0.0.2", Port: 80, QualityScore: 5}
	b := &model.ProxyRecord{Host: "10.0.0.1", Port: 80, QualityScore: 5}
	c := &model.ProxyRecord{Host: "10.0.0.3", Port: 80, QualityScore: 1}

	if got := BestOf([]*model.ProxyRecord{a, b, c}); got != b {
		t.Errorf("Expected 10.0.0.1:80, got %s", got.Key())
	}
	if got := BestOf([]*model.ProxyRecord{c, b, a}); got != b {
		t.Errorf("Expected order-independent result, got %s", got.Key())
	}
	if BestOf(nil) != nil {
		t.Error("Expected nil for empty input")
	}
}
