// Package analytics derives status reports from the rotation manager's live state.
package analytics

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"proxyrotor/proxypool/model"
	"proxyrotor/proxypool/quality"
	"proxyrotor/proxypool/strategy"
)

// Performer 是报告中单个代理的摘要。
type Performer struct {
	Key          string             `json:"key" yaml:"key"`
	Country      string             `json:"country,omitempty" yaml:"country,omitempty"`
	QualityScore float64            `json:"quality_score" yaml:"quality_score"`
	QualityLevel model.QualityLevel `json:"quality_level" yaml:"quality_level"`
	SuccessRate  float64            `json:"success_rate" yaml:"success_rate"`
	CaptchaRate  float64            `json:"captcha_rate" yaml:"captcha_rate"`
	TotalUses    int64              `json:"total_uses" yaml:"total_uses"`
}

// Report is the operational snapshot returned by the manager.
type Report struct {
	PoolSize            int                        `json:"pool_size" yaml:"pool_size"`
	Usable              int                        `json:"usable" yaml:"usable"`
	Strategy            string                     `json:"strategy" yaml:"strategy"`
	TargetCaptchaRate   float64                    `json:"target_captcha_rate" yaml:"target_captcha_rate"`
	TrailingCaptchaRate float64                    `json:"trailing_captcha_rate" yaml:"trailing_captcha_rate"`
	WindowSamples       int                        `json:"window_samples" yaml:"window_samples"`
	Levels              map[model.QualityLevel]int `json:"levels" yaml:"levels"`
	TopPerformers       []Performer                `json:"top_performers" yaml:"top_performers"`
}

// Build summarizes records. It does not mutate them.
func Build(records []*model.ProxyRecord, state strategy.State, target float64, topN int) Report {
	r := Report{
		PoolSize:            len(records),
		Strategy:            state.Active.String(),
		TargetCaptchaRate:   target,
		TrailingCaptchaRate: state.TrailingRate,
		WindowSamples:       state.WindowSamples,
		Levels:              make(map[model.QualityLevel]int, len(model.AllLevels)),
	}
	for _, lvl := range model.AllLevels {
		r.Levels[lvl] = 0
	}

	for _, rec := range records {
		r.Levels[rec.QualityLevel]++
		if rec.QualityLevel.Usable() {
			r.Usable++
		}
	}

	ranked := append([]*model.ProxyRecord(nil), records...)
	sort.Slice(ranked, func(i, j int) bool { return quality.Better(ranked[i], ranked[j]) })
	if topN >= 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	r.TopPerformers = make([]Performer, 0, len(ranked))
	for _, rec := range ranked {
		r.TopPerformers = append(r.TopPerformers, Performer{
			Key:          rec.Key(),
			Country:      rec.Country,
			QualityScore: rec.QualityScore,
			QualityLevel: rec.QualityLevel,
			SuccessRate:  rec.SuccessRate,
			CaptchaRate:  rec.CaptchaRate,
			TotalUses:    rec.TotalUses,
		})
	}
	return r
}

// Table renders the report as a plain-text table.
func (r Report) Table(w io.Writer) error {
	fmt.Fprintf(w, "Pool: %d proxies (%d usable)\n", r.PoolSize, r.Usable)
	fmt.Fprintf(w, "Strategy: %s\n", r.Strategy)
	fmt.Fprintf(w, "Captcha rate: %.1f%% trailing over %d sessions (target %.1f%%)\n",
		r.TrailingCaptchaRate*100, r.WindowSamples, r.TargetCaptchaRate*100)

	fmt.Fprint(w, "Levels:")
	for _, lvl := range model.AllLevels {
		fmt.Fprintf(w, " %s=%d", lvl, r.Levels[lvl])
	}
	fmt.Fprintln(w)

	if len(r.TopPerformers) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nKEY\tCOUNTRY\tSCORE\tLEVEL\tSUCCESS\tCAPTCHA\tUSES")
	for _, p := range r.TopPerformers {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s\t%.0f%%\t%.0f%%\t%d\n",
			p.Key, p.Country, p.QualityScore, p.QualityLevel, p.SuccessRate*100, p.CaptchaRate*100, p.TotalUses)
	}
	return tw.Flush()
}
