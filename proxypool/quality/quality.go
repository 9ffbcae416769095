// Package quality turns a proxy's raw counters into a score and a level.
// Everything here is a pure function of the record; callers own locking.
package quality

import (
	"math"

	"proxyrotor/proxypool/model"
)

const (
	// NeutralScore is the prior for a record with no history.
	NeutralScore = 50.0

	emaWeight           = 0.2
	slowResponseSeconds = 2.0
	slowPenaltyPerSec   = 10.0
	captchaPenalty      = 50.0
)

// 验证码率阈值 (含边界)，从高到低匹配。
var levelThresholds = []struct {
	maxRate float64
	level   model.QualityLevel
}{
	{0.10, model.LevelPremium},
	{0.25, model.LevelGood},
	{0.50, model.LevelAverage},
	{0.75, model.LevelPoor},
}

// NewRecord creates a fresh record for a candidate at the neutral prior.
func NewRecord(c model.Candidate) *model.ProxyRecord {
	rec := &model.ProxyRecord{
		Host:              c.Host,
		Port:              c.Port,
		CredentialRef:     c.Credentials,
		Country:           c.Country,
		Source:            c.Source,
		CostPerUse:        c.CostPerUse,
		CaptchaBySeverity: make(map[model.CaptchaSeverity]int64),
	}
	Recalc(rec)
	return rec
}

// Update folds one outcome into rec's counters. It does not touch derived fields; call Recalc afterwards.
func Update(rec *model.ProxyRecord, o model.SessionOutcome) {
	firstSample := rec.TotalUses == 0

	rec.TotalUses++
	rec.LastUsed = o.Timestamp
	if o.Success {
		rec.SuccessfulUses++
		rec.LastSuccess = o.Timestamp
	}
	if o.CaptchaSeverity.IsChallenge() {
		rec.CaptchaEncounters++
		if rec.CaptchaBySeverity == nil {
			rec.CaptchaBySeverity = make(map[model.CaptchaSeverity]int64)
		}
		rec.CaptchaBySeverity[o.CaptchaSeverity]++
		rec.LastCaptcha = o.Timestamp
	}

	sample := o.ResponseTime.Seconds()
	if firstSample {
		rec.AvgResponseTime = sample
	} else {
		rec.AvgResponseTime = emaWeight*sample + (1-emaWeight)*rec.AvgResponseTime
	}
}

// Recalc recomputes every derived field from the counters.
func Recalc(rec *model.ProxyRecord) {
	if rec.TotalUses == 0 {
		rec.SuccessRate = 0
		rec.CaptchaRate = 0
		rec.QualityScore = NeutralScore
		rec.QualityLevel = model.LevelAverage
		rec.ROIScore = 0
		return
	}

	total := float64(rec.TotalUses)
	rec.SuccessRate = clamp(float64(rec.SuccessfulUses)/total, 0, 1)
	rec.CaptchaRate = clamp(float64(rec.CaptchaEncounters)/total, 0, 1)

	slowPenalty := math.Max(0, (rec.AvgResponseTime-slowResponseSeconds)*slowPenaltyPerSec)
	rec.QualityScore = clamp(rec.SuccessRate*100-rec.CaptchaRate*captchaPenalty-slowPenalty, 0, 100)
	rec.QualityLevel = LevelFor(rec.CaptchaRate)

	if rec.CostPerUse > 0 {
		rec.ROIScore = rec.SuccessRate * 100 / rec.CostPerUse
	} else {
		rec.ROIScore = rec.SuccessRate * 100
	}
}

// LevelFor maps a captcha rate onto a quality level. Thresholds are inclusive.
func LevelFor(captchaRate float64) model.QualityLevel {
	for _, t := range levelThresholds {
		if captchaRate <= t.maxRate {
			return t.level
		}
	}
	return model.LevelBanned
}

// BestOf returns the highest-scoring record, ties going to the lexicographically
// smallest key so the result never depends on slice order. Nil for an empty slice.
func BestOf(records []*model.ProxyRecord) *model.ProxyRecord {
	var best *model.ProxyRecord
	for _, r := range records {
		if best == nil || Better(r, best) {
			best = r
		}
	}
	return best
}

// Better orders records by score descending, then key ascending.
func Better(a, b *model.ProxyRecord) bool {
	if a.QualityScore != b.QualityScore {
		return a.QualityScore > b.QualityScore
	}
	return a.Key() < b.Key()
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
