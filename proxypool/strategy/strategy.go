// Package strategy holds the four proxy selection heuristics and the
// trailing-window controller that switches between them.
package strategy

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"proxyrotor/proxypool/model"
)

// Kind 是封闭的策略枚举。
type Kind int

const (
	Adaptive Kind = iota
	QualityWeighted
	AntiPattern
	CostOptimized
)

var kindNames = map[Kind]string{
	Adaptive:        "adaptive",
	QualityWeighted: "quality_weighted",
	AntiPattern:     "anti_pattern",
	CostOptimized:   "cost_optimized",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText lets reports serialize the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind accepts the snake_case names used in config files.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return Adaptive, fmt.Errorf("unknown strategy %q", s)
}

// Func is the shape shared by every strategy. Candidates must be non-empty.
type Func func(candidates []*model.ProxyRecord, ctx model.RotationContext, now time.Time, rng *rand.Rand) *model.ProxyRecord

// Pick dispatches to the implementation for kind. It returns nil only for an empty candidate list.
func Pick(kind Kind, candidates []*model.ProxyRecord, ctx model.RotationContext, now time.Time, rng *rand.Rand) *model.ProxyRecord {
	if len(candidates) == 0 {
		return nil
	}
	// 随机抽样前先按 key 排序，保证相同种子下结果可复现
	ordered := sortedByKey(candidates)

	switch kind {
	case QualityWeighted:
		return SelectQualityWeighted(ordered, ctx, now, rng)
	case AntiPattern:
		return SelectAntiPattern(ordered, ctx, now, rng)
	case CostOptimized:
		return SelectCostOptimized(ordered, ctx, now, rng)
	default:
		return SelectAdaptive(ordered, ctx, now, rng)
	}
}

const (
	recentUse     = 10 * time.Minute
	moderateUse   = 30 * time.Minute
	captchaMemory = 30 * time.Minute
	idleThreshold = 30 * time.Minute

	costCaptchaCeiling = 0.25
)

// SelectAdaptive draws a weighted-random candidate. The weight multiplies the quality score by
// level, recency, country-match and recent-captcha factors.
func SelectAdaptive(candidates []*model.ProxyRecord, ctx model.RotationContext, now time.Time, rng *rand.Rand) *model.ProxyRecord {
	weights := make([]float64, len(candidates))
	for i, c := range candidates {
		weights[i] = adaptiveWeight(c, ctx, now)
	}
	if picked := roulette(candidates, weights, rng); picked != nil {
		return picked
	}
	return candidates[rng.Intn(len(candidates))]
}

func adaptiveWeight(c *model.ProxyRecord, ctx model.RotationContext, now time.Time) float64 {
	w := c.QualityScore

	switch c.QualityLevel {
	case model.LevelPremium:
		w *= 2.0
	case model.LevelGood:
		w *= 1.5
	}

	switch {
	case c.UsedWithin(now, recentUse):
		w *= 0.3
	case c.UsedWithin(now, moderateUse):
		w *= 0.7
	}

	if ctx.TargetCountry != "" && strings.EqualFold(c.Country, ctx.TargetCountry) {
		w *= 1.3
	}
	if c.CaptchaWithin(now, captchaMemory) {
		w *= 0.1
	}
	return w
}

// SelectQualityWeighted draws from the top third by score, weighting each by score+1.
func SelectQualityWeighted(candidates []*model.ProxyRecord, _ model.RotationContext, _ time.Time, rng *rand.Rand) *model.ProxyRecord {
	ranked := append([]*model.ProxyRecord(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].QualityScore > ranked[j].QualityScore
	})

	n := len(ranked) / 3
	if n < 1 {
		n = 1
	}
	top := ranked[:n]

	weights := make([]float64, len(top))
	for i, c := range top {
		weights[i] = c.QualityScore + 1
	}
	if picked := roulette(top, weights, rng); picked != nil {
		return picked
	}
	return top[0]
}

// SelectAntiPattern prefers proxies idle for more than 30 minutes, best level first and the
// longest-idle within a level. Without idle proxies it takes the lowest captcha rate.
func SelectAntiPattern(candidates []*model.ProxyRecord, _ model.RotationContext, now time.Time, _ *rand.Rand) *model.ProxyRecord {
	var idle []*model.ProxyRecord
	for _, c := range candidates {
		if c.IdleFor(now, idleThreshold) {
			idle = append(idle, c)
		}
	}

	if len(idle) > 0 {
		for _, level := range []model.QualityLevel{model.LevelPremium, model.LevelGood} {
			if best := oldestUse(filterLevel(idle, level)); best != nil {
				return best
			}
		}
		return oldestUse(idle)
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.CaptchaRate < best.CaptchaRate ||
			(c.CaptchaRate == best.CaptchaRate && c.LastUsed.Before(best.LastUsed)) {
			best = c
		}
	}
	return best
}

// SelectCostOptimized returns the best ROI among proxies with captcha rate <= 25%,
// or the best ROI overall when none qualify.
func SelectCostOptimized(candidates []*model.ProxyRecord, _ model.RotationContext, _ time.Time, _ *rand.Rand) *model.ProxyRecord {
	ranked := append([]*model.ProxyRecord(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ROIScore > ranked[j].ROIScore
	})
	for _, c := range ranked {
		if c.CaptchaRate <= costCaptchaCeiling {
			return c
		}
	}
	return ranked[0]
}

// roulette performs a cumulative weighted draw over strictly positive weights.
// It returns nil when no weight is positive.
func roulette(candidates []*model.ProxyRecord, weights []float64, rng *rand.Rand) *model.ProxyRecord {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return nil
	}

	r := rng.Float64() * total
	var cum float64
	var last *model.ProxyRecord
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cum += w
		last = candidates[i]
		if r < cum {
			return candidates[i]
		}
	}
	// float rounding
	return last
}

func filterLevel(records []*model.ProxyRecord, level model.QualityLevel) []*model.ProxyRecord {
	var out []*model.ProxyRecord
	for _, r := range records {
		if r.QualityLevel == level {
			out = append(out, r)
		}
	}
	return out
}

// oldestUse picks the record with the earliest LastUsed; never-used records sort first.
// Input is key-ordered so the first of equals wins.
func oldestUse(records []*model.ProxyRecord) *model.ProxyRecord {
	var best *model.ProxyRecord
	for _, r := range records {
		if best == nil || r.LastUsed.Before(best.LastUsed) {
			best = r
		}
	}
	return best
}

func sortedByKey(records []*model.ProxyRecord) []*model.ProxyRecord {
	out := append([]*model.ProxyRecord(nil), records...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out
}
