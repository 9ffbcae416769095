package strategy

import (
	"math/rand"
	"testing"
	"time"

	"proxyrotor/proxypool/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(host string, score float64, level model.QualityLevel) *model.ProxyRecord {
	return &model.ProxyRecord{Host: host, Port: 8080, QualityScore: score, QualityLevel: level}
}

func TestParseKind(t *testing.T) {
	for k, name := range kindNames {
		got, err := ParseKind(name)
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseKind("round_robin"); err == nil {
		t.Error("Expected an error for an unknown strategy")
	}
}

func TestPick_EmptyReturnsNil(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for k := range kindNames {
		if got := Pick(k, nil, model.RotationContext{}, now, rng); got != nil {
			t.Errorf("%s: expected nil for empty pool", k)
		}
	}
}

func TestPick_SeededIsReproducible(t *testing.T) {
	pool := []*model.ProxyRecord{
		rec("10.0.0.3", 70, model.LevelGood),
		rec("10.0.0.1", 90, model.LevelPremium),
		rec("10.0.0.2", 40, model.LevelAverage),
		rec("10.0.0.4", 60, model.LevelGood),
	}
	reversed := []*model.ProxyRecord{pool[3], pool[2], pool[1], pool[0]}

	for _, kind := range []Kind{Adaptive, QualityWeighted} {
		a := rand.New(rand.NewSource(99))
		b := rand.New(rand.NewSource(99))
		for i := 0; i < 50; i++ {
			x := Pick(kind, pool, model.RotationContext{}, now, a)
			y := Pick(kind, reversed, model.RotationContext{}, now, b)
			if x.Key() != y.Key() {
				t.Fatalf("%s: draw %d differs (%s vs %s)", kind, i, x.Key(), y.Key())
			}
		}
	}
}

func TestAdaptive_AllZeroWeightsFallsBackToUniform(t *testing.T) {
	pool := []*model.ProxyRecord{rec("10.0.0.1", 0, model.LevelPoor), rec("10.0.0.2", 0, model.LevelPoor)}
	rng := rand.New(rand.NewSource(3))

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[SelectAdaptive(pool, model.RotationContext{}, now, rng).Key()] = true
	}
	if len(seen) != 2 {
		t.Errorf("Expected uniform fallback to reach both candidates, saw %v", seen)
	}
}

func TestAdaptive_WeightFactors(t *testing.T) {
	base := rec("10.0.0.1", 50, model.LevelAverage)
	if w := adaptiveWeight(base, model.RotationContext{}, now); w != 50 {
		t.Errorf("Expected plain weight 50, got %v", w)
	}

	premium := rec("10.0.0.2", 50, model.LevelPremium)
	premium.Country = "DE"
	premium.LastUsed = now.Add(-5 * time.Minute)
	// 50 * 2.0 * 0.3 * 1.3
	if w := adaptiveWeight(premium, model.RotationContext{TargetCountry: "de"}, now); w < 38.99 || w > 39.01 {
		t.Errorf("Expected weight 39, got %v", w)
	}

	good := rec("10.0.0.3", 50, model.LevelGood)
	good.LastUsed = now.Add(-20 * time.Minute)
	good.LastCaptcha = now.Add(-20 * time.Minute)
	// 50 * 1.5 * 0.7 * 0.1
	if w := adaptiveWeight(good, model.RotationContext{}, now); w < 5.249 || w > 5.251 {
		t.Errorf("Expected weight 5.25, got %v", w)
	}
}

func TestAdaptive_PrefersHeavierCandidate(t *testing.T) {
	strong := rec("10.0.0.1", 100, model.LevelPremium)
	weak := rec("10.0.0.2", 10, model.LevelPoor)
	weak.LastCaptcha = now.Add(-time.Minute)
	rng := rand.New(rand.NewSource(5))

	hits := 0
	for i := 0; i < 1000; i++ {
		if SelectAdaptive([]*model.ProxyRecord{strong, weak}, model.RotationContext{}, now, rng) == strong {
			hits++
		}
	}
	if hits < 950 {
		t.Errorf("Expected strong candidate to dominate, got %d/1000", hits)
	}
}

func TestQualityWeighted_RestrictsToTopThird(t *testing.T) {
	var pool []*model.ProxyRecord
	for i, score := range []float64{10, 20, 30, 40, 50, 95} {
		pool = append(pool, rec(string(rune('a'+i))+".example", score, model.LevelAverage))
	}
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		got := SelectQualityWeighted(pool, model.RotationContext{}, now, rng)
		if got.QualityScore < 50 {
			t.Fatalf("Expected only the top two candidates, got score %v", got.QualityScore)
		}
	}

	single := []*model.ProxyRecord{rec("10.0.0.9", 0, model.LevelPoor)}
	if got := SelectQualityWeighted(single, model.RotationContext{}, now, rng); got != single[0] {
		t.Error("Expected the only candidate")
	}
}

func TestAntiPattern_NeverUsedBeatsRecentlyIdle(t *testing.T) {
	used := rec("10.0.0.1", 90, model.LevelPremium)
	used.LastUsed = now.Add(-40 * time.Minute)
	fresh := rec("10.0.0.2", 90, model.LevelPremium)

	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		got := Pick(AntiPattern, []*model.ProxyRecord{used, fresh}, model.RotationContext{}, now, rng)
		if got != fresh {
			t.Fatalf("Expected never-used proxy, got %s", got.Key())
		}
	}
}

func TestAntiPattern_LevelPreference(t *testing.T) {
	avg := rec("10.0.0.1", 50, model.LevelAverage)
	good := rec("10.0.0.2", 60, model.LevelGood)
	good.LastUsed = now.Add(-time.Hour)
	premiumBusy := rec("10.0.0.3", 95, model.LevelPremium)
	premiumBusy.LastUsed = now.Add(-time.Minute)

	got := SelectAntiPattern([]*model.ProxyRecord{avg, good, premiumBusy}, model.RotationContext{}, now, nil)
	if got != good {
		t.Errorf("Expected idle GOOD proxy, got %s", got.Key())
	}
}

func TestAntiPattern_IdleIsStrictlyOverThirtyMinutes(t *testing.T) {
	boundary := rec("10.0.0.1", 95, model.LevelPremium)
	boundary.LastUsed, boundary.CaptchaRate = now.Add(-30*time.Minute), 0
	past := rec("10.0.0.2", 40, model.LevelAverage)
	past.LastUsed, past.CaptchaRate = now.Add(-30*time.Minute-time.Second), 0.5

	// 恰好 30 分钟不算空闲，只有 10.0.0.2 进入空闲集合
	got := SelectAntiPattern([]*model.ProxyRecord{boundary, past}, model.RotationContext{}, now, nil)
	if got != past {
		t.Errorf("Expected the proxy idle for over 30 minutes, got %s", got.Key())
	}
}

func TestAntiPattern_NoIdleTakesLowestCaptchaRate(t *testing.T) {
	a := rec("10.0.0.1", 50, model.LevelGood)
	a.LastUsed, a.CaptchaRate = now.Add(-5*time.Minute), 0.2
	b := rec("10.0.0.2", 50, model.LevelGood)
	b.LastUsed, b.CaptchaRate = now.Add(-10*time.Minute), 0.1
	c := rec("10.0.0.3", 50, model.LevelGood)
	c.LastUsed, c.CaptchaRate = now.Add(-20*time.Minute), 0.1

	got := SelectAntiPattern([]*model.ProxyRecord{a, b, c}, model.RotationContext{}, now, nil)
	if got != c {
		t.Errorf("Expected lowest rate with oldest use (10.0.0.3), got %s", got.Key())
	}
}

func TestCostOptimized(t *testing.T) {
	cheapNoisy := rec("10.0.0.1", 50, model.LevelAverage)
	cheapNoisy.ROIScore, cheapNoisy.CaptchaRate = 500, 0.4
	solid := rec("10.0.0.2", 80, model.LevelGood)
	solid.ROIScore, solid.CaptchaRate = 150, 0.2
	pricey := rec("10.0.0.3", 90, model.LevelPremium)
	pricey.ROIScore, pricey.CaptchaRate = 90, 0.05

	got := SelectCostOptimized([]*model.ProxyRecord{cheapNoisy, solid, pricey}, model.RotationContext{}, now, nil)
	if got != solid {
		t.Errorf("Expected best qualifying ROI, got %s", got.Key())
	}

	got = SelectCostOptimized([]*model.ProxyRecord{cheapNoisy}, model.RotationContext{}, now, nil)
	if got != cheapNoisy {
		t.Errorf("Expected unrestricted fallback, got %s", got.Key())
	}
}
