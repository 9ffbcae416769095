package strategy

import (
	"sort"
	"time"
)

// ControllerConfig 定义策略切换的滞回参数。
type ControllerConfig struct {
	Base       Kind
	Ceiling    float64       // trailing rate above which AntiPattern is forced
	Floor      float64       // trailing rate below which Base is restored
	Window     time.Duration // trailing window length
	MinSamples int           // samples needed before the ceiling can trip; 1 trips on the first outcome
}

// DefaultControllerConfig returns the 15% / 10% / 2h defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Base:       Adaptive,
		Ceiling:    0.15,
		Floor:      0.10,
		Window:     2 * time.Hour,
		MinSamples: 1,
	}
}

// State is the published view of the controller.
type State struct {
	Active        Kind    `json:"active"`
	TrailingRate  float64 `json:"trailing_rate"`
	WindowSamples int     `json:"window_samples"`
}

type sample struct {
	at      time.Time
	captcha bool
}

// Controller tracks the trailing captcha rate and picks the active strategy.
// It is not safe for concurrent use; the rotation manager serializes access.
type Controller struct {
	cfg      ControllerConfig
	active   Kind
	samples  []sample
	captchas int
}

func NewController(cfg ControllerConfig) *Controller {
	return &Controller{cfg: cfg, active: cfg.Base}
}

// Observe records one outcome and re-evaluates the active strategy.
// It reports whether the active strategy changed.
func (c *Controller) Observe(at time.Time, captcha bool, now time.Time) bool {
	// 历史数据回放时可能乱序，保持窗口按时间有序
	i := sort.Search(len(c.samples), func(i int) bool { return c.samples[i].at.After(at) })
	c.samples = append(c.samples, sample{})
	copy(c.samples[i+1:], c.samples[i:])
	c.samples[i] = sample{at: at, captcha: captcha}
	if captcha {
		c.captchas++
	}
	return c.evaluate(now)
}

// Evaluate prunes expired samples and re-applies the thresholds without adding a sample.
func (c *Controller) Evaluate(now time.Time) bool {
	return c.evaluate(now)
}

func (c *Controller) evaluate(now time.Time) bool {
	c.prune(now)
	rate := c.rate()
	prev := c.active

	switch {
	case c.active != AntiPattern && len(c.samples) >= c.cfg.MinSamples && rate > c.cfg.Ceiling:
		c.active = AntiPattern
	case c.active == AntiPattern && rate < c.cfg.Floor:
		c.active = c.cfg.Base
	}
	return prev != c.active
}

func (c *Controller) prune(now time.Time) {
	cutoff := now.Add(-c.cfg.Window)
	n := 0
	for n < len(c.samples) && !c.samples[n].at.After(cutoff) {
		if c.samples[n].captcha {
			c.captchas--
		}
		n++
	}
	if n > 0 {
		c.samples = append(c.samples[:0], c.samples[n:]...)
	}
}

func (c *Controller) rate() float64 {
	if len(c.samples) == 0 {
		return 0
	}
	return float64(c.captchas) / float64(len(c.samples))
}

// State returns the current controller state.
func (c *Controller) State() State {
	return State{
		Active:        c.active,
		TrailingRate:  c.rate(),
		WindowSamples: len(c.samples),
	}
}

// Config returns the thresholds in effect.
func (c *Controller) Config() ControllerConfig {
	return c.cfg
}
