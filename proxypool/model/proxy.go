package model

import (
	"net"
	"strconv"
	"time"
)

// Credentials 是代理的认证信息，由 provider 提供。
type Credentials struct {
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"-" yaml:"password,omitempty"`
}

// Candidate 是 provider 列出的一个原始代理条目。
type Candidate struct {
	Host        string       `json:"host" yaml:"host"`
	Port        int          `json:"port" yaml:"port"`
	Credentials *Credentials `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	Country     string       `json:"country,omitempty" yaml:"country,omitempty"`
	CostPerUse  float64      `json:"cost_per_use,omitempty" yaml:"cost_per_use,omitempty"`
	Source      string       `json:"source,omitempty" yaml:"source,omitempty"`
}

// Key returns the pool identity "host:port".
func (c Candidate) Key() string {
	return Key(c.Host, c.Port)
}

// Key builds the pool identity used by records, ledger entries and snapshots.
func Key(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ProxyRecord 是代理在活动池中的完整状态，是整个模块的核心数据结构。
// 计数器只增不减；派生字段只能由 quality.Recalc 写入。
type ProxyRecord struct {
	// 身份
	Host          string       `json:"host"`
	Port          int          `json:"port"`
	CredentialRef *Credentials `json:"-"`
	Country       string       `json:"country,omitempty"`
	Source        string       `json:"source,omitempty"`

	// 计数器
	TotalUses         int64                     `json:"total_uses"`
	SuccessfulUses    int64                     `json:"successful_uses"`
	CaptchaEncounters int64                     `json:"captcha_encounters"`
	CaptchaBySeverity map[CaptchaSeverity]int64 `json:"captcha_by_severity,omitempty"`

	// 派生字段
	SuccessRate     float64      `json:"success_rate"`
	CaptchaRate     float64      `json:"captcha_rate"`
	QualityScore    float64      `json:"quality_score"`
	QualityLevel    QualityLevel `json:"quality_level"`
	ROIScore        float64      `json:"roi_score"`
	AvgResponseTime float64      `json:"avg_response_time"` // seconds

	// 时间戳
	LastUsed    time.Time `json:"last_used"`
	LastSuccess time.Time `json:"last_success"`
	LastCaptcha time.Time `json:"last_captcha"`

	CostPerUse float64 `json:"cost_per_use"`
}

// Key returns the pool identity "host:port".
func (r *ProxyRecord) Key() string {
	return Key(r.Host, r.Port)
}

// Clone returns a deep copy, safe to mutate while the original is still being read.
func (r *ProxyRecord) Clone() *ProxyRecord {
	c := *r
	if r.CaptchaBySeverity != nil {
		c.CaptchaBySeverity = make(map[CaptchaSeverity]int64, len(r.CaptchaBySeverity))
		for k, v := range r.CaptchaBySeverity {
			c.CaptchaBySeverity[k] = v
		}
	}
	return &c
}

// UsedWithin reports whether the record was used less than d before now.
func (r *ProxyRecord) UsedWithin(now time.Time, d time.Duration) bool {
	return !r.LastUsed.IsZero() && now.Sub(r.LastUsed) < d
}

// IdleFor reports whether the record was never used or last used strictly more than d before now.
func (r *ProxyRecord) IdleFor(now time.Time, d time.Duration) bool {
	return r.LastUsed.IsZero() || now.Sub(r.LastUsed) > d
}

// CaptchaWithin reports whether a captcha was recorded less than d before now.
func (r *ProxyRecord) CaptchaWithin(now time.Time, d time.Duration) bool {
	return !r.LastCaptcha.IsZero() && now.Sub(r.LastCaptcha) < d
}
