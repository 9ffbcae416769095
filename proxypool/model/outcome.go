package model

import "time"

// SessionContext 是随结果一同写入账本的会话上下文。
type SessionContext struct {
	SessionID     string `json:"session_id,omitempty"`
	TargetCountry string `json:"target_country,omitempty"`
	AmountTier    string `json:"amount_tier,omitempty"`
	Hour          int    `json:"hour"`
}

// Attempt is what the session orchestrator reports after one attempt through a proxy.
type Attempt struct {
	Success         bool
	CaptchaSeverity CaptchaSeverity
	ResponseTime    time.Duration
	Context         SessionContext
}

// SessionOutcome 是账本中的一条不可变记录。创建后永不修改，超过保留期后被清理。
type SessionOutcome struct {
	ID              string          `json:"id"`
	ProxyKey        string          `json:"proxy_key"`
	Timestamp       time.Time       `json:"timestamp"`
	Success         bool            `json:"success"`
	CaptchaSeverity CaptchaSeverity `json:"captcha_severity"`
	ResponseTime    time.Duration   `json:"response_time"`
	Context         SessionContext  `json:"context"`
}

// QualitySnapshot is the denormalized per-proxy row written periodically for trend queries.
type QualitySnapshot struct {
	ProxyKey     string       `json:"proxy_key"`
	Timestamp    time.Time    `json:"timestamp"`
	QualityScore float64      `json:"quality_score"`
	QualityLevel QualityLevel `json:"quality_level"`
	SuccessRate  float64      `json:"success_rate"`
	CaptchaRate  float64      `json:"captcha_rate"`
	TotalUses    int64        `json:"total_uses"`
}

// SnapshotOf captures the derived state of rec at ts.
func SnapshotOf(rec *ProxyRecord, ts time.Time) QualitySnapshot {
	return QualitySnapshot{
		ProxyKey:     rec.Key(),
		Timestamp:    ts,
		QualityScore: rec.QualityScore,
		QualityLevel: rec.QualityLevel,
		SuccessRate:  rec.SuccessRate,
		CaptchaRate:  rec.CaptchaRate,
		TotalUses:    rec.TotalUses,
	}
}

// RotationContext 是每次选择时的只读提示，不持久化。
type RotationContext struct {
	TargetCountry string
	AmountTier    string
	TimeOfDay     int // hour 0-23, -1 when unknown
}
