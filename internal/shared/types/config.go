package types

// RotationConf 控制轮换引擎的自适应行为。
type RotationConf struct {
	BaseStrategy        string  `ini:"base_strategy"`         // adaptive, quality_weighted, anti_pattern, cost_optimized
	TargetCaptchaRate   float64 `ini:"target_captcha_rate"`   // 超过此值强制切换到 anti_pattern
	RecoveryCaptchaRate float64 `ini:"recovery_captcha_rate"` // 低于此值恢复基础策略
	TrailingWindowMin   int     `ini:"trailing_window_min"`   // 滑动窗口 (分钟)
	MinWindowSamples    int     `ini:"min_window_samples"`
	TopN                int     `ini:"top_n"`
	Seed                int64   `ini:"seed"` // 0 表示使用当前时间
}

// LedgerConf 描述历史账本的存储后端。
type LedgerConf struct {
	Backend             string `ini:"backend"` // memory, file, sqlite
	Path                string `ini:"path"`
	RetentionDays       int    `ini:"retention_days"`
	WriteTimeoutMs      int    `ini:"write_timeout_ms"`
	PurgeIntervalMin    int    `ini:"purge_interval_min"`
	SnapshotIntervalMin int    `ini:"snapshot_interval_min"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level   string `ini:"level"`
	JSON    bool   `ini:"json"`
	NoColor bool   `ini:"no_color"`
}

// WebConf 状态面板配置
type WebConf struct {
	Port            int     `ini:"port"`
	User            string  `ini:"user"`
	Password        string  `ini:"password"`
	PushIntervalSec int     `ini:"push_interval_sec"`
	RateLimit       float64 `ini:"rate_limit"` // 每客户端每秒请求数
	RateBurst       int     `ini:"rate_burst"`
}

// ProviderConf 描述代理列表来源。
type ProviderConf struct {
	Type       string `ini:"type"` // file, table
	Path       string `ini:"path"`
	URL        string `ini:"url"`
	RefreshMin int    `ini:"refresh_min"`
}

// Config 是 rotor 的统一配置结构体。
type Config struct {
	RotationConf `ini:"rotation"`
	LedgerConf   `ini:"ledger"`
	LogConf      `ini:"log"`
	WebConf      `ini:"web"`
	ProviderConf `ini:"provider"`
}

// DefaultConfig 返回所有字段都已填充默认值的配置。
func DefaultConfig() *Config {
	return &Config{
		RotationConf: RotationConf{
			BaseStrategy:        "adaptive",
			TargetCaptchaRate:   0.15,
			RecoveryCaptchaRate: 0.10,
			TrailingWindowMin:   120,
			MinWindowSamples:    1,
			TopN:                5,
		},
		LedgerConf: LedgerConf{
			Backend:             "file",
			Path:                "data/ledger",
			RetentionDays:       30,
			WriteTimeoutMs:      2000,
			PurgeIntervalMin:    360,
			SnapshotIntervalMin: 60,
		},
		LogConf: LogConf{Level: "info"},
		WebConf: WebConf{
			PushIntervalSec: 5,
			RateLimit:       5,
			RateBurst:       10,
		},
		ProviderConf: ProviderConf{
			Type:       "file",
			Path:       "configs/pool.yaml",
			RefreshMin: 15,
		},
	}
}
