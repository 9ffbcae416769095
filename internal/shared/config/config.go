package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/ini.v1"
	"proxyrotor/internal/shared/types"
)

// Load 读取 rotor.ini。文件不存在时返回默认配置，
// 环境变量始终覆盖文件中的值。
func Load(fileName string) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if fileName != "" {
		if _, err := os.Stat(fileName); err == nil {
			if err := LoadIni(cfg, fileName); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", fileName, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// LoadIni maps an ini file onto cfg. Keys missing from the file keep whatever cfg already holds.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	return iniFile.MapTo(cfg)
}

func applyEnv(cfg *types.Config) {
	overrideFromEnvString(&cfg.LedgerConf.Path, "ROTOR_LEDGER_PATH")
	overrideFromEnvString(&cfg.LedgerConf.Backend, "ROTOR_LEDGER_BACKEND")
	overrideFromEnvString(&cfg.WebConf.Password, "ROTOR_WEB_PASSWORD")
	overrideFromEnvString(&cfg.LogConf.Level, "ROTOR_LOG_LEVEL")
	overrideFromEnvInt64(&cfg.RotationConf.Seed, "ROTOR_SEED")
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt64(target *int64, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if v, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			*target = v
		}
	}
}
