// Package provider lists candidate proxies for the rotation manager. The manager never calls a
// provider itself; the caller fetches and hands the list to LoadPool.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"proxyrotor/internal/shared/types"
	"proxyrotor/proxypool/model"
)

// DefaultFetchTimeout 限制一次远程抓取的总时长。
const DefaultFetchTimeout = 20 * time.Second

// Provider 是所有代理来源必须实现的接口。
type Provider interface {
	// Fetch 返回当前可用的候选代理。实现者只负责读取和初步解析，不做质量判断。
	// 来源可读但没有条目时返回空切片和 nil，调用方据此清空代理池；只有读取或解析失败才返回错误。
	Fetch(ctx context.Context) ([]model.Candidate, error)

	// Name 返回来源名称，用于日志记录和 Candidate.Source。
	Name() string
}

// New builds the provider named by cfg.Type.
func New(cfg types.ProviderConf) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "file":
		if cfg.Path == "" {
			return nil, errors.New("provider: file type requires a path")
		}
		return NewFileProvider(cfg.Path), nil
	case "table", "html":
		if cfg.URL == "" {
			return nil, errors.New("provider: table type requires a url")
		}
		return NewTableProvider(cfg.URL, nil), nil
	default:
		return nil, fmt.Errorf("provider: unknown type %q", cfg.Type)
	}
}
