package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"proxyrotor/internal/shared/logger"
	"proxyrotor/internal/shared/types"
)

// basicAuthMiddleware 检查 user 和 pass 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewMux wires the status routes. Every route sits behind basic auth when configured and is
// rate limited per client.
func NewMux(cfg types.WebConf, view RotationView, hub *Hub, rl *rateLimiter) http.Handler {
	handler := NewHandler(view)
	mux := http.NewServeMux()

	protect := func(h http.HandlerFunc) http.Handler {
		return basicAuthMiddleware(h, cfg.User, cfg.Password)
	}
	mux.Handle("/api/report", protect(handler.HandleReport))
	mux.Handle("/api/proxies", protect(handler.HandleProxies))
	mux.Handle("/api/history", protect(handler.HandleHistory))
	mux.Handle("/api/trend", protect(handler.HandleTrend))

	// 推送的内容就是报告本身，和 /api/report 使用同一套认证
	mux.Handle("/ws", protect(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))

	return rateLimitMiddleware(mux, rl)
}

// Server 是状态面板的 HTTP 服务。
type Server struct {
	srv    *http.Server
	hub    *Hub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartServer starts the status surface in the background. A zero port disables it and returns nil.
func StartServer(cfg types.WebConf, view RotationView) (*Server, error) {
	if cfg.Port <= 0 {
		logger.Info().Msg("[WebServer] Status surface is disabled (port is 0 or not set).")
		return nil, nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	rl := newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	s := &Server{
		srv: &http.Server{
			Handler:           NewMux(cfg, view, hub, rl),
			ReadHeaderTimeout: 10 * time.Second,
		},
		hub:    hub,
		cancel: cancel,
	}

	s.wg.Add(4)
	go func() { defer s.wg.Done(); hub.Run(ctx) }()
	go func() {
		defer s.wg.Done()
		hub.PushReports(ctx, view, time.Duration(cfg.PushIntervalSec)*time.Second)
	}()
	go func() { defer s.wg.Done(); rl.cleanupLoop(ctx) }()
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Web server error.")
		}
		logger.Info().Msg("Web server stopped.")
	}()

	logger.Info().Msgf("SUCCESS: Status surface is listening on http://%s", addr)
	return s, nil
}

// Shutdown stops the server and its background loops.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.cancel()
	s.wg.Wait()
	return err
}
