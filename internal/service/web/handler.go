package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"proxyrotor/internal/shared/logger"
	"proxyrotor/proxypool/analytics"
	"proxyrotor/proxypool/model"
)

// RotationView 是 web 层读取轮换状态所需的接口，和 manager 包解耦。
type RotationView interface {
	Report() analytics.Report
	Records() []*model.ProxyRecord
	History(ctx context.Context, key string, since time.Time) ([]model.SessionOutcome, error)
	Trend(ctx context.Context, key string, since time.Time) ([]model.QualitySnapshot, error)
}

type Handler struct {
	view RotationView
}

func NewHandler(view RotationView) *Handler {
	return &Handler{view: view}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("Failed to encode JSON response.")
	}
}

// HandleReport 处理 GET /api/report 请求
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.view.Report())
}

// HandleProxies 处理 GET /api/proxies 请求，返回全部活动记录 (按 key 排序)。
func (h *Handler) HandleProxies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.view.Records())
}

// parseHistoryQuery reads key and since (RFC3339 or a duration such as "2h").
func parseHistoryQuery(r *http.Request) (string, time.Time, error) {
	q := r.URL.Query()
	key := strings.TrimSpace(q.Get("key"))
	raw := strings.TrimSpace(q.Get("since"))
	if raw == "" {
		return key, time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return key, time.Now().Add(-d), nil
	}
	since, err := time.Parse(time.RFC3339, raw)
	return key, since, err
}

// HandleHistory 处理 GET /api/history?key=&since= 请求
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key, since, err := parseHistoryQuery(r)
	if err != nil {
		http.Error(w, "Invalid since parameter", http.StatusBadRequest)
		return
	}
	if key == "" {
		http.Error(w, "Missing key parameter", http.StatusBadRequest)
		return
	}
	outcomes, err := h.view.History(r.Context(), key, since)
	if err != nil {
		logger.Error().Err(err).Str("proxy", key).Msg("Failed to query ledger history.")
		http.Error(w, "Ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	if outcomes == nil {
		outcomes = []model.SessionOutcome{}
	}
	writeJSON(w, outcomes)
}

// HandleTrend 处理 GET /api/trend?key=&since= 请求，返回质量快照序列。
func (h *Handler) HandleTrend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key, since, err := parseHistoryQuery(r)
	if err != nil {
		http.Error(w, "Invalid since parameter", http.StatusBadRequest)
		return
	}
	snaps, err := h.view.Trend(r.Context(), key, since)
	if err != nil {
		logger.Error().Err(err).Str("proxy", key).Msg("Failed to query quality snapshots.")
		http.Error(w, "Ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	if snaps == nil {
		snaps = []model.QualitySnapshot{}
	}
	writeJSON(w, snaps)
}
