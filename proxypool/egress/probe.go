package egress

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"proxyrotor/internal/shared/logger"
	"proxyrotor/proxypool/model"
)

const maxProbeBody = 64 << 10

// Classifier maps a target response onto a captcha severity.
type Classifier func(status int, body []byte) model.CaptchaSeverity

// DefaultClassifier 根据页面特征粗略判断验证码类型。
func DefaultClassifier(status int, body []byte) model.CaptchaSeverity {
	page := strings.ToLower(string(body))
	switch {
	case strings.Contains(page, "recaptcha"), strings.Contains(page, "hcaptcha"), strings.Contains(page, "cf-turnstile"):
		return model.SeverityComplex
	case strings.Contains(page, "slider"), strings.Contains(page, "puzzle"):
		return model.SeverityPuzzle
	case strings.Contains(page, "captcha"):
		return model.SeveritySimple
	case status == http.StatusForbidden, status == http.StatusTooManyRequests:
		return model.SeverityOther
	}
	return model.SeverityNone
}

// Prober sends one request to a target through each proxy and reports it as an attempt.
type Prober struct {
	target      string
	scheme      string
	timeout     time.Duration
	concurrency int
	classify    Classifier
}

// NewProber creates a Prober. scheme selects the egress path ("http" or "socks5").
func NewProber(target, scheme string, timeout time.Duration, concurrency int) *Prober {
	if concurrency <= 0 {
		concurrency = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{
		target:      target,
		scheme:      scheme,
		timeout:     timeout,
		concurrency: concurrency,
		classify:    DefaultClassifier,
	}
}

// WithClassifier replaces the response classifier.
func (p *Prober) WithClassifier(c Classifier) *Prober {
	if c != nil {
		p.classify = c
	}
	return p
}

// Probe fetches the target through rec. Transport errors count as a failed attempt.
func (p *Prober) Probe(ctx context.Context, rec *model.ProxyRecord) model.Attempt {
	l := logger.WithComponent("ProxyPool/Prober")
	start := time.Now()
	attempt := model.Attempt{CaptchaSeverity: model.SeverityNone}

	status, body, err := p.fetch(ctx, rec)
	attempt.ResponseTime = time.Since(start)
	if err != nil {
		l.Debug().Err(err).Str("proxy", rec.Key()).Msg("Probe failed.")
		return attempt
	}

	attempt.CaptchaSeverity = p.classify(status, body)
	attempt.Success = status >= 200 && status < 400 && !attempt.CaptchaSeverity.IsChallenge()
	return attempt
}

func (p *Prober) fetch(ctx context.Context, rec *model.ProxyRecord) (int, []byte, error) {
	transport, err := Transport(rec, p.scheme, p.timeout)
	if err != nil {
		return 0, nil, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{Transport: transport, Timeout: p.timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// ProbeAll probes every record with bounded concurrency and calls report for each result.
// report may be called from several goroutines at once.
func (p *Prober) ProbeAll(ctx context.Context, recs []*model.ProxyRecord, report func(*model.ProxyRecord, model.Attempt)) {
	l := logger.WithComponent("ProxyPool/Prober")
	if len(recs) == 0 {
		return
	}
	l.Info().Int("count", len(recs)).Int("concurrency", p.concurrency).Msg("Starting probe batch...")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, p.concurrency)
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		semaphore <- struct{}{}
		go func(rec *model.ProxyRecord) {
			defer wg.Done()
			defer func() { <-semaphore }()
			report(rec, p.Probe(ctx, rec))
		}(rec)
	}
	wg.Wait()
	l.Info().Msg("Probe batch finished.")
}
