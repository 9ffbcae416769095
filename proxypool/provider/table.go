package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"proxyrotor/internal/shared/logger"
	"proxyrotor/proxypool/model"
)

// TableProvider 抓取供应商控制台导出的 HTML 表格。
// 列顺序: host, port, user, pass, country, cost。
type TableProvider struct {
	url    string
	client *http.Client
}

// NewTableProvider 创建一个新的 TableProvider 实例。client 为 nil 时使用带 DefaultFetchTimeout 的客户端。
func NewTableProvider(rawURL string, client *http.Client) *TableProvider {
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	return &TableProvider{url: rawURL, client: client}
}

func (p *TableProvider) Name() string {
	if u, err := url.Parse(p.url); err == nil && u.Host != "" {
		return u.Host
	}
	return p.url
}

func (p *TableProvider) Fetch(ctx context.Context) ([]model.Candidate, error) {
	l := logger.WithComponent("ProxyPool/Provider")
	l.Info().Str("source", p.Name()).Msg("Fetching provider table...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", p.url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.url, err)
	}

	var out []model.Candidate
	doc.Find("table tbody tr").Each(func(j int, sel *goquery.Selection) {
		cells := sel.Find("td")
		cell := func(i int) string { return strings.TrimSpace(cells.Eq(i).Text()) }

		host := cell(0)
		portStr := cell(1)
		port, err := strconv.Atoi(portStr)
		if err != nil || host == "" || port < 1 || port > 65535 {
			l.Warn().Str("host", host).Str("port", portStr).Str("source", p.Name()).Msg("Failed to parse host/port, skipping row.")
			return
		}

		c := model.Candidate{
			Host:    host,
			Port:    port,
			Country: strings.ToUpper(cell(4)),
			Source:  p.Name(),
		}
		if user := cell(2); user != "" {
			c.Credentials = &model.Credentials{Username: user, Password: cell(3)}
		}
		if costStr := cell(5); costStr != "" {
			if cost, err := strconv.ParseFloat(strings.TrimPrefix(costStr, "$"), 64); err == nil && cost >= 0 {
				c.CostPerUse = cost
			}
		}
		out = append(out, c)
	})

	if len(out) == 0 {
		l.Warn().Str("source", p.Name()).Msg("Provider table has no usable rows, the pool will be emptied.")
		return []model.Candidate{}, nil
	}
	l.Info().Int("count", len(out)).Str("source", p.Name()).Msg("Provider table fetched.")
	return out, nil
}
