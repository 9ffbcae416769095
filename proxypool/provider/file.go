package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"proxyrotor/internal/shared/logger"
	"proxyrotor/proxypool/model"
)

// FileProvider reads a pool list from disk. Files ending in .yaml/.yml are parsed as a YAML
// document; anything else is read line by line in the ParseLine format.
type FileProvider struct {
	path string
}

// NewFileProvider 创建一个新的 FileProvider 实例。
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) Name() string {
	return "file:" + filepath.Base(p.path)
}

// poolFile 是 YAML 池文件的顶层结构。
type poolFile struct {
	Proxies []model.Candidate `yaml:"proxies"`
}

func (p *FileProvider) Fetch(ctx context.Context) ([]model.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read pool file %s: %w", p.path, err)
	}

	var out []model.Candidate
	switch strings.ToLower(filepath.Ext(p.path)) {
	case ".yaml", ".yml":
		out, err = p.parseYAML(data)
		if err != nil {
			return nil, err
		}
	default:
		out = p.parseLines(data)
	}

	l := logger.WithComponent("ProxyPool/Provider")
	if len(out) == 0 {
		l.Warn().Str("source", p.Name()).Msg("Pool file has no usable entries, the pool will be emptied.")
		return []model.Candidate{}, nil
	}
	l.Info().Str("source", p.Name()).Int("count", len(out)).Msg("Pool file loaded.")
	return out, nil
}

func (p *FileProvider) parseYAML(data []byte) ([]model.Candidate, error) {
	var doc poolFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pool file %s: %w", p.path, err)
	}
	l := logger.WithComponent("ProxyPool/Provider")
	out := make([]model.Candidate, 0, len(doc.Proxies))
	for i, c := range doc.Proxies {
		c.Host = strings.TrimSpace(c.Host)
		if c.Host == "" || c.Port < 1 || c.Port > 65535 {
			l.Warn().Int("index", i).Str("host", c.Host).Int("port", c.Port).Msg("Invalid pool entry, skipping.")
			continue
		}
		if c.Source == "" {
			c.Source = p.Name()
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *FileProvider) parseLines(data []byte) []model.Candidate {
	l := logger.WithComponent("ProxyPool/Provider")
	var out []model.Candidate

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, ";") {
			continue
		}
		c, err := ParseLine(line)
		if err != nil {
			l.Warn().Err(err).Int("line", lineNo).Msg("Malformed pool line, skipping.")
			continue
		}
		c.Source = p.Name()
		out = append(out, c)
	}
	return out
}

// ParseLine parses host:port[:user:pass][ #CC]. IPv6 hosts must be bracketed ([::1]:8080).
// The password is everything after the user and may contain ':' or '#'; a trailing '#'
// followed by a two-letter code is read as the country.
func ParseLine(line string) (model.Candidate, error) {
	var c model.Candidate

	if i := strings.LastIndexByte(line, '#'); i >= 0 && isCountryCode(strings.TrimSpace(line[i+1:])) {
		c.Country = strings.ToUpper(strings.TrimSpace(line[i+1:]))
		line = strings.TrimSpace(line[:i])
	}

	var rest string
	if strings.HasPrefix(line, "[") {
		end := strings.IndexByte(line, ']')
		if end < 0 {
			return c, fmt.Errorf("missing ']' in IPv6 host")
		}
		c.Host = line[1:end]
		if !strings.HasPrefix(line[end+1:], ":") {
			return c, fmt.Errorf("want [host]:port after IPv6 host")
		}
		rest = line[end+2:]
	} else {
		host, after, ok := strings.Cut(line, ":")
		if !ok {
			return c, fmt.Errorf("want host:port or host:port:user:pass, got %q", line)
		}
		c.Host, rest = strings.TrimSpace(host), after
	}
	if c.Host == "" {
		return c, fmt.Errorf("empty host")
	}

	// port[:user:pass]，密码取剩余全部
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) == 2 {
		return c, fmt.Errorf("user %q has no password", parts[1])
	}
	port, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || port < 1 || port > 65535 {
		// 未加括号的 IPv6 地址会落到这里
		return c, fmt.Errorf("invalid port %q", parts[0])
	}
	c.Port = port
	if len(parts) == 3 {
		c.Credentials = &model.Credentials{Username: parts[1], Password: parts[2]}
	}
	return c, nil
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
