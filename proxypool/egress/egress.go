// Package egress turns pool records into dialers and HTTP transports.
package egress

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"proxyrotor/proxypool/model"
)

// URL renders rec as a proxy URL, with credentials when the record has them.
func URL(rec *model.ProxyRecord, scheme string) *url.URL {
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(rec.Host, strconv.Itoa(rec.Port)),
	}
	if c := rec.CredentialRef; c != nil && c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u
}

// Dialer builds a SOCKS5 dialer through rec. No connection is made here.
// forward 为 nil 时使用 proxy.Direct。
func Dialer(rec *model.ProxyRecord, forward proxy.Dialer) (proxy.ContextDialer, error) {
	if rec == nil {
		return nil, fmt.Errorf("egress: nil proxy record")
	}
	if forward == nil {
		forward = proxy.Direct
	}
	var auth *proxy.Auth
	if c := rec.CredentialRef; c != nil && c.Username != "" {
		auth = &proxy.Auth{User: c.Username, Password: c.Password}
	}
	d, err := proxy.SOCKS5("tcp", rec.Key(), auth, forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("egress: SOCKS5 dialer does not support contexts")
	}
	return cd, nil
}

// Transport returns an http.Transport that egresses through rec.
// scheme "socks5" routes through Dialer; anything else uses an HTTP CONNECT proxy.
func Transport(rec *model.ProxyRecord, scheme string, timeout time.Duration) (*http.Transport, error) {
	t := &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		IdleConnTimeout:       timeout,
		TLSHandshakeTimeout:   timeout / 2,
		ExpectContinueTimeout: 1 * time.Second,
	}
	base := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	switch scheme {
	case "socks5", "socks5h":
		d, err := Dialer(rec, base)
		if err != nil {
			return nil, err
		}
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return d.DialContext(ctx, network, addr)
		}
	default:
		t.Proxy = http.ProxyURL(URL(rec, "http"))
		t.DialContext = base.DialContext
	}
	return t, nil
}
