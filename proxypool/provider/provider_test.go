package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"proxyrotor/internal/shared/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestParseLine(t *testing.T) {
	testCases := []struct {
		line    string
		wantErr bool
		host    string
		port    int
		user    string
		pass    string
		country string
	}{
		{line: "10.0.0.1:8080", host: "10.0.0.1", port: 8080},
		{line: "10.0.0.1:8080:alice:s3cret", host: "10.0.0.1", port: 8080, user: "alice"},
		{line: "gw.example.net:1080:bob:pw #de", host: "gw.example.net", port: 1080, user: "bob", country: "DE"},
		{line: "10.0.0.1", wantErr: true},
		{line: "10.0.0.1:abc", wantErr: true},
		{line: "10.0.0.1:0", wantErr: true},
		{line: ":8080", wantErr: true},
		{line: "10.0.0.1:8080:alice", wantErr: true},
		{line: "10.0.0.1:8080:alice:pa:ss#word #jp", host: "10.0.0.1", port: 8080, user: "alice", pass: "pa:ss#word", country: "JP"},
		{line: "10.0.0.1:8080:carol:a#b", host: "10.0.0.1", port: 8080, user: "carol", pass: "a#b"},
		{line: "[2001:db8::1]:3128", host: "2001:db8::1", port: 3128},
		{line: "[::1]:1080:dave:x:y #us", host: "::1", port: 1080, user: "dave", pass: "x:y", country: "US"},
		{line: "[::1]1080", wantErr: true},
		{line: "[::1:1080", wantErr: true},
		{line: "2001:db8::1:3128", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			c, err := ParseLine(tc.line)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected an error, got %+v", c)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.Host != tc.host || c.Port != tc.port || c.Country != tc.country {
				t.Errorf("Got %+v", c)
			}
			if tc.user == "" && c.Credentials != nil {
				t.Errorf("Expected no credentials, got %+v", c.Credentials)
			}
			if tc.user != "" && (c.Credentials == nil || c.Credentials.Username != tc.user) {
				t.Errorf("Expected user %s, got %+v", tc.user, c.Credentials)
			}
			if tc.pass != "" && c.Credentials != nil && c.Credentials.Password != tc.pass {
				t.Errorf("Expected password %q, got %q", tc.pass, c.Credentials.Password)
			}
		})
	}
}

func TestFileProvider_Lines(t *testing.T) {
	path := writeFile(t, "pool.txt", `
// residential
10.0.0.1:8080:alice:pw #US
10.0.0.2:8080
not-a-proxy
10.0.0.3:99999
`)
	got, err := NewFileProvider(path).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() returned an error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 candidates, got %d: %+v", len(got), got)
	}
	if got[0].Country != "US" || got[0].Source != "file:pool.txt" {
		t.Errorf("Unexpected first candidate: %+v", got[0])
	}
}

func TestFileProvider_YAML(t *testing.T) {
	path := writeFile(t, "pool.yaml", `
proxies:
  - host: 10.0.0.1
    port: 8080
    country: US
    cost_per_use: 0.002
    credentials:
      username: alice
      password: pw
  - host: 10.0.0.2
    port: 3128
  - host: ""
    port: 3128
`)
	got, err := NewFileProvider(path).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() returned an error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(got))
	}
	if got[0].Credentials == nil || got[0].Credentials.Password != "pw" || got[0].CostPerUse != 0.002 {
		t.Errorf("Unexpected first candidate: %+v", got[0])
	}
}

func TestFileProvider_EmptyListIsNotAnError(t *testing.T) {
	for name, content := range map[string]string{
		"empty.txt":    "",
		"garbage.txt":  "garbage\n// comment only\n",
		"empty.yaml":   "proxies: []\n",
		"invalid.yaml": "proxies:\n  - host: \"\"\n    port: 80\n",
	} {
		t.Run(name, func(t *testing.T) {
			got, err := NewFileProvider(writeFile(t, name, content)).Fetch(context.Background())
			if err != nil {
				t.Fatalf("Expected no error for a delisted pool, got %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("Expected an empty, non-nil list, got %v", got)
			}
		})
	}
}

func TestFileProvider_Errors(t *testing.T) {
	if _, err := NewFileProvider(filepath.Join(t.TempDir(), "missing.txt")).Fetch(context.Background()); err == nil {
		t.Error("Expected an error for a missing file")
	}

	bad := writeFile(t, "bad.yaml", "proxies: [unclosed")
	if _, err := NewFileProvider(bad).Fetch(context.Background()); err == nil {
		t.Error("Expected a YAML parse error")
	}
}

const dashboardHTML = `<html><body>
<table class="table">
<thead><tr><th>Host</th><th>Port</th><th>User</th><th>Pass</th><th>Country</th><th>Cost</th></tr></thead>
<tbody>
<tr><td>10.0.0.1</td><td>8080</td><td>alice</td><td>pw</td><td>us</td><td>$0.003</td></tr>
<tr><td>10.0.0.2</td><td>1080</td><td></td><td></td><td>DE</td><td></td></tr>
<tr><td>broken</td><td>port</td><td></td><td></td><td></td><td></td></tr>
</tbody>
</table>
</body></html>`

func TestTableProvider_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, dashboardHTML)
	}))
	defer srv.Close()

	got, err := NewTableProvider(srv.URL, srv.Client()).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() returned an error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 candidates, got %d: %+v", len(got), got)
	}
	first := got[0]
	if first.Country != "US" || first.CostPerUse != 0.003 || first.Credentials == nil || first.Credentials.Username != "alice" {
		t.Errorf("Unexpected first candidate: %+v", first)
	}
	if got[1].Credentials != nil {
		t.Errorf("Expected no credentials on the second row")
	}
}

func TestTableProvider_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			fmt.Fprint(w, "<html><body><table><tbody></tbody></table></body></html>")
			return
		}
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := NewTableProvider(srv.URL+"/denied", srv.Client()).Fetch(context.Background()); err == nil {
		t.Error("Expected an error on a non-200 response")
	}
	got, err := NewTableProvider(srv.URL+"/empty", srv.Client()).Fetch(context.Background())
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("Expected an empty, non-nil list for an empty table, got %v (%v)", got, err)
	}
}

func TestTableProvider_DefaultClientHasTimeout(t *testing.T) {
	p := NewTableProvider("https://dash.example.com/export", nil)
	if p.client == http.DefaultClient || p.client.Timeout != DefaultFetchTimeout {
		t.Errorf("Expected a dedicated client with a %v timeout, got %v", DefaultFetchTimeout, p.client.Timeout)
	}
}

func TestNew(t *testing.T) {
	if p, err := New(types.ProviderConf{Type: "file", Path: "pool.txt"}); err != nil || p.Name() != "file:pool.txt" {
		t.Errorf("Unexpected file provider: %v %v", p, err)
	}
	p, err := New(types.ProviderConf{Type: "table", URL: "https://dash.example.com/export"})
	if err != nil || p.Name() != "dash.example.com" {
		t.Fatalf("Unexpected table provider: %v %v", p, err)
	}
	if tp := p.(*TableProvider); tp.client.Timeout != DefaultFetchTimeout {
		t.Errorf("Expected the table client to time out after %v, got %v", DefaultFetchTimeout, tp.client.Timeout)
	}
	if _, err := New(types.ProviderConf{Type: "ftp"}); err == nil {
		t.Error("Expected an error for an unknown type")
	}
	if _, err := New(types.ProviderConf{Type: "file"}); err == nil {
		t.Error("Expected an error for a file provider without a path")
	}
}
