package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/stealthfetch/internal/types"
)

func TestHeaderOverrides(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		none    bool
		want    map[string]string
		wantNil bool
		wantErr bool
	}{
		{name: "defaults", wantNil: true},
		{name: "single", values: []string{"Accept-Language: fr-FR"}, want: map[string]string{"accept-language": "fr-FR"}},
		{name: "value with colon", values: []string{"referer: https://example.com/"}, want: map[string]string{"referer": "https://example.com/"}},
		{name: "none", none: true, want: map[string]string{}},
		{name: "none with values", values: []string{"a: b"}, none: true, wantErr: true},
		{name: "missing colon", values: []string{"accept"}, wantErr: true},
		{name: "empty name", values: []string{": x"}, wantErr: true},
		{name: "blocked", values: []string{"cookie: a=b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := headerOverrides(tt.values, tt.none)
			if (err != nil) != tt.wantErr {
				t.Fatalf("headerOverrides error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("Expected nil map, got %v", got)
				}
				return
			}
			if got == nil || len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("header %q = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestOutputFileName(t *testing.T) {
	tests := []struct {
		i    int
		url  string
		want string
	}{
		{0, "https://example.com/", "001_example.com.html"},
		{1, "https://example.com/a/b?q=1", "002_example.com_a_b.html"},
		{9, "https://example.com:8443/x", "010_example.com_8443_x.html"},
		{2, "::bad", "003_page.html"},
	}
	for _, tt := range tests {
		if got := outputFileName(tt.i, tt.url); got != tt.want {
			t.Errorf("outputFileName(%d, %q) = %q, want %q", tt.i, tt.url, got, tt.want)
		}
	}

	long := outputFileName(0, "https://example.com/"+strings.Repeat("a", 300))
	if len(long) > 120 {
		t.Errorf("Expected long names to be truncated, got %d chars", len(long))
	}
}

func TestRenderSummary(t *testing.T) {
	out := renderSummary([]fetchResult{
		{URL: "https://example.com/?token=secret", HTML: "<html></html>", Duration: 1200 * time.Millisecond},
		{URL: "https://bad.example/", Err: types.NewNavigationError(types.StageNavigating, "", "failed to navigate", errors.New("net::ERR_NAME_NOT_RESOLVED")), Duration: time.Second},
	})

	if strings.Contains(out, "secret") {
		t.Error("Summary must redact secrets in URLs")
	}
	if !strings.Contains(out, "navigation") {
		t.Error("Summary should name the failure kind")
	}
	if !strings.Contains(out, "13 bytes") {
		t.Error("Summary should report the HTML size")
	}
}

func TestFetchAllowLocalDefault(t *testing.T) {
	t.Setenv("ALLOW_LOCAL_URLS", "false")

	if c := loadConfig(fetchCmd); !c.AllowLocalURLs {
		t.Error("Expected fetch to allow local URLs by default")
	}
	if c := loadConfig(serveCmd); c.AllowLocalURLs {
		t.Error("Expected serve to follow ALLOW_LOCAL_URLS")
	}

	if err := fetchCmd.Flags().Set("allow-local", "false"); err != nil {
		t.Fatalf("Failed to set flag: %v", err)
	}
	t.Cleanup(func() { _ = fetchCmd.Flags().Set("allow-local", "true") })

	if c := loadConfig(fetchCmd); c.AllowLocalURLs {
		t.Error("Expected --allow-local=false to block local URLs")
	}
}
