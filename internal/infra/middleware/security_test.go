package middleware

import (
	"bytes"
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS should not be set without TLS")
	}
}

func TestSecurityHeadersHSTSWithTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, req)

	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS should be set with TLS")
	}
}

func TestRateLimitBlocksExcessiveTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 60, 2)(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && !strings.Contains(rec.Body.String(), "RATE_LIMIT") {
			t.Errorf("429 body = %q", rec.Body.String())
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

func TestRateLimitSeparatesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 60, 1)(okHandler)

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: code = %d, want 200", addr, rec.Code)
		}
	}
}

func TestClientLimitersSweep(t *testing.T) {
	l := &clientLimiters{clients: map[string]*client{}, limit: 1, burst: 1}
	now := time.Now()
	l.get("old", now.Add(-10*time.Minute))
	l.get("fresh", now)

	l.sweep(now, 3*time.Minute)

	if _, ok := l.clients["old"]; ok {
		t.Error("stale client should be removed")
	}
	if _, ok := l.clients["fresh"]; !ok {
		t.Error("fresh client should be kept")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trusted []string
		want    string
	}{
		{"direct", "192.168.1.5:4000", nil, nil, "192.168.1.5"},
		{"ipv6", "[::1]:4000", nil, nil, "::1"},
		{"spoofed xff ignored", "192.168.1.5:4000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, nil, "192.168.1.5"},
		{"trusted xff", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, []string{"10.0.0.1"}, "1.2.3.4"},
		{"trusted real ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "5.6.7.8"}, []string{"10.0.0.1"}, "5.6.7.8"},
		{"trusted no headers", "10.0.0.1:80", nil, []string{"10.0.0.1"}, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req, tt.trusted); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	rec := httptest.NewRecorder()
	RequestLog(logger)(failing).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messages", nil))

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "status=500") {
		t.Errorf("log output = %q", out)
	}
	if !strings.Contains(out, "/api/v1/messages") {
		t.Errorf("path missing from log: %q", out)
	}
}
