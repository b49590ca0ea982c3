package main

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"conductor/internal/infra/config"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCheckConfigFile(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "config.yaml")
	writeTestFile(t, present, "agents: []\n")

	tests := []struct {
		name string
		path string
		err  error
		want CheckStatus
	}{
		{"missing file uses defaults", filepath.Join(dir, "nope.yaml"), nil, StatusWarn},
		{"load error", present, &config.ValidationError{Errors: []string{"bad"}}, StatusFail},
		{"valid", present, nil, StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkConfigFile(tt.path, tt.err)(nil)
			if got.Status != tt.want {
				t.Fatalf("status = %s, want %s (%s)", got.Status, tt.want, got.Message)
			}
		})
	}
}

func TestCheckAgents(t *testing.T) {
	if got := checkAgents(nil); got.Status != StatusFail {
		t.Fatalf("nil config: %s", got.Status)
	}
	if got := checkAgents(&config.Config{}); got.Status != StatusFail {
		t.Fatalf("no agents: %s", got.Status)
	}

	cfg := &config.Config{
		Agents:  []config.AgentConfig{{ID: "code_agent"}, {ID: "task_agent"}},
		Routing: config.RoutingConfig{FallbackAgent: "task_agent"},
	}
	if got := checkAgents(cfg); got.Status != StatusPass {
		t.Fatalf("status = %s: %s", got.Status, got.Message)
	}

	cfg.Routing.FallbackAgent = "ghost"
	got := checkAgents(cfg)
	if got.Status != StatusWarn || got.Fix == "" {
		t.Fatalf("unknown fallback: %+v", got)
	}
}

func TestCheckLLM(t *testing.T) {
	if got := checkLLM(&config.Config{}); got.Status != StatusPass {
		t.Fatalf("disabled llm: %s", got.Status)
	}

	cfg := &config.Config{LLM: config.LLMConfig{Enabled: true}}
	if got := checkLLM(cfg); got.Status != StatusWarn {
		t.Fatalf("missing key: %s", got.Status)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg.LLM.APIKey = "sk-test"
	cfg.LLM.BaseURL = srv.URL + "/v1/"
	if got := checkLLM(cfg); got.Status != StatusPass {
		t.Fatalf("reachable llm: %s: %s", got.Status, got.Message)
	}
}

func TestCheckMemoryBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	cfg := &config.Config{Memory: config.MemoryConfig{Backend: "sqlite", DataDir: dir}}
	if got := checkMemoryBackend(cfg); got.Status != StatusPass {
		t.Fatalf("status = %s: %s", got.Status, got.Message)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("data dir not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".doctor-check")); !os.IsNotExist(err) {
		t.Fatal("probe file left behind")
	}

	cfg.Memory.Backend = "etcd"
	if got := checkMemoryBackend(cfg); got.Status != StatusFail {
		t.Fatalf("unknown backend: %s", got.Status)
	}

	cfg.Memory.Backend = "redis"
	cfg.Memory.RedisURL = "::bad"
	if got := checkMemoryBackend(cfg); got.Status != StatusFail {
		t.Fatalf("bad redis url: %s", got.Status)
	}
}

func TestCheckMemoryBackend_RedisReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := &config.Config{Memory: config.MemoryConfig{Backend: "redis", RedisURL: "redis://" + ln.Addr().String() + "/0"}}
	if got := checkMemoryBackend(cfg); got.Status != StatusPass {
		t.Fatalf("status = %s: %s", got.Status, got.Message)
	}
}

func TestCheckSearch(t *testing.T) {
	if got := checkSearch(&config.Config{}); got.Status != StatusPass {
		t.Fatalf("static: %s", got.Status)
	}
	cfg := &config.Config{Search: config.SearchConfig{Backend: "searxng"}}
	if got := checkSearch(cfg); got.Status != StatusFail {
		t.Fatalf("missing url: %s", got.Status)
	}
}

func TestCheckMCPServers(t *testing.T) {
	cfg := &config.Config{}
	if got := checkMCPServers(cfg); got.Status != StatusPass {
		t.Fatalf("none: %s", got.Status)
	}

	cfg.Tools.MCPServers = []config.MCPServer{
		{Name: "remote", Transport: "http", URL: "http://localhost:9000/mcp"},
		{Name: "local", Transport: "stdio", Command: "definitely-not-a-real-binary-xyz"},
	}
	got := checkMCPServers(cfg)
	if got.Status != StatusWarn {
		t.Fatalf("status = %s: %s", got.Status, got.Message)
	}
}

func TestCheckBridge(t *testing.T) {
	if got := checkBridge(&config.Config{}); got.Status != StatusPass {
		t.Fatalf("disabled: %s", got.Status)
	}
	cfg := &config.Config{Bridge: config.BridgeConfig{NATSURL: "not a url"}}
	if got := checkBridge(cfg); got.Status != StatusFail {
		t.Fatalf("bad url: %s", got.Status)
	}
}

func TestParseDF(t *testing.T) {
	tests := []struct {
		out  string
		want CheckStatus
	}{
		{"Filesystem Size Used Avail Use% Mounted\n/dev/sda1 100G 40G 60G 40% /", StatusPass},
		{"Filesystem Size Used Avail Use% Mounted\n/dev/sda1 100G 90G 10G 90% /", StatusWarn},
		{"Filesystem Size Used Avail Use% Mounted\n/dev/sda1 100G 97G 3G 97% /", StatusFail},
		{"garbage", StatusWarn},
	}
	for _, tt := range tests {
		if got := parseDF(tt.out); got.Status != tt.want {
			t.Errorf("parseDF(%q) = %s, want %s", tt.out, got.Status, tt.want)
		}
	}
}

func TestStatusIcon(t *testing.T) {
	if statusIcon(StatusFail) != "[FAIL]" || statusIcon("x") != "[????]" {
		t.Fatal("unexpected icon")
	}
}

func TestProbeTCP_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	got := probeTCP(addr, "nats")
	if got.Status != StatusFail {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Fix == "" {
		t.Fatal("expected fix suggestion")
	}
}
