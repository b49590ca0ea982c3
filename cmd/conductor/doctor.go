package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"conductor/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const notLoaded = "cannot check, config not loaded"

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)
	if cfgErr != nil {
		cfg = nil
	}

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Agents", Fn: checkAgents},
		{Name: "LLM", Fn: checkLLM},
		{Name: "Memory backend", Fn: checkMemoryBackend},
		{Name: "Search backend", Fn: checkSearch},
		{Name: "MCP servers", Fn: checkMCPServers},
		{Name: "NATS bridge", Fn: checkBridge},
		{Name: "Disk space", Fn: checkDiskSpace},
	}

	fmt.Println("conductor doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	pass, warn, fail := report(checks, cfg)

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above before starting conductor.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nconductor should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed.")
	}
	return nil
}

func report(checks []Check, cfg *config.Config) (pass, warn, fail int) {
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}
	return pass, warn, fail
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports a missing file as a warning since defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check the YAML syntax and the values reported above",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create config.yaml or pass --config PATH",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkAgents(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if len(cfg.Agents) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no agents configured",
			Fix:     "Declare at least one agent under agents:",
		}
	}

	ids := make([]string, len(cfg.Agents))
	hasFallback := false
	for i, a := range cfg.Agents {
		ids[i] = a.ID
		if a.ID == cfg.Routing.FallbackAgent {
			hasFallback = true
		}
	}
	if !hasFallback {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("fallback agent %q is not among [%s]", cfg.Routing.FallbackAgent, strings.Join(ids, ", ")),
			Fix:     "Set routing.fallback_agent to a configured agent id",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d agent(s): %s", len(ids), strings.Join(ids, ", ")),
	}
}

// checkLLM verifies the key and, when one is set, that the endpoint answers.
func checkLLM(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if !cfg.LLM.Enabled {
		return CheckResult{
			Status:  StatusPass,
			Message: "llm disabled, agents use built-in heuristics",
		}
	}
	if cfg.LLM.APIKey == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "llm enabled without an API key",
			Fix:     "Set CONDUCTOR_LLM_API_KEY or llm.api_key",
		}
	}
	return probeURL(strings.TrimRight(cfg.LLM.BaseURL, "/")+"/models", "llm endpoint")
}

// checkMemoryBackend verifies the data directory is writable or the redis
// URL parses.
func checkMemoryBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}

	switch cfg.Memory.Backend {
	case "redis":
		u, err := url.Parse(cfg.Memory.RedisURL)
		if err != nil || u.Host == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("invalid redis url %q", cfg.Memory.RedisURL),
				Fix:     "Use the form redis://host:6379/0",
			}
		}
		return probeTCP(u.Host, "redis")
	case "file", "sqlite":
	default:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("unknown memory backend %q", cfg.Memory.Backend),
			Fix:     "Use file, sqlite or redis",
		}
	}

	absDir, _ := filepath.Abs(cfg.Memory.DataDir)
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory %s cannot be created: %v", absDir, err),
			Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
		}
	}
	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 755 %s", absDir),
		}
	}
	os.Remove(testFile)

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("data directory %s writable (backend: %s)", absDir, cfg.Memory.Backend),
	}
}

func checkSearch(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if cfg.Search.Backend != "searxng" {
		return CheckResult{Status: StatusPass, Message: "static search corpus"}
	}
	if cfg.Search.SearXNGURL == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "searxng selected without a URL",
			Fix:     "Set search.searxng_url",
		}
	}
	return probeURL(strings.TrimRight(cfg.Search.SearXNGURL, "/")+"/healthz", "searxng")
}

// checkMCPServers makes sure stdio commands resolve on PATH.
func checkMCPServers(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if len(cfg.Tools.MCPServers) == 0 {
		return CheckResult{Status: StatusPass, Message: "no MCP servers configured"}
	}

	var missing []string
	for _, srv := range cfg.Tools.MCPServers {
		if srv.Transport != "stdio" {
			continue
		}
		if _, err := exec.LookPath(srv.Command); err != nil {
			missing = append(missing, fmt.Sprintf("%s (%s)", srv.Name, srv.Command))
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("commands not found: %s", strings.Join(missing, "; ")),
			Fix:     "Install the server binaries or remove them from tools.mcp_servers",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d MCP server(s) configured", len(cfg.Tools.MCPServers)),
	}
}

func checkBridge(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if cfg.Bridge.NATSURL == "" {
		return CheckResult{Status: StatusPass, Message: "bridge disabled"}
	}
	u, err := url.Parse(cfg.Bridge.NATSURL)
	if err != nil || u.Host == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("invalid nats url %q", cfg.Bridge.NATSURL),
			Fix:     "Use the form nats://host:4222",
		}
	}
	return probeTCP(u.Host, "nats")
}

// checkDiskSpace checks available disk space in the data directory.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dataDir := "./data"
	if cfg != nil && cfg.Memory.DataDir != "" {
		dataDir = cfg.Memory.DataDir
	}
	absDir, _ := filepath.Abs(dataDir)

	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusPass,
			Message: "data directory does not exist yet, space check skipped",
		}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "could not determine disk space (df command failed)",
		}
	}
	return parseDF(string(out))
}

func parseDF(out string) CheckResult {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}

	available, usePercent := fields[3], fields[4]
	var pct int
	fmt.Sscanf(strings.TrimSuffix(usePercent, "%"), "%d", &pct)

	switch {
	case pct >= 95:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up disk space or move memory.data_dir to another partition",
		}
	case pct >= 85:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s available (%s used)", available, usePercent),
	}
}

func probeURL(endpoint, name string) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("bad %s url: %v", name, err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check the URL and your network",
		}
	}
	resp.Body.Close()
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", name, time.Since(start).Milliseconds()),
	}
}

func probeTCP(addr, name string) CheckResult {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s at %s: %v", name, addr, err),
			Fix:     fmt.Sprintf("Start %s or fix its address", name),
		}
	}
	conn.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s reachable at %s", name, addr)}
}
