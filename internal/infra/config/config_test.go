package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Memory.WorkingCapacity != 100 {
		t.Errorf("WorkingCapacity = %d, want 100", cfg.Memory.WorkingCapacity)
	}
	if cfg.Memory.ConsolidationThreshold != 0.7 {
		t.Errorf("ConsolidationThreshold = %v, want 0.7", cfg.Memory.ConsolidationThreshold)
	}
	if cfg.Memory.ConsolidationInterval != 300*time.Second {
		t.Errorf("ConsolidationInterval = %v, want 300s", cfg.Memory.ConsolidationInterval)
	}
	if cfg.Routing.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v, want 0.7", cfg.Routing.ConfidenceThreshold)
	}
	if cfg.Tools.DefaultTimeout != 30*time.Second {
		t.Errorf("DefaultTimeout = %v, want 30s", cfg.Tools.DefaultTimeout)
	}
	if len(cfg.Agents) != 3 {
		t.Errorf("agents = %d, want 3", len(cfg.Agents))
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.Backend != "file" {
		t.Errorf("expected defaults, got backend=%q", cfg.Memory.Backend)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
memory:
  working_capacity: 5
  consolidation_threshold: 0.8
  consolidation_interval: 10s
  backend: sqlite
  data_dir: ` + dir + `
routing:
  confidence_threshold: 0.6
tools:
  timeouts:
    search: 5s
logger:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.WorkingCapacity != 5 {
		t.Errorf("WorkingCapacity = %d, want 5", cfg.Memory.WorkingCapacity)
	}
	if cfg.Memory.ConsolidationInterval != 10*time.Second {
		t.Errorf("ConsolidationInterval = %v, want 10s", cfg.Memory.ConsolidationInterval)
	}
	if cfg.Routing.ConfidenceThreshold != 0.6 {
		t.Errorf("ConfidenceThreshold = %v, want 0.6", cfg.Routing.ConfidenceThreshold)
	}
	if got := cfg.ToolTimeout("search"); got != 5*time.Second {
		t.Errorf("ToolTimeout(search) = %v, want 5s", got)
	}
	if got := cfg.ToolTimeout("summarize"); got != 30*time.Second {
		t.Errorf("ToolTimeout(summarize) = %v, want default 30s", got)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CONDUCTOR_MEMORY_CONSOLIDATION_THRESHOLD=0.55\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CONDUCTOR_MEMORY_CONSOLIDATION_THRESHOLD") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.ConsolidationThreshold != 0.55 {
		t.Errorf("ConsolidationThreshold = %v, want 0.55 from .env", cfg.Memory.ConsolidationThreshold)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_LOGGER_LEVEL", "debug")
	t.Setenv("CONDUCTOR_MEMORY_BACKEND", "redis")
	t.Setenv("CONDUCTOR_MEMORY_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CONDUCTOR_ROUTING_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("CONDUCTOR_TOOLS_HIGH_RISK", "code_generation, search ,")
	t.Setenv("CONDUCTOR_TOOLS_DEFAULT_TIMEOUT", "12s")
	t.Setenv("CONDUCTOR_RECOVERY_AUTO_RECOVER", "true")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if cfg.Memory.Backend != "redis" || cfg.Memory.RedisURL == "" {
		t.Errorf("memory = %+v", cfg.Memory)
	}
	if cfg.Routing.ConfidenceThreshold != 0.9 {
		t.Errorf("ConfidenceThreshold = %v, want 0.9", cfg.Routing.ConfidenceThreshold)
	}
	if len(cfg.Tools.HighRisk) != 2 || cfg.Tools.HighRisk[1] != "search" {
		t.Errorf("HighRisk = %v", cfg.Tools.HighRisk)
	}
	if cfg.Tools.DefaultTimeout != 12*time.Second {
		t.Errorf("DefaultTimeout = %v, want 12s", cfg.Tools.DefaultTimeout)
	}
	if !cfg.Recovery.AutoRecover {
		t.Error("Recovery.AutoRecover = false, want true")
	}
}

func TestEnvOverridesIgnoreInvalid(t *testing.T) {
	t.Setenv("CONDUCTOR_TOOLS_DEFAULT_TIMEOUT", "soon")
	t.Setenv("CONDUCTOR_ROUTING_CONFIDENCE_THRESHOLD", "high")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Tools.DefaultTimeout != 30*time.Second {
		t.Errorf("DefaultTimeout = %v, want unchanged", cfg.Tools.DefaultTimeout)
	}
	if cfg.Routing.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v, want unchanged", cfg.Routing.ConfidenceThreshold)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("sk-secret", "pass")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	got, err := DecryptValue(enc, "pass")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if got != "sk-secret" {
		t.Errorf("got %q, want sk-secret", got)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	enc, err := EncryptValue("sk-secret", "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Fatal("expected error for wrong passphrase")
	}
}

func TestDecryptValueInvalidInput(t *testing.T) {
	for _, in := range []string{"nocolon", "zz:00", "00:zz", "00:00"} {
		if _, err := DecryptValue(in, "pass"); err == nil {
			t.Errorf("DecryptValue(%q) expected error", in)
		}
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	enc, err := EncryptValue("sk-live", "k3y")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "llm:\n  api_key: \"enc:" + enc + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONDUCTOR_CONFIG_KEY", "k3y")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-live" {
		t.Errorf("APIKey = %q, want decrypted value", cfg.LLM.APIKey)
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  api_key: \"enc:bad\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONDUCTOR_CONFIG_KEY", "k3y")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "llm.api_key") {
		t.Fatalf("expected llm.api_key decrypt error, got %v", err)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected permission error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("memory: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
