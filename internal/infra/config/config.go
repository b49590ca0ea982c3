package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Safety    SafetyConfig    `yaml:"safety"`
	Tools     ToolsConfig     `yaml:"tools"`
	Memory    MemoryConfig    `yaml:"memory"`
	Routing   RoutingConfig   `yaml:"routing"`
	Resources ResourcesConfig `yaml:"resources"`
	Intervene InterveneConfig `yaml:"intervention"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Agents    []AgentConfig   `yaml:"agents"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Server    ServerConfig    `yaml:"server"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string   `yaml:"level"`
	Format string   `yaml:"format"`
	Output string   `yaml:"output"`
	Redact []string `yaml:"redact"` // attribute keys masked in log output
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "stdout", "otlp", "noop"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// SafetyConfig tunes the safety gate rule tables.
type SafetyConfig struct {
	DeniedTools     []string `yaml:"denied_tools"`
	DeniedPaths     []string `yaml:"denied_paths"`
	ExtraPatterns   []string `yaml:"extra_code_patterns"`
	HarmfulKeywords []string `yaml:"harmful_keywords"`
	AuditLog        string   `yaml:"audit_log"` // empty disables the audit log
}

// ToolsConfig holds tool executor settings.
type ToolsConfig struct {
	DefaultTimeout time.Duration            `yaml:"default_timeout"`
	Timeouts       map[string]time.Duration `yaml:"timeouts"`
	HighRisk       []string                 `yaml:"high_risk"`
	RateLimit      float64                  `yaml:"rate_limit"` // calls per second per tool, 0 = unlimited
	RateBurst      int                      `yaml:"rate_burst"`
	MCPServers     []MCPServer              `yaml:"mcp_servers"`
}

// MCPServer configures a single MCP tool server.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
}

// MemoryConfig holds tiered memory settings.
type MemoryConfig struct {
	WorkingCapacity        int           `yaml:"working_capacity"`
	ConsolidationThreshold float64       `yaml:"consolidation_threshold"`
	ConsolidationInterval  time.Duration `yaml:"consolidation_interval"`
	Backend                string        `yaml:"backend"` // "file", "sqlite", "redis"
	DataDir                string        `yaml:"data_dir"`
	RedisURL               string        `yaml:"redis_url"`
	RedisPassword          string        `yaml:"redis_password,omitempty"`
	RedisPrefix            string        `yaml:"redis_prefix"`
}

// RoutingConfig holds the keyword router settings.
type RoutingConfig struct {
	ConfidenceThreshold float64             `yaml:"confidence_threshold"`
	BaseConfidence      float64             `yaml:"base_confidence"`
	DefaultConfidence   float64             `yaml:"default_confidence"`
	FallbackAgent       string              `yaml:"fallback_agent"`
	Keywords            map[string][]string `yaml:"keywords"` // agent id -> keyword set
}

// ResourcesConfig holds resource limits in percent per metric.
type ResourcesConfig struct {
	Limits map[string]float64 `yaml:"limits"`
}

// InterveneConfig selects the human-intervention hook consulted for
// low-confidence routing and high-risk tools.
type InterveneConfig struct {
	Mode          string   `yaml:"mode"` // "auto" or "policy"
	ApproveAgents []string `yaml:"approve_agents"`
	DenyAgents    []string `yaml:"deny_agents"`
	ApproveTools  []string `yaml:"approve_tools"`
	DenyTools     []string `yaml:"deny_tools"`
}

// RecoveryConfig controls how the orchestrator reacts to agent_error events.
type RecoveryConfig struct {
	AutoRecover bool `yaml:"auto_recover"`
}

// AgentConfig declares one agent created at startup.
type AgentConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Role         string   `yaml:"role"`
	Goal         string   `yaml:"goal"`
	Capabilities []string `yaml:"capabilities"`
	MemorySize   int      `yaml:"memory_size"`
}

// LLMConfig holds the language model service settings.
type LLMConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	Model          string               `yaml:"model"`
	Temperature    float64              `yaml:"temperature"`
	MaxTokens      int                  `yaml:"max_tokens"`
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for the LLM provider.
type CircuitBreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// EmbeddingConfig holds text embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "hash", "openai"
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key,omitempty"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// SearchConfig selects the search provider.
type SearchConfig struct {
	Backend    string `yaml:"backend"` // "static", "searxng"
	SearXNGURL string `yaml:"searxng_url"`
}

// ServerConfig holds the HTTP transport settings.
type ServerConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// BridgeConfig holds the optional NATS bridge settings.
type BridgeConfig struct {
	NATSURL       string `yaml:"nats_url"` // empty disables the bridge
	SubjectPrefix string `yaml:"subject_prefix"`
}

// defaultDataDir returns the persistent data directory under $HOME/.conductor/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".conductor", "data")
}

// Default agent ids.
const (
	AgentCode     = "code_agent"
	AgentResearch = "research_agent"
	AgentTask     = "task_agent"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter:    "noop",
			ServiceName: "conductor",
		},
		Safety: SafetyConfig{
			DeniedTools: []string{"system_command", "file_write"},
			DeniedPaths: []string{"/etc/", "/usr/", "/var/", "~/"},
		},
		Tools: ToolsConfig{
			DefaultTimeout: 30 * time.Second,
			Timeouts:       map[string]time.Duration{},
			HighRisk:       []string{"code_generation"},
		},
		Memory: MemoryConfig{
			WorkingCapacity:        100,
			ConsolidationThreshold: 0.7,
			ConsolidationInterval:  300 * time.Second,
			Backend:                "file",
			DataDir:                defaultDataDir(),
			RedisPrefix:            "mem:",
		},
		Routing: RoutingConfig{
			ConfidenceThreshold: 0.7,
			BaseConfidence:      0.4,
			DefaultConfidence:   0.5,
			FallbackAgent:       AgentTask,
			Keywords: map[string][]string{
				AgentCode:     {"code", "function", "bug", "error", "programming"},
				AgentResearch: {"research", "information", "find", "search"},
				AgentTask:     {"task", "plan", "coordinate", "manage"},
			},
		},
		Resources: ResourcesConfig{
			Limits: map[string]float64{"memory": 90, "cpu": 80, "network": 80},
		},
		Intervene: InterveneConfig{
			Mode: "auto",
		},
		Agents: []AgentConfig{
			{
				ID: AgentCode, Name: "Code Assistant", Role: "code_assistant",
				Goal:         "Generate and analyze code efficiently and safely",
				Capabilities: []string{"code_analysis", "code_generation", "testing"},
			},
			{
				ID: AgentResearch, Name: "Researcher", Role: "researcher",
				Goal:         "Gather and synthesize information effectively",
				Capabilities: []string{"search", "summarize", "fact_check", "text_processing"},
			},
			{
				ID: AgentTask, Name: "Task Manager", Role: "task_manager",
				Goal:         "Coordinate tasks and manage agent collaboration",
				Capabilities: []string{"task_planning", "agent_coordination", "progress_tracking"},
			},
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   1024,
		},
		Embedding: EmbeddingConfig{
			Provider:   "hash",
			Dimensions: 256,
			CacheSize:  512,
		},
		Search: SearchConfig{
			Backend: "static",
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			RequestsPerMin: 120,
			Burst:          20,
		},
		Bridge: BridgeConfig{
			SubjectPrefix: "conductor",
		},
	}
}

// Load reads a YAML config file, applies .env and env var overrides, and
// decrypts secrets. A missing file yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// .env values never override variables already present in the environment.
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CONDUCTOR_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps CONDUCTOR_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONDUCTOR_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CONDUCTOR_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CONDUCTOR_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CONDUCTOR_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("CONDUCTOR_TRACER_ENDPOINT"); v != "" {
		cfg.Tracer.Endpoint = v
	}
	if v := os.Getenv("CONDUCTOR_TOOLS_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Tools.DefaultTimeout = d
		}
	}
	if v := os.Getenv("CONDUCTOR_TOOLS_HIGH_RISK"); v != "" {
		cfg.Tools.HighRisk = splitAndTrim(v, ",")
	}
	if v := os.Getenv("CONDUCTOR_MEMORY_BACKEND"); v != "" {
		cfg.Memory.Backend = v
	}
	if v := os.Getenv("CONDUCTOR_MEMORY_DATA_DIR"); v != "" {
		cfg.Memory.DataDir = v
	}
	if v := os.Getenv("CONDUCTOR_MEMORY_REDIS_URL"); v != "" {
		cfg.Memory.RedisURL = v
	}
	if v := os.Getenv("CONDUCTOR_MEMORY_REDIS_PASSWORD"); v != "" {
		cfg.Memory.RedisPassword = v
	}
	if v := os.Getenv("CONDUCTOR_MEMORY_CONSOLIDATION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Memory.ConsolidationThreshold = f
		}
	}
	if v := os.Getenv("CONDUCTOR_MEMORY_CONSOLIDATION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Memory.ConsolidationInterval = d
		}
	}
	if v := os.Getenv("CONDUCTOR_ROUTING_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Routing.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("CONDUCTOR_INTERVENTION_MODE"); v != "" {
		cfg.Intervene.Mode = v
	}
	if v := os.Getenv("CONDUCTOR_RECOVERY_AUTO_RECOVER"); v != "" {
		cfg.Recovery.AutoRecover = v == "true"
	}
	if v := os.Getenv("CONDUCTOR_LLM_ENABLED"); v == "true" {
		cfg.LLM.Enabled = true
	}
	if v := os.Getenv("CONDUCTOR_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CONDUCTOR_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CONDUCTOR_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CONDUCTOR_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("CONDUCTOR_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CONDUCTOR_SEARCH_BACKEND"); v != "" {
		cfg.Search.Backend = v
	}
	if v := os.Getenv("CONDUCTOR_SEARCH_SEARXNG_URL"); v != "" {
		cfg.Search.SearXNGURL = v
	}
	if v := os.Getenv("CONDUCTOR_SERVER_ENABLED"); v == "true" {
		cfg.Server.Enabled = true
	}
	if v := os.Getenv("CONDUCTOR_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CONDUCTOR_BRIDGE_NATS_URL"); v != "" {
		cfg.Bridge.NATSURL = v
	}
}

// ToolTimeout returns the configured timeout for tool, falling back to the
// default timeout.
func (c *Config) ToolTimeout(tool string) time.Duration {
	if d, ok := c.Tools.Timeouts[tool]; ok && d > 0 {
		return d
	}
	return c.Tools.DefaultTimeout
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets finds "enc:..." values in secret fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []struct {
		name  string
		field *string
	}{
		{"llm.api_key", &cfg.LLM.APIKey},
		{"embedding.api_key", &cfg.Embedding.APIKey},
		{"memory.redis_password", &cfg.Memory.RedisPassword},
	}
	for _, s := range secrets {
		if !strings.HasPrefix(*s.field, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*s.field, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.field = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects group- or world-writable config files.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
