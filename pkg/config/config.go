// Package config holds runtime configuration for the guardrail
// service. Everything is overridable through BULWARK_* environment
// variables; presets cover the common deployment shapes.
package config

import (
	"os"
	"strconv"
	"time"
)

// LLMProvider selects the Tier 3 reasoning backend.
type LLMProvider string

const (
	ProviderNone       LLMProvider = "none"
	ProviderOllama     LLMProvider = "ollama"
	ProviderOpenRouter LLMProvider = "openrouter"
	ProviderOpenAI     LLMProvider = "openai"
	ProviderCustom     LLMProvider = "custom"
)

// CacheBackend selects the verdict cache implementation.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
	CacheOff    CacheBackend = "off"
)

// Config is the full runtime configuration.
type Config struct {
	ListenAddr string
	LogLevel   string

	CacheBackend  CacheBackend
	CacheSize     int
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// FingerprintKeys are the request context keys that participate in
	// cache fingerprinting.
	FingerprintKeys []string

	Tier1Budget       time.Duration
	Tier2Budget       time.Duration
	Tier3Budget       time.Duration
	HardDeadlineGrace time.Duration

	Tier1HighThreshold float64
	Tier1LowThreshold  float64
	Tier2HighThreshold float64
	Tier2LowThreshold  float64

	StrictMode bool
	PolicyPath string
	SeedDir    string

	EmbeddingModelPath string
	OnnxLibraryPath    string

	LLMProvider LLMProvider
	LLMBaseURL  string
	LLMAPIKey   string
	LLMModel    string

	// AuditDatabaseURL enables the Postgres audit trail when set.
	AuditDatabaseURL string
}

// NewDefaultConfig returns the standard deployment shape: in-memory
// cache, local embeddings, no Tier 3 backend until one is configured.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",

		CacheBackend:    CacheMemory,
		CacheSize:       10000,
		CacheTTL:        time.Hour,
		RedisAddr:       "localhost:6379",
		FingerprintKeys: []string{"domain", "audience"},

		Tier1Budget:       5 * time.Millisecond,
		Tier2Budget:       150 * time.Millisecond,
		Tier3Budget:       3 * time.Second,
		HardDeadlineGrace: 50 * time.Millisecond,

		Tier1HighThreshold: 0.80,
		Tier1LowThreshold:  0.20,
		Tier2HighThreshold: 0.75,
		Tier2LowThreshold:  0.25,

		SeedDir:            "./config/seeds",
		EmbeddingModelPath: "./models/all-MiniLM-L6-v2",

		LLMProvider: ProviderNone,
	}
}

// NewLocalConfig targets a developer laptop: Ollama for reasoning,
// everything else on defaults.
func NewLocalConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.LLMProvider = ProviderOllama
	cfg.LLMBaseURL = "http://localhost:11434/v1"
	cfg.LLMModel = "llama3.2"
	return cfg
}

// NewHighSecurityConfig trades latency for recall: strict mode on and
// lower termination thresholds so more traffic escalates.
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.StrictMode = true
	cfg.Tier1HighThreshold = 0.70
	cfg.Tier2HighThreshold = 0.65
	return cfg
}

// FromEnv builds a config from defaults plus BULWARK_* overrides.
func FromEnv() *Config {
	cfg := NewDefaultConfig()
	applyEnv(cfg)
	return cfg
}

// applyEnv overlays BULWARK_* environment variables. Env wins over
// both defaults and file values.
func applyEnv(cfg *Config) {
	cfg.ListenAddr = GetEnvStr("BULWARK_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = GetEnvStr("BULWARK_LOG_LEVEL", cfg.LogLevel)

	cfg.CacheBackend = CacheBackend(GetEnvStr("BULWARK_CACHE_BACKEND", string(cfg.CacheBackend)))
	cfg.CacheSize = clampInt(GetEnvInt("BULWARK_CACHE_SIZE", cfg.CacheSize), 16, 1_000_000)
	cfg.CacheTTL = GetEnvDuration("BULWARK_CACHE_TTL", cfg.CacheTTL)
	cfg.RedisAddr = GetEnvStr("BULWARK_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = GetEnvStr("BULWARK_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = GetEnvInt("BULWARK_REDIS_DB", cfg.RedisDB)

	cfg.Tier1Budget = GetEnvDuration("BULWARK_TIER1_BUDGET", cfg.Tier1Budget)
	cfg.Tier2Budget = GetEnvDuration("BULWARK_TIER2_BUDGET", cfg.Tier2Budget)
	cfg.Tier3Budget = GetEnvDuration("BULWARK_TIER3_BUDGET", cfg.Tier3Budget)
	cfg.HardDeadlineGrace = GetEnvDuration("BULWARK_DEADLINE_GRACE", cfg.HardDeadlineGrace)

	cfg.Tier1HighThreshold = clampFloat(GetEnvFloat("BULWARK_TIER1_HIGH", cfg.Tier1HighThreshold), 0, 1)
	cfg.Tier1LowThreshold = clampFloat(GetEnvFloat("BULWARK_TIER1_LOW", cfg.Tier1LowThreshold), 0, 1)
	cfg.Tier2HighThreshold = clampFloat(GetEnvFloat("BULWARK_TIER2_HIGH", cfg.Tier2HighThreshold), 0, 1)
	cfg.Tier2LowThreshold = clampFloat(GetEnvFloat("BULWARK_TIER2_LOW", cfg.Tier2LowThreshold), 0, 1)

	cfg.StrictMode = GetEnvBool("BULWARK_STRICT_MODE", cfg.StrictMode)
	cfg.PolicyPath = GetEnvStr("BULWARK_POLICY_PATH", cfg.PolicyPath)
	cfg.SeedDir = GetEnvStr("BULWARK_SEED_DIR", cfg.SeedDir)

	cfg.EmbeddingModelPath = GetEnvStr("BULWARK_EMBEDDING_MODEL_PATH", cfg.EmbeddingModelPath)
	cfg.OnnxLibraryPath = GetEnvStr("ONNXRUNTIME_SHARED_LIBRARY_PATH", cfg.OnnxLibraryPath)

	cfg.LLMProvider = LLMProvider(GetEnvStr("BULWARK_LLM_PROVIDER", string(cfg.LLMProvider)))
	baseURL := cfg.LLMBaseURL
	if baseURL == "" {
		baseURL = baseURLForProvider(cfg.LLMProvider)
	}
	cfg.LLMBaseURL = GetEnvStr("BULWARK_LLM_BASE_URL", baseURL)
	cfg.LLMAPIKey = GetEnvStr("BULWARK_LLM_API_KEY", cfg.LLMAPIKey)
	cfg.LLMModel = GetEnvStr("BULWARK_LLM_MODEL", cfg.LLMModel)

	cfg.AuditDatabaseURL = GetEnvStr("BULWARK_DATABASE_URL", cfg.AuditDatabaseURL)
}

func baseURLForProvider(p LLMProvider) string {
	switch p {
	case ProviderOllama:
		return "http://localhost:11434/v1"
	case ProviderOpenRouter:
		return "https://openrouter.ai/api/v1"
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	default:
		return ""
	}
}

// GetEnvStr returns the env value or the default when unset.
func GetEnvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvInt returns the env value parsed as int, or the default when
// unset or unparseable.
func GetEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// GetEnvFloat returns the env value parsed as float64.
func GetEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// GetEnvBool returns the env value parsed as bool.
func GetEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// GetEnvDuration returns the env value parsed as a Go duration
// ("150ms", "3s").
func GetEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
