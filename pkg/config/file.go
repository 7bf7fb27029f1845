package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML overlay. Pointer and string fields
// distinguish "absent" from zero; durations are Go duration strings.
type fileConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	CacheBackend  string `yaml:"cache_backend"`
	CacheSize     int    `yaml:"cache_size"`
	CacheTTL      string `yaml:"cache_ttl"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       *int   `yaml:"redis_db"`

	FingerprintKeys []string `yaml:"fingerprint_keys"`

	Tier1Budget       string `yaml:"tier1_budget"`
	Tier2Budget       string `yaml:"tier2_budget"`
	Tier3Budget       string `yaml:"tier3_budget"`
	HardDeadlineGrace string `yaml:"hard_deadline_grace"`

	Tier1HighThreshold *float64 `yaml:"tier1_high_threshold"`
	Tier1LowThreshold  *float64 `yaml:"tier1_low_threshold"`
	Tier2HighThreshold *float64 `yaml:"tier2_high_threshold"`
	Tier2LowThreshold  *float64 `yaml:"tier2_low_threshold"`

	StrictMode *bool  `yaml:"strict_mode"`
	PolicyPath string `yaml:"policy_path"`
	SeedDir    string `yaml:"seed_dir"`

	EmbeddingModelPath string `yaml:"embedding_model_path"`
	OnnxLibraryPath    string `yaml:"onnx_library_path"`

	LLMProvider string `yaml:"llm_provider"`
	LLMBaseURL  string `yaml:"llm_base_url"`
	LLMAPIKey   string `yaml:"llm_api_key"`
	LLMModel    string `yaml:"llm_model"`

	AuditDatabaseURL string `yaml:"audit_database_url"`
}

// Load builds the effective config: built-in defaults, then the YAML
// file (a missing file is not an error), then BULWARK_* environment
// overrides on top.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v string) error {
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid duration %q", v)
		}
		*dst = d
		return nil
	}

	setStr(&cfg.ListenAddr, fc.ListenAddr)
	setStr(&cfg.LogLevel, fc.LogLevel)

	if fc.CacheBackend != "" {
		cfg.CacheBackend = CacheBackend(fc.CacheBackend)
	}
	if fc.CacheSize > 0 {
		cfg.CacheSize = clampInt(fc.CacheSize, 16, 1_000_000)
	}
	if err := setDur(&cfg.CacheTTL, fc.CacheTTL); err != nil {
		return err
	}
	setStr(&cfg.RedisAddr, fc.RedisAddr)
	setStr(&cfg.RedisPassword, fc.RedisPassword)
	if fc.RedisDB != nil {
		cfg.RedisDB = *fc.RedisDB
	}

	if len(fc.FingerprintKeys) > 0 {
		cfg.FingerprintKeys = fc.FingerprintKeys
	}

	if err := setDur(&cfg.Tier1Budget, fc.Tier1Budget); err != nil {
		return err
	}
	if err := setDur(&cfg.Tier2Budget, fc.Tier2Budget); err != nil {
		return err
	}
	if err := setDur(&cfg.Tier3Budget, fc.Tier3Budget); err != nil {
		return err
	}
	if err := setDur(&cfg.HardDeadlineGrace, fc.HardDeadlineGrace); err != nil {
		return err
	}

	setThreshold := func(dst *float64, v *float64) {
		if v != nil {
			*dst = clampFloat(*v, 0, 1)
		}
	}
	setThreshold(&cfg.Tier1HighThreshold, fc.Tier1HighThreshold)
	setThreshold(&cfg.Tier1LowThreshold, fc.Tier1LowThreshold)
	setThreshold(&cfg.Tier2HighThreshold, fc.Tier2HighThreshold)
	setThreshold(&cfg.Tier2LowThreshold, fc.Tier2LowThreshold)

	if fc.StrictMode != nil {
		cfg.StrictMode = *fc.StrictMode
	}
	setStr(&cfg.PolicyPath, fc.PolicyPath)
	setStr(&cfg.SeedDir, fc.SeedDir)
	setStr(&cfg.EmbeddingModelPath, fc.EmbeddingModelPath)
	setStr(&cfg.OnnxLibraryPath, fc.OnnxLibraryPath)

	if fc.LLMProvider != "" {
		cfg.LLMProvider = LLMProvider(fc.LLMProvider)
	}
	setStr(&cfg.LLMBaseURL, fc.LLMBaseURL)
	setStr(&cfg.LLMAPIKey, fc.LLMAPIKey)
	setStr(&cfg.LLMModel, fc.LLMModel)
	setStr(&cfg.AuditDatabaseURL, fc.AuditDatabaseURL)

	return nil
}
