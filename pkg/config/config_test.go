package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bulwark-ai/bulwark/pkg/guard"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg == nil {
		t.Fatal("NewDefaultConfig returned nil")
	}

	if cfg.Tier1HighThreshold <= cfg.Tier1LowThreshold {
		t.Errorf("tier 1 thresholds inverted: high %v, low %v",
			cfg.Tier1HighThreshold, cfg.Tier1LowThreshold)
	}
	if cfg.Tier1Budget >= cfg.Tier2Budget || cfg.Tier2Budget >= cfg.Tier3Budget {
		t.Errorf("tier budgets should increase: %v %v %v",
			cfg.Tier1Budget, cfg.Tier2Budget, cfg.Tier3Budget)
	}
	if cfg.LLMProvider != ProviderNone {
		t.Errorf("default should not assume an LLM backend, got %s", cfg.LLMProvider)
	}
}

func TestNewLocalConfig(t *testing.T) {
	cfg := NewLocalConfig()
	if cfg.LLMProvider != ProviderOllama {
		t.Errorf("expected Ollama provider, got %s", cfg.LLMProvider)
	}
	if cfg.LLMBaseURL != "http://localhost:11434/v1" {
		t.Errorf("expected local Ollama URL, got %s", cfg.LLMBaseURL)
	}
}

func TestNewHighSecurityConfig(t *testing.T) {
	cfg := NewHighSecurityConfig()
	if !cfg.StrictMode {
		t.Error("high security should enable strict mode")
	}
	if cfg.Tier1HighThreshold >= NewDefaultConfig().Tier1HighThreshold {
		t.Error("high security should lower the termination threshold")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("BULWARK_TIER2_BUDGET", "250ms")
	t.Setenv("BULWARK_STRICT_MODE", "true")
	t.Setenv("BULWARK_CACHE_BACKEND", "redis")
	t.Setenv("BULWARK_TIER1_HIGH", "0.9")

	cfg := FromEnv()
	if cfg.Tier2Budget != 250*time.Millisecond {
		t.Errorf("Tier2Budget = %v", cfg.Tier2Budget)
	}
	if !cfg.StrictMode {
		t.Error("strict mode not picked up from env")
	}
	if cfg.CacheBackend != CacheRedis {
		t.Errorf("CacheBackend = %s", cfg.CacheBackend)
	}
	if cfg.Tier1HighThreshold != 0.9 {
		t.Errorf("Tier1HighThreshold = %v", cfg.Tier1HighThreshold)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bulwark.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileOverlay(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: ":9090"
cache_backend: redis
tier2_budget: 300ms
tier1_high_threshold: 0.9
strict_mode: true
fingerprint_keys: [domain, tenant]
llm_provider: ollama
llm_base_url: http://llm.internal:11434/v1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %s", cfg.ListenAddr)
	}
	if cfg.CacheBackend != CacheRedis {
		t.Errorf("CacheBackend = %s", cfg.CacheBackend)
	}
	if cfg.Tier2Budget != 300*time.Millisecond {
		t.Errorf("Tier2Budget = %v", cfg.Tier2Budget)
	}
	if cfg.Tier1HighThreshold != 0.9 {
		t.Errorf("Tier1HighThreshold = %v", cfg.Tier1HighThreshold)
	}
	if !cfg.StrictMode {
		t.Error("strict mode not picked up from file")
	}
	if len(cfg.FingerprintKeys) != 2 || cfg.FingerprintKeys[1] != "tenant" {
		t.Errorf("FingerprintKeys = %v", cfg.FingerprintKeys)
	}
	if cfg.LLMBaseURL != "http://llm.internal:11434/v1" {
		t.Errorf("LLMBaseURL = %s", cfg.LLMBaseURL)
	}

	// Untouched fields keep their defaults.
	if cfg.Tier3Budget != NewDefaultConfig().Tier3Budget {
		t.Errorf("Tier3Budget = %v", cfg.Tier3Budget)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/bulwark.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != NewDefaultConfig().ListenAddr {
		t.Errorf("missing file should yield defaults, got %s", cfg.ListenAddr)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	path := writeConfigFile(t, "listen_addr: \":9090\"\n")
	t.Setenv("BULWARK_LISTEN_ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("env should win over file, got %s", cfg.ListenAddr)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, "tier1_budget: fast\n")
	if _, err := Load(path); err == nil {
		t.Error("invalid duration should be rejected")
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT_VAR", "42")
	if got := GetEnvInt("TEST_INT_VAR", 10); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	if got := GetEnvInt("NON_EXISTENT_VAR_XYZ", 100); got != 100 {
		t.Errorf("got %d, want default 100", got)
	}

	t.Setenv("INVALID_INT_VAR", "not-a-number")
	if got := GetEnvInt("INVALID_INT_VAR", 50); got != 50 {
		t.Errorf("got %d, want default 50 for invalid int", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR_VAR", "150ms")
	if got := GetEnvDuration("TEST_DUR_VAR", time.Second); got != 150*time.Millisecond {
		t.Errorf("got %v", got)
	}

	t.Setenv("TEST_DUR_NEG", "-5s")
	if got := GetEnvDuration("TEST_DUR_NEG", time.Second); got != time.Second {
		t.Errorf("negative duration should fall back, got %v", got)
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		val, lo, hi, want int
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{15, 0, 10, 10},
		{0, 0, 10, 0},
		{10, 0, 10, 10},
	}
	for _, tt := range tests {
		if got := clampInt(tt.val, tt.lo, tt.hi); got != tt.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tt.val, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestDefaultPolicyValid(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	for _, class := range guard.KnownClasses() {
		if _, ok := p.Classes[class]; !ok {
			t.Errorf("default policy misses class %s", class)
		}
	}

	pi := p.Classes[guard.ClassPromptInjection]
	if pi.Severity != guard.SeverityCritical || pi.Action != guard.ActionBlock || pi.ConfidenceThreshold != 0.6 {
		t.Errorf("prompt_injection policy wrong: %+v", pi)
	}
}

func TestParsePolicy(t *testing.T) {
	data := []byte(`
version: "2026-01"
strict_mode: true
indeterminate_action: BLOCK
failure_policies:
  prompt_injection:
    severity: critical
    action: BLOCK
    confidence_threshold: 0.5
  toxicity:
    severity: high
    action: BLOCK
    confidence_threshold: 0.65
`)
	p, err := ParsePolicy(data)
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != "2026-01" || !p.StrictMode {
		t.Errorf("header wrong: version=%s strict=%v", p.Version, p.StrictMode)
	}
	if p.IndeterminateAction != guard.ActionBlock {
		t.Errorf("indeterminate action = %s", p.IndeterminateAction)
	}
	if len(p.Classes) != 2 {
		t.Errorf("got %d classes, want 2", len(p.Classes))
	}
	if p.Classes[guard.ClassPromptInjection].ConfidenceThreshold != 0.5 {
		t.Errorf("threshold not applied: %+v", p.Classes[guard.ClassPromptInjection])
	}
}

func TestParsePolicyRejectsUnknownClass(t *testing.T) {
	data := []byte(`
failure_policies:
  made_up_class:
    severity: high
    action: BLOCK
    confidence_threshold: 0.5
`)
	if _, err := ParsePolicy(data); err == nil {
		t.Error("unknown class name should be rejected")
	}
}

func TestParsePolicyRejectsBadThreshold(t *testing.T) {
	data := []byte(`
failure_policies:
  toxicity:
    severity: high
    action: BLOCK
    confidence_threshold: 1.5
`)
	if _, err := ParsePolicy(data); err == nil {
		t.Error("out-of-range threshold should be rejected")
	}
}

func TestLoadPolicyFileMissing(t *testing.T) {
	p, err := LoadPolicyFile("/nonexistent/policy.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != "builtin" {
		t.Errorf("missing file should yield builtin policy, got %s", p.Version)
	}
}
