// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modvet.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.SuccessThreshold != 2 {
		t.Errorf("breaker thresholds = %d/%d, want 5/2", cfg.Breaker.FailureThreshold, cfg.Breaker.SuccessThreshold)
	}
	ttls := cfg.GetTierTTLs()
	want := map[string]time.Duration{
		"high":      48 * time.Hour,
		"medium":    24 * time.Hour,
		"low":       12 * time.Hour,
		"known_bad": 168 * time.Hour,
	}
	for tier, d := range want {
		if ttls[tier] != d {
			t.Errorf("tier %s TTL = %v, want %v", tier, ttls[tier], d)
		}
	}
	if cfg.Selector.Order[0] != "anthropic" {
		t.Errorf("default primary = %q, want anthropic", cfg.Selector.Order[0])
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8084" {
		t.Errorf("port = %q, want the default", cfg.Server.Port)
	}
}

func TestLoadParsesFile(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeConfig(t, `
server:
  port: "9090"
  requests_per_minute: 30
selector:
  order: [openai, anthropic]
budget:
  daily_limit: 12345
cache:
  tier_ttls:
    high: 48h
    medium: 24h
    low: 6h
    known_bad: 168h
providers:
  - name: anthropic
    enabled: true
    model: claude-3-5-sonnet-20241022
  - name: openai
    enabled: true
    model: gpt-4o-mini
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Server.RequestsPerMinute != 30 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Selector.Order[0] != "openai" {
		t.Errorf("primary = %q, want openai", cfg.Selector.Order[0])
	}
	if cfg.Budget.DailyLimit != 12345 {
		t.Errorf("daily limit = %d, want 12345", cfg.Budget.DailyLimit)
	}
	if got := cfg.GetTierTTLs()["low"]; got != 6*time.Hour {
		t.Errorf("low tier TTL = %v, want 6h", got)
	}
	p := cfg.Provider("anthropic")
	if p == nil || p.Model != "claude-3-5-sonnet-20241022" {
		t.Errorf("anthropic entry = %+v", p)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("MODVET_REDIS_URL", "redis://cache.internal:6379")
	t.Setenv("MODVET_API_SECRET", "shh")
	t.Setenv("MODVET_ANTHROPIC_API_KEY", "sk-modvet")
	t.Setenv("ANTHROPIC_API_KEY", "sk-bare")
	t.Setenv("OPENAI_API_KEY", "sk-openai-bare")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.URL != "redis://cache.internal:6379" {
		t.Errorf("redis url = %q", cfg.Redis.URL)
	}
	if cfg.Server.APISecret != "shh" {
		t.Errorf("api secret = %q", cfg.Server.APISecret)
	}
	// The MODVET_ name wins over the bare one.
	if got := cfg.Provider("anthropic").APIKey; got != "sk-modvet" {
		t.Errorf("anthropic key = %q, want sk-modvet", got)
	}
	// The bare name still applies when only it is set.
	if got := cfg.Provider("openai").APIKey; got != "sk-openai-bare" {
		t.Errorf("openai key = %q, want sk-openai-bare", got)
	}
}

func TestValidateRejectsUnknownOrderEntry(t *testing.T) {
	cfg := Default()
	cfg.Selector.Order = []string{"mystery"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Errorf("err = %v, want unknown provider", err)
	}
}

func TestValidateRejectsDuplicateOrderEntry(t *testing.T) {
	cfg := Default()
	cfg.Selector.Order = []string{"anthropic", "anthropic"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "twice") {
		t.Errorf("err = %v, want duplicate rejection", err)
	}
}

func TestValidateRejectsEmptyOrder(t *testing.T) {
	cfg := Default()
	cfg.Selector.Order = nil
	if err := cfg.Validate(); err == nil {
		t.Error("empty selector order accepted")
	}
}

func TestValidateRejectsUnknownTier(t *testing.T) {
	cfg := Default()
	cfg.Cache.TierTTLs["guest"] = "1h"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "unknown trust tier") {
		t.Errorf("err = %v, want unknown tier", err)
	}
}

func TestValidateRejectsBadTTL(t *testing.T) {
	cfg := Default()
	cfg.Cache.TierTTLs["low"] = "soon"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "invalid TTL") {
		t.Errorf("err = %v, want invalid TTL", err)
	}
}

func TestValidateRejectsNegativeBudget(t *testing.T) {
	cfg := Default()
	cfg.Budget.DailyLimit = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative daily limit accepted")
	}
}

func TestValidateRejectsAlertThresholdOutOfRange(t *testing.T) {
	for _, bad := range []int{0, -5, 150} {
		cfg := Default()
		cfg.Budget.AlertThresholds = []int{bad}
		if err := cfg.Validate(); err == nil {
			t.Errorf("threshold %d accepted", bad)
		}
	}
}

func TestValidateRejectsUnknownProviderKind(t *testing.T) {
	cfg := Default()
	cfg.Providers = append(cfg.Providers, ProviderConfig{Name: "oracle"})
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "unknown provider kind") {
		t.Errorf("err = %v, want unknown kind", err)
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := Default()
	cfg.Server.WriteTimeout = "not-a-duration"
	if got := cfg.GetWriteTimeout(); got != 90*time.Second {
		t.Errorf("write timeout fallback = %v, want 90s", got)
	}
	cfg.Coalescer.PollStart = ""
	if got := cfg.GetCoalescerPollStart(); got != 500*time.Millisecond {
		t.Errorf("poll start fallback = %v, want 500ms", got)
	}
	cfg.Breaker.Cooldown = "-2s"
	if got := cfg.GetBreakerCooldown(); got != 30*time.Second {
		t.Errorf("cooldown fallback = %v, want 30s", got)
	}
}

func TestLoadParsesPricingOverrides(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeConfig(t, `
pricing:
  anthropic:
    claude-3-5-haiku-20241022:
      input_cents_per_mtok: 80
      output_cents_per_mtok: 400
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := cfg.Pricing["anthropic"]["claude-3-5-haiku-20241022"]
	if r.InputCentsPerMTok != 80 || r.OutputCentsPerMTok != 400 {
		t.Errorf("rates = %+v, want 80/400", r)
	}
}

func TestValidateRejectsBadPricing(t *testing.T) {
	cfg := Default()
	cfg.Pricing = map[string]map[string]RateEntry{
		"oracle": {"some-model": {InputCentsPerMTok: 1, OutputCentsPerMTok: 1}},
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "pricing") {
		t.Errorf("err = %v, want unknown kind in pricing", err)
	}

	cfg = Default()
	cfg.Pricing = map[string]map[string]RateEntry{
		"openai": {"gpt-4o": {InputCentsPerMTok: -1}},
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "negative rate") {
		t.Errorf("err = %v, want negative rate", err)
	}
}
