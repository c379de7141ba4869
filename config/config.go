// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

// Package config loads analyzer configuration from a YAML file with
// environment overrides. Durations are YAML strings ("30s", "12h") parsed
// on access, with defaults applied when a field is absent or malformed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all analyzer configuration.
type Config struct {
	Server    ServerConfig                    `yaml:"server"`
	Redis     RedisConfig                     `yaml:"redis"`
	Providers []ProviderConfig                `yaml:"providers"`
	Selector  SelectorConfig                  `yaml:"selector"`
	Budget    BudgetConfig                    `yaml:"budget"`
	Cache     CacheConfig                     `yaml:"cache"`
	Breaker   BreakerConfig                   `yaml:"breaker"`
	Retry     RetryConfig                     `yaml:"retry"`
	Coalescer CoalescerConfig                 `yaml:"coalescer"`
	Audit     AuditConfig                     `yaml:"audit"`
	Pricing   map[string]map[string]RateEntry `yaml:"pricing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port              string   `yaml:"port"`
	APISecret         string   `yaml:"api_secret"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
	ReadTimeout       string   `yaml:"read_timeout"`
	WriteTimeout      string   `yaml:"write_timeout"`
	ShutdownGrace     string   `yaml:"shutdown_grace"`
}

// RedisConfig configures the shared key-value store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// ProviderConfig configures one moderation provider.
type ProviderConfig struct {
	Name               string `yaml:"name"` // anthropic, openai, gemini, bedrock
	Enabled            bool   `yaml:"enabled"`
	APIKey             string `yaml:"api_key"`
	Model              string `yaml:"model"`
	Endpoint           string `yaml:"endpoint"` // base URL override
	Region             string `yaml:"region"`   // bedrock only
	RequestsPerMinute  int    `yaml:"requests_per_minute"`
	InputCentsPerMTok  int64  `yaml:"input_cents_per_mtok"`
	OutputCentsPerMTok int64  `yaml:"output_cents_per_mtok"`
}

// SelectorConfig fixes the provider order. The first entry is primary.
type SelectorConfig struct {
	Order []string `yaml:"order"`
}

// BudgetConfig caps provider spend in minor currency units. Zero disables
// a limit.
type BudgetConfig struct {
	DailyLimit      int64 `yaml:"daily_limit"`
	MonthlyLimit    int64 `yaml:"monthly_limit"`
	AlertThresholds []int `yaml:"alert_thresholds"`
}

// CacheConfig sets result lifetimes per trust tier.
type CacheConfig struct {
	TierTTLs map[string]string `yaml:"tier_ttls"`
}

// BreakerConfig configures the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	SuccessThreshold int    `yaml:"success_threshold"`
	Cooldown         string `yaml:"cooldown"`
	OpTimeout        string `yaml:"op_timeout"`
}

// RetryConfig configures per-provider retry behavior.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialBackoff string  `yaml:"initial_backoff"`
	MaxBackoff     string  `yaml:"max_backoff"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
}

// CoalescerConfig configures duplicate-call suppression.
type CoalescerConfig struct {
	LockTTL    string  `yaml:"lock_ttl"`
	PollStart  string  `yaml:"poll_start"`
	PollFactor float64 `yaml:"poll_factor"`
	PollCap    string  `yaml:"poll_cap"`
	MaxWait    string  `yaml:"max_wait"`
}

// AuditConfig configures the durable audit sink. An empty DatabaseURL keeps
// audit on the structured log only.
type AuditConfig struct {
	DatabaseURL string `yaml:"database_url"`
	BatchSize   int    `yaml:"batch_size"`
	FlushEvery  string `yaml:"flush_every"`
}

// RateEntry overrides the built-in metering rates for one model, keyed in
// the Pricing map by provider and model name. Rates are minor currency
// units per million tokens.
type RateEntry struct {
	InputCentsPerMTok  int64 `yaml:"input_cents_per_mtok"`
	OutputCentsPerMTok int64 `yaml:"output_cents_per_mtok"`
}

// TierNames are the trust tiers a cache lifetime can be configured for.
var TierNames = []string{"high", "medium", "low", "known_bad"}

// ProviderKinds are the provider adapters this build ships.
var ProviderKinds = []string{"anthropic", "openai", "gemini", "bedrock"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8084",
			RequestsPerMinute: 120,
			AllowedOrigins:    []string{"*"},
			ReadTimeout:       "15s",
			WriteTimeout:      "90s",
			ShutdownGrace:     "30s",
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379",
		},
		Providers: []ProviderConfig{
			{Name: "anthropic", Enabled: true},
			{Name: "openai", Enabled: true},
			{Name: "gemini", Enabled: false},
			{Name: "bedrock", Enabled: false},
		},
		Selector: SelectorConfig{
			Order: []string{"anthropic", "openai"},
		},
		Budget: BudgetConfig{
			DailyLimit:      50_000,
			MonthlyLimit:    1_000_000,
			AlertThresholds: []int{50, 75, 90},
		},
		Cache: CacheConfig{
			TierTTLs: map[string]string{
				"high":      "48h",
				"medium":    "24h",
				"low":       "12h",
				"known_bad": "168h",
			},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Cooldown:         "30s",
			OpTimeout:        "10s",
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: "1s",
			MaxBackoff:     "4s",
			BackoffFactor:  2.0,
		},
		Coalescer: CoalescerConfig{
			LockTTL:    "30s",
			PollStart:  "500ms",
			PollFactor: 1.5,
			PollCap:    "1s",
			MaxWait:    "10s",
		},
		Audit: AuditConfig{
			BatchSize:  100,
			FlushEvery: "5s",
		},
	}
}

// Load reads the configuration file at path, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. MODVET_-prefixed
// names win over the bare conventional ones.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	if secret := os.Getenv("MODVET_API_SECRET"); secret != "" {
		c.Server.APISecret = secret
	}
	if url := firstEnv("MODVET_REDIS_URL", "REDIS_URL"); url != "" {
		c.Redis.URL = url
	}
	if url := firstEnv("MODVET_AUDIT_DATABASE_URL", "DATABASE_URL"); url != "" {
		c.Audit.DatabaseURL = url
	}

	if key := firstEnv("MODVET_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"); key != "" {
		if p := c.Provider("anthropic"); p != nil {
			p.APIKey = key
		}
	}
	if key := firstEnv("MODVET_OPENAI_API_KEY", "OPENAI_API_KEY"); key != "" {
		if p := c.Provider("openai"); p != nil {
			p.APIKey = key
		}
	}
	if key := firstEnv("MODVET_GEMINI_API_KEY", "GEMINI_API_KEY"); key != "" {
		if p := c.Provider("gemini"); p != nil {
			p.APIKey = key
		}
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Provider returns the configuration entry for name, or nil.
func (c *Config) Provider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

// Validate rejects configurations the analyzer cannot run with.
func (c *Config) Validate() error {
	if len(c.Selector.Order) == 0 {
		return fmt.Errorf("selector order is empty")
	}
	seen := make(map[string]bool, len(c.Selector.Order))
	for _, name := range c.Selector.Order {
		if seen[name] {
			return fmt.Errorf("provider %q appears twice in selector order", name)
		}
		seen[name] = true
		if c.Provider(name) == nil {
			return fmt.Errorf("unknown provider %q in selector order", name)
		}
	}

	for _, p := range c.Providers {
		if !contains(ProviderKinds, p.Name) {
			return fmt.Errorf("unknown provider kind %q (valid: %v)", p.Name, ProviderKinds)
		}
	}

	if c.Budget.DailyLimit < 0 || c.Budget.MonthlyLimit < 0 {
		return fmt.Errorf("budget limits must not be negative")
	}
	for _, t := range c.Budget.AlertThresholds {
		if t <= 0 || t > 100 {
			return fmt.Errorf("alert threshold %d out of range (1-100)", t)
		}
	}

	for tier, raw := range c.Cache.TierTTLs {
		if !contains(TierNames, tier) {
			return fmt.Errorf("unknown trust tier %q in cache config (valid: %v)", tier, TierNames)
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid TTL %q for tier %q", raw, tier)
		}
	}

	for provider, models := range c.Pricing {
		if !contains(ProviderKinds, provider) {
			return fmt.Errorf("unknown provider kind %q in pricing (valid: %v)", provider, ProviderKinds)
		}
		for model, r := range models {
			if r.InputCentsPerMTok < 0 || r.OutputCentsPerMTok < 0 {
				return fmt.Errorf("negative rate for %s/%s in pricing", provider, model)
			}
		}
	}

	if c.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	if c.Breaker.FailureThreshold < 0 || c.Breaker.SuccessThreshold < 0 {
		return fmt.Errorf("breaker thresholds must not be negative")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry max_attempts must not be negative")
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// GetTierTTLs returns the parsed per-tier cache lifetimes. Validate has
// already rejected unknown tiers and unparseable values.
func (c *Config) GetTierTTLs() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Cache.TierTTLs))
	for tier, raw := range c.Cache.TierTTLs {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			out[tier] = d
		}
	}
	return out
}

// GetReadTimeout returns the HTTP read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return duration(c.Server.ReadTimeout, 15*time.Second)
}

// GetWriteTimeout returns the HTTP write timeout. It bounds a full analysis
// pass, so it is much longer than the read timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return duration(c.Server.WriteTimeout, 90*time.Second)
}

// GetShutdownGrace returns how long in-flight requests get to finish.
func (c *Config) GetShutdownGrace() time.Duration {
	return duration(c.Server.ShutdownGrace, 30*time.Second)
}

// GetBreakerCooldown returns how long an open circuit refuses calls.
func (c *Config) GetBreakerCooldown() time.Duration {
	return duration(c.Breaker.Cooldown, 30*time.Second)
}

// GetBreakerOpTimeout returns the per-call deadline inside the breaker.
func (c *Config) GetBreakerOpTimeout() time.Duration {
	return duration(c.Breaker.OpTimeout, 10*time.Second)
}

// GetRetryInitialBackoff returns the first retry delay.
func (c *Config) GetRetryInitialBackoff() time.Duration {
	return duration(c.Retry.InitialBackoff, time.Second)
}

// GetRetryMaxBackoff returns the retry delay cap.
func (c *Config) GetRetryMaxBackoff() time.Duration {
	return duration(c.Retry.MaxBackoff, 4*time.Second)
}

// GetCoalescerLockTTL returns the coalescing lock expiry.
func (c *Config) GetCoalescerLockTTL() time.Duration {
	return duration(c.Coalescer.LockTTL, 30*time.Second)
}

// GetCoalescerPollStart returns the first poll delay for waiters.
func (c *Config) GetCoalescerPollStart() time.Duration {
	return duration(c.Coalescer.PollStart, 500*time.Millisecond)
}

// GetCoalescerPollCap returns the poll delay ceiling.
func (c *Config) GetCoalescerPollCap() time.Duration {
	return duration(c.Coalescer.PollCap, time.Second)
}

// GetCoalescerMaxWait returns how long a waiter polls before giving up and
// issuing its own provider call.
func (c *Config) GetCoalescerMaxWait() time.Duration {
	return duration(c.Coalescer.MaxWait, 10*time.Second)
}

// GetAuditFlushEvery returns the audit batch flush interval.
func (c *Config) GetAuditFlushEvery() time.Duration {
	return duration(c.Audit.FlushEvery, 5*time.Second)
}

func duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
