// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"modvet/engine/audit"
	"modvet/engine/config"
	"modvet/engine/cost"
	"modvet/engine/kv"
	"modvet/engine/llm"
	"modvet/engine/llm/anthropic"
	"modvet/engine/llm/bedrock"
	"modvet/engine/llm/gemini"
	"modvet/engine/llm/openai"
	"modvet/engine/shared/logger"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Run boots the analyzer service and blocks until SIGINT or SIGTERM.
func Run() {
	log := logger.New("analyzer")

	cfgPath := os.Getenv("MODVET_CONFIG")
	if cfgPath == "" {
		cfgPath = "modvet.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf(log, "configuration rejected", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := kv.NewRedisStore(cfg.Redis.URL)
	if err != nil {
		fatalf(log, "redis unavailable", err)
	}
	defer store.Close()

	providers, err := buildProviders(ctx, cfg, log)
	if err != nil {
		fatalf(log, "provider construction failed", err)
	}
	if len(providers) == 0 {
		log.Warn("", "", "no providers configured, every pass will degrade", nil)
	}

	breakers := llm.NewBreakers(llm.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Cooldown:         cfg.GetBreakerCooldown(),
		OpTimeout:        cfg.GetBreakerOpTimeout(),
	})
	selector := llm.NewSelector(providers, breakers, llm.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.GetRetryInitialBackoff(),
		MaxBackoff:     cfg.GetRetryMaxBackoff(),
		BackoffFactor:  cfg.Retry.BackoffFactor,
	}, logger.New("selector"))

	cache := NewResultCache(store, tierLifetimes(cfg), logger.New("result-cache"))
	coalescer := NewCoalescer(store, cache, CoalescerConfig{
		LockTTL:    cfg.GetCoalescerLockTTL(),
		PollStart:  cfg.GetCoalescerPollStart(),
		PollFactor: cfg.Coalescer.PollFactor,
		PollCap:    cfg.GetCoalescerPollCap(),
		MaxWait:    cfg.GetCoalescerMaxWait(),
	}, logger.New("coalescer"))

	tracker := cost.NewTracker(store, cost.Budget{
		DailyLimit:      cfg.Budget.DailyLimit,
		MonthlyLimit:    cfg.Budget.MonthlyLimit,
		AlertThresholds: cfg.Budget.AlertThresholds,
	})

	sink := buildAuditSink(cfg, log)
	defer sink.Close()

	analyzer := NewAnalyzer(AnalyzerDeps{
		Cache:     cache,
		Coalescer: coalescer,
		Tracker:   tracker,
		Selector:  selector,
		Audit:     sink,
		Log:       log,
	})

	server := NewServer(ServerDeps{
		Analyzer: analyzer,
		Tracker:  tracker,
		Selector: selector,
		Throttle: NewThrottle(store.Client(), cfg.Server.RequestsPerMinute, logger.New("throttle")),
		Store:    store,
		Secret:   cfg.Server.APISecret,
		Log:      logger.New("http"),
	})

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      c.Handler(server.Router()),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}

	go refreshBudgetGauges(ctx, tracker, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "analyzer listening", map[string]interface{}{
			"port":      cfg.Server.Port,
			"version":   Version,
			"providers": selector.Names(),
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("", "", "shutdown signal received", nil)
	case err := <-errCh:
		log.Error("", "", "server failed", map[string]interface{}{"error": err.Error()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownGrace())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("", "", "shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
}

// buildProviders constructs the configured adapters in selector order.
// Enabled providers without credentials are skipped with a warning so one
// missing key does not take the whole service down.
func buildProviders(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]llm.Provider, error) {
	pricing := pricingTable(cfg)

	providers := make([]llm.Provider, 0, len(cfg.Selector.Order))
	for _, name := range cfg.Selector.Order {
		pc := cfg.Provider(name)
		if pc == nil || !pc.Enabled {
			continue
		}
		if pc.APIKey == "" && name != "bedrock" {
			log.Warn("", "", "provider enabled without an API key, skipping", map[string]interface{}{
				"provider": name,
			})
			continue
		}

		// Explicit per-provider rates win; blanks fill from the pricing
		// table so the configured model meters at its own list price.
		in, out := pc.InputCentsPerMTok, pc.OutputCentsPerMTok
		if in <= 0 || out <= 0 {
			if r, ok := pricing.Rates(name, pc.Model); ok {
				if in <= 0 {
					in = r.InputCentsPerMTok
				}
				if out <= 0 {
					out = r.OutputCentsPerMTok
				}
			}
		}

		switch name {
		case "anthropic":
			p, err := anthropic.NewProvider(anthropic.Config{
				APIKey:             pc.APIKey,
				BaseURL:            pc.Endpoint,
				Model:              pc.Model,
				RequestsPerMinute:  pc.RequestsPerMinute,
				InputCentsPerMTok:  in,
				OutputCentsPerMTok: out,
			})
			if err != nil {
				return nil, fmt.Errorf("anthropic: %w", err)
			}
			providers = append(providers, p)
		case "openai":
			p, err := openai.NewProvider(openai.Config{
				APIKey:             pc.APIKey,
				BaseURL:            pc.Endpoint,
				Model:              pc.Model,
				RequestsPerMinute:  pc.RequestsPerMinute,
				InputCentsPerMTok:  in,
				OutputCentsPerMTok: out,
			})
			if err != nil {
				return nil, fmt.Errorf("openai: %w", err)
			}
			providers = append(providers, p)
		case "gemini":
			p, err := gemini.NewProvider(gemini.Config{
				APIKey:             pc.APIKey,
				BaseURL:            pc.Endpoint,
				Model:              pc.Model,
				RequestsPerMinute:  pc.RequestsPerMinute,
				InputCentsPerMTok:  in,
				OutputCentsPerMTok: out,
			})
			if err != nil {
				return nil, fmt.Errorf("gemini: %w", err)
			}
			providers = append(providers, p)
		case "bedrock":
			p, err := bedrock.NewProvider(ctx, bedrock.Config{
				Region:             pc.Region,
				Model:              pc.Model,
				RequestsPerMinute:  pc.RequestsPerMinute,
				InputCentsPerMTok:  in,
				OutputCentsPerMTok: out,
			})
			if err != nil {
				return nil, fmt.Errorf("bedrock: %w", err)
			}
			providers = append(providers, p)
		}
	}
	return providers, nil
}

// pricingTable builds the metering table: built-in list prices with any
// configured overrides merged on top.
func pricingTable(cfg *config.Config) *cost.PricingTable {
	table := cost.NewPricingTable()
	if len(cfg.Pricing) == 0 {
		return table
	}
	overrides := make(map[string]map[string]cost.ModelRates, len(cfg.Pricing))
	for provider, models := range cfg.Pricing {
		overrides[provider] = make(map[string]cost.ModelRates, len(models))
		for model, r := range models {
			overrides[provider][model] = cost.ModelRates{
				InputCentsPerMTok:  r.InputCentsPerMTok,
				OutputCentsPerMTok: r.OutputCentsPerMTok,
			}
		}
	}
	table.Merge(overrides)
	return table
}

// tierLifetimes maps configured tier names onto typed tiers.
func tierLifetimes(cfg *config.Config) TierTTLs {
	out := TierTTLs{}
	for name, d := range cfg.GetTierTTLs() {
		if tier, err := ParseTier(name); err == nil {
			out[tier] = d
		}
	}
	return out
}

// buildAuditSink always keeps the structured-log sink; Postgres is added
// when configured. A failed Postgres connection falls back to log only
// rather than blocking startup.
func buildAuditSink(cfg *config.Config, log *logger.Logger) audit.Sink {
	logSink := audit.NewLogSink(logger.New("audit"))
	if cfg.Audit.DatabaseURL == "" {
		return logSink
	}

	pg, err := audit.NewPostgresSink(cfg.Audit.DatabaseURL, audit.PostgresOptions{
		BatchSize:  cfg.Audit.BatchSize,
		FlushEvery: cfg.GetAuditFlushEvery(),
	}, logger.New("audit-pg"))
	if err != nil {
		log.Error("", "", "audit database unavailable, keeping log sink only", map[string]interface{}{
			"error": err.Error(),
		})
		return logSink
	}
	return audit.NewMultiSink(logSink, pg)
}

// refreshBudgetGauges keeps the spend gauges current even when nobody polls
// the budget endpoint. BudgetStatus reads through a short-lived cached
// report, so the tick is cheap.
func refreshBudgetGauges(ctx context.Context, tracker *cost.Tracker, log *logger.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := tracker.BudgetStatus(ctx)
			if err != nil {
				log.Debug("", "", "budget gauge refresh failed", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			promDailySpend.Set(float64(status.DailySpent))
			promBudgetPercent.Set(status.DailyPercent)
		}
	}
}

func fatalf(log *logger.Logger, message string, err error) {
	log.Error("", "", message, map[string]interface{}{"error": err.Error()})
	os.Exit(1)
}
