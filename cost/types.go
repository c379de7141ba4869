// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

// Package cost meters provider spend against a configured budget. The ledger
// lives in the key-value store as day, day-per-provider, and month counters
// in integral minor currency units; affordability checks, budget reports, and
// threshold alerts are all derived from those counters on demand.
package cost

import "time"

// Budget holds the spend limits the tracker enforces and reports against.
// All amounts are minor currency units. A zero or negative limit disables
// that cap.
type Budget struct {
	// DailyLimit is the hard daily spend cap. CanAfford enforces it.
	DailyLimit int64 `json:"daily_limit" yaml:"daily_limit"`

	// MonthlyLimit is reported through BudgetStatus but never enforced;
	// the daily cap bounds monthly spend on its own.
	MonthlyLimit int64 `json:"monthly_limit" yaml:"monthly_limit"`

	// AlertThresholds are percentages of the daily limit that raise an
	// alert when first crossed each day.
	AlertThresholds []int `json:"alert_thresholds" yaml:"alert_thresholds"`

	// ReportTTL bounds how long a derived budget report may be served
	// from cache. Any recorded spend invalidates the report early.
	ReportTTL time.Duration `json:"report_ttl" yaml:"report_ttl"`
}

// DefaultBudget returns the stock budget: $50/day, $1000/month, alerts at
// 50/75/90%.
func DefaultBudget() Budget {
	return Budget{
		DailyLimit:      50_00,
		MonthlyLimit:    1000_00,
		AlertThresholds: []int{50, 75, 90},
		ReportTTL:       time.Minute,
	}
}

// BudgetStatus is the current budget position, always derived from the
// ledger counters and never persisted as its own record. Remaining goes
// negative once a limit is blown.
type BudgetStatus struct {
	DailySpent       int64     `json:"daily_spent"`
	DailyLimit       int64     `json:"daily_limit"`
	DailyRemaining   int64     `json:"daily_remaining"`
	DailyPercent     float64   `json:"daily_percent"`
	DailyOver        bool      `json:"daily_over"`
	MonthlySpent     int64     `json:"monthly_spent"`
	MonthlyLimit     int64     `json:"monthly_limit"`
	MonthlyRemaining int64     `json:"monthly_remaining"`
	MonthlyPercent   float64   `json:"monthly_percent"`
	MonthlyOver      bool      `json:"monthly_over"`
	GeneratedAt      time.Time `json:"generated_at"`
}
