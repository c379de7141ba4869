// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package cost

import "time"

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"

	// ReportCacheKey holds the last derived budget report. Every recorded
	// spend deletes it so a report never outlives the total it describes.
	ReportCacheKey = "cost:report:budget"

	// DayRetention keeps a day bucket readable for a full day past its
	// last write, so yesterday's totals survive the midnight rollover.
	DayRetention = 48 * time.Hour

	// MonthRetention keeps a month bucket readable well past the monthly
	// rollover.
	MonthRetention = 40 * 24 * time.Hour
)

// DayKey returns the ledger bucket for all spend on t's UTC day.
func DayKey(t time.Time) string {
	return "cost:day:" + t.UTC().Format(dayLayout)
}

// DayProviderKey returns the per-provider ledger bucket for t's UTC day.
func DayProviderKey(t time.Time, provider string) string {
	return DayKey(t) + ":" + provider
}

// MonthKey returns the ledger bucket for all spend in t's UTC month.
func MonthKey(t time.Time) string {
	return "cost:month:" + t.UTC().Format(monthLayout)
}
