// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package cost

import "errors"

var (
	// ErrNegativeAmount is returned when a caller tries to record a
	// negative spend. The ledger is append-only; totals never decrease.
	ErrNegativeAmount = errors.New("cost: negative amount")

	// ErrCorruptLedger is returned when a ledger bucket holds something
	// other than an integer.
	ErrCorruptLedger = errors.New("cost: ledger value is not an integer")
)
