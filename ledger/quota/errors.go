// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package quota

import (
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrQuotaNotFound is returned when a tenant has no quota row
	ErrQuotaNotFound = errors.New("quota not found")

	// ErrTenantNotFound is returned when the tenant does not exist
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrDuplicateUsage signals an idempotency-key replay; callers receive
	// the prior record rather than this error
	ErrDuplicateUsage = errors.New("duplicate usage record")

	// ErrRecordNotFound is returned when a usage record is not found
	ErrRecordNotFound = errors.New("usage record not found")

	// ErrPricingNotFound is returned when no pricing entry matches a model
	ErrPricingNotFound = errors.New("pricing not found")

	// ErrInvalidInput is returned for general invalid input
	ErrInvalidInput = errors.New("invalid input")
)

// IsTransient reports whether an error is worth retrying: serialization
// failures, deadlocks, connection-class errors and bad connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		if code == "40001" || code == "40P01" {
			return true
		}
		if strings.HasPrefix(code, "08") {
			return true
		}
	}

	return false
}
