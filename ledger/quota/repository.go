// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package quota

import (
	"context"
	"time"
)

// Repository defines the interface for quota and usage persistence.
// Every counter mutation is a single conditional SQL statement so that
// concurrent callers serialize on the database row and limits can never
// be exceeded by a read-modify-write race.
type Repository interface {
	// Quota row
	GetQuota(ctx context.Context, tenantID string) (*Quota, error)
	UpdateQuotaLimits(ctx context.Context, q *Quota) error

	// RecordUsage inserts a usage record and increments the tenant's token
	// and cost counters in one transaction. A replayed idempotency key
	// returns the prior record with recorded=false and no counter change.
	RecordUsage(ctx context.Context, u *UsageRecord) (record *UsageRecord, recorded bool, err error)

	// Conditional counter increments. false means the limit is exhausted.
	ConsumeRequestSlot(ctx context.Context, tenantID string) (bool, error)
	ConsumeSessionSlot(ctx context.Context, tenantID string) (bool, error)

	// Rollover resets the counters when the stored period predates
	// periodStart. Idempotent under concurrency.
	Rollover(ctx context.Context, tenantID string, periodStart time.Time) error

	// Usage queries
	ListUsage(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]UsageRecord, error)
	UserDailyTotals(ctx context.Context, tenantID, userID string, day time.Time) (tokens, requests int64, err error)

	// Utility
	Ping(ctx context.Context) error
}
