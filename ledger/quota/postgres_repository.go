// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const quotaColumns = `
	tenant_id, monthly_token_limit, monthly_cost_limit_microcents,
	monthly_session_limit, monthly_request_limit, requests_per_minute,
	requests_per_day, per_user_daily_token_limit, per_user_daily_request_limit,
	current_tokens_used, current_cost_microcents, current_sessions_count,
	current_requests_count, current_period_start, updated_at
`

// GetQuota retrieves a tenant's quota row
func (r *PostgresRepository) GetQuota(ctx context.Context, tenantID string) (*Quota, error) {
	query := `SELECT ` + quotaColumns + ` FROM tenant_quotas WHERE tenant_id = $1`

	var q Quota
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&q.TenantID, &q.MonthlyTokenLimit, &q.MonthlyCostLimitMicro,
		&q.MonthlySessionLimit, &q.MonthlyRequestLimit, &q.RequestsPerMinute,
		&q.RequestsPerDay, &q.PerUserDailyTokenLimit, &q.PerUserDailyRequestLimit,
		&q.CurrentTokensUsed, &q.CurrentCostMicro, &q.CurrentSessionsCount,
		&q.CurrentRequestsCount, &q.CurrentPeriodStart, &q.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrQuotaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}

	q.SyncUSD()
	return &q, nil
}

// UpdateQuotaLimits updates a tenant's limits. Live counters and the period
// start are never touched here.
func (r *PostgresRepository) UpdateQuotaLimits(ctx context.Context, q *Quota) error {
	query := `
		UPDATE tenant_quotas SET
			monthly_token_limit = $2,
			monthly_cost_limit_microcents = $3,
			monthly_session_limit = $4,
			monthly_request_limit = $5,
			requests_per_minute = $6,
			requests_per_day = $7,
			per_user_daily_token_limit = $8,
			per_user_daily_request_limit = $9,
			updated_at = NOW()
		WHERE tenant_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		q.TenantID, q.MonthlyTokenLimit, q.MonthlyCostLimitMicro,
		q.MonthlySessionLimit, q.MonthlyRequestLimit, q.RequestsPerMinute,
		q.RequestsPerDay, q.PerUserDailyTokenLimit, q.PerUserDailyRequestLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to update quota limits: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrQuotaNotFound
	}

	return nil
}

// RecordUsage inserts a usage record and increments the tenant's token and
// cost counters in one transaction. The record insert uses ON CONFLICT DO
// NOTHING on (tenant_id, idempotency_key); a replayed key loads and returns
// the prior record without touching the counters, so retries never double
// count. Records are kept even past the limits; denial is prospective.
func (r *PostgresRepository) RecordUsage(ctx context.Context, u *UsageRecord) (*UsageRecord, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO usage_records (
			tenant_id, user_id, session_id, event_id, app_name, model_used,
			input_tokens, output_tokens, total_tokens, cost_microcents,
			latency_ms, error_occurred, error_type, idempotency_key,
			usage_date, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
		RETURNING id
	`,
		u.TenantID, nullString(u.UserID), nullString(u.SessionID),
		nullString(u.EventID), nullString(u.AppName), nullString(u.ModelUsed),
		u.InputTokens, u.OutputTokens, u.TotalTokens, u.CostMicroCents,
		u.LatencyMS, u.ErrorOccurred, nullString(u.ErrorType),
		nullString(u.IdempotencyKey), u.UsageDate, u.CreatedAt,
	).Scan(&u.ID)

	if err == sql.ErrNoRows {
		// Idempotency replay: return the prior record unchanged
		prior, err := r.getByIdempotencyKey(ctx, tx, u.TenantID, u.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return prior, false, tx.Commit()
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert usage record: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE tenant_quotas SET
			current_tokens_used = current_tokens_used + $2,
			current_cost_microcents = current_cost_microcents + $3,
			updated_at = NOW()
		WHERE tenant_id = $1
	`, u.TenantID, u.TotalTokens, u.CostMicroCents)
	if err != nil {
		return nil, false, fmt.Errorf("failed to increment usage counters: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return nil, false, ErrQuotaNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit usage record: %w", err)
	}

	u.CostUSD = MicroCentsToUSD(u.CostMicroCents)
	return u, true, nil
}

const usageColumns = `
	id, tenant_id, user_id, session_id, event_id, app_name, model_used,
	input_tokens, output_tokens, total_tokens, cost_microcents, latency_ms,
	error_occurred, error_type, idempotency_key, usage_date, created_at
`

func (r *PostgresRepository) getByIdempotencyKey(ctx context.Context, tx *sql.Tx, tenantID, key string) (*UsageRecord, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+usageColumns+` FROM usage_records
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key)

	record, err := scanUsageRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prior usage record: %w", err)
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUsageRow(row rowScanner) (*UsageRecord, error) {
	var u UsageRecord
	var userID, sessionID, eventID, appName, modelUsed, errorType, idempotencyKey sql.NullString

	err := row.Scan(
		&u.ID, &u.TenantID, &userID, &sessionID, &eventID, &appName, &modelUsed,
		&u.InputTokens, &u.OutputTokens, &u.TotalTokens, &u.CostMicroCents,
		&u.LatencyMS, &u.ErrorOccurred, &errorType, &idempotencyKey,
		&u.UsageDate, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.UserID = userID.String
	u.SessionID = sessionID.String
	u.EventID = eventID.String
	u.AppName = appName.String
	u.ModelUsed = modelUsed.String
	u.ErrorType = errorType.String
	u.IdempotencyKey = idempotencyKey.String
	u.CostUSD = MicroCentsToUSD(u.CostMicroCents)

	return &u, nil
}

// ConsumeRequestSlot consumes one monthly request slot with a single
// compare-and-increment. The database serializes the row update, so
// concurrent callers can never exceed the limit.
func (r *PostgresRepository) ConsumeRequestSlot(ctx context.Context, tenantID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE tenant_quotas
		SET current_requests_count = current_requests_count + 1, updated_at = NOW()
		WHERE tenant_id = $1
		  AND (monthly_request_limit <= 0 OR current_requests_count < monthly_request_limit)
	`, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to consume request slot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	return false, r.requireQuotaRow(ctx, tenantID)
}

// ConsumeSessionSlot consumes one monthly session slot; used by session creation
func (r *PostgresRepository) ConsumeSessionSlot(ctx context.Context, tenantID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE tenant_quotas
		SET current_sessions_count = current_sessions_count + 1, updated_at = NOW()
		WHERE tenant_id = $1
		  AND (monthly_session_limit <= 0 OR current_sessions_count < monthly_session_limit)
	`, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to consume session slot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	return false, r.requireQuotaRow(ctx, tenantID)
}

// requireQuotaRow distinguishes a limit-exhausted zero-row update from a
// missing quota row
func (r *PostgresRepository) requireQuotaRow(ctx context.Context, tenantID string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM tenant_quotas WHERE tenant_id = $1`, tenantID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrQuotaNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check quota row: %w", err)
	}
	return nil
}

// Rollover resets the live counters when the stored period predates
// periodStart. The condition makes it idempotent: concurrent callers at a
// month boundary reset at most once. Limits are untouched.
func (r *PostgresRepository) Rollover(ctx context.Context, tenantID string, periodStart time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tenant_quotas
		SET current_tokens_used = 0, current_cost_microcents = 0,
		    current_sessions_count = 0, current_requests_count = 0,
		    current_period_start = $2, updated_at = NOW()
		WHERE tenant_id = $1 AND current_period_start < $2
	`, tenantID, periodStart)
	if err != nil {
		return fmt.Errorf("failed to roll over quota period: %w", err)
	}
	return nil
}

// ListUsage lists usage records for a tenant within [from, to], newest first
func (r *PostgresRepository) ListUsage(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]UsageRecord, error) {
	query := `
		SELECT ` + usageColumns + ` FROM usage_records
		WHERE tenant_id = $1 AND usage_date >= $2 AND usage_date <= $3
		ORDER BY created_at DESC
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []UsageRecord
	for rows.Next() {
		record, err := scanUsageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

// UserDailyTotals returns a user's token and request totals for one UTC day
func (r *PostgresRepository) UserDailyTotals(ctx context.Context, tenantID, userID string, day time.Time) (int64, int64, error) {
	var tokens, requests int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_tokens), 0), COUNT(*)
		FROM usage_records
		WHERE tenant_id = $1 AND user_id = $2 AND usage_date = $3
	`, tenantID, userID, day).Scan(&tokens, &requests)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute user daily totals: %w", err)
	}
	return tokens, requests, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// nullString converts empty strings to NULL for database storage
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
