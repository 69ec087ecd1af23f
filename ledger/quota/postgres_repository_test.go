// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package quota

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quotaRowColumns = []string{
	"tenant_id", "monthly_token_limit", "monthly_cost_limit_microcents",
	"monthly_session_limit", "monthly_request_limit", "requests_per_minute",
	"requests_per_day", "per_user_daily_token_limit", "per_user_daily_request_limit",
	"current_tokens_used", "current_cost_microcents", "current_sessions_count",
	"current_requests_count", "current_period_start", "updated_at",
}

func quotaRow() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(quotaRowColumns).AddRow(
		"tenant-1", 1_000_000, 5_000_000_000, 1000, 10_000, 60, 10_000, 0, 0,
		400, 120_000, 2, 5, MonthStart(now), now,
	)
}

func TestPostgresGetQuota(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM tenant_quotas WHERE tenant_id").
		WithArgs("tenant-1").
		WillReturnRows(quotaRow())

	q, err := repo.GetQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), q.MonthlyTokenLimit)
	assert.Equal(t, int64(120_000), q.CurrentCostMicro)
	assert.InDelta(t, 0.0012, q.CurrentCostUSD, 0.000001)
	assert.InDelta(t, 50.0, q.MonthlyCostLimitUSD, 0.000001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetQuotaNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM tenant_quotas WHERE tenant_id").
		WithArgs("no-such").
		WillReturnRows(sqlmock.NewRows(quotaRowColumns))

	_, err = repo.GetQuota(context.Background(), "no-such")
	assert.ErrorIs(t, err, ErrQuotaNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	record := NewUsageRecord("tenant-1")
	record.UserID = "user-1"
	record.ModelUsed = "claude-3-5-sonnet"
	record.InputTokens = 400
	record.TotalTokens = 400
	record.CostMicroCents = 120_000
	record.IdempotencyKey = "req-1"

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO usage_records").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(17))
	mock.ExpectExec("UPDATE tenant_quotas").
		WithArgs("tenant-1", int64(400), int64(120_000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	stored, recorded, err := repo.RecordUsage(context.Background(), record)
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.Equal(t, int64(17), stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordUsageIdempotentReplay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	record := NewUsageRecord("tenant-1")
	record.InputTokens = 400
	record.TotalTokens = 400
	record.CostMicroCents = 120_000
	record.IdempotencyKey = "req-1"

	usageDate := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	priorColumns := []string{
		"id", "tenant_id", "user_id", "session_id", "event_id", "app_name", "model_used",
		"input_tokens", "output_tokens", "total_tokens", "cost_microcents", "latency_ms",
		"error_occurred", "error_type", "idempotency_key", "usage_date", "created_at",
	}

	mock.ExpectBegin()
	// ON CONFLICT DO NOTHING returns no row on replay
	mock.ExpectQuery("INSERT INTO usage_records").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT (.+) FROM usage_records").
		WithArgs("tenant-1", "req-1").
		WillReturnRows(sqlmock.NewRows(priorColumns).AddRow(
			9, "tenant-1", "user-1", nil, nil, nil, "claude-3-5-sonnet",
			400, 0, 400, 120_000, 0, false, nil, "req-1", usageDate, usageDate,
		))
	mock.ExpectCommit()

	prior, recorded, err := repo.RecordUsage(context.Background(), record)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, int64(9), prior.ID)
	assert.Equal(t, int64(120_000), prior.CostMicroCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordUsageMissingQuotaRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	record := NewUsageRecord("tenant-1")
	record.TotalTokens = 10

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO usage_records").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("UPDATE tenant_quotas").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err = repo.RecordUsage(context.Background(), record)
	assert.ErrorIs(t, err, ErrQuotaNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConsumeRequestSlot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectExec("UPDATE tenant_quotas").
		WithArgs("tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.ConsumeRequestSlot(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConsumeRequestSlotExhausted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectExec("UPDATE tenant_quotas").
		WithArgs("tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM tenant_quotas").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	ok, err := repo.ConsumeRequestSlot(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConsumeRequestSlotMissingQuota(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectExec("UPDATE tenant_quotas").
		WithArgs("no-such").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM tenant_quotas").
		WithArgs("no-such").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	_, err = repo.ConsumeRequestSlot(context.Background(), "no-such")
	assert.ErrorIs(t, err, ErrQuotaNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRollover(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)
	periodStart := MonthStart(time.Now().UTC())

	mock.ExpectExec("UPDATE tenant_quotas").
		WithArgs("tenant-1", periodStart).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Rollover(context.Background(), "tenant-1", periodStart))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserDailyTotals(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(total_tokens\), 0\), COUNT\(\*\)`).
		WithArgs("tenant-1", "user-1", day).
		WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow(1500, 3))

	tokens, requests, err := repo.UserDailyTotals(context.Background(), "tenant-1", "user-1", day)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), tokens)
	assert.Equal(t, int64(3), requests)
	assert.NoError(t, mock.ExpectationsWereMet())
}
