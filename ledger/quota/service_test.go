// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package quota

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentledger/platform/ledger/identity"
)

// MockRepository is an in-memory Repository for testing. All mutations hold
// the mutex for the whole operation, mirroring the single-statement
// serialization the real repository gets from PostgreSQL.
type MockRepository struct {
	mu      sync.Mutex
	quotas  map[string]*Quota
	records []UsageRecord
	byKey   map[string]int64 // tenantID:idempotencyKey -> record id
	nextID  int64

	// failures injects transient errors into RecordUsage before success
	failures int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		quotas: make(map[string]*Quota),
		byKey:  make(map[string]int64),
	}
}

func (m *MockRepository) addQuota(q *Quota) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotas[q.TenantID] = q
}

func (m *MockRepository) GetQuota(ctx context.Context, tenantID string) (*Quota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[tenantID]
	if !ok {
		return nil, ErrQuotaNotFound
	}
	copied := *q
	copied.SyncUSD()
	return &copied, nil
}

func (m *MockRepository) UpdateQuotaLimits(ctx context.Context, q *Quota) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.quotas[q.TenantID]
	if !ok {
		return ErrQuotaNotFound
	}
	existing.MonthlyTokenLimit = q.MonthlyTokenLimit
	existing.MonthlyCostLimitMicro = q.MonthlyCostLimitMicro
	existing.MonthlySessionLimit = q.MonthlySessionLimit
	existing.MonthlyRequestLimit = q.MonthlyRequestLimit
	existing.RequestsPerMinute = q.RequestsPerMinute
	existing.RequestsPerDay = q.RequestsPerDay
	existing.PerUserDailyTokenLimit = q.PerUserDailyTokenLimit
	existing.PerUserDailyRequestLimit = q.PerUserDailyRequestLimit
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockRepository) RecordUsage(ctx context.Context, u *UsageRecord) (*UsageRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return nil, false, &pq.Error{Code: "40001"}
	}

	q, ok := m.quotas[u.TenantID]
	if !ok {
		return nil, false, ErrQuotaNotFound
	}

	if u.IdempotencyKey != "" {
		if id, ok := m.byKey[u.TenantID+":"+u.IdempotencyKey]; ok {
			for i := range m.records {
				if m.records[i].ID == id {
					prior := m.records[i]
					return &prior, false, nil
				}
			}
		}
	}

	m.nextID++
	stored := *u
	stored.ID = m.nextID
	stored.CostUSD = MicroCentsToUSD(stored.CostMicroCents)
	m.records = append(m.records, stored)
	if u.IdempotencyKey != "" {
		m.byKey[u.TenantID+":"+u.IdempotencyKey] = stored.ID
	}

	q.CurrentTokensUsed += u.TotalTokens
	q.CurrentCostMicro += u.CostMicroCents

	return &stored, true, nil
}

func (m *MockRepository) ConsumeRequestSlot(ctx context.Context, tenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[tenantID]
	if !ok {
		return false, ErrQuotaNotFound
	}
	if q.MonthlyRequestLimit > 0 && q.CurrentRequestsCount >= q.MonthlyRequestLimit {
		return false, nil
	}
	q.CurrentRequestsCount++
	return true, nil
}

func (m *MockRepository) ConsumeSessionSlot(ctx context.Context, tenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[tenantID]
	if !ok {
		return false, ErrQuotaNotFound
	}
	if q.MonthlySessionLimit > 0 && q.CurrentSessionsCount >= q.MonthlySessionLimit {
		return false, nil
	}
	q.CurrentSessionsCount++
	return true, nil
}

func (m *MockRepository) Rollover(ctx context.Context, tenantID string, periodStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[tenantID]
	if !ok {
		return nil
	}
	if q.CurrentPeriodStart.Before(periodStart) {
		q.CurrentTokensUsed = 0
		q.CurrentCostMicro = 0
		q.CurrentSessionsCount = 0
		q.CurrentRequestsCount = 0
		q.CurrentPeriodStart = periodStart
		q.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MockRepository) ListUsage(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UsageRecord
	for _, r := range m.records {
		if r.TenantID == tenantID && !r.UsageDate.Before(from) && !r.UsageDate.After(to) {
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockRepository) UserDailyTotals(ctx context.Context, tenantID, userID string, day time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tokens, requests int64
	for _, r := range m.records {
		if r.TenantID == tenantID && r.UserID == userID && r.UsageDate.Equal(day) {
			tokens += r.TotalTokens
			requests++
		}
	}
	return tokens, requests, nil
}

func (m *MockRepository) Ping(ctx context.Context) error { return nil }

type mockTenantChecker struct {
	admits map[string]bool

	// err injects a lookup failure distinct from a missing tenant
	err error
}

func (m *mockTenantChecker) TenantAdmits(ctx context.Context, tenantID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	admits, ok := m.admits[tenantID]
	if !ok {
		return false, identity.ErrTenantNotFound
	}
	return admits, nil
}

func newTestService(repo Repository) *Service {
	pricing, _ := NewPricingTable()
	tenants := &mockTenantChecker{admits: map[string]bool{
		"tenant-1":         true,
		"tenant-suspended": false,
	}}
	return NewService(repo, tenants, pricing, nil, nil)
}

func activeQuota(tenantID string) *Quota {
	q := DefaultQuota(tenantID)
	return q
}

func TestRecordUsageComputesCost(t *testing.T) {
	repo := NewMockRepository()
	repo.addQuota(activeQuota("tenant-1"))
	service := newTestService(repo)

	record := NewUsageRecord("tenant-1")
	record.UserID = "user-1"
	record.ModelUsed = "claude-3-5-sonnet"
	record.InputTokens = 400
	record.OutputTokens = 0

	stored, err := service.RecordUsage(context.Background(), record)
	require.NoError(t, err)

	// 400 tokens at $3 per million input = $0.0012 = 120000 micro-cents
	assert.Equal(t, int64(120_000), stored.CostMicroCents)
	assert.Equal(t, int64(400), stored.TotalTokens)

	q, err := service.GetQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), q.CurrentTokensUsed)
	assert.Equal(t, int64(120_000), q.CurrentCostMicro)
}

func TestRecordUsageIdempotency(t *testing.T) {
	repo := NewMockRepository()
	repo.addQuota(activeQuota("tenant-1"))
	service := newTestService(repo)

	make400 := func() *UsageRecord {
		r := NewUsageRecord("tenant-1")
		r.ModelUsed = "claude-3-5-sonnet"
		r.InputTokens = 400
		r.IdempotencyKey = "req-abc"
		return r
	}

	first, err := service.RecordUsage(context.Background(), make400())
	require.NoError(t, err)

	second, err := service.RecordUsage(context.Background(), make400())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Counters moved exactly once
	q, err := service.GetQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), q.CurrentTokensUsed)
	assert.Equal(t, int64(120_000), q.CurrentCostMicro)
}

func TestRecordUsageTransientRetry(t *testing.T) {
	repo := NewMockRepository()
	repo.addQuota(activeQuota("tenant-1"))
	repo.failures = 2
	service := newTestService(repo)

	record := NewUsageRecord("tenant-1")
	record.InputTokens = 10
	record.ModelUsed = "claude-3-5-haiku"

	stored, err := service.RecordUsage(context.Background(), record)
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)
}

func TestRecordUsageRetriesExhausted(t *testing.T) {
	repo := NewMockRepository()
	repo.addQuota(activeQuota("tenant-1"))
	repo.failures = 5
	service := newTestService(repo)

	record := NewUsageRecord("tenant-1")
	record.InputTokens = 10

	_, err := service.RecordUsage(context.Background(), record)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestRecordUsageConcurrentNoLostUpdates(t *testing.T) {
	repo := NewMockRepository()
	repo.addQuota(activeQuota("tenant-1"))
	service := newTestService(repo)

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			record := NewUsageRecord("tenant-1")
			record.ModelUsed = "claude-3-5-sonnet"
			record.InputTokens = 100
			record.IdempotencyKey = fmt.Sprintf("req-%d", n)
			_, err := service.RecordUsage(context.Background(), record)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	q, err := service.GetQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(writers*100), q.CurrentTokensUsed)
	assert.Equal(t, int64(writers*30_000), q.CurrentCostMicro)
}

func TestRecordUsageMissingQuota(t *testing.T) {
	service := newTestService(NewMockRepository())

	record := NewUsageRecord("tenant-1")
	record.InputTokens = 10

	_, err := service.RecordUsage(context.Background(), record)
	assert.ErrorIs(t, err, ErrQuotaNotFound)
}

func TestCheckAdmissionPriorityOrder(t *testing.T) {
	tests := []struct {
		name   string
		tenant string
		mutate func(q *Quota)
		reason DenyReason
	}{
		{
			name:   "suspended tenant wins over exhausted counters",
			tenant: "tenant-suspended",
			mutate: func(q *Quota) { q.CurrentRequestsCount = q.MonthlyRequestLimit },
			reason: DenyTenantNotActive,
		},
		{
			name:   "request limit before token limit",
			tenant: "tenant-1",
			mutate: func(q *Quota) {
				q.CurrentRequestsCount = q.MonthlyRequestLimit
				q.CurrentTokensUsed = q.MonthlyTokenLimit
			},
			reason: DenyMonthlyRequestLimit,
		},
		{
			name:   "token limit before cost limit",
			tenant: "tenant-1",
			mutate: func(q *Quota) {
				q.CurrentTokensUsed = q.MonthlyTokenLimit
				q.CurrentCostMicro = q.MonthlyCostLimitMicro
			},
			reason: DenyMonthlyTokenLimit,
		},
		{
			name:   "cost limit",
			tenant: "tenant-1",
			mutate: func(q *Quota) { q.CurrentCostMicro = q.MonthlyCostLimitMicro },
			reason: DenyMonthlyCostLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockRepository()
			q := activeQuota(tt.tenant)
			tt.mutate(q)
			repo.addQuota(q)
			service := newTestService(repo)

			decision, err := service.CheckAdmission(context.Background(), tt.tenant, "user-1")
			require.NoError(t, err)
			assert.False(t, decision.Allowed)
			assert.Equal(t, tt.reason, decision.Reason)
		})
	}
}

func TestCheckAdmissionZeroLimitIsUnlimited(t *testing.T) {
	repo := NewMockRepository()
	q := activeQuota("tenant-1")
	q.MonthlyTokenLimit = 0
	q.CurrentTokensUsed = 99_000_000
	repo.addQuota(q)
	service := newTestService(repo)

	decision, err := service.CheckAdmission(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckAdmissionPerUserDailyLimits(t *testing.T) {
	repo := NewMockRepository()
	q := activeQuota("tenant-1")
	q.PerUserDailyTokenLimit = 500
	repo.addQuota(q)
	service := newTestService(repo)

	record := NewUsageRecord("tenant-1")
	record.UserID = "user-1"
	record.InputTokens = 500
	record.ModelUsed = "claude-3-5-haiku"
	_, err := service.RecordUsage(context.Background(), record)
	require.NoError(t, err)

	denied, err := service.CheckAdmission(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, DenyPerUserDailyTokens, denied.Reason)

	// Another user under the same tenant is unaffected
	allowed, err := service.CheckAdmission(context.Background(), "tenant-1", "user-2")
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
}

func TestCheckAdmissionUnknownTenant(t *testing.T) {
	service := newTestService(NewMockRepository())

	_, err := service.CheckAdmission(context.Background(), "no-such", "user-1")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestCheckAdmissionTenantLookupFailure(t *testing.T) {
	repo := NewMockRepository()
	repo.addQuota(activeQuota("tenant-1"))
	pricing, _ := NewPricingTable()
	tenants := &mockTenantChecker{err: &pq.Error{Code: "40001"}}
	service := NewService(repo, tenants, pricing, nil, nil)

	// A failed lookup is not "tenant does not exist"; the error propagates
	// so handlers answer 5xx, not 404.
	_, err := service.CheckAdmission(context.Background(), "tenant-1", "user-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTenantNotFound)
	assert.True(t, IsTransient(err))
}

func TestCheckAdmissionDeniesPerMinuteWindow(t *testing.T) {
	rate, _ := newTestRateLimiter(t)
	repo := NewMockRepository()
	q := activeQuota("tenant-1")
	q.RequestsPerMinute = 3
	repo.addQuota(q)
	pricing, _ := NewPricingTable()
	tenants := &mockTenantChecker{admits: map[string]bool{"tenant-1": true}}
	service := NewService(repo, tenants, pricing, rate, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := rate.Hit(ctx, "tenant-1")
		require.NoError(t, err)
	}

	decision, err := service.CheckAdmission(ctx, "tenant-1", "user-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	_, err = rate.Hit(ctx, "tenant-1")
	require.NoError(t, err)

	decision, err = service.CheckAdmission(ctx, "tenant-1", "user-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyRequestsPerMinute, decision.Reason)
}

func TestCheckAdmissionDeniesPerDayWindow(t *testing.T) {
	rate, mr := newTestRateLimiter(t)
	repo := NewMockRepository()
	q := activeQuota("tenant-1")
	q.RequestsPerMinute = 0 // unlimited, so the day rule is the one that fires
	q.RequestsPerDay = 3
	repo.addQuota(q)
	pricing, _ := NewPricingTable()
	tenants := &mockTenantChecker{admits: map[string]bool{"tenant-1": true}}
	service := NewService(repo, tenants, pricing, rate, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := rate.Hit(ctx, "tenant-1")
		require.NoError(t, err)
	}

	decision, err := service.CheckAdmission(ctx, "tenant-1", "user-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyRequestsPerDay, decision.Reason)

	// The day counter outlives the minute window
	mr.FastForward(2 * time.Minute)
	decision, err = service.CheckAdmission(ctx, "tenant-1", "user-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyRequestsPerDay, decision.Reason)
}

func TestAdmitAndCountBoundary(t *testing.T) {
	repo := NewMockRepository()
	q := activeQuota("tenant-1")
	q.MonthlyRequestLimit = 10
	q.CurrentRequestsCount = 9
	repo.addQuota(q)
	service := newTestService(repo)

	// The tenth request is admitted
	decision, err := service.AdmitAndCount(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// The eleventh is denied
	decision, err = service.AdmitAndCount(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyMonthlyRequestLimit, decision.Reason)
}

func TestAdmitAndCountConcurrentNeverExceeds(t *testing.T) {
	repo := NewMockRepository()
	q := activeQuota("tenant-1")
	q.MonthlyRequestLimit = 10
	repo.addQuota(q)
	service := newTestService(repo)

	const callers = 30
	var admitted int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := service.AdmitAndCount(context.Background(), "tenant-1", "user-1")
			assert.NoError(t, err)
			if decision.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted)

	got, err := service.GetQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.CurrentRequestsCount)
}

func TestSoftLimitOverage(t *testing.T) {
	repo := NewMockRepository()
	q := activeQuota("tenant-1")
	q.MonthlyTokenLimit = 1000
	repo.addQuota(q)
	service := newTestService(repo)

	record := func() *UsageRecord {
		r := NewUsageRecord("tenant-1")
		r.ModelUsed = "claude-3-5-sonnet"
		r.InputTokens = 400
		return r
	}

	// Two 400-token calls fit under the 1000-token limit
	for i := 0; i < 2; i++ {
		_, err := service.RecordUsage(context.Background(), record())
		require.NoError(t, err)
	}
	decision, err := service.CheckAdmission(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// The third call crosses the limit but is still recorded
	stored, err := service.RecordUsage(context.Background(), record())
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)

	got, err := service.GetQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), got.CurrentTokensUsed)

	// Denial is prospective: the next check fails on the token limit
	decision, err = service.CheckAdmission(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyMonthlyTokenLimit, decision.Reason)
}

func TestRolloverResetsCounters(t *testing.T) {
	repo := NewMockRepository()
	q := activeQuota("tenant-1")
	q.CurrentPeriodStart = MonthStart(time.Now().UTC().AddDate(0, -1, 0))
	q.CurrentTokensUsed = 999
	q.CurrentCostMicro = 12345
	q.CurrentRequestsCount = 42
	q.CurrentSessionsCount = 7
	repo.addQuota(q)
	service := newTestService(repo)

	// GetQuota rolls over lazily
	got, err := service.GetQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.CurrentTokensUsed)
	assert.Equal(t, int64(0), got.CurrentCostMicro)
	assert.Equal(t, int64(0), got.CurrentRequestsCount)
	assert.Equal(t, int64(0), got.CurrentSessionsCount)
	assert.Equal(t, MonthStart(time.Now().UTC()), got.CurrentPeriodStart)

	// Limits are untouched
	assert.Equal(t, int64(1_000_000), got.MonthlyTokenLimit)

	// A second rollover in the same month is a no-op
	require.NoError(t, service.RolloverIfNeeded(context.Background(), "tenant-1", time.Now().UTC()))
	again, err := service.GetQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, got.CurrentPeriodStart, again.CurrentPeriodStart)
}

func TestConsumeSessionSlot(t *testing.T) {
	repo := NewMockRepository()
	q := activeQuota("tenant-1")
	q.MonthlySessionLimit = 2
	repo.addQuota(q)
	service := newTestService(repo)

	for i := 0; i < 2; i++ {
		ok, err := service.ConsumeSessionSlot(context.Background(), "tenant-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := service.ConsumeSessionSlot(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateQuotaConvertsDollars(t *testing.T) {
	repo := NewMockRepository()
	repo.addQuota(activeQuota("tenant-1"))
	service := newTestService(repo)

	updated, err := service.UpdateQuota(context.Background(), &Quota{
		TenantID:            "tenant-1",
		MonthlyTokenLimit:   2_000_000,
		MonthlyCostLimitUSD: 125.50,
		MonthlyRequestLimit: 20_000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), updated.MonthlyTokenLimit)
	assert.Equal(t, int64(12_550_000_000), updated.MonthlyCostLimitMicro)
	assert.InDelta(t, 125.50, updated.MonthlyCostLimitUSD, 0.0001)
}
