// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package quota

import (
	"context"
	"errors"
	"time"

	"agentledger/platform/ledger/audit"
	"agentledger/platform/ledger/identity"
	"agentledger/platform/shared/logger"
)

// TenantChecker reports whether a tenant exists and admits new work.
// Satisfied by identity.Service: trial counts as active, suspended and
// deactivated deny.
type TenantChecker interface {
	TenantAdmits(ctx context.Context, tenantID string) (bool, error)
}

const (
	maxRetries     = 3
	initialBackoff = 50 * time.Millisecond
	maxUsageLimit  = 1000
)

// Service provides usage accounting and admission control
type Service struct {
	repo    Repository
	tenants TenantChecker
	pricing *PricingTable
	rate    *RateLimiter
	auditor *audit.Recorder
	logger  *logger.Logger

	// optional metrics hooks, set by the runtime
	onDecision func(*AdmissionDecision)
	onUsage    func()
}

// SetMetricsHooks installs observers for admission decisions and recorded
// usage. Either may be nil. The hooks fire once per finished operation, not
// per internal rule evaluation.
func (s *Service) SetMetricsHooks(onDecision func(*AdmissionDecision), onUsage func()) {
	s.onDecision = onDecision
	s.onUsage = onUsage
}

func (s *Service) observeDecision(d *AdmissionDecision) *AdmissionDecision {
	if s.onDecision != nil {
		s.onDecision(d)
	}
	return d
}

// NewService creates a new quota service. rate may be nil to disable the
// Redis rate windows; auditor may be nil.
func NewService(repo Repository, tenants TenantChecker, pricing *PricingTable, rate *RateLimiter, auditor *audit.Recorder) *Service {
	if auditor == nil {
		auditor = audit.NewRecorder(nil)
	}
	return &Service{
		repo:    repo,
		tenants: tenants,
		pricing: pricing,
		rate:    rate,
		auditor: auditor,
		logger:  logger.New("quota"),
	}
}

// RecordUsage durably records one model invocation and increments the
// tenant's monthly counters. Usage is recorded unconditionally, over the
// limits or not: the record that crosses a limit is kept and denial is
// prospective. Cost is computed from the pricing table when the record
// carries tokens but no cost. Transient database failures retry the whole
// transaction, so a durable record without its counter update can never be
// observed.
func (s *Service) RecordUsage(ctx context.Context, u *UsageRecord) (*UsageRecord, error) {
	if u == nil {
		return nil, ErrInvalidInput
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UsageDate.IsZero() {
		u.UsageDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}

	if u.CostMicroCents == 0 && u.TotalTokens > 0 && u.ModelUsed != "" && s.pricing != nil {
		cost, err := s.pricing.CostMicroCents(u.ModelUsed, u.InputTokens, u.OutputTokens)
		if err != nil {
			// Unpriced models are recorded at zero cost; losing the record
			// would be worse than losing the cost.
			s.logger.Warn(u.TenantID, "", "No pricing for model, recording zero cost", map[string]interface{}{
				"model": u.ModelUsed,
			})
		} else {
			u.CostMicroCents = cost
		}
	}

	if err := s.RolloverIfNeeded(ctx, u.TenantID, now); err != nil {
		return nil, err
	}

	var (
		record   *UsageRecord
		recorded bool
		err      error
	)
	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		record, recorded, err = s.repo.RecordUsage(ctx, u)
		if err == nil || !IsTransient(err) {
			break
		}
		s.logger.Warn(u.TenantID, "", "Transient failure recording usage, retrying", map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err != nil {
		return nil, err
	}

	if !recorded {
		s.logger.Info(u.TenantID, "", "Idempotency replay, returning prior usage record", map[string]interface{}{
			"idempotency_key": u.IdempotencyKey,
		})
	} else if s.onUsage != nil {
		s.onUsage()
	}

	return record, nil
}

// CheckAdmission evaluates the deny rules in priority order without
// consuming anything. The first matching rule wins. Limits of zero or below
// are unlimited. Rate windows are observed, never consumed, and pass when
// Redis is unavailable.
func (s *Service) CheckAdmission(ctx context.Context, tenantID, userID string) (*AdmissionDecision, error) {
	decision, err := s.checkAdmission(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	return s.observeDecision(decision), nil
}

func (s *Service) checkAdmission(ctx context.Context, tenantID, userID string) (*AdmissionDecision, error) {
	if tenantID == "" {
		return nil, ErrInvalidInput
	}

	now := time.Now().UTC()
	if err := s.RolloverIfNeeded(ctx, tenantID, now); err != nil {
		return nil, err
	}

	admits, err := s.tenants.TenantAdmits(ctx, tenantID)
	if err != nil {
		// Only a missing tenant maps to the not-found sentinel; a failed
		// lookup is not a verdict about the tenant.
		if errors.Is(err, identity.ErrTenantNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	if !admits {
		return deny(tenantID, DenyTenantNotActive), nil
	}

	q, err := s.repo.GetQuota(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if q.MonthlyRequestLimit > 0 && q.CurrentRequestsCount >= q.MonthlyRequestLimit {
		return deny(tenantID, DenyMonthlyRequestLimit), nil
	}
	if q.MonthlyTokenLimit > 0 && q.CurrentTokensUsed >= q.MonthlyTokenLimit {
		return deny(tenantID, DenyMonthlyTokenLimit), nil
	}
	if q.MonthlyCostLimitMicro > 0 && q.CurrentCostMicro >= q.MonthlyCostLimitMicro {
		return deny(tenantID, DenyMonthlyCostLimit), nil
	}

	if q.RequestsPerMinute > 0 {
		if count, err := s.rate.ObserveMinute(ctx, tenantID); err == nil && count >= q.RequestsPerMinute {
			return deny(tenantID, DenyRequestsPerMinute), nil
		}
	}
	if q.RequestsPerDay > 0 {
		if count, err := s.rate.ObserveDay(ctx, tenantID); err == nil && count >= q.RequestsPerDay {
			return deny(tenantID, DenyRequestsPerDay), nil
		}
	}

	if userID != "" && (q.PerUserDailyTokenLimit > 0 || q.PerUserDailyRequestLimit > 0) {
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		tokens, requests, err := s.repo.UserDailyTotals(ctx, tenantID, userID, day)
		if err != nil {
			return nil, err
		}
		if q.PerUserDailyTokenLimit > 0 && tokens >= q.PerUserDailyTokenLimit {
			return deny(tenantID, DenyPerUserDailyTokens), nil
		}
		if q.PerUserDailyRequestLimit > 0 && requests >= q.PerUserDailyRequestLimit {
			return deny(tenantID, DenyPerUserDailyRequests), nil
		}
	}

	return allow(tenantID), nil
}

// AdmitAndCount checks admission and consumes one request slot. The slot is
// taken with a single compare-and-increment on the quota row, so concurrent
// callers can never exceed the monthly request limit regardless of what the
// read-only check saw. On admit, one hit lands in the rate windows.
func (s *Service) AdmitAndCount(ctx context.Context, tenantID, userID string) (*AdmissionDecision, error) {
	decision, err := s.checkAdmission(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return s.observeDecision(decision), nil
	}

	ok, err := s.repo.ConsumeRequestSlot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.observeDecision(deny(tenantID, DenyMonthlyRequestLimit)), nil
	}

	if _, err := s.rate.Hit(ctx, tenantID); err != nil {
		// Advisory windows only; the database slot is already consumed
		s.logger.Warn(tenantID, "", "Rate window hit failed after admit", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return s.observeDecision(allow(tenantID)), nil
}

// ConsumeSessionSlot consumes one monthly session slot. Used by session
// creation; false means the limit is exhausted.
func (s *Service) ConsumeSessionSlot(ctx context.Context, tenantID string) (bool, error) {
	if err := s.RolloverIfNeeded(ctx, tenantID, time.Now().UTC()); err != nil {
		return false, err
	}
	return s.repo.ConsumeSessionSlot(ctx, tenantID)
}

// RolloverIfNeeded resets the tenant's counters when the stored period
// predates now's calendar month. Idempotent; invoked lazily on the hot paths
// rather than by a scheduler.
func (s *Service) RolloverIfNeeded(ctx context.Context, tenantID string, now time.Time) error {
	return s.repo.Rollover(ctx, tenantID, MonthStart(now))
}

// GetQuota returns the tenant's limits and live counters
func (s *Service) GetQuota(ctx context.Context, tenantID string) (*Quota, error) {
	if tenantID == "" {
		return nil, ErrInvalidInput
	}
	if err := s.RolloverIfNeeded(ctx, tenantID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.repo.GetQuota(ctx, tenantID)
}

// UpdateQuota updates the tenant's limits. Counters and the period start are
// never written through this path.
func (s *Service) UpdateQuota(ctx context.Context, q *Quota) (*Quota, error) {
	if q == nil || q.TenantID == "" {
		return nil, ErrInvalidInput
	}
	if q.MonthlyCostLimitMicro == 0 && q.MonthlyCostLimitUSD > 0 {
		q.MonthlyCostLimitMicro = USDToMicroCents(q.MonthlyCostLimitUSD)
	}

	if err := s.repo.UpdateQuotaLimits(ctx, q); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		TenantID:     audit.TenantRef(q.TenantID),
		Action:       audit.ActionQuotaUpdated,
		ResourceType: "quota",
		ResourceID:   q.TenantID,
		Details: map[string]interface{}{
			"monthly_token_limit":    q.MonthlyTokenLimit,
			"monthly_cost_limit_usd": MicroCentsToUSD(q.MonthlyCostLimitMicro),
			"monthly_request_limit":  q.MonthlyRequestLimit,
		},
	})

	return s.repo.GetQuota(ctx, q.TenantID)
}

// GetUsage lists the tenant's usage records within [from, to]. A zero range
// defaults to the current calendar month.
func (s *Service) GetUsage(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]UsageRecord, error) {
	if tenantID == "" {
		return nil, ErrInvalidInput
	}

	now := time.Now().UTC()
	if from.IsZero() {
		from = MonthStart(now)
	}
	if to.IsZero() {
		to = now
	}
	if limit <= 0 || limit > maxUsageLimit {
		limit = maxUsageLimit
	}

	return s.repo.ListUsage(ctx, tenantID, from, to, limit)
}

// IsHealthy checks if the quota store can reach its database
func (s *Service) IsHealthy(ctx context.Context) bool {
	return s.repo.Ping(ctx) == nil
}
