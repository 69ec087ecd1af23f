// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

// Package quota provides usage accounting and quota enforcement: durable
// per-request usage records with integer micro-cent costs, monthly counters
// on the tenant quota row, and admission control combining database counters
// with Redis rate windows.
package quota

import (
	"time"
)

// MicroCentsPerUSD is the fixed-point scale for money. All costs are stored
// and compared as integer micro-cents; dollars appear only at the API edge.
const MicroCentsPerUSD = 100_000_000

// Quota holds a tenant's limits and live counters for the current calendar
// month. A limit of zero or below means unlimited.
type Quota struct {
	TenantID                 string    `json:"tenant_id"`
	MonthlyTokenLimit        int64     `json:"monthly_token_limit"`
	MonthlyCostLimitMicro    int64     `json:"-"`
	MonthlySessionLimit      int64     `json:"monthly_session_limit"`
	MonthlyRequestLimit      int64     `json:"monthly_request_limit"`
	RequestsPerMinute        int64     `json:"requests_per_minute"`
	RequestsPerDay           int64     `json:"requests_per_day"`
	PerUserDailyTokenLimit   int64     `json:"per_user_daily_token_limit"`
	PerUserDailyRequestLimit int64     `json:"per_user_daily_request_limit"`
	CurrentTokensUsed        int64     `json:"current_tokens_used"`
	CurrentCostMicro         int64     `json:"-"`
	CurrentSessionsCount     int64     `json:"current_sessions_count"`
	CurrentRequestsCount     int64     `json:"current_requests_count"`
	CurrentPeriodStart       time.Time `json:"current_period_start"`
	UpdatedAt                time.Time `json:"updated_at"`

	// Dollar views of the micro-cent fields, populated for API responses
	MonthlyCostLimitUSD float64 `json:"monthly_cost_limit_usd"`
	CurrentCostUSD      float64 `json:"current_cost_usd"`
}

// SyncUSD refreshes the dollar views from the micro-cent fields
func (q *Quota) SyncUSD() {
	q.MonthlyCostLimitUSD = MicroCentsToUSD(q.MonthlyCostLimitMicro)
	q.CurrentCostUSD = MicroCentsToUSD(q.CurrentCostMicro)
}

// DefaultQuota returns the default limits for a new tenant
func DefaultQuota(tenantID string) *Quota {
	q := &Quota{
		TenantID:              tenantID,
		MonthlyTokenLimit:     1_000_000,
		MonthlyCostLimitMicro: 50 * MicroCentsPerUSD,
		MonthlySessionLimit:   1000,
		MonthlyRequestLimit:   10_000,
		RequestsPerMinute:     60,
		RequestsPerDay:        10_000,
		CurrentPeriodStart:    MonthStart(time.Now().UTC()),
		UpdatedAt:             time.Now().UTC(),
	}
	q.SyncUSD()
	return q
}

// MonthStart returns the first day of t's month at midnight UTC
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MicroCentsToUSD converts integer micro-cents to a dollar amount
func MicroCentsToUSD(mc int64) float64 {
	return float64(mc) / MicroCentsPerUSD
}

// USDToMicroCents converts a dollar amount to integer micro-cents, round half up
func USDToMicroCents(usd float64) int64 {
	return int64(usd*MicroCentsPerUSD + 0.5)
}

// UsageRecord is one durable accounting entry for a model invocation.
// Records survive session deletion; only the tenant cascade removes them.
type UsageRecord struct {
	ID             int64     `json:"id,omitempty"`
	TenantID       string    `json:"tenant_id"`
	UserID         string    `json:"user_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	EventID        string    `json:"event_id,omitempty"`
	AppName        string    `json:"app_name,omitempty"`
	ModelUsed      string    `json:"model_used,omitempty"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	TotalTokens    int64     `json:"total_tokens"`
	CostMicroCents int64     `json:"cost_microcents"`
	CostUSD        float64   `json:"cost_usd"`
	LatencyMS      int64     `json:"latency_ms,omitempty"`
	ErrorOccurred  bool      `json:"error_occurred,omitempty"`
	ErrorType      string    `json:"error_type,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	UsageDate      time.Time `json:"usage_date"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewUsageRecord creates a usage record stamped with the current UTC time
func NewUsageRecord(tenantID string) *UsageRecord {
	now := time.Now().UTC()
	return &UsageRecord{
		TenantID:  tenantID,
		UsageDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		CreatedAt: now,
	}
}

// Validate checks the record's required fields
func (u *UsageRecord) Validate() error {
	if u.TenantID == "" {
		return ErrInvalidInput
	}
	if u.InputTokens < 0 || u.OutputTokens < 0 || u.CostMicroCents < 0 {
		return ErrInvalidInput
	}
	return nil
}

// DenyReason identifies which rule denied admission
type DenyReason string

// Deny reasons in evaluation priority order: the first matching rule wins.
const (
	DenyTenantNotActive      DenyReason = "tenant_not_active"
	DenyMonthlyRequestLimit  DenyReason = "monthly_request_limit"
	DenyMonthlyTokenLimit    DenyReason = "monthly_token_limit"
	DenyMonthlyCostLimit     DenyReason = "monthly_cost_limit_usd"
	DenyRequestsPerMinute    DenyReason = "requests_per_minute"
	DenyRequestsPerDay       DenyReason = "requests_per_day"
	DenyPerUserDailyTokens   DenyReason = "per_user_daily_tokens"
	DenyPerUserDailyRequests DenyReason = "per_user_daily_requests"
)

// AdmissionDecision is the outcome of an admission check. A denial is a
// decision, not an error.
type AdmissionDecision struct {
	Allowed   bool       `json:"allowed"`
	Reason    DenyReason `json:"reason,omitempty"`
	TenantID  string     `json:"tenant_id"`
	CheckedAt time.Time  `json:"checked_at"`
}

func allow(tenantID string) *AdmissionDecision {
	return &AdmissionDecision{Allowed: true, TenantID: tenantID, CheckedAt: time.Now().UTC()}
}

func deny(tenantID string, reason DenyReason) *AdmissionDecision {
	return &AdmissionDecision{Allowed: false, Reason: reason, TenantID: tenantID, CheckedAt: time.Now().UTC()}
}
