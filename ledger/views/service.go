// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package views

import (
	"context"
	"database/sql"
	"fmt"

	"agentledger/platform/ledger/quota"
)

const (
	defaultUsageDays   = 30
	defaultQualityDays = 7
	defaultHistoryDays = 30
	maxWindowDays      = 365
)

// Service computes aggregation views straight from the base tables
type Service struct {
	db *sql.DB
}

// NewService creates a new views service
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func clampDays(days, fallback int) int {
	if days <= 0 {
		return fallback
	}
	if days > maxWindowDays {
		return maxWindowDays
	}
	return days
}

// TenantDailyUsage returns a tenant's per-day usage over the window
func (s *Service) TenantDailyUsage(ctx context.Context, tenantID string, days int) ([]DailyUsageRow, error) {
	days = clampDays(days, defaultUsageDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT usage_date,
		       COUNT(*),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(cost_microcents), 0),
		       COUNT(*) FILTER (WHERE error_occurred),
		       COALESCE(AVG(latency_ms), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND usage_date >= CURRENT_DATE - $2::int
		GROUP BY usage_date
		ORDER BY usage_date DESC
	`, tenantID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DailyUsageRow
	for rows.Next() {
		var r DailyUsageRow
		if err := rows.Scan(&r.UsageDate, &r.RequestCount, &r.InputTokens,
			&r.OutputTokens, &r.TotalTokens, &r.CostMicroCents,
			&r.ErrorCount, &r.AvgLatencyMS); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage row: %w", err)
		}
		r.CostUSD = quota.MicroCentsToUSD(r.CostMicroCents)
		out = append(out, r)
	}

	return out, rows.Err()
}

// ModelPerformance returns per-model latency and error aggregates over the
// window. p95 latency uses percentile_cont.
func (s *Service) ModelPerformance(ctx context.Context, days int) ([]ModelPerformanceRow, error) {
	days = clampDays(days, defaultUsageDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT model_used,
		       COUNT(*),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY latency_ms), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(AVG(CASE WHEN error_occurred THEN 1.0 ELSE 0.0 END), 0)
		FROM usage_records
		WHERE model_used IS NOT NULL AND usage_date >= CURRENT_DATE - $1::int
		GROUP BY model_used
		ORDER BY COUNT(*) DESC
	`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query model performance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ModelPerformanceRow
	for rows.Next() {
		var r ModelPerformanceRow
		if err := rows.Scan(&r.ModelUsed, &r.TotalRequests, &r.AvgLatencyMS,
			&r.P95LatencyMS, &r.TotalTokens, &r.ErrorRate); err != nil {
			return nil, fmt.Errorf("failed to scan model performance row: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// QualitySummary returns per-metric score aggregates over the window,
// splitting pass and fail at the 0.7 threshold. An empty tenantID covers
// all tenants.
func (s *Service) QualitySummary(ctx context.Context, tenantID string, days int) ([]QualitySummaryRow, error) {
	days = clampDays(days, defaultQualityDays)

	query := `
		SELECT metric_name,
		       ROUND(AVG(score), 4),
		       COUNT(*),
		       COUNT(*) FILTER (WHERE score >= 0.7),
		       COUNT(*) FILTER (WHERE score < 0.7)
		FROM evaluation_scores
		WHERE created_at >= NOW() - ($1::int * INTERVAL '1 day')
	`
	args := []interface{}{days}
	if tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	query += ` GROUP BY metric_name ORDER BY metric_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quality summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []QualitySummaryRow
	for rows.Next() {
		var r QualitySummaryRow
		if err := rows.Scan(&r.MetricName, &r.AvgScore, &r.EvaluationCount,
			&r.PassCount, &r.FailCount); err != nil {
			return nil, fmt.Errorf("failed to scan quality summary row: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// EvaluationHistory returns per-day per-metric average scores over the window
func (s *Service) EvaluationHistory(ctx context.Context, days int) ([]EvaluationHistoryRow, error) {
	days = clampDays(days, defaultHistoryDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT DATE(created_at),
		       metric_name,
		       ROUND(AVG(score), 4),
		       COUNT(*)
		FROM evaluation_scores
		WHERE created_at >= NOW() - ($1::int * INTERVAL '1 day')
		GROUP BY DATE(created_at), metric_name
		ORDER BY DATE(created_at) DESC, metric_name
	`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluation history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EvaluationHistoryRow
	for rows.Next() {
		var r EvaluationHistoryRow
		if err := rows.Scan(&r.Day, &r.MetricName, &r.AvgScore, &r.EvaluationCount); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation history row: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// TenantDashboard returns one row per tenant with quota and current-month
// activity. Outer joins plus COALESCE keep inactive tenants visible with
// zeros.
func (s *Service) TenantDashboard(ctx context.Context) ([]DashboardRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.tenant_id,
		       t.tenant_name,
		       t.tenant_status,
		       t.subscription_tier,
		       COALESCE(q.monthly_token_limit, 0),
		       COALESCE(q.current_tokens_used, 0),
		       COALESCE(q.monthly_cost_limit_microcents, 0),
		       COALESCE(q.current_cost_microcents, 0),
		       COALESCE(u.request_count, 0),
		       COALESCE(u.total_tokens, 0),
		       COALESCE(s.active_sessions, 0),
		       COALESCE(s.total_sessions, 0)
		FROM tenants t
		LEFT JOIN tenant_quotas q ON q.tenant_id = t.tenant_id
		LEFT JOIN (
			SELECT tenant_id, COUNT(*) AS request_count, SUM(total_tokens) AS total_tokens
			FROM usage_records
			WHERE usage_date >= date_trunc('month', CURRENT_DATE)::date
			GROUP BY tenant_id
		) u ON u.tenant_id = t.tenant_id
		LEFT JOIN (
			SELECT tenant_id,
			       COUNT(*) FILTER (WHERE session_status = 'active') AS active_sessions,
			       COUNT(*) AS total_sessions
			FROM sessions
			GROUP BY tenant_id
		) s ON s.tenant_id = t.tenant_id
		ORDER BY t.tenant_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant dashboard: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DashboardRow
	for rows.Next() {
		var r DashboardRow
		var costLimitMicro, costUsedMicro int64
		if err := rows.Scan(&r.TenantID, &r.TenantName, &r.Status, &r.SubscriptionTier,
			&r.MonthlyTokenLimit, &r.CurrentTokensUsed, &costLimitMicro, &costUsedMicro,
			&r.MonthRequestCount, &r.MonthTotalTokens, &r.ActiveSessions, &r.TotalSessions); err != nil {
			return nil, fmt.Errorf("failed to scan dashboard row: %w", err)
		}
		r.MonthlyCostLimitUSD = quota.MicroCentsToUSD(costLimitMicro)
		r.CurrentCostUSD = quota.MicroCentsToUSD(costUsedMicro)
		out = append(out, r)
	}

	return out, rows.Err()
}

// IsHealthy checks database connectivity
func (s *Service) IsHealthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}
