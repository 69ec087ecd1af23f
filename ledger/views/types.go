// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

// Package views provides read-only aggregation views over usage, evaluation
// and session data. Every view is recomputed on read; nothing is
// materialized and nothing refreshes in the background.
package views

import "time"

// DailyUsageRow is one day of a tenant's usage
type DailyUsageRow struct {
	UsageDate      time.Time `json:"usage_date"`
	RequestCount   int64     `json:"request_count"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	TotalTokens    int64     `json:"total_tokens"`
	CostMicroCents int64     `json:"cost_microcents"`
	CostUSD        float64   `json:"cost_usd"`
	ErrorCount     int64     `json:"error_count"`
	AvgLatencyMS   float64   `json:"avg_latency_ms"`
}

// ModelPerformanceRow aggregates one model's behavior over the window
type ModelPerformanceRow struct {
	ModelUsed     string  `json:"model_used"`
	TotalRequests int64   `json:"total_requests"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	P95LatencyMS  float64 `json:"p95_latency_ms"`
	TotalTokens   int64   `json:"total_tokens"`
	ErrorRate     float64 `json:"error_rate"`
}

// QualitySummaryRow aggregates one metric's evaluation scores
type QualitySummaryRow struct {
	MetricName      string  `json:"metric_name"`
	AvgScore        float64 `json:"avg_score"`
	EvaluationCount int64   `json:"evaluation_count"`
	PassCount       int64   `json:"pass_count"`
	FailCount       int64   `json:"fail_count"`
}

// EvaluationHistoryRow is one day of one metric's average score
type EvaluationHistoryRow struct {
	Day             time.Time `json:"day"`
	MetricName      string    `json:"metric_name"`
	AvgScore        float64   `json:"avg_score"`
	EvaluationCount int64     `json:"evaluation_count"`
}

// DashboardRow is one tenant's line on the operator dashboard. Tenants with
// no activity show zeros, never missing rows.
type DashboardRow struct {
	TenantID            string  `json:"tenant_id"`
	TenantName          string  `json:"tenant_name"`
	Status              string  `json:"status"`
	SubscriptionTier    string  `json:"subscription_tier"`
	MonthlyTokenLimit   int64   `json:"monthly_token_limit"`
	CurrentTokensUsed   int64   `json:"current_tokens_used"`
	MonthlyCostLimitUSD float64 `json:"monthly_cost_limit_usd"`
	CurrentCostUSD      float64 `json:"current_cost_usd"`
	MonthRequestCount   int64   `json:"month_request_count"`
	MonthTotalTokens    int64   `json:"month_total_tokens"`
	ActiveSessions      int64   `json:"active_sessions"`
	TotalSessions       int64   `json:"total_sessions"`
}
