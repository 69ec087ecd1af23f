// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the AgentLedger ledger service.
//
// The ledger is the persistence and accounting layer for conversational
// agent workloads:
// - Stores sessions, their ordered event logs, and per-session state
// - Records token usage and cost, and enforces tenant quotas on admission
// - Collects user feedback and evaluation scores
// - Keeps an append-only audit trail of administrative actions
// - Serves read-only aggregation views for dashboards
//
// Usage:
//
//	./ledgerd
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8084)
//	DATABASE_URL - PostgreSQL connection string
//	DATABASE_HOST/PORT/NAME/USER/PASSWORD/SSLMODE - assembled alternative
//	REDIS_URL - Redis connection string for rate windows (optional)
//	DEPLOYMENT_MODE - standalone (default) or saas
//	JWT_SECRET - HS256 secret for admin endpoints (unset = open, dev mode)
//	LEDGER_PRICING_FILE - YAML pricing table override (optional)
//	LEDGER_PRICING - JSON pricing override (optional)
package main

import (
	"agentledger/platform/ledger"
)

func main() {
	ledger.Run()
}
