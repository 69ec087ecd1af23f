// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package ledger

// Row-level security helpers for SaaS deployments.
//
// The schema layer installs per-table policies filtered by the
// app.current_tenant_id session variable. These helpers set and clear that
// variable around request handling. Resetting after each request matters
// with connection pooling: a stale variable would leak one tenant's scope
// into another tenant's queries.

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// SetTenantContext sets app.current_tenant_id on the connection so RLS
// policies scope all subsequent queries to the tenant.
func SetTenantContext(ctx context.Context, db *sql.DB, tenantID string) error {
	if db == nil {
		return nil
	}
	if tenantID == "" {
		return fmt.Errorf("rls: tenant_id cannot be empty")
	}

	rlsCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := db.ExecContext(rlsCtx, "SELECT set_tenant_id($1)", tenantID); err != nil {
		return fmt.Errorf("rls: failed to set tenant context: %w", err)
	}
	return nil
}

// ResetTenantContext clears app.current_tenant_id. Failures are logged but
// not returned; this is cleanup.
func ResetTenantContext(ctx context.Context, db *sql.DB) {
	if db == nil {
		return
	}

	rlsCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if _, err := db.ExecContext(rlsCtx, "SELECT reset_tenant_id()"); err != nil {
		log.Printf("rls: failed to reset tenant context (non-fatal): %v", err)
	}
}

// WithTenant runs fn with the tenant context set, always resetting afterward.
func WithTenant(ctx context.Context, db *sql.DB, tenantID string, fn func(*sql.DB) error) error {
	if err := SetTenantContext(ctx, db, tenantID); err != nil {
		return err
	}
	defer ResetTenantContext(ctx, db)
	return fn(db)
}

// CurrentTenantID returns the tenant id currently set on the session, for
// debugging and verification.
func CurrentTenantID(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", fmt.Errorf("database connection is nil")
	}

	var tenantID sql.NullString
	err := db.QueryRowContext(ctx, "SELECT current_setting('app.current_tenant_id', true)").Scan(&tenantID)
	if err != nil {
		return "", fmt.Errorf("failed to read current tenant id: %w", err)
	}
	if !tenantID.Valid || tenantID.String == "" {
		return "", fmt.Errorf("tenant id not set in session")
	}
	return tenantID.String, nil
}

// VerifyRLSActive reports whether row security is enabled on a table.
func VerifyRLSActive(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("database connection is nil")
	}

	var enabled bool
	err := db.QueryRowContext(ctx, `
		SELECT COALESCE(rowsecurity, false)
		FROM pg_tables
		WHERE schemaname = 'public' AND tablename = $1
	`, tableName).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("table '%s' not found", tableName)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check RLS status: %w", err)
	}
	return enabled, nil
}

// RLSHealthCheck verifies the helper functions exist and row security is
// enabled on every tenant-scoped table. Used at startup in SaaS mode.
func RLSHealthCheck(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	for _, funcName := range []string{"set_tenant_id", "reset_tenant_id", "get_current_tenant_id"} {
		var exists bool
		err := db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_proc p
				JOIN pg_namespace n ON p.pronamespace = n.oid
				WHERE n.nspname = 'public' AND p.proname = $1
			)
		`, funcName).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check function '%s': %w", funcName, err)
		}
		if !exists {
			return fmt.Errorf("RLS helper function '%s' not installed", funcName)
		}
	}

	tenantScoped := []string{"tenant_quotas", "sessions", "usage_records", "user_feedback", "evaluation_scores"}
	for _, table := range tenantScoped {
		enabled, err := VerifyRLSActive(ctx, db, table)
		if err != nil {
			return fmt.Errorf("failed to verify RLS on '%s': %w", table, err)
		}
		if !enabled {
			return fmt.Errorf("RLS not enabled on tenant-scoped table '%s'", table)
		}
	}

	return nil
}
