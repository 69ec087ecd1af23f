// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"agentledger/platform/shared/types"
)

// DefaultTenantID is the tenant seeded in standalone deployments so the
// service is usable out of the box.
const DefaultTenantID = "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11"

// schemaStatements creates every table and index the service uses. All
// statements are idempotent so the schema can be applied on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		tenant_id         UUID PRIMARY KEY,
		tenant_name       VARCHAR(255) NOT NULL,
		tenant_status     VARCHAR(20) NOT NULL DEFAULT 'active',
		subscription_tier VARCHAR(50) NOT NULL DEFAULT 'free',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS tenant_users (
		tenant_id    UUID NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
		user_id      VARCHAR(255) NOT NULL,
		email        VARCHAR(255),
		display_name VARCHAR(255),
		role         VARCHAR(20) NOT NULL DEFAULT 'user',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (tenant_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS tenant_quotas (
		tenant_id                     UUID PRIMARY KEY REFERENCES tenants(tenant_id) ON DELETE CASCADE,
		monthly_token_limit           BIGINT NOT NULL DEFAULT 1000000,
		monthly_cost_limit_microcents BIGINT NOT NULL DEFAULT 5000000000,
		monthly_session_limit         BIGINT NOT NULL DEFAULT 1000,
		monthly_request_limit         BIGINT NOT NULL DEFAULT 10000,
		requests_per_minute           BIGINT NOT NULL DEFAULT 60,
		requests_per_day              BIGINT NOT NULL DEFAULT 10000,
		per_user_daily_token_limit    BIGINT NOT NULL DEFAULT 0,
		per_user_daily_request_limit  BIGINT NOT NULL DEFAULT 0,
		current_tokens_used           BIGINT NOT NULL DEFAULT 0,
		current_cost_microcents       BIGINT NOT NULL DEFAULT 0,
		current_sessions_count        BIGINT NOT NULL DEFAULT 0,
		current_requests_count        BIGINT NOT NULL DEFAULT 0,
		current_period_start          DATE NOT NULL DEFAULT date_trunc('month', CURRENT_DATE)::date,
		updated_at                    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		app_name       VARCHAR(255) NOT NULL,
		user_id        VARCHAR(255) NOT NULL,
		session_id     VARCHAR(255) NOT NULL,
		tenant_id      UUID NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
		agent_name     VARCHAR(255),
		model_used     VARCHAR(255),
		session_status VARCHAR(20) NOT NULL DEFAULT 'active',
		create_time    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		update_time    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (app_name, user_id, session_id)
	)`,

	`CREATE TABLE IF NOT EXISTS session_state (
		app_name    VARCHAR(255) NOT NULL,
		user_id     VARCHAR(255) NOT NULL,
		session_id  VARCHAR(255) NOT NULL,
		state_key   VARCHAR(255) NOT NULL,
		state_value TEXT,
		updated_by  VARCHAR(255),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (app_name, user_id, session_id, state_key),
		FOREIGN KEY (app_name, user_id, session_id)
			REFERENCES sessions(app_name, user_id, session_id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS session_events (
		id            BIGSERIAL PRIMARY KEY,
		app_name      VARCHAR(255) NOT NULL,
		user_id       VARCHAR(255) NOT NULL,
		session_id    VARCHAR(255) NOT NULL,
		event_id      VARCHAR(255) NOT NULL,
		sequence_num  BIGINT NOT NULL,
		author        VARCHAR(255),
		event_type    VARCHAR(50),
		content       TEXT,
		model_used    VARCHAR(255),
		input_tokens  BIGINT NOT NULL DEFAULT 0,
		output_tokens BIGINT NOT NULL DEFAULT 0,
		total_tokens  BIGINT NOT NULL DEFAULT 0,
		latency_ms    BIGINT NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (app_name, user_id, session_id, sequence_num),
		UNIQUE (app_name, user_id, session_id, event_id),
		FOREIGN KEY (app_name, user_id, session_id)
			REFERENCES sessions(app_name, user_id, session_id) ON DELETE CASCADE
	)`,

	// No foreign key to sessions: usage must survive session deletion.
	// Only the tenant cascade removes usage records.
	`CREATE TABLE IF NOT EXISTS usage_records (
		id              BIGSERIAL PRIMARY KEY,
		tenant_id       UUID NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
		user_id         VARCHAR(255),
		session_id      VARCHAR(255),
		event_id        VARCHAR(255),
		app_name        VARCHAR(255),
		model_used      VARCHAR(255),
		input_tokens    BIGINT NOT NULL DEFAULT 0,
		output_tokens   BIGINT NOT NULL DEFAULT 0,
		total_tokens    BIGINT NOT NULL DEFAULT 0,
		cost_microcents BIGINT NOT NULL DEFAULT 0,
		latency_ms      BIGINT NOT NULL DEFAULT 0,
		error_occurred  BOOLEAN NOT NULL DEFAULT FALSE,
		error_type      VARCHAR(100),
		idempotency_key VARCHAR(255),
		usage_date      DATE NOT NULL DEFAULT CURRENT_DATE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, idempotency_key)
	)`,

	`CREATE TABLE IF NOT EXISTS user_feedback (
		id         BIGSERIAL PRIMARY KEY,
		tenant_id  UUID REFERENCES tenants(tenant_id) ON DELETE CASCADE,
		user_id    VARCHAR(255) NOT NULL,
		session_id VARCHAR(255),
		event_id   VARCHAR(255) NOT NULL,
		rating     SMALLINT NOT NULL CHECK (rating BETWEEN -1 AND 1),
		comment    TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, event_id)
	)`,

	`CREATE TABLE IF NOT EXISTS evaluation_scores (
		id          BIGSERIAL PRIMARY KEY,
		tenant_id   UUID REFERENCES tenants(tenant_id) ON DELETE CASCADE,
		session_id  VARCHAR(255),
		event_id    VARCHAR(255) NOT NULL,
		metric_name VARCHAR(100) NOT NULL,
		score       NUMERIC(5,4) NOT NULL CHECK (score >= 0 AND score <= 1),
		evaluator   VARCHAR(100) NOT NULL,
		eval_type   VARCHAR(20) NOT NULL,
		reasoning   TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (event_id, metric_name, evaluator)
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id            BIGSERIAL PRIMARY KEY,
		tenant_id     UUID REFERENCES tenants(tenant_id) ON DELETE SET NULL,
		user_id       VARCHAR(255),
		action        VARCHAR(100) NOT NULL,
		resource_type VARCHAR(100),
		resource_id   VARCHAR(255),
		details       JSONB,
		ip_address    VARCHAR(64),
		user_agent    TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_session_events_lookup
		ON session_events (app_name, user_id, session_id, sequence_num)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_records_tenant_date
		ON usage_records (tenant_id, usage_date)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_records_user_date
		ON usage_records (tenant_id, user_id, usage_date)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_records_model_date
		ON usage_records (model_used, usage_date)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_tenant_time
		ON audit_log (tenant_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_action_time
		ON audit_log (action, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_evaluation_scores_metric_time
		ON evaluation_scores (metric_name, created_at)`,
}

// rlsStatements installs the session-variable helpers and per-table policies
// for SaaS deployments. Tenant-scoped tables are filtered by
// app.current_tenant_id; an unset variable matches nothing.
var rlsStatements = []string{
	`CREATE OR REPLACE FUNCTION set_tenant_id(p_tenant_id TEXT)
	RETURNS VOID AS $$
	BEGIN
		PERFORM set_config('app.current_tenant_id', p_tenant_id, false);
	END;
	$$ LANGUAGE plpgsql`,

	`CREATE OR REPLACE FUNCTION reset_tenant_id()
	RETURNS VOID AS $$
	BEGIN
		PERFORM set_config('app.current_tenant_id', '', false);
	END;
	$$ LANGUAGE plpgsql`,

	`CREATE OR REPLACE FUNCTION get_current_tenant_id()
	RETURNS TEXT AS $$
	BEGIN
		RETURN current_setting('app.current_tenant_id', true);
	END;
	$$ LANGUAGE plpgsql`,

	`ALTER TABLE tenant_quotas ENABLE ROW LEVEL SECURITY`,
	`ALTER TABLE sessions ENABLE ROW LEVEL SECURITY`,
	`ALTER TABLE usage_records ENABLE ROW LEVEL SECURITY`,
	`ALTER TABLE user_feedback ENABLE ROW LEVEL SECURITY`,
	`ALTER TABLE evaluation_scores ENABLE ROW LEVEL SECURITY`,

	`DROP POLICY IF EXISTS tenant_isolation ON tenant_quotas`,
	`CREATE POLICY tenant_isolation ON tenant_quotas
		USING (tenant_id::text = current_setting('app.current_tenant_id', true))`,
	`DROP POLICY IF EXISTS tenant_isolation ON sessions`,
	`CREATE POLICY tenant_isolation ON sessions
		USING (tenant_id::text = current_setting('app.current_tenant_id', true))`,
	`DROP POLICY IF EXISTS tenant_isolation ON usage_records`,
	`CREATE POLICY tenant_isolation ON usage_records
		USING (tenant_id::text = current_setting('app.current_tenant_id', true))`,
	`DROP POLICY IF EXISTS tenant_isolation ON user_feedback`,
	`CREATE POLICY tenant_isolation ON user_feedback
		USING (tenant_id::text = current_setting('app.current_tenant_id', true))`,
	`DROP POLICY IF EXISTS tenant_isolation ON evaluation_scores`,
	`CREATE POLICY tenant_isolation ON evaluation_scores
		USING (tenant_id::text = current_setting('app.current_tenant_id', true))`,
}

// InitSchema applies the full schema, then the deployment-specific pieces:
// standalone mode seeds the default tenant, SaaS mode installs RLS.
func InitSchema(ctx context.Context, db *sql.DB, cfg types.DeploymentConfig) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	if cfg.SeedDefaultTenant {
		if err := seedDefaultTenant(ctx, db); err != nil {
			return err
		}
	}

	if cfg.TenantIsolation {
		for _, stmt := range rlsStatements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply RLS statement: %w", err)
			}
		}
	}

	return nil
}

func seedDefaultTenant(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tenants (tenant_id, tenant_name, tenant_status, subscription_tier)
		VALUES ($1, 'Default Tenant', 'active', 'standard')
		ON CONFLICT (tenant_id) DO NOTHING
	`, DefaultTenantID)
	if err != nil {
		return fmt.Errorf("failed to seed default tenant: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO tenant_quotas (tenant_id, current_period_start)
		VALUES ($1, date_trunc('month', CURRENT_DATE)::date)
		ON CONFLICT (tenant_id) DO NOTHING
	`, DefaultTenantID)
	if err != nil {
		return fmt.Errorf("failed to seed default tenant quota: %w", err)
	}

	return nil
}
