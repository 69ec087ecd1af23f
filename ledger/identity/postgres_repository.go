// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
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

// CreateTenant creates a new tenant together with its default quota row.
// Both inserts commit atomically so a tenant can never exist without quotas.
func (r *PostgresRepository) CreateTenant(ctx context.Context, tenant *Tenant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO tenants (tenant_id, tenant_name, tenant_status, subscription_tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = tx.ExecContext(ctx, query,
		tenant.ID, tenant.Name, tenant.Status, tenant.Tier,
		tenant.CreatedAt, tenant.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrTenantExists
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	// Quota limits come from the column defaults; only the period start is set here.
	quotaQuery := `
		INSERT INTO tenant_quotas (tenant_id, current_period_start)
		VALUES ($1, date_trunc('month', CURRENT_DATE)::date)
		ON CONFLICT (tenant_id) DO NOTHING
	`

	if _, err := tx.ExecContext(ctx, quotaQuery, tenant.ID); err != nil {
		return fmt.Errorf("failed to create tenant quota: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tenant creation: %w", err)
	}

	return nil
}

// GetTenant retrieves a tenant by ID
func (r *PostgresRepository) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	query := `
		SELECT tenant_id, tenant_name, tenant_status, subscription_tier, created_at, updated_at
		FROM tenants
		WHERE tenant_id = $1
	`

	var tenant Tenant
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID, &tenant.Name, &tenant.Status, &tenant.Tier,
		&tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &tenant, nil
}

// UpdateTenantStatus updates a tenant's lifecycle status
func (r *PostgresRepository) UpdateTenantStatus(ctx context.Context, id string, status TenantStatus) error {
	query := `UPDATE tenants SET tenant_status = $2, updated_at = $3 WHERE tenant_id = $1`

	result, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrTenantNotFound
	}

	return nil
}

// DeleteTenant deletes a tenant. Foreign keys cascade the delete to users,
// quotas, sessions, events, state, usage records, feedback and evaluation
// scores; audit rows are kept with their tenant reference nulled.
func (r *PostgresRepository) DeleteTenant(ctx context.Context, id string) error {
	query := `DELETE FROM tenants WHERE tenant_id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrTenantNotFound
	}

	return nil
}

// ListTenants lists tenants with optional status filtering
func (r *PostgresRepository) ListTenants(ctx context.Context, opts ListTenantsOptions) ([]Tenant, int, error) {
	conditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if opts.Status != "" {
		conditions = append(conditions, fmt.Sprintf("tenant_status = $%d", argIndex))
		args = append(args, opts.Status)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM tenants %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tenants: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT tenant_id, tenant_name, tenant_status, subscription_tier, created_at, updated_at
		FROM tenants %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)
	args = append(args, limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.Tier, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}

	return tenants, total, rows.Err()
}

// UpsertUser inserts or updates a tenant user
func (r *PostgresRepository) UpsertUser(ctx context.Context, user *TenantUser) error {
	query := `
		INSERT INTO tenant_users (tenant_id, user_id, email, display_name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		user.TenantID, user.UserID,
		nullString(user.Email), nullString(user.DisplayName),
		user.Role, user.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "violates foreign key") {
			return ErrTenantNotFound
		}
		return fmt.Errorf("failed to upsert tenant user: %w", err)
	}

	return nil
}

// GetUser retrieves a tenant user
func (r *PostgresRepository) GetUser(ctx context.Context, tenantID, userID string) (*TenantUser, error) {
	query := `
		SELECT tenant_id, user_id, email, display_name, role, created_at, updated_at
		FROM tenant_users
		WHERE tenant_id = $1 AND user_id = $2
	`

	var user TenantUser
	var email, displayName sql.NullString

	err := r.db.QueryRowContext(ctx, query, tenantID, userID).Scan(
		&user.TenantID, &user.UserID, &email, &displayName,
		&user.Role, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant user: %w", err)
	}

	user.Email = email.String
	user.DisplayName = displayName.String

	return &user, nil
}

// ListUsers lists all users for a tenant
func (r *PostgresRepository) ListUsers(ctx context.Context, tenantID string) ([]TenantUser, error) {
	query := `
		SELECT tenant_id, user_id, email, display_name, role, created_at, updated_at
		FROM tenant_users
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []TenantUser
	for rows.Next() {
		var u TenantUser
		var email, displayName sql.NullString
		if err := rows.Scan(&u.TenantID, &u.UserID, &email, &displayName, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant user: %w", err)
		}
		u.Email = email.String
		u.DisplayName = displayName.String
		users = append(users, u)
	}

	return users, rows.Err()
}

// RemoveUser removes a user from a tenant
func (r *PostgresRepository) RemoveUser(ctx context.Context, tenantID, userID string) error {
	query := `DELETE FROM tenant_users WHERE tenant_id = $1 AND user_id = $2`

	result, err := r.db.ExecContext(ctx, query, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove tenant user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}

	return nil
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
