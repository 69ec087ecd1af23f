// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresCreateTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewPostgresRepository(db)
	tenant := NewTenant("11111111-1111-1111-1111-111111111111", "Acme Corp", "standard")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tenants").
		WithArgs(tenant.ID, tenant.Name, tenant.Status, tenant.Tier, tenant.CreatedAt, tenant.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tenant_quotas").
		WithArgs(tenant.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestPostgresCreateTenantDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewPostgresRepository(db)
	tenant := NewTenant("11111111-1111-1111-1111-111111111111", "Acme Corp", "")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tenants").
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "tenants_pkey"`))
	mock.ExpectRollback()

	if err := repo.CreateTenant(context.Background(), tenant); err != ErrTenantExists {
		t.Errorf("Expected ErrTenantExists, got %v", err)
	}
}

func TestPostgresGetTenantNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewPostgresRepository(db)

	mock.ExpectQuery("SELECT tenant_id, tenant_name").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "tenant_name", "tenant_status", "subscription_tier", "created_at", "updated_at"}))

	if _, err := repo.GetTenant(context.Background(), "missing"); err != ErrTenantNotFound {
		t.Errorf("Expected ErrTenantNotFound, got %v", err)
	}
}

func TestPostgresGetTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewPostgresRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"tenant_id", "tenant_name", "tenant_status", "subscription_tier", "created_at", "updated_at"}).
		AddRow("t-1", "Acme Corp", "active", "standard", now, now)

	mock.ExpectQuery("SELECT tenant_id, tenant_name").
		WithArgs("t-1").
		WillReturnRows(rows)

	tenant, err := repo.GetTenant(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("GetTenant failed: %v", err)
	}
	if tenant.Name != "Acme Corp" || tenant.Status != StatusActive {
		t.Errorf("Unexpected tenant: %+v", tenant)
	}
}

func TestPostgresUpdateTenantStatusNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewPostgresRepository(db)

	mock.ExpectExec("UPDATE tenants SET tenant_status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.UpdateTenantStatus(context.Background(), "missing", StatusSuspended); err != ErrTenantNotFound {
		t.Errorf("Expected ErrTenantNotFound, got %v", err)
	}
}

func TestPostgresDeleteTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewPostgresRepository(db)

	mock.ExpectExec("DELETE FROM tenants").
		WithArgs("t-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DeleteTenant(context.Background(), "t-1"); err != nil {
		t.Fatalf("DeleteTenant failed: %v", err)
	}
}

func TestPostgresUpsertUserForeignKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewPostgresRepository(db)
	user := NewTenantUser("missing", "alice", RoleUser)

	mock.ExpectExec("INSERT INTO tenant_users").
		WillReturnError(errors.New(`pq: insert or update on table "tenant_users" violates foreign key constraint`))

	if err := repo.UpsertUser(context.Background(), user); err != ErrTenantNotFound {
		t.Errorf("Expected ErrTenantNotFound, got %v", err)
	}
}
