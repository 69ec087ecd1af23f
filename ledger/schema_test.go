// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentledger/platform/shared/types"
)

func TestInitSchemaStandaloneSeedsDefaultTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range schemaStatements {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("INSERT INTO tenants").
		WithArgs(DefaultTenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tenant_quotas").
		WithArgs(DefaultTenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = InitSchema(context.Background(), db, types.DefaultStandaloneConfig())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSchemaSaaSInstallsRLS(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// No seed statements in saas mode; RLS statements follow the schema
	for range schemaStatements {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for range rlsStatements {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	err = InitSchema(context.Background(), db, types.DefaultSaaSConfig())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTenantContextRequiresTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = SetTenantContext(context.Background(), db, "")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("SELECT set_tenant_id").
		WithArgs("tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.NoError(t, SetTenantContext(context.Background(), db, "tenant-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTenantAlwaysResets(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SELECT set_tenant_id").
		WithArgs("tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT reset_tenant_id").
		WillReturnResult(sqlmock.NewResult(0, 0))

	wantErr := assert.AnError
	err = WithTenant(context.Background(), db, "tenant-1", func(*sql.DB) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}
