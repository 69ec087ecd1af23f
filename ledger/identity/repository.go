// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"context"
)

// Repository defines the interface for identity data persistence
type Repository interface {
	// Tenant operations
	CreateTenant(ctx context.Context, tenant *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	UpdateTenantStatus(ctx context.Context, id string, status TenantStatus) error
	DeleteTenant(ctx context.Context, id string) error
	ListTenants(ctx context.Context, opts ListTenantsOptions) ([]Tenant, int, error)

	// Tenant user operations
	UpsertUser(ctx context.Context, user *TenantUser) error
	GetUser(ctx context.Context, tenantID, userID string) (*TenantUser, error)
	ListUsers(ctx context.Context, tenantID string) ([]TenantUser, error)
	RemoveUser(ctx context.Context, tenantID, userID string) error

	// Utility
	Ping(ctx context.Context) error
}
