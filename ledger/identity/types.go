// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

// Package identity provides tenant and tenant-user management.
// It is the source of truth for tenant lifecycle status and user roles.
package identity

import (
	"time"
)

// TenantStatus represents the lifecycle status of a tenant
type TenantStatus string

const (
	StatusActive      TenantStatus = "active"
	StatusSuspended   TenantStatus = "suspended"
	StatusTrial       TenantStatus = "trial"
	StatusDeactivated TenantStatus = "deactivated"
)

// UserRole represents the role of a user within a tenant
type UserRole string

const (
	RoleOwner  UserRole = "owner"
	RoleAdmin  UserRole = "admin"
	RoleUser   UserRole = "user"
	RoleViewer UserRole = "viewer"
)

// Tenant represents a tenant account
type Tenant struct {
	ID        string       `json:"tenant_id"`
	Name      string       `json:"tenant_name"`
	Status    TenantStatus `json:"tenant_status"`
	Tier      string       `json:"subscription_tier"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TenantUser represents a user's membership in a tenant
type TenantUser struct {
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        UserRole  `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListTenantsOptions for filtering tenant queries
type ListTenantsOptions struct {
	Status TenantStatus `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}

// NewTenant creates a new tenant with default values
func NewTenant(id, name, tier string) *Tenant {
	if tier == "" {
		tier = "free"
	}
	return &Tenant{
		ID:        id,
		Name:      name,
		Status:    StatusActive,
		Tier:      tier,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

// NewTenantUser creates a new tenant user with default values
func NewTenantUser(tenantID, userID string, role UserRole) *TenantUser {
	if role == "" {
		role = RoleUser
	}
	return &TenantUser{
		TenantID:  tenantID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

// Validate validates the tenant
func (t *Tenant) Validate() error {
	if t.ID == "" {
		return ErrInvalidTenantID
	}
	if t.Name == "" {
		return ErrInvalidTenantName
	}
	if !isValidStatus(t.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// Validate validates the tenant user
func (u *TenantUser) Validate() error {
	if u.TenantID == "" {
		return ErrInvalidTenantID
	}
	if u.UserID == "" {
		return ErrInvalidUserID
	}
	if !isValidRole(u.Role) {
		return ErrInvalidRole
	}
	return nil
}

// Admits reports whether requests for this tenant may be admitted.
// Trial tenants are admitted; suspended and deactivated tenants are not.
func (s TenantStatus) Admits() bool {
	return s == StatusActive || s == StatusTrial
}

func isValidStatus(s TenantStatus) bool {
	switch s {
	case StatusActive, StatusSuspended, StatusTrial, StatusDeactivated:
		return true
	}
	return false
}

func isValidRole(r UserRole) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleUser, RoleViewer:
		return true
	}
	return false
}
