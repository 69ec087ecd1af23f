// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"agentledger/platform/ledger/audit"
	"agentledger/platform/shared/logger"
)

// Service provides tenant and tenant-user management
type Service struct {
	repo    Repository
	auditor *audit.Recorder
	logger  *logger.Logger
}

// NewService creates a new identity service. The audit recorder may be nil
// when auditing is disabled (a no-op recorder is substituted).
func NewService(repo Repository, auditor *audit.Recorder) *Service {
	if auditor == nil {
		auditor = audit.NewRecorder(nil)
	}
	return &Service{
		repo:    repo,
		auditor: auditor,
		logger:  logger.New("identity"),
	}
}

// CreateTenant creates a tenant with a generated UUID and its default quota row
func (s *Service) CreateTenant(ctx context.Context, name, tier string) (*Tenant, error) {
	if name == "" {
		return nil, ErrInvalidTenantName
	}

	tenant := NewTenant(uuid.New().String(), name, tier)
	if err := tenant.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.CreateTenant(ctx, tenant); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		TenantID:     audit.TenantRef(tenant.ID),
		Action:       audit.ActionTenantCreated,
		ResourceType: "tenant",
		ResourceID:   tenant.ID,
		Details:      map[string]interface{}{"tenant_name": tenant.Name, "tier": tenant.Tier},
	})

	s.logger.Info(tenant.ID, "", "Tenant created", map[string]interface{}{"tenant_name": tenant.Name})

	return tenant, nil
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	if id == "" {
		return nil, ErrInvalidTenantID
	}
	return s.repo.GetTenant(ctx, id)
}

// ListTenants lists tenants with optional status filtering
func (s *Service) ListTenants(ctx context.Context, opts ListTenantsOptions) ([]Tenant, int, error) {
	if opts.Status != "" && !isValidStatus(opts.Status) {
		return nil, 0, ErrInvalidStatus
	}
	return s.repo.ListTenants(ctx, opts)
}

// UpdateTenantStatus transitions a tenant between lifecycle statuses.
// Any transition between valid statuses is allowed; status changes are
// external admin actions, not business logic.
func (s *Service) UpdateTenantStatus(ctx context.Context, id string, status TenantStatus) error {
	if id == "" {
		return ErrInvalidTenantID
	}
	if !isValidStatus(status) {
		return ErrInvalidStatus
	}

	if err := s.repo.UpdateTenantStatus(ctx, id, status); err != nil {
		return err
	}

	s.auditor.Record(ctx, &audit.Entry{
		TenantID:     audit.TenantRef(id),
		Action:       audit.ActionTenantStatusChanged,
		ResourceType: "tenant",
		ResourceID:   id,
		Details:      map[string]interface{}{"new_status": string(status)},
	})

	return nil
}

// DeleteTenant hard-deletes a tenant. Sessions, events, state, usage,
// feedback and evaluation rows cascade away; audit history survives with a
// NULL tenant reference, so the audit entry here carries no tenant.
func (s *Service) DeleteTenant(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidTenantID
	}

	if err := s.repo.DeleteTenant(ctx, id); err != nil {
		return err
	}

	s.auditor.Record(ctx, &audit.Entry{
		Action:       audit.ActionTenantDeleted,
		ResourceType: "tenant",
		ResourceID:   id,
		Details:      map[string]interface{}{"deleted_at": time.Now().UTC().Format(time.RFC3339)},
	})

	s.logger.Warn(id, "", "Tenant deleted", nil)

	return nil
}

// UpsertUser adds a user to a tenant or updates their email, display name
// and role
func (s *Service) UpsertUser(ctx context.Context, user *TenantUser) error {
	if user == nil {
		return ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = RoleUser
	}
	if err := user.Validate(); err != nil {
		return err
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.UpsertUser(ctx, user); err != nil {
		return err
	}

	s.auditor.Record(ctx, &audit.Entry{
		TenantID:     audit.TenantRef(user.TenantID),
		UserID:       user.UserID,
		Action:       audit.ActionUserAdded,
		ResourceType: "tenant_user",
		ResourceID:   user.UserID,
		Details:      map[string]interface{}{"role": string(user.Role)},
	})

	return nil
}

// GetUser retrieves a tenant user
func (s *Service) GetUser(ctx context.Context, tenantID, userID string) (*TenantUser, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenantID
	}
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return s.repo.GetUser(ctx, tenantID, userID)
}

// ListUsers lists all users for a tenant
func (s *Service) ListUsers(ctx context.Context, tenantID string) ([]TenantUser, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenantID
	}
	return s.repo.ListUsers(ctx, tenantID)
}

// RemoveUser removes a user from a tenant
func (s *Service) RemoveUser(ctx context.Context, tenantID, userID string) error {
	if tenantID == "" {
		return ErrInvalidTenantID
	}
	if userID == "" {
		return ErrInvalidUserID
	}

	if err := s.repo.RemoveUser(ctx, tenantID, userID); err != nil {
		return err
	}

	s.auditor.Record(ctx, &audit.Entry{
		TenantID:     audit.TenantRef(tenantID),
		UserID:       userID,
		Action:       audit.ActionUserRemoved,
		ResourceType: "tenant_user",
		ResourceID:   userID,
	})

	return nil
}

// TenantAdmits reports whether the tenant exists and its status admits new
// requests. Used by the admission path and session creation.
func (s *Service) TenantAdmits(ctx context.Context, tenantID string) (bool, error) {
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return tenant.Status.Admits(), nil
}

// IsHealthy checks if the identity store can reach its database
func (s *Service) IsHealthy(ctx context.Context) bool {
	return s.repo.Ping(ctx) == nil
}
