// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"context"
	"sync"
	"testing"
)

// MockRepository implements Repository interface for testing
type MockRepository struct {
	mu sync.RWMutex

	tenants map[string]*Tenant
	users   map[string]*TenantUser // key tenantID:userID

	// Error injection
	createErr error
	pingErr   error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		tenants: make(map[string]*Tenant),
		users:   make(map[string]*TenantUser),
	}
}

func (m *MockRepository) CreateTenant(ctx context.Context, tenant *Tenant) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[tenant.ID]; exists {
		return ErrTenantExists
	}
	copied := *tenant
	m.tenants[tenant.ID] = &copied
	return nil
}

func (m *MockRepository) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if tenant, ok := m.tenants[id]; ok {
		copied := *tenant
		return &copied, nil
	}
	return nil, ErrTenantNotFound
}

func (m *MockRepository) UpdateTenantStatus(ctx context.Context, id string, status TenantStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, ok := m.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	tenant.Status = status
	return nil
}

func (m *MockRepository) DeleteTenant(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[id]; !ok {
		return ErrTenantNotFound
	}
	delete(m.tenants, id)
	for key, u := range m.users {
		if u.TenantID == id {
			delete(m.users, key)
		}
	}
	return nil
}

func (m *MockRepository) ListTenants(ctx context.Context, opts ListTenantsOptions) ([]Tenant, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Tenant
	for _, t := range m.tenants {
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		result = append(result, *t)
	}
	return result, len(result), nil
}

func (m *MockRepository) UpsertUser(ctx context.Context, user *TenantUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[user.TenantID]; !ok {
		return ErrTenantNotFound
	}
	copied := *user
	m.users[user.TenantID+":"+user.UserID] = &copied
	return nil
}

func (m *MockRepository) GetUser(ctx context.Context, tenantID, userID string) (*TenantUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if user, ok := m.users[tenantID+":"+userID]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, ErrUserNotFound
}

func (m *MockRepository) ListUsers(ctx context.Context, tenantID string) ([]TenantUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []TenantUser
	for _, u := range m.users {
		if u.TenantID == tenantID {
			result = append(result, *u)
		}
	}
	return result, nil
}

func (m *MockRepository) RemoveUser(ctx context.Context, tenantID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantID + ":" + userID
	if _, ok := m.users[key]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, key)
	return nil
}

func (m *MockRepository) Ping(ctx context.Context) error {
	return m.pingErr
}

func TestCreateTenant(t *testing.T) {
	repo := NewMockRepository()
	service := NewService(repo, nil)

	tenant, err := service.CreateTenant(context.Background(), "Acme Corp", "standard")
	if err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}

	if tenant.ID == "" {
		t.Error("Expected generated tenant ID")
	}
	if tenant.Status != StatusActive {
		t.Errorf("Expected status active, got %s", tenant.Status)
	}
	if tenant.Tier != "standard" {
		t.Errorf("Expected tier standard, got %s", tenant.Tier)
	}
}

func TestCreateTenantEmptyName(t *testing.T) {
	service := NewService(NewMockRepository(), nil)

	_, err := service.CreateTenant(context.Background(), "", "free")
	if err != ErrInvalidTenantName {
		t.Errorf("Expected ErrInvalidTenantName, got %v", err)
	}
}

func TestCreateTenantDefaultTier(t *testing.T) {
	service := NewService(NewMockRepository(), nil)

	tenant, err := service.CreateTenant(context.Background(), "Acme Corp", "")
	if err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}
	if tenant.Tier != "free" {
		t.Errorf("Expected default tier free, got %s", tenant.Tier)
	}
}

func TestUpdateTenantStatus(t *testing.T) {
	repo := NewMockRepository()
	service := NewService(repo, nil)

	tenant, _ := service.CreateTenant(context.Background(), "Acme Corp", "")

	tests := []struct {
		name    string
		status  TenantStatus
		wantErr error
	}{
		{"suspend", StatusSuspended, nil},
		{"reactivate", StatusActive, nil},
		{"trial", StatusTrial, nil},
		{"deactivate", StatusDeactivated, nil},
		{"invalid status", TenantStatus("frozen"), ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := service.UpdateTenantStatus(context.Background(), tenant.ID, tt.status)
			if err != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestUpdateTenantStatusNotFound(t *testing.T) {
	service := NewService(NewMockRepository(), nil)

	err := service.UpdateTenantStatus(context.Background(), "missing", StatusSuspended)
	if err != ErrTenantNotFound {
		t.Errorf("Expected ErrTenantNotFound, got %v", err)
	}
}

func TestDeleteTenant(t *testing.T) {
	repo := NewMockRepository()
	service := NewService(repo, nil)

	tenant, _ := service.CreateTenant(context.Background(), "Acme Corp", "")
	_ = service.UpsertUser(context.Background(), NewTenantUser(tenant.ID, "alice", RoleOwner))

	if err := service.DeleteTenant(context.Background(), tenant.ID); err != nil {
		t.Fatalf("DeleteTenant failed: %v", err)
	}

	if _, err := service.GetTenant(context.Background(), tenant.ID); err != ErrTenantNotFound {
		t.Errorf("Expected ErrTenantNotFound after delete, got %v", err)
	}
	if _, err := service.GetUser(context.Background(), tenant.ID, "alice"); err != ErrUserNotFound {
		t.Errorf("Expected users removed with tenant, got %v", err)
	}
}

func TestUpsertUser(t *testing.T) {
	repo := NewMockRepository()
	service := NewService(repo, nil)

	tenant, _ := service.CreateTenant(context.Background(), "Acme Corp", "")

	user := NewTenantUser(tenant.ID, "alice", RoleAdmin)
	user.Email = "alice@example.com"
	if err := service.UpsertUser(context.Background(), user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	// Second upsert updates the role
	user.Role = RoleViewer
	if err := service.UpsertUser(context.Background(), user); err != nil {
		t.Fatalf("UpsertUser (update) failed: %v", err)
	}

	stored, err := service.GetUser(context.Background(), tenant.ID, "alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if stored.Role != RoleViewer {
		t.Errorf("Expected updated role viewer, got %s", stored.Role)
	}
	if stored.Email != "alice@example.com" {
		t.Errorf("Expected email preserved, got %s", stored.Email)
	}
}

func TestUpsertUserInvalidRole(t *testing.T) {
	repo := NewMockRepository()
	service := NewService(repo, nil)

	tenant, _ := service.CreateTenant(context.Background(), "Acme Corp", "")

	user := NewTenantUser(tenant.ID, "bob", UserRole("superuser"))
	if err := service.UpsertUser(context.Background(), user); err != ErrInvalidRole {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestTenantAdmits(t *testing.T) {
	repo := NewMockRepository()
	service := NewService(repo, nil)

	tenant, _ := service.CreateTenant(context.Background(), "Acme Corp", "")

	tests := []struct {
		status TenantStatus
		want   bool
	}{
		{StatusActive, true},
		{StatusTrial, true},
		{StatusSuspended, false},
		{StatusDeactivated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			_ = service.UpdateTenantStatus(context.Background(), tenant.ID, tt.status)
			admits, err := service.TenantAdmits(context.Background(), tenant.ID)
			if err != nil {
				t.Fatalf("TenantAdmits failed: %v", err)
			}
			if admits != tt.want {
				t.Errorf("Status %s: expected admits=%v, got %v", tt.status, tt.want, admits)
			}
		})
	}
}

func TestListTenantsByStatus(t *testing.T) {
	repo := NewMockRepository()
	service := NewService(repo, nil)

	a, _ := service.CreateTenant(context.Background(), "Active Co", "")
	b, _ := service.CreateTenant(context.Background(), "Suspended Co", "")
	_ = service.UpdateTenantStatus(context.Background(), b.ID, StatusSuspended)

	tenants, total, err := service.ListTenants(context.Background(), ListTenantsOptions{Status: StatusActive})
	if err != nil {
		t.Fatalf("ListTenants failed: %v", err)
	}
	if total != 1 || len(tenants) != 1 {
		t.Fatalf("Expected 1 active tenant, got %d", total)
	}
	if tenants[0].ID != a.ID {
		t.Errorf("Expected tenant %s, got %s", a.ID, tenants[0].ID)
	}
}
