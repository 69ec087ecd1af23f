// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

// Package types provides shared type definitions used across AgentLedger components.
// This file defines deployment mode configuration for SaaS vs standalone deployments.
package types

// DeploymentMode represents the deployment type
type DeploymentMode string

const (
	// DeploymentModeSaaS is for multi-tenant SaaS deployments with RLS
	DeploymentModeSaaS DeploymentMode = "saas"
	// DeploymentModeStandalone is for single-tenant standalone deployments
	DeploymentModeStandalone DeploymentMode = "standalone"
)

// String returns the string representation of the DeploymentMode
func (m DeploymentMode) String() string {
	return string(m)
}

// IsValid returns true if the DeploymentMode is a valid known value
func (m DeploymentMode) IsValid() bool {
	switch m {
	case DeploymentModeSaaS, DeploymentModeStandalone:
		return true
	default:
		return false
	}
}

// DeploymentConfig contains deployment-specific settings that control
// tenant seeding, data isolation, and authentication behavior.
//
// SaaS deployments use strict tenant isolation (RLS) and require admin
// authentication on management endpoints. Standalone deployments seed a
// default tenant so the service is usable out of the box.
type DeploymentConfig struct {
	// Mode is the deployment type (saas or standalone)
	Mode DeploymentMode `json:"mode"`

	// TenantIsolation enables RLS-based data filtering for multi-tenant SaaS
	TenantIsolation bool `json:"tenant_isolation"`

	// SeedDefaultTenant creates the default tenant and quota row at startup
	SeedDefaultTenant bool `json:"seed_default_tenant"`

	// RequireAdminAuth enforces JWT auth on tenant and quota management endpoints
	RequireAdminAuth bool `json:"require_admin_auth"`
}

// DefaultSaaSConfig returns the default configuration for SaaS deployments.
// SaaS mode enforces tenant isolation and admin authentication.
func DefaultSaaSConfig() DeploymentConfig {
	return DeploymentConfig{
		Mode:              DeploymentModeSaaS,
		TenantIsolation:   true,
		SeedDefaultTenant: false,
		RequireAdminAuth:  true,
	}
}

// DefaultStandaloneConfig returns the default configuration for standalone
// deployments. Standalone mode seeds a default tenant and runs open.
func DefaultStandaloneConfig() DeploymentConfig {
	return DeploymentConfig{
		Mode:              DeploymentModeStandalone,
		TenantIsolation:   false,
		SeedDefaultTenant: true,
		RequireAdminAuth:  false,
	}
}

// IsSaaS returns true if this is a SaaS deployment
func (c DeploymentConfig) IsSaaS() bool {
	return c.Mode == DeploymentModeSaaS
}

// IsStandalone returns true if this is a standalone deployment
func (c DeploymentConfig) IsStandalone() bool {
	return c.Mode == DeploymentModeStandalone
}
