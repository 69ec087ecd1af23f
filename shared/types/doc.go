// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

/*
Package types provides shared type definitions used across AgentLedger components.

# Overview

This package contains common types that are shared between the ledger service
and its tooling. It provides a single source of truth for shared data
structures.

# Deployment Modes

AgentLedger supports two deployment modes, configured via DeploymentConfig:

SaaS Mode (multi-tenant):
  - Strict tenant isolation via Row Level Security (RLS)
  - Admin authentication on tenant and quota management endpoints
  - Shared infrastructure

Standalone Mode (single-tenant):
  - Default tenant and quota row seeded at startup
  - No RLS, no admin authentication
  - Suited to local development and single-customer installs

# Usage

Determine deployment mode and configure features:

	config := types.DefaultSaaSConfig()  // For SaaS deployments

	// Or for standalone deployments
	config := types.DefaultStandaloneConfig()

	if config.IsSaaS() {
	    // Enable RLS, enforce admin auth
	}

	if config.SeedDefaultTenant {
	    // Create the default tenant on startup
	}

# Thread Safety

All types in this package are value types and are safe for concurrent use.
*/
package types
