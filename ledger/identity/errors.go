// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package identity

import "errors"

var (
	// ErrTenantNotFound is returned when a tenant is not found
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantExists is returned when trying to create a tenant that already exists
	ErrTenantExists = errors.New("tenant already exists")

	// ErrUserNotFound is returned when a tenant user is not found
	ErrUserNotFound = errors.New("tenant user not found")

	// ErrInvalidTenantID is returned for invalid tenant ID
	ErrInvalidTenantID = errors.New("invalid tenant ID")

	// ErrInvalidTenantName is returned for invalid tenant name
	ErrInvalidTenantName = errors.New("invalid tenant name")

	// ErrInvalidUserID is returned for invalid user ID
	ErrInvalidUserID = errors.New("invalid user ID")

	// ErrInvalidStatus is returned for an unknown tenant status
	ErrInvalidStatus = errors.New("invalid tenant status")

	// ErrInvalidRole is returned for an unknown user role
	ErrInvalidRole = errors.New("invalid user role")

	// ErrInvalidInput is returned for general invalid input
	ErrInvalidInput = errors.New("invalid input")
)
