// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package session

import "errors"

var (
	// ErrSessionNotFound is returned when a session does not exist or is deleted
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when creating a session whose composite key exists
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotActive is returned when appending to a deleted session
	ErrSessionNotActive = errors.New("session is not active")

	// ErrTenantNotFound is returned when the owning tenant is absent
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantNotActive is returned when the owning tenant does not admit new sessions
	ErrTenantNotActive = errors.New("tenant is not active")

	// ErrEventNotFound is returned when an event is not found
	ErrEventNotFound = errors.New("event not found")

	// ErrInvalidEventType is returned for an unknown event type
	ErrInvalidEventType = errors.New("invalid event type")

	// ErrInvalidStatus is returned for an unknown session status
	ErrInvalidStatus = errors.New("invalid session status")

	// ErrSessionQuotaExceeded is returned when the tenant's monthly session limit is reached
	ErrSessionQuotaExceeded = errors.New("monthly session limit reached")

	// ErrInvalidInput is returned for general invalid input
	ErrInvalidInput = errors.New("invalid input")
)
