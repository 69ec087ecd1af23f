// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"context"
)

// Repository defines the interface for session data persistence
type Repository interface {
	// Session operations
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, key Key) (*Session, error)
	ListSessions(ctx context.Context, appName, userID string) ([]Session, error)
	UpdateStatus(ctx context.Context, key Key, status SessionStatus) error
	DeleteSession(ctx context.Context, key Key) error

	// Event log. AppendEvent assigns the sequence number and persists the
	// event atomically with its state delta and the session timestamp bump;
	// re-appending an existing event_id returns the stored event unchanged.
	AppendEvent(ctx context.Context, key Key, event *Event) (*Event, error)
	ListEvents(ctx context.Context, key Key, afterSeq int64, limit int) ([]Event, error)
	ListRecentEvents(ctx context.Context, key Key, limit int) ([]Event, error)

	// State map
	GetState(ctx context.Context, key Key) (map[string]string, error)
	UpsertState(ctx context.Context, key Key, delta map[string]string, updatedBy string) error

	// Utility
	Ping(ctx context.Context) error
}
