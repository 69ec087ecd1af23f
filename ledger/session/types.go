// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

// Package session provides conversation session storage: session lifecycle,
// a per-key last-writer-wins state map, and a strictly ordered append-only
// event log. Sessions are addressed by the composite key
// (app_name, user_id, session_id) and belong to exactly one tenant.
package session

import (
	"strings"
	"time"
)

// SessionStatus represents the lifecycle status of a session
type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusArchived SessionStatus = "archived"
	StatusDeleted  SessionStatus = "deleted"
)

// EventType classifies an event in the conversation log
type EventType string

const (
	EventMessage      EventType = "message"
	EventToolCall     EventType = "tool_call"
	EventToolResponse EventType = "tool_response"
	EventStateChange  EventType = "state_change"
	EventError        EventType = "error"
	EventSystem       EventType = "system"
)

// TempStatePrefix marks state keys that are never persisted. Deltas carrying
// such keys are applied to the in-memory view only.
const TempStatePrefix = "temp:"

// Key is the composite identifier of a session
type Key struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Validate checks that all key components are present
func (k Key) Validate() error {
	if k.AppName == "" || k.UserID == "" || k.SessionID == "" {
		return ErrInvalidInput
	}
	return nil
}

// Session represents a conversation session
type Session struct {
	Key
	TenantID   string            `json:"tenant_id"`
	AgentName  string            `json:"agent_name,omitempty"`
	ModelUsed  string            `json:"model_used,omitempty"`
	Status     SessionStatus     `json:"session_status"`
	CreateTime time.Time         `json:"create_time"`
	UpdateTime time.Time         `json:"update_time"`
	State      map[string]string `json:"state,omitempty"`
	Events     []Event           `json:"events,omitempty"`
}

// Event represents a single immutable entry in a session's event log.
// SequenceNum is server-assigned at insert time: strictly increasing and
// gap-free per session, never reused.
type Event struct {
	ID           int64             `json:"id,omitempty"`
	Key          `json:"-"`
	EventID      string            `json:"event_id"`
	SequenceNum  int64             `json:"sequence_num"`
	Author       string            `json:"author,omitempty"`
	Type         EventType         `json:"event_type"`
	Content      string            `json:"content,omitempty"`
	ModelUsed    string            `json:"model_used,omitempty"`
	InputTokens  int64             `json:"input_tokens,omitempty"`
	OutputTokens int64             `json:"output_tokens,omitempty"`
	TotalTokens  int64             `json:"total_tokens,omitempty"`
	LatencyMS    int64             `json:"latency_ms,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	StateDelta   map[string]string `json:"state_delta,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// StateEntry is one key/value fact in a session's state map
type StateEntry struct {
	Key       `json:"-"`
	StateKey  string    `json:"state_key"`
	Value     string    `json:"state_value"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest carries the inputs for creating a session
type CreateRequest struct {
	Key
	TenantID     string            `json:"tenant_id"`
	AgentName    string            `json:"agent_name,omitempty"`
	ModelUsed    string            `json:"model_used,omitempty"`
	InitialState map[string]string `json:"initial_state,omitempty"`
}

// GetOptions controls how much of a session is loaded
type GetOptions struct {
	// NumRecentEvents > 0 loads only the most recent N events
	NumRecentEvents int `json:"num_recent_events,omitempty"`
	// AfterSequence loads only events with sequence_num > AfterSequence
	AfterSequence int64 `json:"after_sequence,omitempty"`
}

// NewSession creates a session with default values
func NewSession(key Key, tenantID string) *Session {
	now := time.Now().UTC()
	return &Session{
		Key:        key,
		TenantID:   tenantID,
		Status:     StatusActive,
		CreateTime: now,
		UpdateTime: now,
		State:      make(map[string]string),
	}
}

// Validate validates the event
func (e *Event) Validate() error {
	if e.EventID == "" {
		return ErrInvalidInput
	}
	if !isValidEventType(e.Type) {
		return ErrInvalidEventType
	}
	return nil
}

// IsTempKey reports whether a state key is ephemeral (never persisted)
func IsTempKey(key string) bool {
	return strings.HasPrefix(key, TempStatePrefix)
}

func isValidEventType(t EventType) bool {
	switch t {
	case EventMessage, EventToolCall, EventToolResponse, EventStateChange, EventError, EventSystem:
		return true
	}
	return false
}

func isValidSessionStatus(s SessionStatus) bool {
	switch s {
	case StatusActive, StatusArchived, StatusDeleted:
		return true
	}
	return false
}
