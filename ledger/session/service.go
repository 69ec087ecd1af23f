// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"agentledger/platform/ledger/audit"
	"agentledger/platform/ledger/identity"
	"agentledger/platform/shared/logger"
)

// TenantChecker reports whether a tenant exists and admits new work.
// Satisfied by identity.Service.
type TenantChecker interface {
	TenantAdmits(ctx context.Context, tenantID string) (bool, error)
}

// SlotConsumer consumes one session slot against the tenant's monthly
// session limit. Satisfied by quota.Service. Returns false when the limit
// is exhausted. A nil SlotConsumer disables session quota enforcement.
type SlotConsumer interface {
	ConsumeSessionSlot(ctx context.Context, tenantID string) (bool, error)
}

// Service provides session lifecycle, state and event log management
type Service struct {
	repo    Repository
	tenants TenantChecker
	slots   SlotConsumer
	auditor *audit.Recorder
	logger  *logger.Logger
}

// NewService creates a new session service
func NewService(repo Repository, tenants TenantChecker, slots SlotConsumer, auditor *audit.Recorder) *Service {
	if auditor == nil {
		auditor = audit.NewRecorder(nil)
	}
	return &Service{
		repo:    repo,
		tenants: tenants,
		slots:   slots,
		auditor: auditor,
		logger:  logger.New("session"),
	}
}

// Create creates a session after validating the tenant and consuming one
// session slot from the tenant's monthly quota
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if err := req.Key.Validate(); err != nil {
		return nil, err
	}
	if req.TenantID == "" {
		return nil, ErrInvalidInput
	}

	if s.tenants != nil {
		admits, err := s.tenants.TenantAdmits(ctx, req.TenantID)
		if err != nil {
			// Only a missing tenant maps to the not-found sentinel; a failed
			// lookup is not a verdict about the tenant.
			if errors.Is(err, identity.ErrTenantNotFound) {
				return nil, ErrTenantNotFound
			}
			return nil, err
		}
		if !admits {
			return nil, ErrTenantNotActive
		}
	}

	if s.slots != nil {
		ok, err := s.slots.ConsumeSessionSlot(ctx, req.TenantID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrSessionQuotaExceeded
		}
	}

	sess := NewSession(req.Key, req.TenantID)
	sess.AgentName = req.AgentName
	sess.ModelUsed = req.ModelUsed
	for k, v := range req.InitialState {
		sess.State[k] = v
	}

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		TenantID:     audit.TenantRef(req.TenantID),
		UserID:       req.UserID,
		Action:       audit.ActionSessionCreated,
		ResourceType: "session",
		ResourceID:   req.SessionID,
		Details:      map[string]interface{}{"app_name": req.AppName},
	})

	return sess, nil
}

// Get retrieves a session with its state map and events. Options narrow the
// event window: NumRecentEvents loads the tail of the log, AfterSequence
// resumes from a known position.
func (s *Service) Get(ctx context.Context, key Key, opts GetOptions) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	sess, err := s.repo.GetSession(ctx, key)
	if err != nil {
		return nil, err
	}

	state, err := s.repo.GetState(ctx, key)
	if err != nil {
		return nil, err
	}
	sess.State = state

	var events []Event
	if opts.NumRecentEvents > 0 {
		events, err = s.repo.ListRecentEvents(ctx, key, opts.NumRecentEvents)
	} else {
		events, err = s.repo.ListEvents(ctx, key, opts.AfterSequence, 0)
	}
	if err != nil {
		return nil, err
	}
	sess.Events = events

	return sess, nil
}

// List lists session metadata for a user without state or events
func (s *Service) List(ctx context.Context, appName, userID string) ([]Session, error) {
	if appName == "" || userID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListSessions(ctx, appName, userID)
}

// UpdateStatus transitions a session between lifecycle statuses. Status is
// never auto-transitioned by event appends; archival and deletion are
// explicit caller actions.
func (s *Service) UpdateStatus(ctx context.Context, key Key, status SessionStatus) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if !isValidSessionStatus(status) {
		return ErrInvalidStatus
	}
	return s.repo.UpdateStatus(ctx, key, status)
}

// Delete hard-deletes a session and its state and events. Usage records
// survive; only the tenant cascade removes usage history.
func (s *Service) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	sess, err := s.repo.GetSession(ctx, key)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteSession(ctx, key); err != nil {
		return err
	}

	s.auditor.Record(ctx, &audit.Entry{
		TenantID:     audit.TenantRef(sess.TenantID),
		UserID:       key.UserID,
		Action:       audit.ActionSessionDeleted,
		ResourceType: "session",
		ResourceID:   key.SessionID,
	})

	return nil
}

// AppendEvent appends an event to a session's log, assigning the next
// sequence number. A missing event ID is generated; re-appending a known
// event ID is idempotent and returns the stored event.
func (s *Service) AppendEvent(ctx context.Context, key Key, event *Event) (*Event, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrInvalidInput
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	return s.repo.AppendEvent(ctx, key, event)
}

// ListEvents returns events in ascending sequence order starting after
// afterSeq. Re-invoking with the last seen sequence yields exactly the
// remainder, making consumption restartable.
func (s *Service) ListEvents(ctx context.Context, key Key, afterSeq int64, limit int) ([]Event, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, key, afterSeq, limit)
}

// GetState returns the session's state map
func (s *Service) GetState(ctx context.Context, key Key) (map[string]string, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.repo.GetState(ctx, key)
}

// PatchState applies a state delta with last-writer-wins per key
func (s *Service) PatchState(ctx context.Context, key Key, delta map[string]string, updatedBy string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if len(delta) == 0 {
		return nil
	}
	return s.repo.UpsertState(ctx, key, delta, updatedBy)
}

// IsHealthy checks if the session store can reach its database
func (s *Service) IsHealthy(ctx context.Context) bool {
	return s.repo.Ping(ctx) == nil
}
