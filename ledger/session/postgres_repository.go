// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateSession creates a session together with any initial state entries
func (r *PostgresRepository) CreateSession(ctx context.Context, s *Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO sessions (app_name, user_id, session_id, tenant_id, agent_name, model_used, session_status, create_time, update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = tx.ExecContext(ctx, query,
		s.AppName, s.UserID, s.SessionID, s.TenantID,
		nullString(s.AgentName), nullString(s.ModelUsed),
		s.Status, s.CreateTime, s.UpdateTime,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrSessionExists
		}
		if strings.Contains(err.Error(), "violates foreign key") {
			return ErrTenantNotFound
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	for key, value := range s.State {
		if IsTempKey(key) {
			continue
		}
		if err := upsertStateTx(ctx, tx, s.Key, key, value, "", s.CreateTime); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session creation: %w", err)
	}

	return nil
}

// GetSession retrieves a session row without state or events
func (r *PostgresRepository) GetSession(ctx context.Context, key Key) (*Session, error) {
	query := `
		SELECT app_name, user_id, session_id, tenant_id, agent_name, model_used, session_status, create_time, update_time
		FROM sessions
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3
	`

	var s Session
	var agentName, modelUsed sql.NullString

	err := r.db.QueryRowContext(ctx, query, key.AppName, key.UserID, key.SessionID).Scan(
		&s.AppName, &s.UserID, &s.SessionID, &s.TenantID,
		&agentName, &modelUsed, &s.Status, &s.CreateTime, &s.UpdateTime,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.AgentName = agentName.String
	s.ModelUsed = modelUsed.String

	return &s, nil
}

// ListSessions lists session metadata for a user, most recently touched first
func (r *PostgresRepository) ListSessions(ctx context.Context, appName, userID string) ([]Session, error) {
	query := `
		SELECT app_name, user_id, session_id, tenant_id, agent_name, model_used, session_status, create_time, update_time
		FROM sessions
		WHERE app_name = $1 AND user_id = $2
		ORDER BY update_time DESC
	`

	rows, err := r.db.QueryContext(ctx, query, appName, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var s Session
		var agentName, modelUsed sql.NullString
		if err := rows.Scan(
			&s.AppName, &s.UserID, &s.SessionID, &s.TenantID,
			&agentName, &modelUsed, &s.Status, &s.CreateTime, &s.UpdateTime,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.AgentName = agentName.String
		s.ModelUsed = modelUsed.String
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// UpdateStatus updates a session's lifecycle status
func (r *PostgresRepository) UpdateStatus(ctx context.Context, key Key, status SessionStatus) error {
	query := `
		UPDATE sessions SET session_status = $4, update_time = $5
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3
	`

	result, err := r.db.ExecContext(ctx, query,
		key.AppName, key.UserID, key.SessionID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// DeleteSession hard-deletes a session. State and events cascade away; usage
// records deliberately remain (they are cascaded by tenant deletion only).
func (r *PostgresRepository) DeleteSession(ctx context.Context, key Key) error {
	query := `DELETE FROM sessions WHERE app_name = $1 AND user_id = $2 AND session_id = $3`

	result, err := r.db.ExecContext(ctx, query, key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// AppendEvent appends an event to a session's log in a single transaction.
// The parent session row is locked FOR UPDATE so concurrent appends to the
// same session serialize on sequence assignment; appends to different
// sessions never contend. Re-appending an event_id that already exists
// returns the stored event without assigning a new sequence.
func (r *PostgresRepository) AppendEvent(ctx context.Context, key Key, event *Event) (*Event, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status SessionStatus
	err = tx.QueryRowContext(ctx, `
		SELECT session_status FROM sessions
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3
		FOR UPDATE
	`, key.AppName, key.UserID, key.SessionID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	if status == StatusDeleted {
		return nil, ErrSessionNotActive
	}

	// Idempotent re-append: an existing event_id returns the stored event.
	existing, err := scanEventRow(tx.QueryRowContext(ctx, selectEventQuery+`
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3 AND event_id = $4
	`, key.AppName, key.UserID, key.SessionID, event.EventID))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check existing event: %w", err)
	}
	if err == nil {
		existing.Key = key
		return existing, tx.Commit()
	}

	var nextSeq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_events
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3
	`, key.AppName, key.UserID, key.SessionID).Scan(&nextSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to assign sequence number: %w", err)
	}

	now := time.Now().UTC()
	stored := *event
	stored.Key = key
	stored.SequenceNum = nextSeq
	stored.CreatedAt = now
	if stored.TotalTokens == 0 {
		stored.TotalTokens = stored.InputTokens + stored.OutputTokens
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO session_events (
			app_name, user_id, session_id, event_id, sequence_num, author,
			event_type, content, model_used, input_tokens, output_tokens,
			total_tokens, latency_ms, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`,
		key.AppName, key.UserID, key.SessionID, stored.EventID, stored.SequenceNum,
		nullString(stored.Author), stored.Type, nullString(stored.Content),
		nullString(stored.ModelUsed), stored.InputTokens, stored.OutputTokens,
		stored.TotalTokens, stored.LatencyMS, nullString(stored.ErrorMessage), now,
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	for stateKey, value := range event.StateDelta {
		if IsTempKey(stateKey) {
			continue
		}
		if err := upsertStateTx(ctx, tx, key, stateKey, value, stored.Author, now); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET update_time = $4
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3
	`, key.AppName, key.UserID, key.SessionID, now); err != nil {
		return nil, fmt.Errorf("failed to bump session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit event append: %w", err)
	}

	return &stored, nil
}

const selectEventQuery = `
	SELECT id, event_id, sequence_num, author, event_type, content, model_used,
		   input_tokens, output_tokens, total_tokens, latency_ms, error_message, created_at
	FROM session_events
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEventRow(row rowScanner) (*Event, error) {
	var e Event
	var author, content, modelUsed, errorMessage sql.NullString

	err := row.Scan(
		&e.ID, &e.EventID, &e.SequenceNum, &author, &e.Type, &content,
		&modelUsed, &e.InputTokens, &e.OutputTokens, &e.TotalTokens,
		&e.LatencyMS, &errorMessage, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Author = author.String
	e.Content = content.String
	e.ModelUsed = modelUsed.String
	e.ErrorMessage = errorMessage.String

	return &e, nil
}

// ListEvents returns events in ascending sequence order. Keyset pagination
// via afterSeq makes consumption restartable without server-side cursors.
func (r *PostgresRepository) ListEvents(ctx context.Context, key Key, afterSeq int64, limit int) ([]Event, error) {
	query := selectEventQuery + `
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3 AND sequence_num > $4
		ORDER BY sequence_num ASC
	`
	args := []interface{}{key.AppName, key.UserID, key.SessionID, afterSeq}
	if limit > 0 {
		query += ` LIMIT $5`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Key = key
		events = append(events, *event)
	}

	return events, rows.Err()
}

// ListRecentEvents returns the most recent limit events in ascending order.
// Selection is by descending sequence, re-sorted ascending for the caller.
func (r *PostgresRepository) ListRecentEvents(ctx context.Context, key Key, limit int) ([]Event, error) {
	query := `
		SELECT * FROM (` + selectEventQuery + `
			WHERE app_name = $1 AND user_id = $2 AND session_id = $3
			ORDER BY sequence_num DESC
			LIMIT $4
		) recent ORDER BY sequence_num ASC
	`

	rows, err := r.db.QueryContext(ctx, query, key.AppName, key.UserID, key.SessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Key = key
		events = append(events, *event)
	}

	return events, rows.Err()
}

// GetState returns the full state map for a session
func (r *PostgresRepository) GetState(ctx context.Context, key Key) (map[string]string, error) {
	query := `
		SELECT state_key, state_value FROM session_state
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3
	`

	rows, err := r.db.QueryContext(ctx, query, key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	state := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan state entry: %w", err)
		}
		state[k] = v
	}

	return state, rows.Err()
}

// UpsertState applies a state delta with per-key last-writer-wins semantics
// and bumps the session timestamp. Keys with the temp: prefix are skipped.
func (r *PostgresRepository) UpsertState(ctx context.Context, key Key, delta map[string]string, updatedBy string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for stateKey, value := range delta {
		if IsTempKey(stateKey) {
			continue
		}
		if err := upsertStateTx(ctx, tx, key, stateKey, value, updatedBy, now); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE sessions SET update_time = $4
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3
	`, key.AppName, key.UserID, key.SessionID, now)
	if err != nil {
		return fmt.Errorf("failed to bump session timestamp: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}

	return tx.Commit()
}

func upsertStateTx(ctx context.Context, tx *sql.Tx, key Key, stateKey, value, updatedBy string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO session_state (app_name, user_id, session_id, state_key, state_value, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (app_name, user_id, session_id, state_key) DO UPDATE SET
			state_value = EXCLUDED.state_value,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, key.AppName, key.UserID, key.SessionID, stateKey, value, nullString(updatedBy), now)
	if err != nil {
		if strings.Contains(err.Error(), "violates foreign key") {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to upsert state key %q: %w", stateKey, err)
	}
	return nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// nullString converts empty strings to NULL for database storage
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
