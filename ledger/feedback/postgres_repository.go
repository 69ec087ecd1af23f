// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// AddFeedback inserts a feedback row. The UNIQUE (user_id, event_id)
// constraint enforces one rating per user per event; a conflict keeps the
// original row.
func (r *PostgresRepository) AddFeedback(ctx context.Context, f *Feedback) error {
	query := `
		INSERT INTO user_feedback (tenant_id, user_id, session_id, event_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		f.TenantID, f.UserID, nullString(f.SessionID), f.EventID,
		f.Rating, nullString(f.Comment), f.CreatedAt,
	).Scan(&f.ID)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateFeedback
		}
		if strings.Contains(err.Error(), "violates foreign key") {
			return ErrTenantNotFound
		}
		return fmt.Errorf("failed to add feedback: %w", err)
	}

	return nil
}

// ListFeedback lists feedback matching the filter, newest first
func (r *PostgresRepository) ListFeedback(ctx context.Context, filter FeedbackFilter) ([]Feedback, error) {
	query := `
		SELECT id, tenant_id, user_id, session_id, event_id, rating, comment, created_at
		FROM user_feedback WHERE 1=1
	`
	var args []interface{}
	argNum := 1

	addFilter := func(column, value string) {
		if value != "" {
			query += fmt.Sprintf(" AND %s = $%d", column, argNum)
			args = append(args, value)
			argNum++
		}
	}
	addFilter("tenant_id", filter.TenantID)
	addFilter("user_id", filter.UserID)
	addFilter("session_id", filter.SessionID)
	addFilter("event_id", filter.EventID)

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feedbacks []Feedback
	for rows.Next() {
		var f Feedback
		var sessionID, comment sql.NullString
		if err := rows.Scan(&f.ID, &f.TenantID, &f.UserID, &sessionID, &f.EventID,
			&f.Rating, &comment, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		f.SessionID = sessionID.String
		f.Comment = comment.String
		feedbacks = append(feedbacks, f)
	}

	return feedbacks, rows.Err()
}

// UpsertScore inserts or replaces the score for (event_id, metric_name,
// evaluator). Re-evaluation keeps the second score.
func (r *PostgresRepository) UpsertScore(ctx context.Context, s *EvaluationScore) error {
	query := `
		INSERT INTO evaluation_scores (
			tenant_id, session_id, event_id, metric_name, score,
			evaluator, eval_type, reasoning, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (event_id, metric_name, evaluator) DO UPDATE SET
			score = EXCLUDED.score,
			eval_type = EXCLUDED.eval_type,
			reasoning = EXCLUDED.reasoning,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		s.TenantID, nullString(s.SessionID), s.EventID, s.MetricName, s.Score,
		s.Evaluator, s.EvalType, nullString(s.Reasoning), s.UpdatedAt,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "violates foreign key") {
			return ErrTenantNotFound
		}
		return fmt.Errorf("failed to upsert evaluation score: %w", err)
	}

	return nil
}

// ListScores lists evaluation scores matching the filter, newest first
func (r *PostgresRepository) ListScores(ctx context.Context, filter ScoreFilter) ([]EvaluationScore, error) {
	query := `
		SELECT id, tenant_id, session_id, event_id, metric_name, score,
			   evaluator, eval_type, reasoning, created_at, updated_at
		FROM evaluation_scores WHERE 1=1
	`
	var args []interface{}
	argNum := 1

	addFilter := func(column, value string) {
		if value != "" {
			query += fmt.Sprintf(" AND %s = $%d", column, argNum)
			args = append(args, value)
			argNum++
		}
	}
	addFilter("tenant_id", filter.TenantID)
	addFilter("session_id", filter.SessionID)
	addFilter("event_id", filter.EventID)
	addFilter("metric_name", filter.MetricName)
	addFilter("evaluator", filter.Evaluator)

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluation scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scores []EvaluationScore
	for rows.Next() {
		var s EvaluationScore
		var sessionID, reasoning sql.NullString
		if err := rows.Scan(&s.ID, &s.TenantID, &sessionID, &s.EventID, &s.MetricName,
			&s.Score, &s.Evaluator, &s.EvalType, &reasoning, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation score: %w", err)
		}
		s.SessionID = sessionID.String
		s.Reasoning = reasoning.String
		scores = append(scores, s)
	}

	return scores, rows.Err()
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
