// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package feedback

import (
	"context"
)

// Repository defines the interface for feedback and evaluation persistence
type Repository interface {
	// AddFeedback inserts a rating; a second rating by the same user for
	// the same event is ErrDuplicateFeedback and the original row is kept
	AddFeedback(ctx context.Context, f *Feedback) error
	ListFeedback(ctx context.Context, filter FeedbackFilter) ([]Feedback, error)

	// UpsertScore inserts or replaces the score for
	// (event_id, metric_name, evaluator); re-evaluation keeps the new score
	UpsertScore(ctx context.Context, s *EvaluationScore) error
	ListScores(ctx context.Context, filter ScoreFilter) ([]EvaluationScore, error)

	// Utility
	Ping(ctx context.Context) error
}
