// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package feedback

import (
	"context"
	"time"

	"agentledger/platform/ledger/audit"
	"agentledger/platform/shared/logger"
)

// Service provides feedback and evaluation score intake
type Service struct {
	repo    Repository
	auditor *audit.Recorder
	logger  *logger.Logger
}

// NewService creates a new feedback service
func NewService(repo Repository, auditor *audit.Recorder) *Service {
	if auditor == nil {
		auditor = audit.NewRecorder(nil)
	}
	return &Service{
		repo:    repo,
		auditor: auditor,
		logger:  logger.New("feedback"),
	}
}

// AddFeedback records a user's rating of an event. Each user rates an event
// at most once; a repeat is ErrDuplicateFeedback and the original stands.
func (s *Service) AddFeedback(ctx context.Context, f *Feedback) (*Feedback, error) {
	if f == nil {
		return nil, ErrInvalidInput
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.AddFeedback(ctx, f); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		TenantID:     audit.TenantRef(f.TenantID),
		UserID:       f.UserID,
		Action:       audit.ActionFeedbackAdded,
		ResourceType: "feedback",
		ResourceID:   f.EventID,
		Details:      map[string]interface{}{"rating": f.Rating},
	})

	return f, nil
}

// ListFeedback lists feedback matching the filter
func (s *Service) ListFeedback(ctx context.Context, filter FeedbackFilter) ([]Feedback, error) {
	return s.repo.ListFeedback(ctx, filter)
}

// UpsertScore records an evaluation score for an event metric. Re-running an
// evaluator replaces its previous score for the same event and metric.
func (s *Service) UpsertScore(ctx context.Context, score *EvaluationScore) (*EvaluationScore, error) {
	if score == nil {
		return nil, ErrInvalidInput
	}
	if err := score.Validate(); err != nil {
		return nil, err
	}
	score.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpsertScore(ctx, score); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		TenantID:     audit.TenantRef(score.TenantID),
		Action:       audit.ActionEvaluationRecorded,
		ResourceType: "evaluation",
		ResourceID:   score.EventID,
		Details: map[string]interface{}{
			"metric_name": score.MetricName,
			"score":       score.Score,
			"evaluator":   score.Evaluator,
		},
	})

	return score, nil
}

// ListScores lists evaluation scores matching the filter
func (s *Service) ListScores(ctx context.Context, filter ScoreFilter) ([]EvaluationScore, error) {
	return s.repo.ListScores(ctx, filter)
}

// IsHealthy checks if the feedback store can reach its database
func (s *Service) IsHealthy(ctx context.Context) bool {
	return s.repo.Ping(ctx) == nil
}
