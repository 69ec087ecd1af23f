// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package feedback

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRepository is an in-memory Repository for testing
type MockRepository struct {
	mu       sync.Mutex
	feedback []Feedback
	scores   []EvaluationScore
	nextID   int64
}

func NewMockRepository() *MockRepository {
	return &MockRepository{}
}

func (m *MockRepository) AddFeedback(ctx context.Context, f *Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.feedback {
		if existing.UserID == f.UserID && existing.EventID == f.EventID {
			return ErrDuplicateFeedback
		}
	}
	m.nextID++
	f.ID = m.nextID
	m.feedback = append(m.feedback, *f)
	return nil
}

func (m *MockRepository) ListFeedback(ctx context.Context, filter FeedbackFilter) ([]Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Feedback
	for _, f := range m.feedback {
		if filter.TenantID != "" && f.TenantID != filter.TenantID {
			continue
		}
		if filter.UserID != "" && f.UserID != filter.UserID {
			continue
		}
		if filter.SessionID != "" && f.SessionID != filter.SessionID {
			continue
		}
		if filter.EventID != "" && f.EventID != filter.EventID {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (m *MockRepository) UpsertScore(ctx context.Context, s *EvaluationScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.scores {
		if m.scores[i].EventID == s.EventID &&
			m.scores[i].MetricName == s.MetricName &&
			m.scores[i].Evaluator == s.Evaluator {
			s.ID = m.scores[i].ID
			s.CreatedAt = m.scores[i].CreatedAt
			m.scores[i] = *s
			return nil
		}
	}
	m.nextID++
	s.ID = m.nextID
	s.CreatedAt = s.UpdatedAt
	m.scores = append(m.scores, *s)
	return nil
}

func (m *MockRepository) ListScores(ctx context.Context, filter ScoreFilter) ([]EvaluationScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EvaluationScore
	for _, s := range m.scores {
		if filter.TenantID != "" && s.TenantID != filter.TenantID {
			continue
		}
		if filter.SessionID != "" && s.SessionID != filter.SessionID {
			continue
		}
		if filter.EventID != "" && s.EventID != filter.EventID {
			continue
		}
		if filter.MetricName != "" && s.MetricName != filter.MetricName {
			continue
		}
		if filter.Evaluator != "" && s.Evaluator != filter.Evaluator {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MockRepository) Ping(ctx context.Context) error { return nil }

func validFeedback() *Feedback {
	return &Feedback{
		TenantID:  "tenant-1",
		UserID:    "user-1",
		SessionID: "sess-1",
		EventID:   "evt-1",
		Rating:    1,
		Comment:   "helpful answer",
	}
}

func TestAddFeedback(t *testing.T) {
	service := NewService(NewMockRepository(), nil)

	stored, err := service.AddFeedback(context.Background(), validFeedback())
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestAddFeedbackDuplicate(t *testing.T) {
	service := NewService(NewMockRepository(), nil)

	first, err := service.AddFeedback(context.Background(), validFeedback())
	require.NoError(t, err)

	// Second rating by the same user for the same event conflicts
	repeat := validFeedback()
	repeat.Rating = -1
	_, err = service.AddFeedback(context.Background(), repeat)
	assert.ErrorIs(t, err, ErrDuplicateFeedback)

	// The original rating is kept
	listed, err := service.ListFeedback(context.Background(), FeedbackFilter{EventID: "evt-1"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, first.Rating, listed[0].Rating)

	// A different user may rate the same event
	other := validFeedback()
	other.UserID = "user-2"
	_, err = service.AddFeedback(context.Background(), other)
	assert.NoError(t, err)
}

func TestAddFeedbackValidation(t *testing.T) {
	service := NewService(NewMockRepository(), nil)

	outOfRange := validFeedback()
	outOfRange.Rating = 2
	_, err := service.AddFeedback(context.Background(), outOfRange)
	assert.ErrorIs(t, err, ErrInvalidRating)

	missing := validFeedback()
	missing.EventID = ""
	_, err = service.AddFeedback(context.Background(), missing)
	assert.ErrorIs(t, err, ErrInvalidInput)

	for _, rating := range []int{-1, 0, 1} {
		f := validFeedback()
		f.UserID = "user-rating"
		f.EventID = "evt-" + string(rune('a'+rating+1))
		f.Rating = rating
		_, err := service.AddFeedback(context.Background(), f)
		assert.NoError(t, err)
	}
}

func TestUpsertScoreKeepsSecond(t *testing.T) {
	service := NewService(NewMockRepository(), nil)

	first := &EvaluationScore{
		TenantID:   "tenant-1",
		EventID:    "evt-1",
		MetricName: MetricAnswerCorrectness,
		Score:      0.55,
		Evaluator:  DefaultEvaluator,
	}
	stored, err := service.UpsertScore(context.Background(), first)
	require.NoError(t, err)
	assert.False(t, stored.Passed())

	// Re-evaluation replaces the stored score
	second := &EvaluationScore{
		TenantID:   "tenant-1",
		EventID:    "evt-1",
		MetricName: MetricAnswerCorrectness,
		Score:      0.85,
		Evaluator:  DefaultEvaluator,
	}
	replaced, err := service.UpsertScore(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, replaced.ID)
	assert.True(t, replaced.Passed())

	scores, err := service.ListScores(context.Background(), ScoreFilter{EventID: "evt-1"})
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, 0.85, scores[0].Score)
}

func TestUpsertScoreDistinctEvaluators(t *testing.T) {
	service := NewService(NewMockRepository(), nil)

	base := EvaluationScore{
		TenantID:   "tenant-1",
		EventID:    "evt-1",
		MetricName: MetricSafety,
		Score:      0.9,
	}

	automated := base
	_, err := service.UpsertScore(context.Background(), &automated)
	require.NoError(t, err)
	assert.Equal(t, DefaultEvaluator, automated.Evaluator)
	assert.Equal(t, EvalAutomated, automated.EvalType)

	human := base
	human.Evaluator = "reviewer-jane"
	human.EvalType = EvalHuman
	human.Score = 0.6
	_, err = service.UpsertScore(context.Background(), &human)
	require.NoError(t, err)

	scores, err := service.ListScores(context.Background(), ScoreFilter{EventID: "evt-1"})
	require.NoError(t, err)
	assert.Len(t, scores, 2)
}

func TestUpsertScoreValidation(t *testing.T) {
	service := NewService(NewMockRepository(), nil)

	tooHigh := &EvaluationScore{TenantID: "tenant-1", EventID: "evt-1", MetricName: MetricSafety, Score: 1.1}
	_, err := service.UpsertScore(context.Background(), tooHigh)
	assert.ErrorIs(t, err, ErrInvalidScore)

	noMetric := &EvaluationScore{TenantID: "tenant-1", EventID: "evt-1", Score: 0.5}
	_, err = service.UpsertScore(context.Background(), noMetric)
	assert.ErrorIs(t, err, ErrInvalidInput)

	badType := &EvaluationScore{TenantID: "tenant-1", EventID: "evt-1", MetricName: MetricSafety, Score: 0.5, EvalType: "psychic"}
	_, err = service.UpsertScore(context.Background(), badType)
	assert.ErrorIs(t, err, ErrInvalidEvalType)
}

func TestScoreRounding(t *testing.T) {
	service := NewService(NewMockRepository(), nil)

	score := &EvaluationScore{
		TenantID:   "tenant-1",
		EventID:    "evt-1",
		MetricName: MetricFaithfulness,
		Score:      0.123456789,
	}
	stored, err := service.UpsertScore(context.Background(), score)
	require.NoError(t, err)
	assert.Equal(t, 0.1235, stored.Score)
}
