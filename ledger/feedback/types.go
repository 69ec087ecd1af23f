// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

// Package feedback provides user feedback and evaluation score intake:
// thumb ratings tied to conversation events and normalized quality scores
// from automated judges or human review.
package feedback

import (
	"math"
	"time"
)

// EvalType distinguishes automated judges from human review
type EvalType string

const (
	EvalAutomated EvalType = "automated"
	EvalHuman     EvalType = "human"
)

// Known metric names. Arbitrary non-empty names are accepted; these are the
// ones the evaluation pipeline emits.
const (
	MetricToolAccuracy      = "tool_accuracy"
	MetricAnswerCorrectness = "answer_correctness"
	MetricSafety            = "safety"
	MetricRoutingAccuracy   = "routing_accuracy"
	MetricFaithfulness      = "faithfulness"
)

// DefaultEvaluator is the evaluator recorded when none is supplied
const DefaultEvaluator = "ollama_judge"

// PassThreshold is the score at or above which an evaluation counts as
// passing in the aggregate views
const PassThreshold = 0.7

// Feedback is one user rating of a conversation event. A user rates an
// event at most once; the first rating wins.
type Feedback struct {
	ID        int64     `json:"id,omitempty"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	EventID   string    `json:"event_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields and the rating range (-1, 0, 1)
func (f *Feedback) Validate() error {
	if f.TenantID == "" || f.UserID == "" || f.EventID == "" {
		return ErrInvalidInput
	}
	if f.Rating < -1 || f.Rating > 1 {
		return ErrInvalidRating
	}
	return nil
}

// EvaluationScore is one metric score for a conversation event. The triple
// (event_id, metric_name, evaluator) is unique; re-evaluation replaces the
// stored score.
type EvaluationScore struct {
	ID         int64     `json:"id,omitempty"`
	TenantID   string    `json:"tenant_id"`
	SessionID  string    `json:"session_id,omitempty"`
	EventID    string    `json:"event_id"`
	MetricName string    `json:"metric_name"`
	Score      float64   `json:"score"`
	Evaluator  string    `json:"evaluator"`
	EvalType   EvalType  `json:"eval_type"`
	Reasoning  string    `json:"reasoning,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks required fields, fills defaults, and normalizes the score
// to four decimal places
func (s *EvaluationScore) Validate() error {
	if s.TenantID == "" || s.EventID == "" || s.MetricName == "" {
		return ErrInvalidInput
	}
	if s.Score < 0 || s.Score > 1 {
		return ErrInvalidScore
	}
	if s.Evaluator == "" {
		s.Evaluator = DefaultEvaluator
	}
	if s.EvalType == "" {
		s.EvalType = EvalAutomated
	}
	if s.EvalType != EvalAutomated && s.EvalType != EvalHuman {
		return ErrInvalidEvalType
	}
	s.Score = RoundScore(s.Score)
	return nil
}

// Passed reports whether the score meets the pass threshold
func (s *EvaluationScore) Passed() bool {
	return s.Score >= PassThreshold
}

// RoundScore rounds a score to four decimal places, matching the
// NUMERIC(5,4) storage precision
func RoundScore(score float64) float64 {
	return math.Round(score*10000) / 10000
}

// FeedbackFilter narrows feedback listings
type FeedbackFilter struct {
	TenantID  string `json:"tenant_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ScoreFilter narrows evaluation score listings
type ScoreFilter struct {
	TenantID   string `json:"tenant_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	MetricName string `json:"metric_name,omitempty"`
	Evaluator  string `json:"evaluator,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
