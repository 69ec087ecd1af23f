// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package feedback

import "errors"

var (
	// ErrDuplicateFeedback is returned when a user has already rated an event
	ErrDuplicateFeedback = errors.New("feedback already exists for this user and event")

	// ErrFeedbackNotFound is returned when feedback is not found
	ErrFeedbackNotFound = errors.New("feedback not found")

	// ErrTenantNotFound is returned when the owning tenant is absent
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrInvalidRating is returned for a rating outside {-1, 0, 1}
	ErrInvalidRating = errors.New("rating must be -1, 0 or 1")

	// ErrInvalidScore is returned for a score outside [0, 1]
	ErrInvalidScore = errors.New("score must be between 0 and 1")

	// ErrInvalidEvalType is returned for an unknown evaluation type
	ErrInvalidEvalType = errors.New("invalid evaluation type")

	// ErrInvalidInput is returned for general invalid input
	ErrInvalidInput = errors.New("invalid input")
)
