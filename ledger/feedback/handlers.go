// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package feedback

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// Handler provides HTTP handlers for feedback and evaluation APIs
type Handler struct {
	service *Service
}

// NewHandler creates a new feedback handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers feedback routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/feedback", h.AddFeedback).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/feedback", h.ListFeedback).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/evaluations", h.UpsertScore).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/evaluations", h.ListScores).Methods("GET", "OPTIONS")
}

// AddFeedback handles POST /api/v1/feedback
func (h *Handler) AddFeedback(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var f Feedback
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	stored, err := h.service.AddFeedback(r.Context(), &f)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateFeedback):
			h.writeError(w, "Feedback already recorded for this event", http.StatusConflict)
		case errors.Is(err, ErrTenantNotFound):
			h.writeError(w, "Tenant not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidRating):
			h.writeError(w, "rating must be -1, 0 or 1", http.StatusBadRequest)
		case errors.Is(err, ErrInvalidInput):
			h.writeError(w, "tenant_id, user_id and event_id are required", http.StatusBadRequest)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(stored)
}

// ListFeedback handles GET /api/v1/feedback
func (h *Handler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	query := r.URL.Query()
	filter := FeedbackFilter{
		TenantID:  query.Get("tenant_id"),
		UserID:    query.Get("user_id"),
		SessionID: query.Get("session_id"),
		EventID:   query.Get("event_id"),
	}
	if l := query.Get("limit"); l != "" {
		filter.Limit, _ = strconv.Atoi(l)
	}

	feedbacks, err := h.service.ListFeedback(r.Context(), filter)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"feedback": feedbacks,
		"count":    len(feedbacks),
	})
}

// UpsertScore handles POST /api/v1/evaluations
func (h *Handler) UpsertScore(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var score EvaluationScore
	if err := json.NewDecoder(r.Body).Decode(&score); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	stored, err := h.service.UpsertScore(r.Context(), &score)
	if err != nil {
		switch {
		case errors.Is(err, ErrTenantNotFound):
			h.writeError(w, "Tenant not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidScore):
			h.writeError(w, "score must be between 0 and 1", http.StatusBadRequest)
		case errors.Is(err, ErrInvalidEvalType), errors.Is(err, ErrInvalidInput):
			h.writeError(w, "tenant_id, event_id and metric_name are required", http.StatusBadRequest)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(stored)
}

// ListScores handles GET /api/v1/evaluations
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	query := r.URL.Query()
	filter := ScoreFilter{
		TenantID:   query.Get("tenant_id"),
		SessionID:  query.Get("session_id"),
		EventID:    query.Get("event_id"),
		MetricName: query.Get("metric_name"),
		Evaluator:  query.Get("evaluator"),
	}
	if l := query.Get("limit"); l != "" {
		filter.Limit, _ = strconv.Atoi(l)
	}

	scores, err := h.service.ListScores(r.Context(), filter)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"scores": scores,
		"count":  len(scores),
	})
}

func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-ID, X-User-ID, Authorization")
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
