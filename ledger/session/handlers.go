// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// Handler provides HTTP handlers for session management APIs
type Handler struct {
	service *Service
}

// NewHandler creates a new session handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers session routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	base := "/api/v1/apps/{app_name}/users/{user_id}/sessions"
	r.HandleFunc(base, h.ListSessions).Methods("GET", "OPTIONS")
	r.HandleFunc(base+"/{session_id}", h.CreateSession).Methods("POST", "OPTIONS")
	r.HandleFunc(base+"/{session_id}", h.GetSession).Methods("GET", "OPTIONS")
	r.HandleFunc(base+"/{session_id}", h.DeleteSession).Methods("DELETE", "OPTIONS")
	r.HandleFunc(base+"/{session_id}/status", h.UpdateStatus).Methods("PUT", "OPTIONS")
	r.HandleFunc(base+"/{session_id}/events", h.AppendEvent).Methods("POST", "OPTIONS")
	r.HandleFunc(base+"/{session_id}/events", h.ListEvents).Methods("GET", "OPTIONS")
	r.HandleFunc(base+"/{session_id}/state", h.GetState).Methods("GET", "OPTIONS")
	r.HandleFunc(base+"/{session_id}/state", h.PatchState).Methods("PATCH", "PUT", "OPTIONS")
}

func keyFromVars(r *http.Request) Key {
	vars := mux.Vars(r)
	return Key{
		AppName:   vars["app_name"],
		UserID:    vars["user_id"],
		SessionID: vars["session_id"],
	}
}

// CreateSessionRequest is the request body for creating a session
type CreateSessionRequest struct {
	TenantID     string            `json:"tenant_id"`
	AgentName    string            `json:"agent_name,omitempty"`
	ModelUsed    string            `json:"model_used,omitempty"`
	InitialState map[string]string `json:"initial_state,omitempty"`
}

// CreateSession handles POST .../sessions/{session_id}
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := h.service.Create(r.Context(), CreateRequest{
		Key:          keyFromVars(r),
		TenantID:     req.TenantID,
		AgentName:    req.AgentName,
		ModelUsed:    req.ModelUsed,
		InitialState: req.InitialState,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionExists):
			h.writeError(w, "Session already exists", http.StatusConflict)
		case errors.Is(err, ErrTenantNotFound):
			h.writeError(w, "Tenant not found", http.StatusNotFound)
		case errors.Is(err, ErrTenantNotActive):
			h.writeError(w, "Tenant is not active", http.StatusForbidden)
		case errors.Is(err, ErrSessionQuotaExceeded):
			h.writeError(w, "Monthly session limit reached", http.StatusTooManyRequests)
		case errors.Is(err, ErrInvalidInput):
			h.writeError(w, "app_name, user_id, session_id and tenant_id are required", http.StatusBadRequest)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(sess)
}

// GetSession handles GET .../sessions/{session_id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	query := r.URL.Query()
	opts := GetOptions{}
	if n := query.Get("num_recent_events"); n != "" {
		opts.NumRecentEvents, _ = strconv.Atoi(n)
	}
	if after := query.Get("after_sequence"); after != "" {
		opts.AfterSequence, _ = strconv.ParseInt(after, 10, 64)
	}

	sess, err := h.service.Get(r.Context(), keyFromVars(r), opts)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			h.writeError(w, "Session not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sess)
}

// ListSessions handles GET .../sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	vars := mux.Vars(r)
	sessions, err := h.service.List(r.Context(), vars["app_name"], vars["user_id"])
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// UpdateStatusRequest is the request body for a session status transition
type UpdateStatusRequest struct {
	Status SessionStatus `json:"status"`
}

// UpdateStatus handles PUT .../sessions/{session_id}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateStatus(r.Context(), keyFromVars(r), req.Status); err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			h.writeError(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidStatus):
			h.writeError(w, "Unknown session status", http.StatusBadRequest)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": string(req.Status)})
}

// DeleteSession handles DELETE .../sessions/{session_id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.service.Delete(r.Context(), keyFromVars(r)); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			h.writeError(w, "Session not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AppendEvent handles POST .../sessions/{session_id}/events
func (h *Handler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var event Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	stored, err := h.service.AppendEvent(r.Context(), keyFromVars(r), &event)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			h.writeError(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, ErrSessionNotActive):
			h.writeError(w, "Session is deleted", http.StatusConflict)
		case errors.Is(err, ErrInvalidEventType):
			h.writeError(w, "Unknown event type", http.StatusBadRequest)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(stored)
}

// ListEvents handles GET .../sessions/{session_id}/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	query := r.URL.Query()
	var afterSeq int64
	var limit int
	if after := query.Get("after_sequence"); after != "" {
		afterSeq, _ = strconv.ParseInt(after, 10, 64)
	}
	if l := query.Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}

	events, err := h.service.ListEvents(r.Context(), keyFromVars(r), afterSeq, limit)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// GetState handles GET .../sessions/{session_id}/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	state, err := h.service.GetState(r.Context(), keyFromVars(r))
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(state)
}

// PatchStateRequest is the request body for a state patch
type PatchStateRequest struct {
	Delta     map[string]string `json:"delta"`
	UpdatedBy string            `json:"updated_by,omitempty"`
}

// PatchState handles PATCH .../sessions/{session_id}/state
func (h *Handler) PatchState(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req PatchStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.PatchState(r.Context(), keyFromVars(r), req.Delta, req.UpdatedBy); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			h.writeError(w, "Session not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"applied": len(req.Delta)})
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
