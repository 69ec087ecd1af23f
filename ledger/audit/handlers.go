// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// Handler provides HTTP handlers for audit log queries
type Handler struct {
	recorder *Recorder
}

// NewHandler creates a new audit handler
func NewHandler(recorder *Recorder) *Handler {
	return &Handler{recorder: recorder}
}

// RegisterRoutes registers audit routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/audit", h.SearchAudit).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/audit/tenant/{tenant_id}", h.TenantHistory).Methods("GET", "OPTIONS")
}

// SearchAudit handles GET /api/v1/audit
func (h *Handler) SearchAudit(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	query := r.URL.Query()

	filter := SearchFilter{
		TenantID:     query.Get("tenant_id"),
		UserID:       query.Get("user_id"),
		Action:       query.Get("action"),
		ResourceType: query.Get("resource_type"),
		ResourceID:   query.Get("resource_id"),
	}

	if start := query.Get("start_time"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			h.writeError(w, "Invalid start_time, expected RFC3339", http.StatusBadRequest)
			return
		}
		filter.StartTime = t
	}
	if end := query.Get("end_time"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			h.writeError(w, "Invalid end_time, expected RFC3339", http.StatusBadRequest)
			return
		}
		filter.EndTime = t
	}
	if limit := query.Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}
	if offset := query.Get("offset"); offset != "" {
		filter.Offset, _ = strconv.Atoi(offset)
	}

	entries, err := h.recorder.Search(r.Context(), filter)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// TenantHistory handles GET /api/v1/audit/tenant/{tenant_id}
func (h *Handler) TenantHistory(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	vars := mux.Vars(r)
	filter := SearchFilter{TenantID: vars["tenant_id"]}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}

	entries, err := h.recorder.Search(r.Context(), filter)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"tenant_id": vars["tenant_id"],
		"entries":   entries,
		"count":     len(entries),
	})
}

// setCORSHeaders sets CORS headers on all responses (not just OPTIONS)
func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
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
