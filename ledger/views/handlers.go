// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package views

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// Handler provides HTTP handlers for the aggregation views
type Handler struct {
	service *Service
}

// NewHandler creates a new views handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers view routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/views/usage/daily", h.DailyUsage).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/views/models/performance", h.ModelPerformance).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/views/quality/summary", h.QualitySummary).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/views/evaluations/history", h.EvaluationHistory).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/views/tenant/dashboard", h.TenantDashboard).Methods("GET", "OPTIONS")
}

func queryDays(r *http.Request) int {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	return days
}

// DailyUsage handles GET /api/v1/views/usage/daily?tenant_id=&days=
func (h *Handler) DailyUsage(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		h.writeError(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	rows, err := h.service.TenantDailyUsage(r.Context(), tenantID, queryDays(r))
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeRows(w, "days", rows, len(rows))
}

// ModelPerformance handles GET /api/v1/views/models/performance?days=
func (h *Handler) ModelPerformance(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	rows, err := h.service.ModelPerformance(r.Context(), queryDays(r))
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeRows(w, "models", rows, len(rows))
}

// QualitySummary handles GET /api/v1/views/quality/summary?tenant_id=&days=
func (h *Handler) QualitySummary(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	rows, err := h.service.QualitySummary(r.Context(), r.URL.Query().Get("tenant_id"), queryDays(r))
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeRows(w, "metrics", rows, len(rows))
}

// EvaluationHistory handles GET /api/v1/views/evaluations/history?days=
func (h *Handler) EvaluationHistory(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	rows, err := h.service.EvaluationHistory(r.Context(), queryDays(r))
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeRows(w, "history", rows, len(rows))
}

// TenantDashboard handles GET /api/v1/views/tenant/dashboard
func (h *Handler) TenantDashboard(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	rows, err := h.service.TenantDashboard(r.Context())
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeRows(w, "tenants", rows, len(rows))
}

func (h *Handler) writeRows(w http.ResponseWriter, key string, rows interface{}, count int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		key:     rows,
		"count": count,
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
