// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package quota

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// Handler provides HTTP handlers for usage accounting and admission APIs
type Handler struct {
	service *Service
}

// NewHandler creates a new quota handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers quota routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/usage/record", h.RecordUsage).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/usage/admission/check", h.CheckAdmission).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/usage/admission/admit", h.AdmitAndCount).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/tenants/{tenant_id}/quota", h.GetQuota).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/tenants/{tenant_id}/quota", h.UpdateQuota).Methods("PUT", "OPTIONS")
	r.HandleFunc("/api/v1/tenants/{tenant_id}/usage", h.GetUsage).Methods("GET", "OPTIONS")
}

// RecordUsageRequest is the request body for recording usage. Cost may be
// supplied directly in micro-cents or left at zero to be derived from the
// pricing table.
type RecordUsageRequest struct {
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	EventID        string `json:"event_id,omitempty"`
	AppName        string `json:"app_name,omitempty"`
	ModelUsed      string `json:"model_used,omitempty"`
	InputTokens    int64  `json:"input_tokens"`
	OutputTokens   int64  `json:"output_tokens"`
	CostMicroCents int64  `json:"cost_microcents,omitempty"`
	LatencyMS      int64  `json:"latency_ms,omitempty"`
	ErrorOccurred  bool   `json:"error_occurred,omitempty"`
	ErrorType      string `json:"error_type,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// RecordUsage handles POST /api/v1/usage/record
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req RecordUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	record := NewUsageRecord(req.TenantID)
	record.UserID = req.UserID
	record.SessionID = req.SessionID
	record.EventID = req.EventID
	record.AppName = req.AppName
	record.ModelUsed = req.ModelUsed
	record.InputTokens = req.InputTokens
	record.OutputTokens = req.OutputTokens
	record.CostMicroCents = req.CostMicroCents
	record.LatencyMS = req.LatencyMS
	record.ErrorOccurred = req.ErrorOccurred
	record.ErrorType = req.ErrorType
	record.IdempotencyKey = req.IdempotencyKey

	stored, err := h.service.RecordUsage(r.Context(), record)
	if err != nil {
		switch {
		case errors.Is(err, ErrQuotaNotFound):
			h.writeError(w, "Tenant quota not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidInput):
			h.writeError(w, "tenant_id is required and token counts must be non-negative", http.StatusBadRequest)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(stored)
}

// AdmissionRequest is the request body for admission endpoints
type AdmissionRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`
}

// CheckAdmission handles POST /api/v1/usage/admission/check. A denial is a
// 200 with allowed=false; only malformed input or backend failure is an error.
func (h *Handler) CheckAdmission(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req AdmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	decision, err := h.service.CheckAdmission(r.Context(), req.TenantID, req.UserID)
	if err != nil {
		h.writeAdmissionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(decision)
}

// AdmitAndCount handles POST /api/v1/usage/admission/admit. Denials are 429
// with the decision payload.
func (h *Handler) AdmitAndCount(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req AdmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	decision, err := h.service.AdmitAndCount(r.Context(), req.TenantID, req.UserID)
	if err != nil {
		h.writeAdmissionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !decision.Allowed {
		w.WriteHeader(http.StatusTooManyRequests)
	}
	_ = json.NewEncoder(w).Encode(decision)
}

func (h *Handler) writeAdmissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTenantNotFound), errors.Is(err, ErrQuotaNotFound):
		h.writeError(w, "Tenant not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidInput):
		h.writeError(w, "tenant_id is required", http.StatusBadRequest)
	default:
		h.writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetQuota handles GET /api/v1/tenants/{tenant_id}/quota
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	quota, err := h.service.GetQuota(r.Context(), mux.Vars(r)["tenant_id"])
	if err != nil {
		if errors.Is(err, ErrQuotaNotFound) {
			h.writeError(w, "Tenant quota not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(quota)
}

// UpdateQuotaRequest is the request body for updating limits. Cost limits
// are dollars at the edge, micro-cents in storage.
type UpdateQuotaRequest struct {
	MonthlyTokenLimit        int64   `json:"monthly_token_limit"`
	MonthlyCostLimitUSD      float64 `json:"monthly_cost_limit_usd"`
	MonthlySessionLimit      int64   `json:"monthly_session_limit"`
	MonthlyRequestLimit      int64   `json:"monthly_request_limit"`
	RequestsPerMinute        int64   `json:"requests_per_minute"`
	RequestsPerDay           int64   `json:"requests_per_day"`
	PerUserDailyTokenLimit   int64   `json:"per_user_daily_token_limit"`
	PerUserDailyRequestLimit int64   `json:"per_user_daily_request_limit"`
}

// UpdateQuota handles PUT /api/v1/tenants/{tenant_id}/quota
func (h *Handler) UpdateQuota(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req UpdateQuotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	quota := &Quota{
		TenantID:                 mux.Vars(r)["tenant_id"],
		MonthlyTokenLimit:        req.MonthlyTokenLimit,
		MonthlyCostLimitMicro:    USDToMicroCents(req.MonthlyCostLimitUSD),
		MonthlySessionLimit:      req.MonthlySessionLimit,
		MonthlyRequestLimit:      req.MonthlyRequestLimit,
		RequestsPerMinute:        req.RequestsPerMinute,
		RequestsPerDay:           req.RequestsPerDay,
		PerUserDailyTokenLimit:   req.PerUserDailyTokenLimit,
		PerUserDailyRequestLimit: req.PerUserDailyRequestLimit,
	}

	updated, err := h.service.UpdateQuota(r.Context(), quota)
	if err != nil {
		switch {
		case errors.Is(err, ErrQuotaNotFound):
			h.writeError(w, "Tenant quota not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidInput):
			h.writeError(w, "Invalid quota limits", http.StatusBadRequest)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(updated)
}

// GetUsage handles GET /api/v1/tenants/{tenant_id}/usage
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	query := r.URL.Query()
	var from, to time.Time
	var limit int
	if v := query.Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.writeError(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if v := query.Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.writeError(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to = parsed
	}
	if v := query.Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	records, err := h.service.GetUsage(r.Context(), mux.Vars(r)["tenant_id"], from, to, limit)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"records": records,
		"count":   len(records),
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
