// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// Handler provides HTTP handlers for tenant management APIs
type Handler struct {
	service *Service
}

// NewHandler creates a new identity handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers tenant management routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/tenants", h.CreateTenant).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/tenants", h.ListTenants).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/tenants/{tenant_id}", h.GetTenant).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/tenants/{tenant_id}", h.DeleteTenant).Methods("DELETE", "OPTIONS")
	r.HandleFunc("/api/v1/tenants/{tenant_id}/status", h.UpdateTenantStatus).Methods("PUT", "OPTIONS")
	r.HandleFunc("/api/v1/tenants/{tenant_id}/users", h.UpsertUser).Methods("POST", "PUT", "OPTIONS")
	r.HandleFunc("/api/v1/tenants/{tenant_id}/users", h.ListUsers).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/tenants/{tenant_id}/users/{user_id}", h.GetUser).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/tenants/{tenant_id}/users/{user_id}", h.RemoveUser).Methods("DELETE", "OPTIONS")
}

// CreateTenantRequest is the request body for creating a tenant
type CreateTenantRequest struct {
	Name string `json:"tenant_name"`
	Tier string `json:"subscription_tier,omitempty"`
}

// CreateTenant handles POST /api/v1/tenants
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tenant, err := h.service.CreateTenant(r.Context(), req.Name, req.Tier)
	if err != nil {
		if errors.Is(err, ErrTenantExists) {
			h.writeError(w, "Tenant already exists", http.StatusConflict)
			return
		}
		if errors.Is(err, ErrInvalidTenantName) {
			h.writeError(w, "Tenant name required", http.StatusBadRequest)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(tenant)
}

// ListTenants handles GET /api/v1/tenants
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	query := r.URL.Query()

	opts := ListTenantsOptions{
		Status: TenantStatus(query.Get("status")),
	}
	if limit := query.Get("limit"); limit != "" {
		opts.Limit, _ = strconv.Atoi(limit)
	}
	if offset := query.Get("offset"); offset != "" {
		opts.Offset, _ = strconv.Atoi(offset)
	}

	tenants, total, err := h.service.ListTenants(r.Context(), opts)
	if err != nil {
		if errors.Is(err, ErrInvalidStatus) {
			h.writeError(w, "Unknown tenant status", http.StatusBadRequest)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"tenants": tenants,
		"total":   total,
	})
}

// GetTenant handles GET /api/v1/tenants/{tenant_id}
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	tenant, err := h.service.GetTenant(r.Context(), mux.Vars(r)["tenant_id"])
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			h.writeError(w, "Tenant not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tenant)
}

// UpdateTenantStatusRequest is the request body for a status transition
type UpdateTenantStatusRequest struct {
	Status TenantStatus `json:"status"`
}

// UpdateTenantStatus handles PUT /api/v1/tenants/{tenant_id}/status
func (h *Handler) UpdateTenantStatus(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req UpdateTenantStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tenantID := mux.Vars(r)["tenant_id"]
	if err := h.service.UpdateTenantStatus(r.Context(), tenantID, req.Status); err != nil {
		switch {
		case errors.Is(err, ErrTenantNotFound):
			h.writeError(w, "Tenant not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidStatus):
			h.writeError(w, "Unknown tenant status", http.StatusBadRequest)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"tenant_id": tenantID,
		"status":    string(req.Status),
	})
}

// DeleteTenant handles DELETE /api/v1/tenants/{tenant_id}
func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.service.DeleteTenant(r.Context(), mux.Vars(r)["tenant_id"]); err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			h.writeError(w, "Tenant not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpsertUser handles POST/PUT /api/v1/tenants/{tenant_id}/users
func (h *Handler) UpsertUser(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var user TenantUser
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	user.TenantID = mux.Vars(r)["tenant_id"]

	if err := h.service.UpsertUser(r.Context(), &user); err != nil {
		switch {
		case errors.Is(err, ErrTenantNotFound):
			h.writeError(w, "Tenant not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidUserID), errors.Is(err, ErrInvalidRole):
			h.writeError(w, err.Error(), http.StatusBadRequest)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(user)
}

// ListUsers handles GET /api/v1/tenants/{tenant_id}/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	users, err := h.service.ListUsers(r.Context(), mux.Vars(r)["tenant_id"])
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// GetUser handles GET /api/v1/tenants/{tenant_id}/users/{user_id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	vars := mux.Vars(r)
	user, err := h.service.GetUser(r.Context(), vars["tenant_id"], vars["user_id"])
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			h.writeError(w, "User not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(user)
}

// RemoveUser handles DELETE /api/v1/tenants/{tenant_id}/users/{user_id}
func (h *Handler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	vars := mux.Vars(r)
	if err := h.service.RemoveUser(r.Context(), vars["tenant_id"], vars["user_id"]); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			h.writeError(w, "User not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
