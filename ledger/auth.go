// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// adminRoles are the role claims allowed through the admin middleware.
var adminRoles = map[string]bool{
	"owner": true,
	"admin": true,
}

// AdminAuth guards mutating tenant and quota management endpoints with an
// HS256 bearer token whose "role" claim is owner or admin. With an empty
// secret the middleware passes everything through; the bootstrap logs that
// loudly so an open deployment is never an accident.
type AdminAuth struct {
	secret []byte
}

// NewAdminAuth creates the middleware. An empty secret disables enforcement.
func NewAdminAuth(secret string) *AdminAuth {
	if secret == "" {
		log.Println("WARNING: JWT_SECRET not set - admin endpoints are UNAUTHENTICATED (dev mode)")
		return &AdminAuth{}
	}
	return &AdminAuth{secret: []byte(secret)}
}

// Enabled reports whether tokens are being checked.
func (a *AdminAuth) Enabled() bool {
	return len(a.secret) > 0
}

// protectedRequest reports whether the request mutates identity or quota
// state. Reads stay open; CORS preflights must never be challenged.
func protectedRequest(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodOptions {
		return false
	}
	if !strings.HasPrefix(r.URL.Path, "/api/v1/tenants") {
		return false
	}
	// Session routes live under /api/v1/apps, not here. Quota updates share
	// the /api/v1/tenants prefix and are covered.
	return true
}

// Middleware wraps a handler with admin token enforcement.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || !protectedRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		role, err := a.verify(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !adminRoles[role] {
			writeAuthError(w, http.StatusForbidden, fmt.Sprintf("role '%s' may not manage tenants", role))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) verify(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", fmt.Errorf("Authorization header must use Bearer scheme")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	role, _ := claims["role"].(string)
	if role == "" {
		return "", fmt.Errorf("token has no role claim")
	}
	return role, nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
