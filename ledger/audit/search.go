// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SearchFilter narrows an audit log search. Zero values are ignored.
type SearchFilter struct {
	TenantID     string    `json:"tenant_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Action       string    `json:"action,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	StartTime    time.Time `json:"start_time,omitempty"`
	EndTime      time.Time `json:"end_time,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Search returns audit entries matching the filter, newest first
func (r *Recorder) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	if r.db == nil {
		return nil, fmt.Errorf("audit database not available")
	}

	conditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.TenantID != "" {
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", argIndex))
		args = append(args, filter.TenantID)
		argIndex++
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, filter.UserID)
		argIndex++
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argIndex))
		args = append(args, filter.Action)
		argIndex++
	}
	if filter.ResourceType != "" {
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", argIndex))
		args = append(args, filter.ResourceType)
		argIndex++
	}
	if filter.ResourceID != "" {
		conditions = append(conditions, fmt.Sprintf("resource_id = $%d", argIndex))
		args = append(args, filter.ResourceID)
		argIndex++
	}
	if !filter.StartTime.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, filter.StartTime)
		argIndex++
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIndex))
		args = append(args, filter.EndTime)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, user_id, action, resource_type, resource_id,
			   details, ip_address, user_agent, created_at
		FROM audit_log %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var tenantID, userID, resourceType, resourceID, ipAddress, userAgent sql.NullString
		var details []byte

		if err := rows.Scan(
			&entry.ID, &tenantID, &userID, &entry.Action, &resourceType,
			&resourceID, &details, &ipAddress, &userAgent, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if tenantID.Valid {
			entry.TenantID = &tenantID.String
		}
		entry.UserID = userID.String
		entry.ResourceType = resourceType.String
		entry.ResourceID = resourceID.String
		entry.IPAddress = ipAddress.String
		entry.UserAgent = userAgent.String

		if len(details) > 0 {
			_ = json.Unmarshal(details, &entry.Details)
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
