// Copyright 2025 AgentLedger
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audit provides best-effort audit logging for platform activity.
// Recording never fails or blocks a business operation: entries are queued
// to a background writer and dropped with a warning only when the system is
// completely saturated. Audit rows reference tenants with a nullable key so
// history survives tenant deletion.
package audit

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"
)

// Audit actions recorded by the platform
const (
	ActionTenantCreated       = "tenant_created"
	ActionTenantStatusChanged = "tenant_status_changed"
	ActionTenantDeleted       = "tenant_deleted"
	ActionUserAdded           = "user_added"
	ActionUserRemoved         = "user_removed"
	ActionQuotaUpdated        = "quota_updated"
	ActionSessionCreated      = "session_created"
	ActionSessionDeleted      = "session_deleted"
	ActionFeedbackAdded       = "feedback_added"
	ActionEvaluationRecorded  = "evaluation_recorded"
)

// Entry represents a single audit log entry. TenantID is a pointer so
// entries can outlive their tenant (the row keeps a NULL reference after
// tenant deletion) and so system-level actions carry no tenant at all.
type Entry struct {
	ID           int64                  `json:"id,omitempty"`
	TenantID     *string                `json:"tenant_id,omitempty"`
	UserID       string                 `json:"user_id,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Recorder handles asynchronous audit logging for all platform activities
type Recorder struct {
	db           *sql.DB
	batchWriter  *BatchWriter
	queue        chan *Entry
	wg           sync.WaitGroup
	shutdownChan chan struct{}
}

// NewRecorder creates a new audit recorder. A nil database yields a no-op
// recorder so callers never need to guard their audit calls.
func NewRecorder(db *sql.DB) *Recorder {
	if db == nil {
		return &Recorder{
			queue:        make(chan *Entry, 10000),
			shutdownChan: make(chan struct{}),
		}
	}

	recorder := &Recorder{
		db:           db,
		batchWriter:  NewBatchWriter(db, 100),
		queue:        make(chan *Entry, 10000),
		shutdownChan: make(chan struct{}),
	}

	recorder.wg.Add(1)
	go recorder.processQueue()

	return recorder
}

// Record queues an audit entry for persistence. It never blocks and never
// returns an error: audit is best-effort by contract.
func (r *Recorder) Record(ctx context.Context, entry *Entry) {
	if entry == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	select {
	case r.queue <- entry:
		// Entry queued successfully
	default:
		// Queue is full, write directly (blocking)
		log.Printf("Audit queue full, writing directly")
		if r.batchWriter != nil {
			if err := r.batchWriter.Write([]*Entry{entry}); err != nil {
				log.Printf("Failed to write audit entry directly: %v", err)
			}
		}
	}
}

// TenantRef returns a pointer suitable for Entry.TenantID. An empty id
// produces nil so the row is stored without a tenant reference.
func TenantRef(tenantID string) *string {
	if tenantID == "" {
		return nil
	}
	return &tenantID
}

// processQueue drains audit entries from the queue into the batch writer
func (r *Recorder) processQueue() {
	defer r.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case entry := <-r.queue:
			if r.batchWriter != nil {
				r.batchWriter.Add(entry)
			}
		case <-ticker.C:
			if r.batchWriter != nil {
				r.batchWriter.Flush()
			}
		case <-r.shutdownChan:
			// Drain whatever is still queued, then flush
			for {
				select {
				case entry := <-r.queue:
					if r.batchWriter != nil {
						r.batchWriter.Add(entry)
					}
				default:
					if r.batchWriter != nil {
						r.batchWriter.Flush()
					}
					return
				}
			}
		}
	}
}

// Close stops the background worker after flushing queued entries
func (r *Recorder) Close() {
	close(r.shutdownChan)
	r.wg.Wait()
}

// IsHealthy checks if the audit recorder can reach its database
func (r *Recorder) IsHealthy() bool {
	if r.db == nil {
		return true // No-op recorder is always healthy
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	return r.db.PingContext(ctx) == nil
}

// QueueDepth reports the number of entries waiting to be written
func (r *Recorder) QueueDepth() int {
	return len(r.queue)
}
