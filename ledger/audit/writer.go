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

package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// BatchWriter handles batch writing of audit entries
type BatchWriter struct {
	db          *sql.DB
	batchSize   int
	flushTicker *time.Ticker
	entries     []*Entry
	mu          sync.Mutex
}

// NewBatchWriter creates a batch writer that flushes when batchSize entries
// accumulate or every 10 seconds, whichever comes first
func NewBatchWriter(db *sql.DB, batchSize int) *BatchWriter {
	writer := &BatchWriter{
		db:          db,
		batchSize:   batchSize,
		entries:     make([]*Entry, 0, batchSize),
		flushTicker: time.NewTicker(10 * time.Second),
	}

	go writer.periodicFlush()

	return writer
}

// Add appends an entry to the pending batch, flushing when full
func (b *BatchWriter) Add(entry *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)

	if len(b.entries) >= b.batchSize {
		b.flush()
	}
}

// Flush writes all pending entries
func (b *BatchWriter) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flush()
}

func (b *BatchWriter) flush() {
	if len(b.entries) == 0 {
		return
	}

	if err := b.Write(b.entries); err != nil {
		log.Printf("Failed to write audit batch: %v", err)
	}

	b.entries = b.entries[:0]
}

// Write persists a batch of entries in a single transaction. A failed
// insert aborts the transaction (Postgres refuses further statements after
// an error), so the batch is lost as a whole; the caller logs the loss and
// business operations are never affected.
func (b *BatchWriter) Write(entries []*Entry) error {
	if b.db == nil {
		return nil
	}

	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO audit_log (
			tenant_id, user_id, action, resource_type, resource_id,
			details, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range entries {
		detailsJSON, _ := json.Marshal(entry.Details)

		_, err = stmt.Exec(
			entry.TenantID,
			nullString(entry.UserID),
			entry.Action,
			nullString(entry.ResourceType),
			nullString(entry.ResourceID),
			detailsJSON,
			nullString(entry.IPAddress),
			nullString(entry.UserAgent),
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}

	return tx.Commit()
}

func (b *BatchWriter) periodicFlush() {
	for range b.flushTicker.C {
		b.Flush()
	}
}

// nullString converts empty strings to NULL for database storage
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
