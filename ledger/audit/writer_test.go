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
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func batchEntries(n int) []*Entry {
	entries := make([]*Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, &Entry{
			TenantID:  TenantRef("a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11"),
			Action:    ActionSessionCreated,
			CreatedAt: time.Now().UTC(),
		})
	}
	return entries
}

func TestBatchWriteCommitsAllRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO audit_log")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	writer := &BatchWriter{db: db}
	if err := writer.Write(batchEntries(2)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// A failed insert aborts the transaction; the batch rolls back as a whole
// and the error reaches the caller instead of being swallowed row by row.
func TestBatchWriteFailedRowAbortsBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO audit_log")
	prep.ExpectExec().WillReturnError(errors.New("null value in column \"action\""))
	mock.ExpectRollback()

	writer := &BatchWriter{db: db}
	if err := writer.Write(batchEntries(3)); err == nil {
		t.Fatal("expected Write to surface the insert failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
