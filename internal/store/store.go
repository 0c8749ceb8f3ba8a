// Copyright 2025 Tom Barlow
//
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

// Package store provides the SQLite-backed metadata store for runs, stage
// attempts, artifacts, events and run locks. One connection is opened per
// database path per process and shared across callers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/stagehand/pkg/errors"
)

// timeLayout is the timestamp format persisted in TEXT columns. RFC3339Nano
// keeps millisecond precision for duration accounting.
const timeLayout = time.RFC3339Nano

var (
	poolMu sync.Mutex
	pool   = make(map[string]*Store)
)

// Store is a SQLite metadata store bound to one database path.
type Store struct {
	path string
	db   *sql.DB
}

// Open returns the store for the given database path, creating the schema on
// first use. Repeated calls with the same path return the same store, so a
// process holds at most one connection per path.
func Open(path string) (*Store, error) {
	poolMu.Lock()
	defer poolMu.Unlock()

	if st, ok := pool[path]; ok {
		return st, nil
	}

	st, err := newStore(path)
	if err != nil {
		return nil, err
	}
	pool[path] = st
	return st, nil
}

func newStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &errors.StoreError{Op: "open", Cause: err}
	}

	// SQLite serializes writes; a single connection avoids in-process
	// writer contention and keeps transactions on one session.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &errors.StoreError{Op: "open", Cause: err}
	}

	st := &Store{path: path, db: db}

	if err := st.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return st, nil
}

// configurePragmas sets SQLite configuration options.
func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",    // Enforce run ownership of dependent rows
		"PRAGMA busy_timeout=5000",  // 5 second timeout for contended writers
		"PRAGMA synchronous=NORMAL", // Balance between performance and durability
		"PRAGMA journal_mode=WAL",   // Write-ahead journaling for crash safety
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return &errors.StoreError{Op: "pragma", Cause: fmt.Errorf("%s: %w", pragma, err)}
		}
	}

	return nil
}

// migrations converge the schema; every statement is a no-op once applied.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		industry TEXT NOT NULL,
		country TEXT NOT NULL,
		client_context TEXT,
		target_stage TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		finished_at TEXT,
		error TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	`CREATE TABLE IF NOT EXISTS stage_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		duration_ms INTEGER,
		error TEXT,
		UNIQUE (run_id, stage, attempt),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_attempts_run ON stage_attempts(run_id, stage)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		filename TEXT NOT NULL,
		path TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (run_id, stage, attempt, filename),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT,
		attempt INTEGER,
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		data TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, stage, type)`,
	`CREATE TABLE IF NOT EXISTS run_locks (
		run_id TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		acquired_at INTEGER NOT NULL,
		heartbeat_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
}

// Migrate applies the schema. It may run any number of times and converges.
func (s *Store) Migrate(ctx context.Context) error {
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return &errors.StoreError{Op: "migrate", Cause: err}
		}
	}
	return nil
}

// Path returns the database path this store is bound to.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying connection for components that share the
// database, such as the lock manager.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection and removes the store from the pool.
func (s *Store) Close() error {
	poolMu.Lock()
	delete(pool, s.path)
	poolMu.Unlock()
	return s.db.Close()
}

// CloseAll closes every pooled store. Called on process shutdown.
func CloseAll() error {
	poolMu.Lock()
	defer poolMu.Unlock()

	var firstErr error
	for path, st := range pool {
		if err := st.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(pool, path)
	}
	return firstErr
}

// execer abstracts *sql.DB and *sql.Tx so repository statements run either
// standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx groups repository writes into one transaction. Obtain via WithTx.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Multi-row writes (finishing a stage
// together with its artifacts and event) must go through here.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errors.StoreError{Op: "begin", Cause: err}
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return &errors.StoreError{Op: "rollback", Cause: fmt.Errorf("%v (after: %w)", rbErr, err)}
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return &errors.StoreError{Op: "commit", Cause: err}
	}
	return nil
}

// formatTime renders a timestamp for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// formatTimePtr renders an optional timestamp, mapping nil to SQL NULL.
func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime reads a stored timestamp.
func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// nullString maps empty strings to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
