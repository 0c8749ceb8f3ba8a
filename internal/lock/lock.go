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

// Package lock provides the cooperative single-writer run lock. At most one
// non-expired lock exists per run id; only the holder may release or
// heartbeat it, and expired rows are reclaimed on the next acquire.
package lock

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/stagehand/internal/store"
	"github.com/tombee/stagehand/pkg/errors"
)

// DefaultTTL bounds how long a lock survives without a heartbeat.
const DefaultTTL = 5 * time.Minute

// Manager coordinates run locks through the shared metadata store.
type Manager struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Config contains lock manager configuration.
type Config struct {
	// DB is the metadata store connection the run_locks table lives in.
	DB *sql.DB

	// Logger is the structured logger to use. If nil, uses slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewManager creates a lock manager over the given store connection.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		db:     cfg.DB,
		logger: logger.With(slog.String("component", "lock")),
		now:    now,
	}
}

// NewHolderID generates a worker identity of the form worker-<8-hex>.
func NewHolderID() string {
	return "worker-" + uuid.NewString()[:8]
}

// Acquisition reports the outcome of an Acquire call. When Acquired is false,
// Holder names the worker currently owning the lock.
type Acquisition struct {
	Acquired bool   `json:"acquired"`
	Holder   string `json:"holder"`
	LockID   string `json:"lockId,omitempty"`
}

// Acquire attempts to take the run lock with a generated holder identity and
// the default TTL.
func (m *Manager) Acquire(ctx context.Context, runID string) (*Acquisition, error) {
	return m.AcquireAs(ctx, runID, NewHolderID(), DefaultTTL)
}

// AcquireAs attempts to take the run lock for the named holder. Any expired
// row for the run is reclaimed first. On contention the returned Acquisition
// carries the current holder and Acquired is false.
func (m *Manager) AcquireAs(ctx context.Context, runID, holder string, ttl time.Duration) (*Acquisition, error) {
	if holder == "" {
		holder = NewHolderID()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	nowMs := m.now().UnixMilli()

	// Reclaim an expired lock before attempting the insert.
	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM run_locks WHERE run_id = ? AND expires_at < ?`, runID, nowMs); err != nil {
		return nil, &errors.StoreError{Op: "acquireLock", Cause: err}
	}

	res, err := m.db.ExecContext(ctx, `
		INSERT INTO run_locks (run_id, holder, acquired_at, heartbeat_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO NOTHING
	`, runID, holder, nowMs, nowMs, nowMs+ttl.Milliseconds())
	if err != nil {
		return nil, &errors.StoreError{Op: "acquireLock", Cause: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, &errors.StoreError{Op: "acquireLock", Cause: err}
	}
	if n == 0 {
		var current string
		err := m.db.QueryRowContext(ctx,
			`SELECT holder FROM run_locks WHERE run_id = ?`, runID).Scan(&current)
		if err != nil && err != sql.ErrNoRows {
			return nil, &errors.StoreError{Op: "acquireLock", Cause: err}
		}
		m.logger.Debug("lock contention",
			slog.String("run_id", runID), slog.String("holder", current))
		return &Acquisition{Acquired: false, Holder: current}, nil
	}

	m.logger.Debug("lock acquired",
		slog.String("run_id", runID), slog.String("holder", holder))
	return &Acquisition{Acquired: true, Holder: holder, LockID: uuid.NewString()}, nil
}

// Release drops the lock, but only when the stored holder matches. Reports
// whether a row was removed.
func (m *Manager) Release(ctx context.Context, runID, holder string) (bool, error) {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM run_locks WHERE run_id = ? AND holder = ?`, runID, holder)
	if err != nil {
		return false, &errors.StoreError{Op: "releaseLock", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &errors.StoreError{Op: "releaseLock", Cause: err}
	}
	if n > 0 {
		m.logger.Debug("lock released",
			slog.String("run_id", runID), slog.String("holder", holder))
	}
	return n > 0, nil
}

// ForceRelease drops the lock regardless of holder. Operator escape hatch for
// stale locks left by dead workers; normal paths go through Release.
func (m *Manager) ForceRelease(ctx context.Context, runID string) (bool, error) {
	res, err := m.db.ExecContext(ctx, `DELETE FROM run_locks WHERE run_id = ?`, runID)
	if err != nil {
		return false, &errors.StoreError{Op: "forceReleaseLock", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &errors.StoreError{Op: "forceReleaseLock", Cause: err}
	}
	return n > 0, nil
}

// Heartbeat extends the lock lease. Only the holder may heartbeat; reports
// whether a row was updated.
func (m *Manager) Heartbeat(ctx context.Context, runID, holder string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	nowMs := m.now().UnixMilli()

	res, err := m.db.ExecContext(ctx, `
		UPDATE run_locks SET heartbeat_at = ?, expires_at = ?
		WHERE run_id = ? AND holder = ?
	`, nowMs, nowMs+ttl.Milliseconds(), runID, holder)
	if err != nil {
		return false, &errors.StoreError{Op: "heartbeatLock", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &errors.StoreError{Op: "heartbeatLock", Cause: err}
	}
	return n > 0, nil
}

// IsLocked returns the current lock row for a run, or nil when unlocked.
// Expired rows are cleaned first so a stale lock never reads as held.
func (m *Manager) IsLocked(ctx context.Context, runID string) (*store.RunLock, error) {
	nowMs := m.now().UnixMilli()
	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM run_locks WHERE run_id = ? AND expires_at < ?`, runID, nowMs); err != nil {
		return nil, &errors.StoreError{Op: "isLocked", Cause: err}
	}

	var lk store.RunLock
	var acquiredMs, heartbeatMs, expiresMs int64
	err := m.db.QueryRowContext(ctx, `
		SELECT run_id, holder, acquired_at, heartbeat_at, expires_at
		FROM run_locks WHERE run_id = ?
	`, runID).Scan(&lk.RunID, &lk.Holder, &acquiredMs, &heartbeatMs, &expiresMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.StoreError{Op: "isLocked", Cause: err}
	}

	lk.AcquiredAt = time.UnixMilli(acquiredMs).UTC()
	lk.HeartbeatAt = time.UnixMilli(heartbeatMs).UTC()
	lk.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	return &lk, nil
}

// CleanExpired deletes every expired lock row and returns how many were
// removed.
func (m *Manager) CleanExpired(ctx context.Context) (int64, error) {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM run_locks WHERE expires_at < ?`, m.now().UnixMilli())
	if err != nil {
		return 0, &errors.StoreError{Op: "cleanExpiredLocks", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &errors.StoreError{Op: "cleanExpiredLocks", Cause: err}
	}
	if n > 0 {
		m.logger.Debug("expired locks cleaned", slog.Int64("count", n))
	}
	return n, nil
}

// HeldError converts a contended Acquisition into the caller-facing error.
func HeldError(runID string, acq *Acquisition) error {
	return &errors.LockHeldError{RunID: runID, Holder: acq.Holder}
}
