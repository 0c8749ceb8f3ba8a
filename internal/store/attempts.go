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

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tombee/stagehand/pkg/errors"
)

// StartStageAttempt opens a new attempt for (runID, stage) in status running.
// The attempt number is max(existing)+1, computed and inserted in a single
// statement so concurrent runners on other runs never interleave numbering.
func (s *Store) StartStageAttempt(ctx context.Context, runID, stage string) (*StageAttempt, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO stage_attempts (run_id, stage, attempt, status, started_at)
		VALUES (?, ?,
			(SELECT COALESCE(MAX(attempt), 0) + 1 FROM stage_attempts WHERE run_id = ? AND stage = ?),
			?, ?)
		RETURNING id, attempt
	`

	var att StageAttempt
	err := s.db.QueryRowContext(ctx, query,
		runID, stage, runID, stage,
		string(AttemptStatusRunning), formatTime(now),
	).Scan(&att.ID, &att.Attempt)
	if err != nil {
		return nil, &errors.StoreError{Op: "startStageAttempt", Cause: err}
	}

	att.RunID = runID
	att.Stage = stage
	att.Status = AttemptStatusRunning
	att.StartedAt = now
	return &att, nil
}

// FinishStageAttempt transitions a running attempt to completed and computes
// its duration.
func (s *Store) FinishStageAttempt(ctx context.Context, runID, stage string, attempt int) error {
	return closeStageAttempt(ctx, s.db, runID, stage, attempt, AttemptStatusCompleted, "")
}

// FinishStageAttempt is the transactional form of Store.FinishStageAttempt.
func (t *Tx) FinishStageAttempt(ctx context.Context, runID, stage string, attempt int) error {
	return closeStageAttempt(ctx, t.tx, runID, stage, attempt, AttemptStatusCompleted, "")
}

// FailStageAttempt transitions a running attempt to failed, computes its
// duration, and records the error string.
func (s *Store) FailStageAttempt(ctx context.Context, runID, stage string, attempt int, attemptErr string) error {
	return closeStageAttempt(ctx, s.db, runID, stage, attempt, AttemptStatusFailed, attemptErr)
}

// FailStageAttempt is the transactional form of Store.FailStageAttempt.
func (t *Tx) FailStageAttempt(ctx context.Context, runID, stage string, attempt int, attemptErr string) error {
	return closeStageAttempt(ctx, t.tx, runID, stage, attempt, AttemptStatusFailed, attemptErr)
}

// closeStageAttempt finalises a running attempt. Only running rows transition;
// finishing an attempt twice, or one that never started, reports NotFound.
func closeStageAttempt(ctx context.Context, e execer, runID, stage string, attempt int, status AttemptStatus, attemptErr string) error {
	now := time.Now().UTC()

	res, err := e.ExecContext(ctx, `
		UPDATE stage_attempts
		SET status = ?, finished_at = ?, error = ?,
			duration_ms = CAST(ROUND((julianday(?) - julianday(started_at)) * 86400000) AS INTEGER)
		WHERE run_id = ? AND stage = ? AND attempt = ? AND status = ?
	`, string(status), formatTime(now), nullString(attemptErr), formatTime(now),
		runID, stage, attempt, string(AttemptStatusRunning))
	if err != nil {
		return &errors.StoreError{Op: "closeStageAttempt", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.NotFoundError{
			Resource: "running stage attempt",
			ID:       fmt.Sprintf("%s/%s/%d", runID, stage, attempt),
		}
	}
	return nil
}

// GetStageAttempts returns the attempts for a run, optionally restricted to
// one stage, ordered by stage then attempt number.
func (s *Store) GetStageAttempts(ctx context.Context, runID, stage string) ([]*StageAttempt, error) {
	query := `
		SELECT id, run_id, stage, attempt, status, started_at, finished_at, duration_ms, error
		FROM stage_attempts WHERE run_id = ?
	`
	args := []any{runID}
	if stage != "" {
		query += " AND stage = ?"
		args = append(args, stage)
	}
	query += " ORDER BY stage, attempt"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errors.StoreError{Op: "getStageAttempts", Cause: err}
	}
	defer rows.Close()

	var attempts []*StageAttempt
	for rows.Next() {
		att, err := scanStageAttempt(rows)
		if err != nil {
			return nil, &errors.StoreError{Op: "getStageAttempts", Cause: err}
		}
		attempts = append(attempts, att)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.StoreError{Op: "getStageAttempts", Cause: err}
	}
	return attempts, nil
}

// GetLatestAttempt returns the highest-numbered attempt for (runID, stage),
// or nil when the stage was never started.
func (s *Store) GetLatestAttempt(ctx context.Context, runID, stage string) (*StageAttempt, error) {
	query := `
		SELECT id, run_id, stage, attempt, status, started_at, finished_at, duration_ms, error
		FROM stage_attempts WHERE run_id = ? AND stage = ?
		ORDER BY attempt DESC LIMIT 1
	`
	att, err := scanStageAttempt(s.db.QueryRowContext(ctx, query, runID, stage))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.StoreError{Op: "getLatestAttempt", Cause: err}
	}
	return att, nil
}

// GetLatestCompletedAttempt returns the highest-numbered completed attempt
// for (runID, stage), or nil when the stage never completed.
func (s *Store) GetLatestCompletedAttempt(ctx context.Context, runID, stage string) (*StageAttempt, error) {
	query := `
		SELECT id, run_id, stage, attempt, status, started_at, finished_at, duration_ms, error
		FROM stage_attempts WHERE run_id = ? AND stage = ? AND status = ?
		ORDER BY attempt DESC LIMIT 1
	`
	att, err := scanStageAttempt(s.db.QueryRowContext(ctx, query, runID, stage, string(AttemptStatusCompleted)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.StoreError{Op: "getLatestCompletedAttempt", Cause: err}
	}
	return att, nil
}

// CompletedStages returns the set of stages with at least one completed
// attempt for the run.
func (s *Store) CompletedStages(ctx context.Context, runID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT stage FROM stage_attempts WHERE run_id = ? AND status = ?
	`, runID, string(AttemptStatusCompleted))
	if err != nil {
		return nil, &errors.StoreError{Op: "completedStages", Cause: err}
	}
	defer rows.Close()

	completed := make(map[string]bool)
	for rows.Next() {
		var stage string
		if err := rows.Scan(&stage); err != nil {
			return nil, &errors.StoreError{Op: "completedStages", Cause: err}
		}
		completed[stage] = true
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.StoreError{Op: "completedStages", Cause: err}
	}
	return completed, nil
}

func scanStageAttempt(row rowScanner) (*StageAttempt, error) {
	var att StageAttempt
	var startedAt string
	var finishedAt, errorStr sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(
		&att.ID, &att.RunID, &att.Stage, &att.Attempt, &att.Status,
		&startedAt, &finishedAt, &durationMs, &errorStr,
	)
	if err != nil {
		return nil, err
	}

	att.Error = errorStr.String
	if att.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		att.FinishedAt = &t
	}
	if durationMs.Valid {
		d := durationMs.Int64
		att.DurationMs = &d
	}

	return &att, nil
}
