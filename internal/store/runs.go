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
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/stagehand/pkg/errors"
)

// DefaultListLimit bounds ListRuns when the caller passes no limit.
const DefaultListLimit = 50

// NewRunID generates a run identifier of the form run-<base36-millis>-<8-hex>.
func NewRunID() string {
	const hexDigits = "0123456789abcdef"
	suffix := make([]byte, 8)
	for i := range suffix {
		suffix[i] = hexDigits[rand.Intn(len(hexDigits))]
	}
	return fmt.Sprintf("run-%s-%s", strconv.FormatInt(time.Now().UnixMilli(), 36), suffix)
}

// CreateRunParams carries the inputs for CreateRun. ID is optional; when
// empty a fresh identifier is generated.
type CreateRunParams struct {
	ID            string
	Country       string
	Industry      string
	ClientContext string
	TargetStage   string
}

// CreateRun inserts a new run in status pending and returns it. Returns
// DuplicateRunError when a run with the same id already exists.
func (s *Store) CreateRun(ctx context.Context, params CreateRunParams) (*Run, error) {
	id := params.ID
	if id == "" {
		id = NewRunID()
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO runs (id, industry, country, client_context, target_stage, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		id, params.Industry, params.Country,
		nullString(params.ClientContext), nullString(params.TargetStage),
		string(RunStatusPending), formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &errors.DuplicateRunError{RunID: id}
		}
		return nil, &errors.StoreError{Op: "createRun", Cause: err}
	}

	return &Run{
		ID:            id,
		Country:       params.Country,
		Industry:      params.Industry,
		ClientContext: params.ClientContext,
		TargetStage:   params.TargetStage,
		Status:        RunStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// GetRun retrieves a run by id, or nil when no such run exists.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, industry, country, client_context, target_stage, status,
			created_at, updated_at, finished_at, error
		FROM runs WHERE id = ?
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.StoreError{Op: "getRun", Cause: err}
	}
	return run, nil
}

// ListRuns returns runs ordered by created_at descending, optionally filtered
// by status. A non-positive limit falls back to DefaultListLimit.
func (s *Store) ListRuns(ctx context.Context, status RunStatus, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, industry, country, client_context, target_stage, status,
			created_at, updated_at, finished_at, error
		FROM runs
	`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errors.StoreError{Op: "listRuns", Cause: err}
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, &errors.StoreError{Op: "listRuns", Cause: err}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.StoreError{Op: "listRuns", Cause: err}
	}
	return runs, nil
}

// UpdateRunStatus transitions a run to the given status. updated_at always
// advances; finished_at is set iff the status is terminal. The optional
// runError payload is stored as an opaque string.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status RunStatus, runError string) error {
	return updateRunStatus(ctx, s.db, id, status, runError)
}

// UpdateRunStatus is the transactional form of Store.UpdateRunStatus.
func (t *Tx) UpdateRunStatus(ctx context.Context, id string, status RunStatus, runError string) error {
	return updateRunStatus(ctx, t.tx, id, status, runError)
}

func updateRunStatus(ctx context.Context, e execer, id string, status RunStatus, runError string) error {
	if !status.IsValid() {
		return &errors.ValidationError{Field: "status", Message: fmt.Sprintf("unknown run status %q", status)}
	}

	now := time.Now().UTC()
	var finishedAt any
	if status.IsTerminal() {
		finishedAt = formatTime(now)
	}

	res, err := e.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, updated_at = ?, finished_at = ?
		WHERE id = ?
	`, string(status), nullString(runError), formatTime(now), finishedAt, id)
	if err != nil {
		return &errors.StoreError{Op: "updateRunStatus", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.NotFoundError{Resource: "run", ID: id}
	}
	return nil
}

// UpdateRunTarget records a new through target for a run. The target moves on
// every resume; the stored value reflects the latest operator intent.
func (s *Store) UpdateRunTarget(ctx context.Context, id, targetStage string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET target_stage = ?, updated_at = ? WHERE id = ?
	`, targetStage, formatTime(now), id)
	if err != nil {
		return &errors.StoreError{Op: "updateRunTarget", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.NotFoundError{Resource: "run", ID: id}
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var clientContext, targetStage, finishedAt, errorStr sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&run.ID, &run.Industry, &run.Country, &clientContext, &targetStage,
		&run.Status, &createdAt, &updatedAt, &finishedAt, &errorStr,
	)
	if err != nil {
		return nil, err
	}

	run.ClientContext = clientContext.String
	run.TargetStage = targetStage.String
	run.Error = errorStr.String

	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if run.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		run.FinishedAt = &t
	}

	return &run, nil
}

// isUniqueViolation detects SQLite unique/primary key constraint failures.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
