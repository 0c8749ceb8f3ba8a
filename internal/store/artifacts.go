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

// RecordArtifact upserts one artifact row keyed by
// (run_id, stage, attempt, filename). Re-recording the same artifact
// replaces its path, size and content type.
func (s *Store) RecordArtifact(ctx context.Context, a *Artifact) error {
	return recordArtifact(ctx, s.db, a)
}

// RecordArtifact is the transactional form of Store.RecordArtifact.
func (t *Tx) RecordArtifact(ctx context.Context, a *Artifact) error {
	return recordArtifact(ctx, t.tx, a)
}

func recordArtifact(ctx context.Context, e execer, a *Artifact) error {
	now := time.Now().UTC()
	_, err := e.ExecContext(ctx, `
		INSERT INTO artifacts (run_id, stage, attempt, filename, path, size_bytes, content_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, stage, attempt, filename)
		DO UPDATE SET path = excluded.path, size_bytes = excluded.size_bytes,
			content_type = excluded.content_type
	`, a.RunID, a.Stage, a.Attempt, a.Filename, a.Path, a.SizeBytes, a.ContentType, formatTime(now))
	if err != nil {
		return &errors.StoreError{Op: "recordArtifact", Cause: err}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	return nil
}

// GetArtifacts returns the artifacts recorded for a run, optionally
// restricted to one stage, ordered by stage, attempt, filename.
func (s *Store) GetArtifacts(ctx context.Context, runID, stage string) ([]*Artifact, error) {
	query := `
		SELECT run_id, stage, attempt, filename, path, size_bytes, content_type, created_at
		FROM artifacts WHERE run_id = ?
	`
	args := []any{runID}
	if stage != "" {
		query += " AND stage = ?"
		args = append(args, stage)
	}
	query += " ORDER BY stage, attempt, filename"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errors.StoreError{Op: "getArtifacts", Cause: err}
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		var a Artifact
		var createdAt string
		if err := rows.Scan(&a.RunID, &a.Stage, &a.Attempt, &a.Filename,
			&a.Path, &a.SizeBytes, &a.ContentType, &createdAt); err != nil {
			return nil, &errors.StoreError{Op: "getArtifacts", Cause: err}
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, &errors.StoreError{Op: "getArtifacts", Cause: fmt.Errorf("parsing created_at: %w", err)}
		}
		artifacts = append(artifacts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.StoreError{Op: "getArtifacts", Cause: err}
	}
	return artifacts, nil
}

// GetArtifact returns one artifact row, or nil when not recorded.
func (s *Store) GetArtifact(ctx context.Context, runID, stage string, attempt int, filename string) (*Artifact, error) {
	var a Artifact
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, stage, attempt, filename, path, size_bytes, content_type, created_at
		FROM artifacts WHERE run_id = ? AND stage = ? AND attempt = ? AND filename = ?
	`, runID, stage, attempt, filename).Scan(
		&a.RunID, &a.Stage, &a.Attempt, &a.Filename,
		&a.Path, &a.SizeBytes, &a.ContentType, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.StoreError{Op: "getArtifact", Cause: err}
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, &errors.StoreError{Op: "getArtifact", Cause: fmt.Errorf("parsing created_at: %w", err)}
	}
	return &a, nil
}
