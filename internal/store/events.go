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

// AppendEventParams carries the inputs for AppendEvent. Stage and Attempt
// are optional; run-level events leave them unset.
type AppendEventParams struct {
	RunID   string
	Stage   string
	Attempt *int
	Type    EventType
	Message string
	Data    string
}

// AppendEvent inserts one event row. Events are append-only; nothing updates
// or deletes them.
func (s *Store) AppendEvent(ctx context.Context, params AppendEventParams) error {
	return appendEvent(ctx, s.db, params)
}

// AppendEvent is the transactional form of Store.AppendEvent.
func (t *Tx) AppendEvent(ctx context.Context, params AppendEventParams) error {
	return appendEvent(ctx, t.tx, params)
}

func appendEvent(ctx context.Context, e execer, params AppendEventParams) error {
	var attempt any
	if params.Attempt != nil {
		attempt = *params.Attempt
	}

	_, err := e.ExecContext(ctx, `
		INSERT INTO events (run_id, stage, attempt, type, message, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, params.RunID, nullString(params.Stage), attempt,
		string(params.Type), params.Message, nullString(params.Data),
		formatTime(time.Now().UTC()))
	if err != nil {
		return &errors.StoreError{Op: "appendEvent", Cause: err}
	}
	return nil
}

// EventFilter narrows GetEvents. Zero values mean no restriction.
type EventFilter struct {
	Stage string
	Type  EventType
	Limit int
}

// GetEvents returns the events for a run in append order, optionally
// filtered by stage and type.
func (s *Store) GetEvents(ctx context.Context, runID string, filter EventFilter) ([]*Event, error) {
	query := `
		SELECT id, run_id, stage, attempt, type, message, data, created_at
		FROM events WHERE run_id = ?
	`
	args := []any{runID}
	if filter.Stage != "" {
		query += " AND stage = ?"
		args = append(args, filter.Stage)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errors.StoreError{Op: "getEvents", Cause: err}
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		var stage, data sql.NullString
		var attempt sql.NullInt64
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.RunID, &stage, &attempt,
			&ev.Type, &ev.Message, &data, &createdAt); err != nil {
			return nil, &errors.StoreError{Op: "getEvents", Cause: err}
		}
		ev.Stage = stage.String
		ev.Data = data.String
		if attempt.Valid {
			a := int(attempt.Int64)
			ev.Attempt = &a
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, &errors.StoreError{Op: "getEvents", Cause: fmt.Errorf("parsing created_at: %w", err)}
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.StoreError{Op: "getEvents", Cause: err}
	}
	return events, nil
}
