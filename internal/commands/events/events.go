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

// Package events implements the stagehand events command: the append-only
// run event log, filtered and printed.
package events

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/store"
	"github.com/tombee/stagehand/pkg/errors"
	"github.com/tombee/stagehand/pkg/stage"
)

type eventsFlags struct {
	runID     string
	stage     string
	eventType string
	limit     int
	dbPath    string
}

// NewCommand creates the events command
func NewCommand() *cobra.Command {
	var flags eventsFlags

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event log for a run",
		Long:  `Print a run's events in append order, optionally filtered by stage or type.`,
		Example: `  stagehand events --run-id run-abc123
  stagehand events --run-id run-abc123 --stage 3 --type error
  stagehand events --run-id run-abc123 --limit 20 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.runID, "run-id", "", "Run identifier")
	cmd.Flags().StringVar(&flags.stage, "stage", "", "Only this stage's events")
	cmd.Flags().StringVar(&flags.eventType, "type", "", "Only this event type (info|gate|error|metric)")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "Maximum events to return")
	cmd.Flags().StringVar(&flags.dbPath, "db-path", "", "SQLite metadata store path")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}

func runEvents(cmd *cobra.Command, flags eventsFlags) error {
	ctx := cmd.Context()

	if flags.stage != "" && !stage.IsValid(flags.stage) {
		return shared.WrapExit(&errors.ValidationError{
			Field:   "stage",
			Message: "unknown stage id " + flags.stage,
		})
	}

	env, err := shared.OpenEnv(ctx, shared.EnvOverrides{DBPath: flags.dbPath})
	if err != nil {
		return shared.WrapExit(err)
	}
	defer env.Close()

	run, err := env.Store.GetRun(ctx, flags.runID)
	if err != nil {
		return shared.WrapExit(err)
	}
	if run == nil {
		err := &errors.NotFoundError{Resource: "run", ID: flags.runID}
		if shared.GetJSON() {
			_ = shared.EmitJSONError("events", err)
		}
		return shared.WrapExit(err)
	}

	evs, err := env.Store.GetEvents(ctx, flags.runID, store.EventFilter{
		Stage: flags.stage,
		Type:  store.EventType(flags.eventType),
		Limit: flags.limit,
	})
	if err != nil {
		return shared.WrapExit(err)
	}

	if shared.GetJSON() {
		type eventRow struct {
			ID        int64           `json:"id"`
			Stage     string          `json:"stage,omitempty"`
			Attempt   *int            `json:"attempt,omitempty"`
			Type      string          `json:"type"`
			Message   string          `json:"message"`
			Data      json.RawMessage `json:"data,omitempty"`
			CreatedAt string          `json:"createdAt"`
		}
		rows := make([]eventRow, 0, len(evs))
		for _, ev := range evs {
			row := eventRow{
				ID:        ev.ID,
				Stage:     ev.Stage,
				Attempt:   ev.Attempt,
				Type:      string(ev.Type),
				Message:   ev.Message,
				CreatedAt: ev.CreatedAt.Format(time.RFC3339Nano),
			}
			if json.Valid([]byte(ev.Data)) {
				row.Data = json.RawMessage(ev.Data)
			}
			rows = append(rows, row)
		}
		type response struct {
			shared.JSONResponse
			RunID  string     `json:"runId"`
			Events []eventRow `json:"events"`
		}
		return shared.EmitJSON(response{
			JSONResponse: shared.NewEnvelope("events", true),
			RunID:        flags.runID,
			Events:       rows,
		})
	}

	if len(evs) == 0 {
		cmd.Println(shared.RenderLabel("no events"))
		return nil
	}
	for _, ev := range evs {
		ts := shared.RenderLabel(ev.CreatedAt.Local().Format("15:04:05"))
		badge := string(ev.Type)
		switch ev.Type {
		case store.EventError:
			badge = shared.StatusError.Render(badge)
		case store.EventGate:
			badge = shared.StatusWarn.Render(badge)
		default:
			badge = shared.Muted.Render(badge)
		}
		line := ts + " " + badge
		if ev.Stage != "" {
			line += " " + shared.RenderLabel("["+ev.Stage+"]")
		}
		cmd.Println(line + " " + ev.Message)
	}
	return nil
}
