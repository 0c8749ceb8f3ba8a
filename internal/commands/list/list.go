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

// Package list implements the stagehand list command.
package list

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/store"
	"github.com/tombee/stagehand/pkg/errors"
)

type listFlags struct {
	status string
	limit  int
	dbPath string
}

// NewCommand creates the list command
func NewCommand() *cobra.Command {
	var flags listFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Long:  `List runs most recent first, optionally filtered by status.`,
		Example: `  stagehand list
  stagehand list --status failed
  stagehand list --limit 10 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.status, "status", "", "Filter by run status (pending|running|completed|failed|cancelled)")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "Maximum runs to return (default 50)")
	cmd.Flags().StringVar(&flags.dbPath, "db-path", "", "SQLite metadata store path")

	return cmd
}

func runList(cmd *cobra.Command, flags listFlags) error {
	ctx := cmd.Context()

	status := store.RunStatus(flags.status)
	if flags.status != "" && !status.IsValid() {
		return shared.WrapExit(&errors.ValidationError{
			Field:   "status",
			Message: "unknown run status " + strconv.Quote(flags.status),
		})
	}

	env, err := shared.OpenEnv(ctx, shared.EnvOverrides{DBPath: flags.dbPath})
	if err != nil {
		return shared.WrapExit(err)
	}
	defer env.Close()

	runs, err := env.Store.ListRuns(ctx, status, flags.limit)
	if err != nil {
		if shared.GetJSON() {
			_ = shared.EmitJSONError("list", err)
		}
		return shared.WrapExit(err)
	}

	if shared.GetJSON() {
		type runRow struct {
			RunID       string `json:"runId"`
			Country     string `json:"country"`
			Industry    string `json:"industry"`
			Status      string `json:"status"`
			TargetStage string `json:"targetStage,omitempty"`
			CreatedAt   string `json:"createdAt"`
			UpdatedAt   string `json:"updatedAt"`
		}
		rows := make([]runRow, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, runRow{
				RunID:       r.ID,
				Country:     r.Country,
				Industry:    r.Industry,
				Status:      string(r.Status),
				TargetStage: r.TargetStage,
				CreatedAt:   r.CreatedAt.Format(time.RFC3339),
				UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
			})
		}
		type response struct {
			shared.JSONResponse
			Runs []runRow `json:"runs"`
		}
		return shared.EmitJSON(response{
			JSONResponse: shared.NewEnvelope("list", true),
			Runs:         rows,
		})
	}

	if len(runs) == 0 {
		cmd.Println(shared.RenderLabel("no runs"))
		return nil
	}

	table := shared.NewTable("RUN", "COUNTRY", "INDUSTRY", "STATUS", "TARGET", "UPDATED")
	for _, r := range runs {
		table.AddRow(
			r.ID,
			r.Country,
			r.Industry,
			shared.RenderRunStatus(string(r.Status)),
			r.TargetStage,
			r.UpdatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	cmd.Print(table.Render())
	return nil
}
