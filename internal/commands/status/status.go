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

// Package status implements the stagehand status command: the read-only
// scorecard for one run, optionally re-rendered as the store changes.
package status

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/scorecard"
)

// debounce coalesces bursts of database file events into one re-render.
const debounce = 250 * time.Millisecond

type statusFlags struct {
	runID  string
	watch  bool
	dbPath string
}

// NewCommand creates the status command
func NewCommand() *cobra.Command {
	var flags statusFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the scorecard for a run",
		Long: `Display a run's scope, status, completed stages and a per-stage
scorecard. With --watch the view re-renders whenever the metadata store
changes on disk.`,
		Example: `  stagehand status --run-id run-abc123
  stagehand status --run-id run-abc123 --watch
  stagehand status --run-id run-abc123 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.runID, "run-id", "", "Run identifier")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "Re-render when the store changes")
	cmd.Flags().StringVar(&flags.dbPath, "db-path", "", "SQLite metadata store path")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}

func runStatus(cmd *cobra.Command, flags statusFlags) error {
	ctx := cmd.Context()

	env, err := shared.OpenEnv(ctx, shared.EnvOverrides{DBPath: flags.dbPath})
	if err != nil {
		return shared.WrapExit(err)
	}
	defer env.Close()

	render := func() error {
		summary, err := scorecard.Build(ctx, env.Store, flags.runID)
		if err != nil {
			if shared.GetJSON() {
				_ = shared.EmitJSONError("status", err)
			}
			return shared.WrapExit(err)
		}
		return printSummary(cmd, summary)
	}

	if err := render(); err != nil {
		return err
	}
	if !flags.watch {
		return nil
	}
	return watchStore(ctx, env.Store.Path(), render)
}

// watchStore re-invokes render whenever the database file (or its WAL
// sidecars) changes. Watches the parent directory so journal rotation does
// not drop the watch.
func watchStore(ctx context.Context, dbPath string, render func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
		return err
	}

	base := filepath.Base(dbPath)
	var timer *time.Timer
	renders := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case renders <- struct{}{}:
				default:
				}
			})
		case <-renders:
			if err := render(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

func printSummary(cmd *cobra.Command, summary *scorecard.Summary) error {
	if shared.GetJSON() {
		type response struct {
			shared.JSONResponse
			Run *scorecard.Summary `json:"run"`
		}
		return shared.EmitJSON(response{
			JSONResponse: shared.NewEnvelope("status", true),
			Run:          summary,
		})
	}

	cmd.Printf("%s %s  %s %s / %s\n",
		shared.RenderLabel("run:"), shared.Bold.Render(summary.RunID),
		shared.RenderLabel("scope:"), summary.Country, summary.Industry)
	cmd.Printf("%s %s", shared.RenderLabel("status:"), shared.RenderRunStatus(string(summary.Status)))
	if summary.TargetStage != "" {
		cmd.Printf("  %s %s", shared.RenderLabel("target:"), summary.TargetStage)
	}
	if summary.NextPending != "" {
		cmd.Printf("  %s %s", shared.RenderLabel("next:"), summary.NextPending)
	}
	cmd.Println()
	if summary.Error != "" {
		cmd.Println(shared.StatusError.Render(summary.Error))
	}
	cmd.Println()

	table := shared.NewTable("STAGE", "LABEL", "KIND", "ATTEMPTS", "STATUS", "DURATION")
	for _, row := range summary.Stages {
		attempts := ""
		if row.Attempts > 0 {
			attempts = strconv.Itoa(row.Attempts)
		}
		table.AddRow(
			row.Stage,
			row.Label,
			string(row.Kind),
			attempts,
			shared.RenderStageStatus(row.Status),
			shared.FormatDuration(row.DurationMs),
		)
	}
	cmd.Print(table.Render())
	return nil
}
