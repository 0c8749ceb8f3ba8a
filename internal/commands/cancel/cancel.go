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

// Package cancel implements the stagehand cancel command. Cancellation is a
// status write: a running worker finishes its current stage and stops when
// it next consults the run. --force-unlock additionally clears the lock row
// for workers that died without releasing it.
package cancel

import (
	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/store"
	"github.com/tombee/stagehand/pkg/errors"
)

type cancelFlags struct {
	runID       string
	forceUnlock bool
	dbPath      string
}

// NewCommand creates the cancel command
func NewCommand() *cobra.Command {
	var flags cancelFlags

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a run",
		Long: `Mark a run cancelled. A cancelled run keeps its recorded stages and
artifacts and may later be resumed with 'stagehand run'.

Use --force-unlock to also clear a stale run lock left by a dead worker.`,
		Example: `  stagehand cancel --run-id run-abc123
  stagehand cancel --run-id run-abc123 --force-unlock`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.runID, "run-id", "", "Run identifier")
	cmd.Flags().BoolVar(&flags.forceUnlock, "force-unlock", false, "Clear the run lock regardless of holder")
	cmd.Flags().StringVar(&flags.dbPath, "db-path", "", "SQLite metadata store path")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}

func runCancel(cmd *cobra.Command, flags cancelFlags) error {
	ctx := cmd.Context()

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
			_ = shared.EmitJSONError("cancel", err)
		}
		return shared.WrapExit(err)
	}

	if err := env.Store.UpdateRunStatus(ctx, flags.runID, store.RunStatusCancelled, ""); err != nil {
		return shared.WrapExit(err)
	}
	if err := env.Store.AppendEvent(ctx, store.AppendEventParams{
		RunID:   flags.runID,
		Type:    store.EventInfo,
		Message: "run cancelled by operator",
	}); err != nil {
		return shared.WrapExit(err)
	}

	unlocked := false
	if flags.forceUnlock {
		unlocked, err = env.Locks.ForceRelease(ctx, flags.runID)
		if err != nil {
			return shared.WrapExit(err)
		}
	}

	if shared.GetJSON() {
		type response struct {
			shared.JSONResponse
			RunID    string `json:"runId"`
			Status   string `json:"status"`
			Unlocked bool   `json:"unlocked,omitempty"`
		}
		return shared.EmitJSON(response{
			JSONResponse: shared.NewEnvelope("cancel", true),
			RunID:        flags.runID,
			Status:       string(store.RunStatusCancelled),
			Unlocked:     unlocked,
		})
	}

	if !shared.GetQuiet() {
		cmd.Printf("run %s cancelled\n", flags.runID)
		if unlocked {
			cmd.Println("lock cleared")
		}
	}
	return nil
}
