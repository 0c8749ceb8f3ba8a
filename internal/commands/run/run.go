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

// Package run implements the stagehand run command: execute a run's pipeline
// up to a target stage, creating or resuming the run as needed.
package run

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/handlers"
	"github.com/tombee/stagehand/pkg/pipeline"
	"github.com/tombee/stagehand/pkg/stage"
)

type runFlags struct {
	runID          string
	through        string
	country        string
	industry       string
	clientContext  string
	holder         string
	strictTemplate bool
	dbPath         string
	artifactsDir   string
	lockTTLMs      int64
}

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute pipeline stages for a run",
		Long: `Execute a run's pipeline from its first incomplete stage up to and
including the --through stage. A new run needs --country and --industry;
passing an existing --run-id resumes it from where it stopped.

The pipeline stops at the first failing stage. Re-running the same command
retries that stage as a fresh attempt.`,
		Example: `  # New run through synthesis
  stagehand run --country DE --industry logistics --through 3

  # Resume the same run to the end
  stagehand run --run-id run-abc123 --through 9

  # Enforce template conformance on the assembled deck
  stagehand run --run-id run-abc123 --through 9 --strict-template`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.runID, "run-id", "", "Run identifier (omit to create a new run)")
	cmd.Flags().StringVar(&flags.through, "through", stage.Last(), "Last stage to execute")
	cmd.Flags().StringVar(&flags.country, "country", "", "Country scope for a new run")
	cmd.Flags().StringVar(&flags.industry, "industry", "", "Industry scope for a new run")
	cmd.Flags().StringVar(&flags.clientContext, "client-context", "", "Optional client brief for a new run")
	cmd.Flags().StringVar(&flags.holder, "holder", "", "Worker identity for the run lock (default: generated)")
	cmd.Flags().BoolVar(&flags.strictTemplate, "strict-template", false, "Fail deck stages that drift from the template")
	cmd.Flags().StringVar(&flags.dbPath, "db-path", "", "SQLite metadata store path")
	cmd.Flags().StringVar(&flags.artifactsDir, "artifacts-dir", "", "Artifact tree base directory")
	cmd.Flags().Int64Var(&flags.lockTTLMs, "lock-ttl", 0, "Run lock lease in milliseconds")

	return cmd
}

func runPipeline(cmd *cobra.Command, flags runFlags) error {
	ctx := cmd.Context()

	env, err := shared.OpenEnv(ctx, shared.EnvOverrides{
		DBPath:       flags.dbPath,
		ArtifactsDir: flags.artifactsDir,
		LockTTLMs:    flags.lockTTLMs,
	})
	if err != nil {
		return shared.WrapExit(err)
	}
	defer env.Close()

	registry := handlers.NewRegistry()
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Store:     env.Store,
		Artifacts: env.Artifacts,
		Locks:     env.Locks,
		Registry:  registry,
		Logger:    env.Logger,
		LockTTL:   env.Settings.LockTTL(),
	})

	outcome, err := runner.Run(ctx, pipeline.RunRequest{
		RunID:         flags.runID,
		Through:       flags.through,
		Country:       flags.country,
		Industry:      flags.industry,
		ClientContext: flags.clientContext,
		Holder:        flags.holder,
		Options: pipeline.Options{
			StrictTemplate: flags.strictTemplate || env.Settings.StrictTemplate,
		},
	})
	if err != nil {
		if shared.GetJSON() {
			_ = shared.EmitJSONError("run", err)
		}
		return shared.WrapExit(err)
	}

	if shared.GetJSON() {
		type response struct {
			shared.JSONResponse
			Outcome *pipeline.RunOutcome `json:"outcome"`
		}
		if err := shared.EmitJSON(response{
			JSONResponse: shared.NewEnvelope("run", outcome.Status == pipeline.OutcomeCompleted),
			Outcome:      outcome,
		}); err != nil {
			return err
		}
	} else if !shared.GetQuiet() {
		printOutcome(cmd, outcome)
	}

	if outcome.Status == pipeline.OutcomeFailed {
		return shared.NewStageFailedError(
			fmt.Sprintf("stage %s failed", outcome.FailedStage),
			fmt.Errorf("%s", outcome.Error))
	}
	return nil
}

func printOutcome(cmd *cobra.Command, outcome *pipeline.RunOutcome) {
	cmd.Printf("%s %s\n", shared.RenderLabel("run:"), outcome.RunID)

	for _, so := range outcome.Stages {
		def, _ := stage.Get(so.Stage)
		line := fmt.Sprintf("%-4s %-18s %s", so.Stage, def.Label, shared.RenderStageStatus(string(so.Status)))
		if d := shared.FormatDuration(so.DurationMs); d != "" {
			line += " " + shared.RenderLabel("("+d+")")
		}
		cmd.Println(line)
		if so.Error != "" {
			cmd.Println("     " + shared.StatusError.Render(so.Error))
		}
	}

	if len(outcome.Stages) == 0 {
		cmd.Println(shared.RenderLabel("nothing to do"))
	}

	cmd.Printf("%s %s", shared.RenderLabel("status:"), shared.RenderRunStatus(string(outcome.RunStatus)))
	if outcome.NextPending != "" && outcome.Status != pipeline.OutcomeFailed {
		cmd.Printf(" %s", shared.RenderLabel("(next: "+outcome.NextPending+")"))
	}
	cmd.Println()
}
