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

// Package paths implements the stagehand paths command: where a run's
// recorded artifacts live on disk.
package paths

import (
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/store"
	"github.com/tombee/stagehand/pkg/errors"
	"github.com/tombee/stagehand/pkg/stage"
)

type pathsFlags struct {
	runID        string
	stage        string
	glob         string
	dbPath       string
	artifactsDir string
}

// NewCommand creates the paths command
func NewCommand() *cobra.Command {
	var flags pathsFlags

	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Show artifact locations for a run",
		Long: `List the recorded artifacts of a run with their absolute paths.
--glob filters on the path relative to the artifacts base directory.`,
		Example: `  stagehand paths --run-id run-abc123
  stagehand paths --run-id run-abc123 --stage 7
  stagehand paths --run-id run-abc123 --glob '**/output.json'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPaths(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.runID, "run-id", "", "Run identifier")
	cmd.Flags().StringVar(&flags.stage, "stage", "", "Only this stage's artifacts")
	cmd.Flags().StringVar(&flags.glob, "glob", "", "Glob filter on relative artifact paths")
	cmd.Flags().StringVar(&flags.dbPath, "db-path", "", "SQLite metadata store path")
	cmd.Flags().StringVar(&flags.artifactsDir, "artifacts-dir", "", "Artifact tree base directory")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}

func runPaths(cmd *cobra.Command, flags pathsFlags) error {
	ctx := cmd.Context()

	if flags.stage != "" && !stage.IsValid(flags.stage) {
		return shared.WrapExit(&errors.ValidationError{
			Field:   "stage",
			Message: "unknown stage id " + flags.stage,
		})
	}
	if flags.glob != "" && !doublestar.ValidatePattern(flags.glob) {
		return shared.WrapExit(&errors.ValidationError{
			Field:   "glob",
			Message: "malformed glob pattern " + flags.glob,
		})
	}

	env, err := shared.OpenEnv(ctx, shared.EnvOverrides{
		DBPath:       flags.dbPath,
		ArtifactsDir: flags.artifactsDir,
	})
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
			_ = shared.EmitJSONError("paths", err)
		}
		return shared.WrapExit(err)
	}

	var artifacts []*store.Artifact
	if flags.stage != "" {
		artifacts, err = env.Store.GetArtifacts(ctx, flags.runID, flags.stage)
	} else {
		for _, id := range stage.Order {
			var batch []*store.Artifact
			batch, err = env.Store.GetArtifacts(ctx, flags.runID, id)
			if err != nil {
				break
			}
			artifacts = append(artifacts, batch...)
		}
	}
	if err != nil {
		return shared.WrapExit(err)
	}

	type pathRow struct {
		Stage       string `json:"stage"`
		Attempt     int    `json:"attempt"`
		Filename    string `json:"filename"`
		Path        string `json:"path"`
		SizeBytes   int64  `json:"sizeBytes"`
		ContentType string `json:"contentType"`
	}

	rows := make([]pathRow, 0, len(artifacts))
	for _, a := range artifacts {
		if flags.glob != "" {
			match, _ := doublestar.Match(flags.glob, filepath.ToSlash(a.Path))
			if !match {
				continue
			}
		}
		rows = append(rows, pathRow{
			Stage:       a.Stage,
			Attempt:     a.Attempt,
			Filename:    a.Filename,
			Path:        filepath.Join(env.Artifacts.Base(), a.Path),
			SizeBytes:   a.SizeBytes,
			ContentType: a.ContentType,
		})
	}

	if shared.GetJSON() {
		type response struct {
			shared.JSONResponse
			RunID     string    `json:"runId"`
			Base      string    `json:"base"`
			Artifacts []pathRow `json:"artifacts"`
		}
		return shared.EmitJSON(response{
			JSONResponse: shared.NewEnvelope("paths", true),
			RunID:        flags.runID,
			Base:         env.Artifacts.Base(),
			Artifacts:    rows,
		})
	}

	if len(rows) == 0 {
		cmd.Println(shared.RenderLabel("no artifacts"))
		return nil
	}
	for _, row := range rows {
		cmd.Println(row.Path)
	}
	return nil
}
