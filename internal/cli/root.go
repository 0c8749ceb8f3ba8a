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

package cli

import (
	"github.com/spf13/cobra"
	"github.com/tombee/stagehand/internal/commands/shared"
)

// SetBuildInfo records the link-time version metadata (called from main).
func SetBuildInfo(version, commit, date string) {
	shared.SetBuildInfo(shared.BuildInfo{Version: version, Commit: commit, Date: date})
}

// NewRootCommand creates the root Cobra command for Stagehand
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Stagehand - resumable deck pipeline orchestration",
		Long: `Stagehand drives a fixed multi-stage deck pipeline with durable
per-stage artifacts. Every stage attempt is recorded in a SQLite metadata
store; a failed or interrupted run resumes from its first incomplete stage.

Run 'stagehand run --country C --industry I --through 9' to execute a
pipeline end to end. Run 'stagehand status --run-id <id>' to inspect one.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	shared.BindGlobalFlags(cmd.PersistentFlags())

	return cmd
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
