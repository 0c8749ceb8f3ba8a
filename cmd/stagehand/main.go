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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/stagehand/internal/cli"
	"github.com/tombee/stagehand/internal/commands/cancel"
	"github.com/tombee/stagehand/internal/commands/events"
	"github.com/tombee/stagehand/internal/commands/list"
	"github.com/tombee/stagehand/internal/commands/paths"
	"github.com/tombee/stagehand/internal/commands/run"
	"github.com/tombee/stagehand/internal/commands/status"
	versioncmd "github.com/tombee/stagehand/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Set version information from build-time ldflags
	cli.SetBuildInfo(version, commit, buildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create root command and add subcommands
	rootCmd := cli.NewRootCommand()

	// Pipeline commands
	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(cancel.NewCommand())

	// Inspection commands
	rootCmd.AddCommand(status.NewCommand())
	rootCmd.AddCommand(list.NewCommand())
	rootCmd.AddCommand(paths.NewCommand())
	rootCmd.AddCommand(events.NewCommand())

	// Version command
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	// Custom help command with JSON support
	rootCmd.SetHelpCommand(cli.NewHelpCommand(rootCmd))

	// Execute root command
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cli.HandleExitError(err)
	}
}
