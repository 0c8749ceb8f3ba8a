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

package shared

import "github.com/spf13/pflag"

// Global flag state. The root command binds it once through BindGlobalFlags;
// subcommands read it through the accessors.
var (
	verboseFlag bool
	quietFlag   bool
	jsonFlag    bool
	configFlag  string
)

// BindGlobalFlags registers the persistent flags every stagehand command
// shares on the root command's flag set.
func BindGlobalFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose output")
	fs.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-error output")
	fs.BoolVar(&jsonFlag, "json", false, "Output in JSON format")
	fs.StringVar(&configFlag, "config", "", "Path to settings file (default: ~/.config/stagehand/settings.yaml)")
}

// GetVerbose reports whether --verbose was passed.
func GetVerbose() bool { return verboseFlag }

// GetQuiet reports whether --quiet was passed.
func GetQuiet() bool { return quietFlag }

// GetJSON reports whether --json output was requested.
func GetJSON() bool { return jsonFlag }

// GetConfigPath returns the --config override, empty when the default
// settings path applies.
func GetConfigPath() string { return configFlag }

// BuildInfo is the binary's version metadata, stamped through ldflags.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"build_date"`
}

var buildInfo = BuildInfo{Version: "dev", Commit: "unknown", Date: "unknown"}

// SetBuildInfo records the link-time version metadata. Called once from main.
func SetBuildInfo(info BuildInfo) {
	buildInfo = info
}

// Build returns the recorded version metadata.
func Build() BuildInfo {
	return buildInfo
}
