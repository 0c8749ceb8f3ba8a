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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the stagehand configuration loaded from settings.yaml and
// overridden by the environment.
type Settings struct {
	// DBPath is the SQLite metadata store location.
	DBPath string `yaml:"db_path"`

	// ArtifactsDir is the base directory of the per-attempt artifact tree.
	ArtifactsDir string `yaml:"artifacts_dir"`

	// LockTTLMs is the run lock lease in milliseconds.
	LockTTLMs int64 `yaml:"lock_ttl_ms"`

	// StrictTemplate enables the post-stage template gate by default.
	StrictTemplate bool `yaml:"strict_template"`

	// Log configures the structured logger.
	Log LogSettings `yaml:"log"`
}

// LogSettings configures structured logging.
type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns settings rooted in the XDG data directory.
func Defaults() (*Settings, error) {
	data, err := DataDir()
	if err != nil {
		return nil, err
	}
	return &Settings{
		DBPath:       filepath.Join(data, "stagehand.db"),
		ArtifactsDir: filepath.Join(data, "artifacts"),
		LockTTLMs:    (5 * time.Minute).Milliseconds(),
		Log:          LogSettings{Level: "info", Format: "json"},
	}, nil
}

// Load reads settings from the given path (or the default settings path when
// empty), then applies environment overrides. A missing file is not an
// error; defaults apply.
func Load(path string) (*Settings, error) {
	s, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path, err = SettingsPath()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	s.applyEnv()
	return s, nil
}

// applyEnv overlays STAGEHAND_* environment variables.
func (s *Settings) applyEnv() {
	if v := os.Getenv("STAGEHAND_DB_PATH"); v != "" {
		s.DBPath = v
	}
	if v := os.Getenv("STAGEHAND_ARTIFACTS_DIR"); v != "" {
		s.ArtifactsDir = v
	}
	if v := os.Getenv("STAGEHAND_LOCK_TTL_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			s.LockTTLMs = ms
		}
	}
	if v := os.Getenv("STAGEHAND_STRICT_TEMPLATE"); v == "true" || v == "1" {
		s.StrictTemplate = true
	}
	if v := os.Getenv("STAGEHAND_LOG_LEVEL"); v != "" {
		s.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		s.Log.Format = v
	}
}

// LockTTL returns the lock lease as a duration.
func (s *Settings) LockTTL() time.Duration {
	return time.Duration(s.LockTTLMs) * time.Millisecond
}

// Save writes settings to the given path (or the default settings path when
// empty).
func (s *Settings) Save(path string) error {
	var err error
	if path == "" {
		path, err = SettingsPath()
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
