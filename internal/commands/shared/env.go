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

import (
	"context"
	"log/slog"

	"github.com/tombee/stagehand/internal/artifact"
	"github.com/tombee/stagehand/internal/config"
	"github.com/tombee/stagehand/internal/lock"
	logpkg "github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/store"
)

// Env bundles the opened backends a command works against: settings merged
// from file/env/flags, the metadata store, the artifact writer and the lock
// manager.
type Env struct {
	Settings  *config.Settings
	Store     *store.Store
	Artifacts *artifact.Writer
	Locks     *lock.Manager
	Logger    *slog.Logger
}

// EnvOverrides carries per-command flag values that take precedence over the
// settings file and environment.
type EnvOverrides struct {
	DBPath       string
	ArtifactsDir string
	LockTTLMs    int64
}

// OpenEnv loads settings, applies flag overrides and opens the store. The
// caller closes the returned Env.
func OpenEnv(ctx context.Context, o EnvOverrides) (*Env, error) {
	settings, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, err
	}
	if o.DBPath != "" {
		settings.DBPath = o.DBPath
	}
	if o.ArtifactsDir != "" {
		settings.ArtifactsDir = o.ArtifactsDir
	}
	if o.LockTTLMs > 0 {
		settings.LockTTLMs = o.LockTTLMs
	}

	logCfg := logpkg.FromEnv()
	if settings.Log.Level != "" {
		logCfg.Level = settings.Log.Level
	}
	if settings.Log.Format != "" {
		logCfg.Format = logpkg.Format(settings.Log.Format)
	}
	if GetVerbose() {
		logCfg.Level = "debug"
	}
	logger := logpkg.New(logCfg)

	st, err := store.Open(settings.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	return &Env{
		Settings:  settings,
		Store:     st,
		Artifacts: artifact.NewWriter(settings.ArtifactsDir),
		Locks:     lock.NewManager(lock.Config{DB: st.DB(), Logger: logger}),
		Logger:    logger,
	}, nil
}

// Close releases the environment's store connection.
func (e *Env) Close() error {
	return e.Store.Close()
}
