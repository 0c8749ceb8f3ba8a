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

package pipeline

import "log/slog"

// StagePayload is handed to hooks at stage boundaries. Data has already been
// scrubbed; hooks may forward it anywhere without leaking secrets.
type StagePayload struct {
	RunID      string      `json:"runId"`
	Stage      string      `json:"stage"`
	Attempt    int         `json:"attempt"`
	DurationMs int64       `json:"durationMs,omitempty"`
	Gate       *GateResult `json:"gate,omitempty"`
	Data       any         `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Hooks observe stage boundaries. All fields are optional. Hook errors and
// panics are logged and swallowed; a hook can never fail a stage.
type Hooks struct {
	OnStageStart    func(p StagePayload)
	OnStageComplete func(p StagePayload)
	OnStageFail     func(p StagePayload)
}

// fire invokes one hook, isolating the runner from panics.
func fire(logger *slog.Logger, name string, fn func(p StagePayload), p StagePayload) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("hook panicked",
				slog.String("hook", name),
				slog.String("stage", p.Stage),
				slog.Any("panic", r))
		}
	}()
	fn(p)
}
