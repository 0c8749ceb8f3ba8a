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

import "github.com/tombee/stagehand/internal/store"

// GateResult reports a review or quality gate outcome attached to a stage
// result. Skipped marks review stages that determined no action was needed;
// the attempt still completes.
type GateResult struct {
	Pass     bool     `json:"pass"`
	Score    float64  `json:"score,omitempty"`
	Failures []string `json:"failures,omitempty"`
	Skipped  bool     `json:"skipped,omitempty"`
}

// StageResult is what a handler returns on success.
type StageResult struct {
	// Data is serialised (after scrubbing) to output.json.
	Data any

	// Summary, when non-empty, is written to output.md.
	Summary string

	// Gate carries pass/score/failures from review-style handlers.
	Gate *GateResult

	// Metrics are measurements recorded in the stage's info event.
	Metrics map[string]float64

	// Events are appended to events.ndjson, one JSON object per line.
	Events []map[string]any

	// Binaries are opaque named blobs written into the attempt directory
	// (e.g. deck.pptx). Never serialised to JSON.
	Binaries map[string][]byte

	// Inspection is the post-stage gate input for deck-producing stages.
	// When present and the strict-template option is set, the runner
	// evaluates the template gate over it after the handler returns.
	Inspection map[string]any
}

// Outcome statuses for a runner invocation. Distinct from run status: an
// invocation that had nothing left to do completes even though the run may
// still be pending further stages.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// StageOutcome summarises one attempt executed during an invocation.
type StageOutcome struct {
	Stage      string              `json:"stage"`
	Attempt    int                 `json:"attempt"`
	Status     store.AttemptStatus `json:"status"`
	DurationMs int64               `json:"durationMs"`
	Gate       *GateResult         `json:"gate,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// RunOutcome is the result of one runner invocation.
type RunOutcome struct {
	// RunID identifies the run.
	RunID string `json:"runId"`

	// Status is OutcomeCompleted or OutcomeFailed.
	Status string `json:"status"`

	// RunStatus is the run's stored status after the invocation.
	RunStatus store.RunStatus `json:"runStatus"`

	// Stages lists the attempts executed by this invocation, in order.
	Stages []StageOutcome `json:"stages"`

	// NextPending is the first stage without a completed attempt, empty when
	// the whole pipeline has completed.
	NextPending string `json:"nextPending,omitempty"`

	// FailedStage and Error are set on fail-fast.
	FailedStage string `json:"failedStage,omitempty"`
	Error       string `json:"error,omitempty"`
}
