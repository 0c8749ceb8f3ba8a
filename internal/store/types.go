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

package store

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	// RunStatusPending indicates the run has stages left to execute.
	RunStatusPending RunStatus = "pending"
	// RunStatusRunning indicates a runner is currently executing stages.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates every stage completed.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates a stage failed and the run stopped.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates an operator cancelled the run.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status ends the run lifecycle.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// IsValid reports whether s is a known run status.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// AttemptStatus represents the state of one stage attempt.
type AttemptStatus string

const (
	// AttemptStatusRunning indicates the attempt is executing.
	AttemptStatusRunning AttemptStatus = "running"
	// AttemptStatusCompleted indicates the attempt finished successfully.
	AttemptStatusCompleted AttemptStatus = "completed"
	// AttemptStatusFailed indicates the handler or gate failed.
	AttemptStatusFailed AttemptStatus = "failed"
	// AttemptStatusSkipped is reserved for review stages that determine no
	// action is needed. The runner does not currently produce it.
	AttemptStatusSkipped AttemptStatus = "skipped"
)

// EventType classifies run events.
type EventType string

const (
	// EventInfo marks routine progress events.
	EventInfo EventType = "info"
	// EventGate marks template-gate evaluations.
	EventGate EventType = "gate"
	// EventError marks failures.
	EventError EventType = "error"
	// EventMetric marks emitted measurements.
	EventMetric EventType = "metric"
)

// Run is the top-level pipeline entity: one invocation subject identified by
// a stable run id.
type Run struct {
	ID            string
	Country       string
	Industry      string
	ClientContext string
	TargetStage   string
	Status        RunStatus
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    *time.Time
}

// StageAttempt is one execution of a stage within a run, numbered from 1.
type StageAttempt struct {
	ID         int64
	RunID      string
	Stage      string
	Attempt    int
	Status     AttemptStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	DurationMs *int64
	Error      string
}

// Artifact records a file produced by a stage attempt. Path is relative to
// the artifacts base directory.
type Artifact struct {
	RunID       string
	Stage       string
	Attempt     int
	Filename    string
	Path        string
	SizeBytes   int64
	ContentType string
	CreatedAt   time.Time
}

// Event is an append-only log entry scoped to a run and optionally a stage
// attempt. Data holds an opaque JSON payload.
type Event struct {
	ID        int64
	RunID     string
	Stage     string
	Attempt   *int
	Type      EventType
	Message   string
	Data      string
	CreatedAt time.Time
}

// RunLock is the cooperative single-writer lock row for a run.
type RunLock struct {
	RunID       string
	Holder      string
	AcquiredAt  time.Time
	HeartbeatAt time.Time
	ExpiresAt   time.Time
}
