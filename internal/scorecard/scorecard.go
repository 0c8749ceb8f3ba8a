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

// Package scorecard assembles read-only run summaries from the metadata
// store. It never writes; the status and list commands render its views.
package scorecard

import (
	"context"
	"time"

	"github.com/tombee/stagehand/internal/store"
	"github.com/tombee/stagehand/pkg/errors"
	"github.com/tombee/stagehand/pkg/stage"
)

// StageRow summarises one stage of a run.
type StageRow struct {
	Stage      string     `json:"stage"`
	Label      string     `json:"label"`
	Kind       stage.Kind `json:"kind"`
	Attempts   int        `json:"attempts"`
	Status     string     `json:"status"`
	DurationMs int64      `json:"durationMs,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// StatusPending marks a stage with no attempts yet.
const StatusPending = "pending"

// Summary is the full run scorecard.
type Summary struct {
	RunID         string          `json:"runId"`
	Country       string          `json:"country"`
	Industry      string          `json:"industry"`
	ClientContext string          `json:"clientContext,omitempty"`
	Status        store.RunStatus `json:"status"`
	TargetStage   string          `json:"targetStage,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
	Error         string          `json:"error,omitempty"`
	Completed     []string        `json:"completed"`
	NextPending   string          `json:"nextPending,omitempty"`
	Stages        []StageRow      `json:"stages"`
}

// Build assembles the scorecard for one run. Returns NotFoundError when the
// run does not exist.
func Build(ctx context.Context, st *store.Store, runID string) (*Summary, error) {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}

	completedSet, err := st.CompletedStages(ctx, runID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:         run.ID,
		Country:       run.Country,
		Industry:      run.Industry,
		ClientContext: run.ClientContext,
		Status:        run.Status,
		TargetStage:   run.TargetStage,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
		FinishedAt:    run.FinishedAt,
		Error:         run.Error,
		Completed:     make([]string, 0, len(completedSet)),
	}

	for _, id := range stage.Order {
		def, _ := stage.Get(id)
		row := StageRow{Stage: id, Label: def.Label, Kind: def.Kind, Status: StatusPending}

		attempts, err := st.GetStageAttempts(ctx, runID, id)
		if err != nil {
			return nil, err
		}
		row.Attempts = len(attempts)
		if len(attempts) > 0 {
			latest := attempts[len(attempts)-1]
			row.Status = string(latest.Status)
			if latest.DurationMs != nil {
				row.DurationMs = *latest.DurationMs
			}
			row.FinishedAt = latest.FinishedAt
			row.Error = latest.Error
		}

		if completedSet[id] {
			summary.Completed = append(summary.Completed, id)
		} else if summary.NextPending == "" {
			summary.NextPending = id
		}

		summary.Stages = append(summary.Stages, row)
	}

	return summary, nil
}
