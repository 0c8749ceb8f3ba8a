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

// Package pipeline contains the stage runner and the handler contract: the
// plug-in surface through which domain logic enters the orchestrator.
// Handlers receive a StageContext, return a StageResult, and never touch the
// store or the filesystem; the runner does all persistence.
package pipeline

import "context"

// Options carries runtime flags threaded into every stage context.
type Options struct {
	// StrictTemplate enables the post-stage template gate for stages that
	// emit an inspection payload.
	StrictTemplate bool
}

// StageContext is the immutable view a handler receives: the run scope, the
// accumulated outputs of previously completed stages, and runtime options.
type StageContext struct {
	// RunID identifies the run being executed.
	RunID string

	// Stage is the stage being executed.
	Stage string

	// Attempt is the 1-indexed attempt number of this execution.
	Attempt int

	// Country and Industry are the run's immutable subject scope.
	Country  string
	Industry string

	// ClientContext is the optional opaque client brief supplied at run
	// creation.
	ClientContext string

	// Options carries runtime flags.
	Options Options

	// Prior maps a completed stage id to its decoded output.json. Only the
	// stages this handler declares in its registry entry are hydrated.
	Prior map[string]any

	// DeckPath is the on-disk location of the assembled deck when a prior
	// deck-producing stage has completed and this handler consumes it.
	DeckPath string
}

// PriorOutput returns the decoded output of a prior stage, or nil when it was
// not hydrated.
func (sc *StageContext) PriorOutput(stageID string) any {
	if sc.Prior == nil {
		return nil
	}
	return sc.Prior[stageID]
}

// Handler performs the domain work of one stage. It must be pure with respect
// to the store and file system: replayable and testable in isolation.
type Handler func(ctx context.Context, sc *StageContext) (*StageResult, error)
