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

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/tombee/stagehand/internal/artifact"
	"github.com/tombee/stagehand/internal/lock"
	"github.com/tombee/stagehand/internal/store"
	"github.com/tombee/stagehand/pkg/errors"
	"github.com/tombee/stagehand/pkg/stage"
)

type testEnv struct {
	store     *store.Store
	artifacts *artifact.Writer
	locks     *lock.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	return &testEnv{
		store:     s,
		artifacts: artifact.NewWriter(filepath.Join(dir, "artifacts")),
		locks:     lock.NewManager(lock.Config{DB: s.DB(), Logger: discardLogger()}),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e *testEnv) runner(t *testing.T, r *Registry) *Runner {
	t.Helper()
	return NewRunner(RunnerConfig{
		Store:     e.store,
		Artifacts: e.artifacts,
		Locks:     e.locks,
		Registry:  r,
		Logger:    discardLogger(),
		LockTTL:   time.Minute,
	})
}

// stubRegistry covers every stage with a handler that records its output
// under a stage-keyed field. Overrides swap individual stage handlers.
func stubRegistry(t *testing.T, overrides map[string]Handler) *Registry {
	t.Helper()

	r := NewRegistry()
	for _, id := range stage.Order {
		h := overrides[id]
		if h == nil {
			stageID := id
			h = func(ctx context.Context, sc *StageContext) (*StageResult, error) {
				return &StageResult{
					Data:    map[string]any{"stage": stageID, "country": sc.Country},
					Summary: "# " + stageID + "\n",
				}, nil
			}
		}
		entry := Entry{Handler: h}
		if prev, ok := stage.Prev(id); ok {
			entry.Consumes = []string{prev}
		}
		r.MustRegister(id, entry)
	}
	return r
}

func TestRunHappyPathAndNoopReinvoke(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, stubRegistry(t, nil))
	ctx := context.Background()

	outcome, err := runner.Run(ctx, RunRequest{
		Through: "3", Country: "DE", Industry: "logistics",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != OutcomeCompleted {
		t.Errorf("status = %q", outcome.Status)
	}
	wantStages := []string{"2", "2a", "3"}
	if len(outcome.Stages) != len(wantStages) {
		t.Fatalf("executed %d stages, want %d", len(outcome.Stages), len(wantStages))
	}
	for i, so := range outcome.Stages {
		if so.Stage != wantStages[i] || so.Status != store.AttemptStatusCompleted || so.Attempt != 1 {
			t.Errorf("stage outcome[%d] = %+v", i, so)
		}
	}
	if outcome.RunStatus != store.RunStatusPending {
		t.Errorf("run status = %q, want pending", outcome.RunStatus)
	}
	if outcome.NextPending != "3a" {
		t.Errorf("next pending = %q", outcome.NextPending)
	}

	// Artifacts for a completed stage exist on disk and in the store.
	data, err := env.artifacts.Read(outcome.RunID, "2", 1, stage.FileOutputJSON)
	if err != nil {
		t.Fatalf("reading output.json: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["country"] != "DE" {
		t.Errorf("output payload = %v", decoded)
	}

	// Re-invoking with the same target is a no-op.
	again, err := runner.Run(ctx, RunRequest{RunID: outcome.RunID, Through: "3"})
	if err != nil {
		t.Fatalf("re-invoke: %v", err)
	}
	if again.Status != OutcomeCompleted || len(again.Stages) != 0 {
		t.Errorf("re-invoke outcome = %+v", again)
	}
	if again.RunStatus != store.RunStatusPending {
		t.Errorf("run status after no-op = %q", again.RunStatus)
	}

	// No second attempts were recorded.
	attempts, _ := env.store.GetStageAttempts(ctx, outcome.RunID, "2")
	if len(attempts) != 1 {
		t.Errorf("stage 2 has %d attempts after no-op", len(attempts))
	}
}

func TestRunFailFast(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, stubRegistry(t, map[string]Handler{
		"3": func(ctx context.Context, sc *StageContext) (*StageResult, error) {
			return nil, fmt.Errorf("synthesis failed")
		},
	}))
	ctx := context.Background()

	outcome, err := runner.Run(ctx, RunRequest{
		Through: "5", Country: "DE", Industry: "logistics",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != OutcomeFailed || outcome.FailedStage != "3" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.RunStatus != store.RunStatusFailed {
		t.Errorf("run status = %q", outcome.RunStatus)
	}

	// Stages 2 and 2a completed, 3 failed, nothing after 3 started.
	last := outcome.Stages[len(outcome.Stages)-1]
	if last.Stage != "3" || last.Status != store.AttemptStatusFailed {
		t.Errorf("last stage outcome = %+v", last)
	}
	attempts, _ := env.store.GetStageAttempts(ctx, outcome.RunID, "3a")
	if len(attempts) != 0 {
		t.Error("stage after the failure was started")
	}

	// error.json records the handler failure.
	data, err := env.artifacts.Read(outcome.RunID, "3", 1, stage.FileErrorJSON)
	if err != nil {
		t.Fatalf("reading error.json: %v", err)
	}
	var payload artifact.ErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Code != errors.CodeHandlerError {
		t.Errorf("error code = %q", payload.Code)
	}

	run, _ := env.store.GetRun(ctx, outcome.RunID)
	if run.Error == "" {
		t.Error("run error payload not recorded")
	}
}

func TestRunRecoversAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	failing := env.runner(t, stubRegistry(t, map[string]Handler{
		"3": func(ctx context.Context, sc *StageContext) (*StageResult, error) {
			return nil, fmt.Errorf("synthesis failed")
		},
	}))
	outcome, err := failing.Run(ctx, RunRequest{
		Through: "5", Country: "DE", Industry: "logistics",
	})
	if err != nil {
		t.Fatal(err)
	}
	runID := outcome.RunID

	// Same run, fixed handler: stage 3 reruns as attempt 2, the pipeline
	// continues to the target.
	fixed := env.runner(t, stubRegistry(t, nil))
	outcome, err = fixed.Run(ctx, RunRequest{RunID: runID, Through: "5"})
	if err != nil {
		t.Fatalf("recovery run: %v", err)
	}
	if outcome.Status != OutcomeCompleted {
		t.Fatalf("recovery outcome = %+v", outcome)
	}

	wantStages := []string{"3", "3a", "4", "4a", "5"}
	if len(outcome.Stages) != len(wantStages) {
		t.Fatalf("executed %d stages, want %d", len(outcome.Stages), len(wantStages))
	}
	if outcome.Stages[0].Stage != "3" || outcome.Stages[0].Attempt != 2 {
		t.Errorf("retried stage outcome = %+v", outcome.Stages[0])
	}
	// Stages completed before the failure were not re-executed.
	attempts, _ := env.store.GetStageAttempts(ctx, runID, "2")
	if len(attempts) != 1 {
		t.Errorf("stage 2 re-executed: %d attempts", len(attempts))
	}
	if outcome.RunStatus != store.RunStatusPending || outcome.NextPending != "6" {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestRunThroughFinalStageCompletesRun(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, stubRegistry(t, nil))

	outcome, err := runner.Run(context.Background(), RunRequest{
		Through: "9", Country: "DE", Industry: "logistics",
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.RunStatus != store.RunStatusCompleted {
		t.Errorf("run status = %q", outcome.RunStatus)
	}
	if outcome.NextPending != "" {
		t.Errorf("next pending = %q", outcome.NextPending)
	}
	if len(outcome.Stages) != len(stage.Order) {
		t.Errorf("executed %d stages, want %d", len(outcome.Stages), len(stage.Order))
	}
}

func TestParallelRunsShareStore(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, stubRegistry(t, nil))
	ctx := context.Background()

	type result struct {
		outcome *RunOutcome
		err     error
	}
	results := make(chan result, 2)
	for _, country := range []string{"DE", "FR"} {
		go func(country string) {
			o, err := runner.Run(ctx, RunRequest{
				Through: "3", Country: country, Industry: "retail",
			})
			results <- result{o, err}
		}(country)
	}

	ids := map[string]bool{}
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("parallel run: %v", r.err)
		}
		if r.outcome.Status != OutcomeCompleted {
			t.Errorf("outcome = %+v", r.outcome)
		}
		ids[r.outcome.RunID] = true
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 distinct runs, got %v", ids)
	}
}

func TestRunLockContention(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, stubRegistry(t, nil))
	ctx := context.Background()

	// Seed the run, then hold its lock as W1.
	outcome, err := runner.Run(ctx, RunRequest{
		Through: "2", Country: "DE", Industry: "logistics",
	})
	if err != nil {
		t.Fatal(err)
	}
	before, err := env.store.GetRun(ctx, outcome.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.locks.AcquireAs(ctx, outcome.RunID, "W1", time.Minute); err != nil {
		t.Fatal(err)
	}

	_, err = runner.Run(ctx, RunRequest{RunID: outcome.RunID, Through: "5", Holder: "W2"})
	var lockErr *errors.LockHeldError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockHeldError, got %v", err)
	}
	if lockErr.Holder != "W1" {
		t.Errorf("reported holder = %q", lockErr.Holder)
	}

	// The rejected caller left the run row untouched: no retargeting, no
	// status change, and no stage ran.
	after, err := env.store.GetRun(ctx, outcome.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if after.TargetStage != before.TargetStage {
		t.Errorf("target_stage mutated under contention: got %q, want %q", after.TargetStage, before.TargetStage)
	}
	if after.Status != before.Status {
		t.Errorf("status mutated under contention: got %q, want %q", after.Status, before.Status)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("updated_at advanced under contention")
	}
	attempts, _ := env.store.GetStageAttempts(ctx, outcome.RunID, "2a")
	if len(attempts) != 0 {
		t.Error("stage executed while the lock was held elsewhere")
	}
}

func TestRunLockContentionCreatesNoRun(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, stubRegistry(t, nil))
	ctx := context.Background()

	// A lock can exist before its run row does; a contended creation must
	// not leave an orphaned run behind.
	if _, err := env.locks.AcquireAs(ctx, "run-held", "W1", time.Minute); err != nil {
		t.Fatal(err)
	}

	_, err := runner.Run(ctx, RunRequest{
		RunID: "run-held", Through: "3",
		Country: "DE", Industry: "logistics", Holder: "W2",
	})
	var lockErr *errors.LockHeldError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockHeldError, got %v", err)
	}

	run, err := env.store.GetRun(ctx, "run-held")
	if err != nil {
		t.Fatal(err)
	}
	if run != nil {
		t.Errorf("rejected caller created a run row: %+v", run)
	}
}

func TestRunStrictTemplateGate(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, stubRegistry(t, map[string]Handler{
		"7": func(ctx context.Context, sc *StageContext) (*StageResult, error) {
			return &StageResult{
				Data: map[string]any{"deck": "deck.pptx"},
				Inspection: map[string]any{
					"allowedFonts": []any{"Calibri"},
					"slides": []any{
						map[string]any{"key": "situation", "fonts": []any{"Papyrus"}},
					},
				},
			}, nil
		},
	}))
	ctx := context.Background()

	outcome, err := runner.Run(ctx, RunRequest{
		Through: "9", Country: "DE", Industry: "logistics",
		Options: Options{StrictTemplate: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != OutcomeFailed || outcome.FailedStage != "7" {
		t.Fatalf("outcome = %+v", outcome)
	}

	// Gate evidence lands in error.json; the next stage never started.
	data, err := env.artifacts.Read(outcome.RunID, "7", 1, stage.FileErrorJSON)
	if err != nil {
		t.Fatal(err)
	}
	var payload artifact.ErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Code != errors.CodeTemplateStrictFailure {
		t.Errorf("error code = %q", payload.Code)
	}
	if _, ok := payload.Details["blockingSlideKeys"]; !ok {
		t.Error("blockingSlideKeys missing from error details")
	}
	attempts, _ := env.store.GetStageAttempts(ctx, outcome.RunID, "8")
	if len(attempts) != 0 {
		t.Error("quality checks started after the gate failed")
	}

	// Without the strict option the same inspection passes through.
	relaxed, err := runner.Run(ctx, RunRequest{RunID: outcome.RunID, Through: "9"})
	if err != nil {
		t.Fatal(err)
	}
	if relaxed.Status != OutcomeCompleted {
		t.Errorf("relaxed outcome = %+v", relaxed)
	}
}

func TestRunPriorContextHydration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var sawPrior map[string]any
	reg := stubRegistry(t, map[string]Handler{
		"2a": func(ctx context.Context, sc *StageContext) (*StageResult, error) {
			sawPrior = sc.Prior
			return &StageResult{Data: map[string]any{"stage": "2a"}}, nil
		},
	})
	runner := env.runner(t, reg)

	// First invocation stops after stage 2; the second loads its output
	// from disk when hydrating 2a's context.
	outcome, err := runner.Run(ctx, RunRequest{
		Through: "2", Country: "DE", Industry: "logistics",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Run(ctx, RunRequest{RunID: outcome.RunID, Through: "2a"}); err != nil {
		t.Fatal(err)
	}

	prior, ok := sawPrior["2"].(map[string]any)
	if !ok {
		t.Fatalf("stage 2 output missing from context: %v", sawPrior)
	}
	if prior["country"] != "DE" {
		t.Errorf("hydrated prior output = %v", prior)
	}
}

func TestRunHandlerPanicRecovered(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, stubRegistry(t, map[string]Handler{
		"2": func(ctx context.Context, sc *StageContext) (*StageResult, error) {
			panic("boom")
		},
	}))

	outcome, err := runner.Run(context.Background(), RunRequest{
		Through: "2", Country: "DE", Industry: "logistics",
	})
	if err != nil {
		t.Fatalf("panic escaped the runner: %v", err)
	}
	if outcome.Status != OutcomeFailed || outcome.FailedStage != "2" {
		t.Fatalf("outcome = %+v", outcome)
	}

	data, err := env.artifacts.Read(outcome.RunID, "2", 1, stage.FileErrorJSON)
	if err != nil {
		t.Fatal(err)
	}
	var payload artifact.ErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Stack == "" {
		t.Error("panic stack not captured in error.json")
	}
}

func TestRunInvalidThrough(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, stubRegistry(t, nil))

	_, err := runner.Run(context.Background(), RunRequest{
		Through: "11", Country: "DE", Industry: "logistics",
	})
	if errors.CodeOf(err) != errors.CodeInvalidArgument {
		t.Errorf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestRunNewRunRequiresScope(t *testing.T) {
	env := newTestEnv(t)
	runner := env.runner(t, stubRegistry(t, nil))

	_, err := runner.Run(context.Background(), RunRequest{Through: "3"})
	if errors.CodeOf(err) != errors.CodeInvalidArgument {
		t.Errorf("expected INVALID_ARGUMENT, got %v", err)
	}
}
