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
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/tombee/stagehand/internal/artifact"
	"github.com/tombee/stagehand/internal/lock"
	"github.com/tombee/stagehand/internal/metrics"
	"github.com/tombee/stagehand/internal/scrub"
	"github.com/tombee/stagehand/internal/store"
	"github.com/tombee/stagehand/pkg/errors"
	"github.com/tombee/stagehand/pkg/stage"
)

// Runner executes the slice of stages between a run's first incomplete stage
// and its through target. It is the only component that mutates a run's
// metadata while holding its lock.
type Runner struct {
	store     *store.Store
	artifacts *artifact.Writer
	locks     *lock.Manager
	registry  *Registry
	hooks     Hooks
	logger    *slog.Logger
	lockTTL   time.Duration
	now       func() time.Time
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	// Store is the metadata store.
	Store *store.Store

	// Artifacts writes the per-attempt file tree.
	Artifacts *artifact.Writer

	// Locks is the run lock manager.
	Locks *lock.Manager

	// Registry maps stage ids to handlers.
	Registry *Registry

	// Hooks observe stage boundaries. Optional.
	Hooks Hooks

	// Logger is the structured logger to use. If nil, uses slog.Default().
	Logger *slog.Logger

	// LockTTL is the run lock lease. Zero means lock.DefaultTTL.
	LockTTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = lock.DefaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		store:     cfg.Store,
		artifacts: cfg.Artifacts,
		locks:     cfg.Locks,
		registry:  cfg.Registry,
		hooks:     cfg.Hooks,
		logger:    logger.With(slog.String("component", "runner")),
		lockTTL:   ttl,
		now:       now,
	}
}

// RunRequest describes one runner invocation.
type RunRequest struct {
	// RunID identifies the run. Empty generates a fresh id for a new run.
	RunID string

	// Through is the last stage to execute in this invocation.
	Through string

	// Country and Industry are required for a new run; a resumed run uses
	// its stored scope.
	Country  string
	Industry string

	// ClientContext is an optional opaque client brief for a new run.
	ClientContext string

	// Holder is the worker identity used for the run lock. Empty generates
	// a worker-<8-hex> identity.
	Holder string

	// Options carries runtime flags into every stage context.
	Options Options
}

// Run executes the pipeline for a run up to and including the through stage.
// LockHeld, InvalidArgument and DuplicateRunId surface as errors without
// mutating state; handler and gate failures are recorded and returned inside
// a failed RunOutcome.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	if !stage.IsValid(req.Through) {
		return nil, &errors.ValidationError{Field: "through", Message: fmt.Sprintf("unknown stage id %q", req.Through)}
	}

	// Resolve read-only before taking the lock. A rejected caller must leave
	// no trace: creating the run and moving target_stage wait until the lock
	// is held.
	run, err := r.lookupRun(ctx, req)
	if err != nil {
		return nil, err
	}
	if run == nil && (req.Country == "" || req.Industry == "") {
		return nil, &errors.ValidationError{
			Field:      "country",
			Message:    "a new run requires --country and --industry",
			Suggestion: "pass the run scope, or use an existing --run-id to resume",
		}
	}

	runID := req.RunID
	if run != nil {
		runID = run.ID
	} else if runID == "" {
		runID = store.NewRunID()
	}

	holder := req.Holder
	if holder == "" {
		holder = lock.NewHolderID()
	}

	acq, err := r.locks.AcquireAs(ctx, runID, holder, r.lockTTL)
	if err != nil {
		return nil, err
	}
	if !acq.Acquired {
		metrics.RecordLockContention()
		return nil, &errors.LockHeldError{RunID: runID, Holder: acq.Holder}
	}
	defer func() {
		if _, err := r.locks.Release(ctx, runID, holder); err != nil {
			r.logger.Warn("releasing run lock", slog.String("run_id", runID), slog.Any("error", err))
		}
	}()

	if run == nil {
		run, err = r.store.CreateRun(ctx, store.CreateRunParams{
			ID:            runID,
			Country:       req.Country,
			Industry:      req.Industry,
			ClientContext: req.ClientContext,
			TargetStage:   req.Through,
		})
		if err != nil {
			return nil, err
		}
	} else if run.TargetStage != req.Through {
		if err := r.store.UpdateRunTarget(ctx, run.ID, req.Through); err != nil {
			return nil, err
		}
		run.TargetStage = req.Through
	}

	return r.execute(ctx, run, req, holder)
}

// lookupRun loads the requested run, or nil when the request names no run or
// an unknown one (a new run will be created under the lock).
func (r *Runner) lookupRun(ctx context.Context, req RunRequest) (*store.Run, error) {
	if req.RunID == "" {
		return nil, nil
	}
	return r.store.GetRun(ctx, req.RunID)
}

// execute runs the stage slice while holding the run lock.
func (r *Runner) execute(ctx context.Context, run *store.Run, req RunRequest, holder string) (*RunOutcome, error) {
	logger := r.logger.With(slog.String("run_id", run.ID))

	completed, err := r.store.CompletedStages(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	pending := nextPending(completed)
	outcome := &RunOutcome{RunID: run.ID, Status: OutcomeCompleted}

	if pending == "" {
		// Every stage already completed: nothing to do, run stays completed.
		outcome.RunStatus = store.RunStatusCompleted
		return outcome, nil
	}
	if stage.Index(pending) > stage.Index(req.Through) {
		outcome.RunStatus = run.Status
		outcome.NextPending = pending
		return outcome, nil
	}

	stages, err := stage.Slice(pending, req.Through)
	if err != nil {
		return nil, err
	}

	if err := r.store.UpdateRunStatus(ctx, run.ID, store.RunStatusRunning, ""); err != nil {
		return nil, err
	}

	prior := make(map[string]any)

	for _, stageID := range stages {
		if _, err := r.locks.Heartbeat(ctx, run.ID, holder, r.lockTTL); err != nil {
			logger.Warn("lock heartbeat failed", slog.String("stage", stageID), slog.Any("error", err))
		}

		entry, ok := r.registry.Get(stageID)
		if !ok {
			return nil, &errors.ValidationError{Field: "registry", Message: fmt.Sprintf("stage %s has no handler", stageID)}
		}

		sc, err := r.buildContext(ctx, run, req, stageID, entry, completed, prior)
		if err != nil {
			return nil, err
		}

		so, stageErr, execErr := r.executeStage(ctx, run, stageID, entry, sc)
		if execErr != nil {
			// Store or filesystem failure while recording a successful
			// stage: it cannot be safely marked completed, so re-raise
			// after moving the run out of running.
			var storeErr *errors.StoreError
			if errors.As(execErr, &storeErr) {
				metrics.RecordStoreError(storeErr.Op)
			}
			if uerr := r.store.UpdateRunStatus(ctx, run.ID, store.RunStatusPending, ""); uerr != nil {
				logger.Warn("resetting run status", slog.Any("error", uerr))
			}
			return nil, execErr
		}

		outcome.Stages = append(outcome.Stages, so.StageOutcome)

		if stageErr != nil {
			payload := encodeError(stageErr)
			if err := r.store.UpdateRunStatus(ctx, run.ID, store.RunStatusFailed, payload); err != nil {
				return nil, err
			}
			outcome.Status = OutcomeFailed
			outcome.RunStatus = store.RunStatusFailed
			outcome.FailedStage = stageID
			outcome.Error = stageErr.Error()
			outcome.NextPending = stageID
			return outcome, nil
		}

		completed[stageID] = true
		prior[stageID] = so.data
	}

	finalStatus := store.RunStatusPending
	next := nextPending(completed)
	if next == "" {
		finalStatus = store.RunStatusCompleted
	}
	if err := r.store.UpdateRunStatus(ctx, run.ID, finalStatus, ""); err != nil {
		return nil, err
	}

	outcome.RunStatus = finalStatus
	outcome.NextPending = next
	return outcome, nil
}

// stageOutcome extends the public StageOutcome with the handler's raw data,
// carried forward in memory for later stage contexts.
type stageOutcome struct {
	StageOutcome
	data any
}

// executeStage runs one stage attempt end to end. It returns the outcome, a
// stage failure (handler or gate, recorded rather than re-raised), and an
// execution error (store or filesystem, re-raised by the caller).
func (r *Runner) executeStage(ctx context.Context, run *store.Run, stageID string, entry Entry, sc *StageContext) (*stageOutcome, error, error) {
	att, err := r.store.StartStageAttempt(ctx, run.ID, stageID)
	if err != nil {
		return nil, nil, err
	}
	sc.Attempt = att.Attempt

	logger := r.logger.With(
		slog.String("run_id", run.ID),
		slog.String("stage", stageID),
		slog.Int("attempt", att.Attempt),
	)
	logger.Info("stage started")

	fire(logger, "onStageStart", r.hooks.OnStageStart, StagePayload{
		RunID: run.ID, Stage: stageID, Attempt: att.Attempt,
	})

	started := r.now()
	result, handlerErr := invokeHandler(ctx, stageID, entry.Handler, sc)
	durationMs := r.now().Sub(started).Milliseconds()

	var stageErr error
	if handlerErr != nil {
		stageErr = handlerErr
	} else if sc.Options.StrictTemplate && result != nil && result.Inspection != nil {
		stageErr = evaluateTemplateGate(stageID, result.Inspection)
	}

	if stageErr != nil {
		if err := r.recordFailure(ctx, run, stageID, att.Attempt, durationMs, stageErr); err != nil {
			return nil, nil, err
		}
		logger.Error("stage failed", slog.Int64("duration_ms", durationMs), slog.Any("error", stageErr))
		metrics.RecordStageAttempt(stageID, string(store.AttemptStatusFailed), durationMs)
		fire(logger, "onStageFail", r.hooks.OnStageFail, StagePayload{
			RunID: run.ID, Stage: stageID, Attempt: att.Attempt,
			DurationMs: durationMs, Error: stageErr.Error(),
		})
		return &stageOutcome{StageOutcome: StageOutcome{
			Stage: stageID, Attempt: att.Attempt,
			Status: store.AttemptStatusFailed, DurationMs: durationMs,
			Error: stageErr.Error(),
		}}, stageErr, nil
	}

	scrubbed := scrub.Value(result.Data)
	if err := r.recordSuccess(ctx, run, stageID, att.Attempt, durationMs, result, scrubbed); err != nil {
		return nil, nil, err
	}

	logger.Info("stage completed", slog.Int64("duration_ms", durationMs))
	metrics.RecordStageAttempt(stageID, string(store.AttemptStatusCompleted), durationMs)
	fire(logger, "onStageComplete", r.hooks.OnStageComplete, StagePayload{
		RunID: run.ID, Stage: stageID, Attempt: att.Attempt,
		DurationMs: durationMs, Gate: result.Gate, Data: scrubbed,
	})

	return &stageOutcome{
		StageOutcome: StageOutcome{
			Stage: stageID, Attempt: att.Attempt,
			Status: store.AttemptStatusCompleted, DurationMs: durationMs,
			Gate: result.Gate,
		},
		data: result.Data,
	}, nil, nil
}

// recordSuccess writes the attempt's artifacts, then finishes the attempt,
// records the artifact rows and appends the info event in one transaction.
func (r *Runner) recordSuccess(ctx context.Context, run *store.Run, stageID string, attempt int, durationMs int64, result *StageResult, scrubbed any) error {
	meta := map[string]any{
		"stage":       stageID,
		"attempt":     attempt,
		"durationMs":  durationMs,
		"completedAt": r.now().UTC().Format(time.RFC3339Nano),
	}
	if result.Gate != nil {
		meta["gate"] = result.Gate
	}
	if len(result.Metrics) > 0 {
		meta["metrics"] = result.Metrics
	}

	rows, err := r.artifacts.WriteStageArtifacts(artifact.Bundle{
		RunID:    run.ID,
		Stage:    stageID,
		Attempt:  attempt,
		Output:   scrubbed,
		Summary:  result.Summary,
		Meta:     meta,
		Events:   result.Events,
		Binaries: result.Binaries,
	})
	if err != nil {
		return err
	}

	eventData := map[string]any{"durationMs": durationMs}
	if result.Gate != nil {
		eventData["gate"] = result.Gate
	}
	if len(result.Metrics) > 0 {
		eventData["metrics"] = result.Metrics
	}
	data, err := json.Marshal(eventData)
	if err != nil {
		return &errors.StoreError{Op: "encodeEvent", Cause: err}
	}

	return r.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.FinishStageAttempt(ctx, run.ID, stageID, attempt); err != nil {
			return err
		}
		for _, row := range rows {
			if err := tx.RecordArtifact(ctx, row); err != nil {
				return err
			}
		}
		return tx.AppendEvent(ctx, store.AppendEventParams{
			RunID:   run.ID,
			Stage:   stageID,
			Attempt: &attempt,
			Type:    store.EventInfo,
			Message: fmt.Sprintf("stage %s completed", stageID),
			Data:    string(data),
		})
	})
}

// recordFailure writes error.json, then fails the attempt, records the
// artifact row and appends the error event in one transaction.
func (r *Runner) recordFailure(ctx context.Context, run *store.Run, stageID string, attempt int, durationMs int64, stageErr error) error {
	row, err := r.artifacts.WriteErrorArtifact(run.ID, stageID, attempt, stageErr)
	if err != nil {
		return err
	}

	return r.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.FailStageAttempt(ctx, run.ID, stageID, attempt, stageErr.Error()); err != nil {
			return err
		}
		if err := tx.RecordArtifact(ctx, row); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, store.AppendEventParams{
			RunID:   run.ID,
			Stage:   stageID,
			Attempt: &attempt,
			Type:    store.EventError,
			Message: fmt.Sprintf("stage %s failed: %s", stageID, stageErr.Error()),
			Data:    encodeError(stageErr),
		})
	})
}

// buildContext hydrates the stage context from the registry's Consumes list:
// the latest completed attempt's output.json per consumed stage, plus the
// deck path when the deck-producing stage is consumed. Outputs produced
// earlier in this invocation are taken from memory, unscrubbed.
func (r *Runner) buildContext(ctx context.Context, run *store.Run, req RunRequest, stageID string, entry Entry, completed map[string]bool, prior map[string]any) (*StageContext, error) {
	sc := &StageContext{
		RunID:         run.ID,
		Stage:         stageID,
		Country:       run.Country,
		Industry:      run.Industry,
		ClientContext: run.ClientContext,
		Options:       req.Options,
		Prior:         make(map[string]any),
	}

	for _, dep := range entry.Consumes {
		if !completed[dep] {
			continue
		}
		if data, ok := prior[dep]; ok {
			sc.Prior[dep] = data
		} else {
			output, err := r.loadStageOutput(ctx, run.ID, dep)
			if err != nil {
				var schemaErr *errors.SchemaError
				if errors.As(err, &schemaErr) {
					// Shape mismatch reads as missing context.
					r.logger.Warn("prior stage output rejected",
						slog.String("run_id", run.ID), slog.String("stage", dep),
						slog.Any("error", err))
					continue
				}
				return nil, err
			}
			if output != nil {
				sc.Prior[dep] = output
			}
		}
		if dep == "7" {
			sc.DeckPath = r.deckPath(ctx, run.ID)
		}
	}

	return sc, nil
}

// loadStageOutput reads and decodes the latest completed attempt's
// output.json for one stage, validating it against the producing stage's
// declared schema.
func (r *Runner) loadStageOutput(ctx context.Context, runID, stageID string) (any, error) {
	att, err := r.store.GetLatestCompletedAttempt(ctx, runID, stageID)
	if err != nil {
		return nil, err
	}
	if att == nil {
		return nil, nil
	}

	data, err := r.artifacts.Read(runID, stageID, att.Attempt, stage.FileOutputJSON)
	if err != nil {
		return nil, err
	}

	var output any
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, &errors.SchemaError{Stage: stageID, Detail: "output.json is not valid JSON", Cause: err}
	}
	if err := r.registry.ValidateOutput(stageID, output); err != nil {
		return nil, err
	}
	return output, nil
}

// deckPath returns the absolute path of the deck produced by the latest
// completed deck-assembly attempt, or empty when none was recorded.
func (r *Runner) deckPath(ctx context.Context, runID string) string {
	att, err := r.store.GetLatestCompletedAttempt(ctx, runID, "7")
	if err != nil || att == nil {
		return ""
	}
	row, err := r.store.GetArtifact(ctx, runID, "7", att.Attempt, stage.FileDeckPPTX)
	if err != nil || row == nil {
		return ""
	}
	return filepath.Join(r.artifacts.Base(), row.Path)
}

// invokeHandler calls the stage handler, converting returned errors and
// recovered panics into HandlerError.
func invokeHandler(ctx context.Context, stageID string, h Handler, sc *StageContext) (result *StageResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &errors.HandlerError{
				Stage: stageID,
				Stack: string(debug.Stack()),
				Cause: fmt.Errorf("panic: %v", rec),
			}
			result = nil
		}
	}()

	result, herr := h(ctx, sc)
	if herr != nil {
		var gateErr *errors.GateError
		if errors.As(herr, &gateErr) {
			return nil, herr
		}
		return nil, &errors.HandlerError{Stage: stageID, Cause: herr}
	}
	if result == nil {
		return nil, &errors.HandlerError{Stage: stageID, Cause: fmt.Errorf("handler returned no result")}
	}
	return result, nil
}

// nextPending returns the first stage in order without a completed attempt.
func nextPending(completed map[string]bool) string {
	for _, id := range stage.Order {
		if !completed[id] {
			return id
		}
	}
	return ""
}

// encodeError renders the persisted error payload stored on the run row and
// in error events.
func encodeError(err error) string {
	payload := map[string]any{
		"message": err.Error(),
		"code":    errors.CodeOf(err),
	}
	if details := errors.DetailsOf(err); details != nil {
		payload["details"] = details
	}
	data, merr := json.Marshal(payload)
	if merr != nil {
		return fmt.Sprintf(`{"message":%q}`, err.Error())
	}
	return string(data)
}
