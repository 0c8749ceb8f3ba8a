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

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tombee/stagehand/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return s
}

func createTestRun(t *testing.T, s *Store, id string) *Run {
	t.Helper()

	run, err := s.CreateRun(context.Background(), CreateRunParams{
		ID:          id,
		Country:     "DE",
		Industry:    "logistics",
		TargetStage: "9",
	})
	if err != nil {
		t.Fatalf("creating run: %v", err)
	}
	return run
}

func TestMigrateIdempotent(t *testing.T) {
	s := openTestStore(t)

	// Second migration against the same database must be a no-op.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("re-migrating: %v", err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := createTestRun(t, s, "run-1")
	if created.Status != RunStatusPending {
		t.Errorf("new run status = %q, want pending", created.Status)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil for existing run")
	}
	if got.Country != "DE" || got.Industry != "logistics" || got.TargetStage != "9" {
		t.Errorf("round-tripped run = %+v", got)
	}

	missing, err := s.GetRun(ctx, "run-nope")
	if err != nil {
		t.Fatalf("GetRun(missing): %v", err)
	}
	if missing != nil {
		t.Error("GetRun returned a run for an unknown id")
	}
}

func TestCreateRunDuplicateID(t *testing.T) {
	s := openTestStore(t)

	createTestRun(t, s, "run-dup")

	_, err := s.CreateRun(context.Background(), CreateRunParams{
		ID: "run-dup", Country: "FR", Industry: "retail",
	})
	var dupErr *errors.DuplicateRunError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected DuplicateRunError, got %v", err)
	}
	if dupErr.RunID != "run-dup" {
		t.Errorf("RunID = %q", dupErr.RunID)
	}
}

func TestGeneratedRunIDs(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Errorf("consecutive run ids collide: %s", a)
	}
	if len(a) < len("run-0-00000000") {
		t.Errorf("run id too short: %s", a)
	}
}

func TestUpdateRunStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	createTestRun(t, s, "run-1")

	if err := s.UpdateRunStatus(ctx, "run-1", RunStatusRunning, ""); err != nil {
		t.Fatalf("to running: %v", err)
	}
	run, _ := s.GetRun(ctx, "run-1")
	if run.Status != RunStatusRunning {
		t.Errorf("status = %q", run.Status)
	}
	if run.FinishedAt != nil {
		t.Error("finished_at set on non-terminal status")
	}

	if err := s.UpdateRunStatus(ctx, "run-1", RunStatusFailed, `{"message":"boom"}`); err != nil {
		t.Fatalf("to failed: %v", err)
	}
	run, _ = s.GetRun(ctx, "run-1")
	if run.Status != RunStatusFailed {
		t.Errorf("status = %q", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("finished_at not set on terminal status")
	}
	if run.Error == "" {
		t.Error("error payload not stored")
	}

	var nfErr *errors.NotFoundError
	if err := s.UpdateRunStatus(ctx, "run-nope", RunStatusRunning, ""); !errors.As(err, &nfErr) {
		t.Errorf("expected NotFoundError for unknown run, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	createTestRun(t, s, "run-a")
	createTestRun(t, s, "run-b")
	if err := s.UpdateRunStatus(ctx, "run-a", RunStatusCompleted, ""); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d runs, want 2", len(all))
	}

	completed, err := s.ListRuns(ctx, RunStatusCompleted, 0)
	if err != nil {
		t.Fatalf("ListRuns(completed): %v", err)
	}
	if len(completed) != 1 || completed[0].ID != "run-a" {
		t.Errorf("filtered runs = %+v", completed)
	}
}

func TestStageAttemptNumbering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	for want := 1; want <= 3; want++ {
		att, err := s.StartStageAttempt(ctx, "run-1", "3")
		if err != nil {
			t.Fatalf("attempt %d: %v", want, err)
		}
		if att.Attempt != want {
			t.Errorf("attempt number = %d, want %d", att.Attempt, want)
		}
		if err := s.FailStageAttempt(ctx, "run-1", "3", att.Attempt, "synthesis failed"); err != nil {
			t.Fatalf("failing attempt %d: %v", want, err)
		}
	}

	// A different stage numbers independently.
	att, err := s.StartStageAttempt(ctx, "run-1", "2")
	if err != nil {
		t.Fatal(err)
	}
	if att.Attempt != 1 {
		t.Errorf("stage 2 first attempt = %d", att.Attempt)
	}
}

func TestFinishStageAttempt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	att, err := s.StartStageAttempt(ctx, "run-1", "2")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FinishStageAttempt(ctx, "run-1", "2", att.Attempt); err != nil {
		t.Fatalf("finishing: %v", err)
	}

	latest, err := s.GetLatestCompletedAttempt(ctx, "run-1", "2")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil {
		t.Fatal("no completed attempt recorded")
	}
	if latest.FinishedAt == nil {
		t.Error("finished_at not set")
	}
	if latest.DurationMs == nil || *latest.DurationMs < 0 {
		t.Errorf("duration = %v", latest.DurationMs)
	}

	// Closing an already closed attempt is a no-op, not an error.
	if err := s.FinishStageAttempt(ctx, "run-1", "2", att.Attempt); err != nil {
		t.Errorf("re-finishing closed attempt: %v", err)
	}
}

func TestCompletedStages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	// Stage 2 fails once then completes; stage 2a only fails.
	att, _ := s.StartStageAttempt(ctx, "run-1", "2")
	_ = s.FailStageAttempt(ctx, "run-1", "2", att.Attempt, "boom")
	att, _ = s.StartStageAttempt(ctx, "run-1", "2")
	_ = s.FinishStageAttempt(ctx, "run-1", "2", att.Attempt)
	att, _ = s.StartStageAttempt(ctx, "run-1", "2a")
	_ = s.FailStageAttempt(ctx, "run-1", "2a", att.Attempt, "boom")

	completed, err := s.CompletedStages(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !completed["2"] {
		t.Error("stage 2 should count as completed")
	}
	if completed["2a"] {
		t.Error("stage 2a should not count as completed")
	}
}

func TestRecordArtifactUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	a := &Artifact{
		RunID: "run-1", Stage: "2", Attempt: 1,
		Filename: "output.json", Path: "run-1/stages/2/attempt-1/output.json",
		SizeBytes: 10, ContentType: "application/json",
	}
	if err := s.RecordArtifact(ctx, a); err != nil {
		t.Fatalf("first record: %v", err)
	}

	a.SizeBytes = 42
	if err := s.RecordArtifact(ctx, a); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	got, err := s.GetArtifact(ctx, "run-1", "2", 1, "output.json")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.SizeBytes != 42 {
		t.Errorf("upserted artifact = %+v", got)
	}

	rows, err := s.GetArtifacts(ctx, "run-1", "2")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d artifact rows, want 1", len(rows))
	}
}

func TestEventsFilterAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	attempt := 1
	events := []AppendEventParams{
		{RunID: "run-1", Stage: "2", Attempt: &attempt, Type: EventInfo, Message: "stage 2 completed"},
		{RunID: "run-1", Stage: "3", Attempt: &attempt, Type: EventError, Message: "stage 3 failed"},
		{RunID: "run-1", Type: EventInfo, Message: "run cancelled by operator"},
	}
	for _, ev := range events {
		if err := s.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("appending: %v", err)
		}
	}

	all, err := s.GetEvents(ctx, "run-1", EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Error("events not in append order")
		}
	}

	errs, err := s.GetEvents(ctx, "run-1", EventFilter{Type: EventError})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || errs[0].Stage != "3" {
		t.Errorf("filtered events = %+v", errs)
	}

	limited, err := s.GetEvents(ctx, "run-1", EventFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: got %d events", len(limited))
	}
}

func TestWithTxRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	wantErr := errors.New("abort")
	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.AppendEvent(ctx, AppendEventParams{
			RunID: "run-1", Type: EventInfo, Message: "inside tx",
		}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTx error = %v", err)
	}

	evs, _ := s.GetEvents(ctx, "run-1", EventFilter{})
	if len(evs) != 0 {
		t.Errorf("rolled-back event visible: %+v", evs)
	}
}
