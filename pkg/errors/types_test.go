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

package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	pipelineerrors "github.com/tombee/stagehand/pkg/errors"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *pipelineerrors.ValidationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &pipelineerrors.ValidationError{
				Field:      "through",
				Message:    "unknown stage id \"10\"",
				Suggestion: "Use one of the defined stage ids",
			},
			wantMsg: "invalid argument through: unknown stage id \"10\"",
		},
		{
			name: "without field",
			err: &pipelineerrors.ValidationError{
				Message: "new runs require country and industry",
			},
			wantMsg: "invalid argument: new runs require country and industry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestLockHeldError_Error(t *testing.T) {
	err := &pipelineerrors.LockHeldError{RunID: "run-x", Holder: "worker-ab12cd34"}
	want := "run run-x is locked by worker-ab12cd34"
	if got := err.Error(); got != want {
		t.Errorf("LockHeldError.Error() = %q, want %q", got, want)
	}
}

func TestDuplicateRunError_Error(t *testing.T) {
	err := &pipelineerrors.DuplicateRunError{RunID: "run-vn-001"}
	want := "run already exists: run-vn-001"
	if got := err.Error(); got != want {
		t.Errorf("DuplicateRunError.Error() = %q, want %q", got, want)
	}
}

func TestHandlerError_Unwrap(t *testing.T) {
	cause := stderrors.New("synthesis failed")
	err := &pipelineerrors.HandlerError{Stage: "3", Cause: cause}

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the handler cause")
	}
	if got := err.Error(); got != "stage 3 handler failed: synthesis failed" {
		t.Errorf("HandlerError.Error() = %q", got)
	}
}

func TestGateError_Details(t *testing.T) {
	err := &pipelineerrors.GateError{
		Stage:             "7",
		BlockingSlideKeys: []string{"slide-03", "slide-07"},
		Violations: []pipelineerrors.GateViolation{
			{SlideKey: "slide-03", Kind: "palette", Detail: "color #FF0000 outside template palette"},
		},
	}

	details := err.Details()
	keys, ok := details["blockingSlideKeys"].([]string)
	if !ok || len(keys) != 2 {
		t.Fatalf("expected 2 blocking slide keys, got %v", details["blockingSlideKeys"])
	}
	violations, ok := details["violations"].([]map[string]any)
	if !ok || len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %v", details["violations"])
	}
	if violations[0]["kind"] != "palette" {
		t.Errorf("violation kind = %v, want palette", violations[0]["kind"])
	}
}

func TestStoreError_WrappedChain(t *testing.T) {
	cause := stderrors.New("database is locked")
	err := fmt.Errorf("finishing stage: %w", &pipelineerrors.StoreError{Op: "finishStageAttempt", Cause: cause})

	var storeErr *pipelineerrors.StoreError
	if !stderrors.As(err, &storeErr) {
		t.Fatal("expected errors.As to find StoreError through the chain")
	}
	if storeErr.Op != "finishStageAttempt" {
		t.Errorf("Op = %q, want finishStageAttempt", storeErr.Op)
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to reach the root cause")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", &pipelineerrors.ValidationError{Message: "x"}, pipelineerrors.CodeInvalidArgument},
		{"lock held", &pipelineerrors.LockHeldError{RunID: "r", Holder: "w"}, pipelineerrors.CodeLockHeld},
		{"duplicate", &pipelineerrors.DuplicateRunError{RunID: "r"}, pipelineerrors.CodeDuplicateRunID},
		{"handler", &pipelineerrors.HandlerError{Stage: "3", Cause: stderrors.New("x")}, pipelineerrors.CodeHandlerError},
		{"gate", &pipelineerrors.GateError{Stage: "7"}, pipelineerrors.CodeTemplateStrictFailure},
		{"store", &pipelineerrors.StoreError{Op: "op", Cause: stderrors.New("x")}, pipelineerrors.CodeStoreError},
		{"filesystem", &pipelineerrors.FileSystemError{Op: "rename", Path: "/tmp/x", Cause: stderrors.New("x")}, pipelineerrors.CodeFilesystemError},
		{"schema", &pipelineerrors.SchemaError{Stage: "2", Detail: "missing field"}, pipelineerrors.CodeSchemaError},
		{"wrapped", fmt.Errorf("outer: %w", &pipelineerrors.LockHeldError{RunID: "r", Holder: "w"}), pipelineerrors.CodeLockHeld},
		{"plain", stderrors.New("boom"), pipelineerrors.CodeUnknown},
		{"nil", nil, pipelineerrors.CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pipelineerrors.CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetailsOf(t *testing.T) {
	gate := &pipelineerrors.GateError{Stage: "7", BlockingSlideKeys: []string{"slide-01"}}
	wrapped := fmt.Errorf("stage 7: %w", gate)

	details := pipelineerrors.DetailsOf(wrapped)
	if details == nil {
		t.Fatal("expected details through wrapped chain")
	}
	if pipelineerrors.DetailsOf(stderrors.New("plain")) != nil {
		t.Error("expected nil details for plain error")
	}
}
