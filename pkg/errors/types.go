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

package errors

import (
	"fmt"
)

// ValidationError represents caller input validation failures.
// Use this for unknown stage ids, missing run scope, or malformed arguments.
type ValidationError struct {
	// Field identifies which input failed validation (e.g. "through", "country")
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid argument: %s", e.Message)
}

// Code returns the machine-readable error code.
func (e *ValidationError) Code() string { return CodeInvalidArgument }

// NotFoundError represents a resource not found error.
// Use this when a requested run, stage attempt, or artifact does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "run", "artifact")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Code returns the machine-readable error code.
func (e *NotFoundError) Code() string { return CodeNotFound }

// DuplicateRunError is returned when creating a run whose id already exists.
type DuplicateRunError struct {
	// RunID is the conflicting run identifier
	RunID string
}

// Error implements the error interface.
func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("run already exists: %s", e.RunID)
}

// Code returns the machine-readable error code.
func (e *DuplicateRunError) Code() string { return CodeDuplicateRunID }

// LockHeldError is returned when the run lock is held by another worker.
// Holder names the current owner so operators can decide whether to wait
// for the TTL or clear the lock manually.
type LockHeldError struct {
	// RunID is the contended run
	RunID string

	// Holder is the worker identity that currently owns the lock
	Holder string
}

// Error implements the error interface.
func (e *LockHeldError) Error() string {
	return fmt.Sprintf("run %s is locked by %s", e.RunID, e.Holder)
}

// Code returns the machine-readable error code.
func (e *LockHeldError) Code() string { return CodeLockHeld }

// HandlerError wraps a failure raised by a stage handler. The runner records
// it against the attempt and stops the pipeline; it is not re-raised past the
// runner boundary.
type HandlerError struct {
	// Stage is the stage whose handler failed
	Stage string

	// Stack holds a captured stack trace when the handler panicked
	Stack string

	// Cause is the error returned (or recovered) from the handler
	Cause error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("stage %s handler failed: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// Code returns the machine-readable error code.
func (e *HandlerError) Code() string { return CodeHandlerError }

// GateViolation describes a single check the post-stage template gate
// rejected, keyed by the slide it applies to.
type GateViolation struct {
	SlideKey string `json:"slideKey"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
}

// GateError is produced when a stage body succeeded but the post-stage
// template gate rejected its inspection payload. It carries the blocking
// slide keys and per-violation evidence for error.json.
type GateError struct {
	// Stage is the gated stage
	Stage string

	// BlockingSlideKeys identifies the slides that block completion
	BlockingSlideKeys []string

	// Violations holds per-check evidence
	Violations []GateViolation
}

// Error implements the error interface.
func (e *GateError) Error() string {
	return fmt.Sprintf("stage %s failed template gate: %d blocking slide(s)", e.Stage, len(e.BlockingSlideKeys))
}

// Code returns the machine-readable error code.
func (e *GateError) Code() string { return CodeTemplateStrictFailure }

// Details returns structured evidence for persisted error payloads.
func (e *GateError) Details() map[string]any {
	violations := make([]map[string]any, 0, len(e.Violations))
	for _, v := range e.Violations {
		violations = append(violations, map[string]any{
			"slideKey": v.SlideKey,
			"kind":     v.Kind,
			"detail":   v.Detail,
		})
	}
	return map[string]any{
		"blockingSlideKeys": e.BlockingSlideKeys,
		"violations":        violations,
	}
}

// StoreError represents a metadata store failure (I/O or constraint).
type StoreError struct {
	// Op is the repository operation that failed (e.g. "createRun")
	Op string

	// Cause is the underlying database error
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Code returns the machine-readable error code.
func (e *StoreError) Code() string { return CodeStoreError }

// FileSystemError represents an artifact write or rename failure.
type FileSystemError struct {
	// Op describes the failed operation (e.g. "write", "rename", "mkdir")
	Op string

	// Path is the target path
	Path string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *FileSystemError) Error() string {
	return fmt.Sprintf("filesystem %s %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *FileSystemError) Unwrap() error {
	return e.Cause
}

// Code returns the machine-readable error code.
func (e *FileSystemError) Code() string { return CodeFilesystemError }

// SchemaError indicates a prior-stage output did not match its declared
// shape when being loaded into a stage context. Callers treat it as
// equivalent to missing context.
type SchemaError struct {
	// Stage is the stage whose output failed validation
	Stage string

	// Detail describes the mismatch
	Detail string

	// Cause is the underlying validation error, if any
	Cause error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("stage %s output shape mismatch: %s", e.Stage, e.Detail)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// Code returns the machine-readable error code.
func (e *SchemaError) Code() string { return CodeSchemaError }
