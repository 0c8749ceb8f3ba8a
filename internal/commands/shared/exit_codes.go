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

package shared

import (
	"fmt"
	"os"

	pkgerrors "github.com/tombee/stagehand/pkg/errors"
)

// Exit codes for stagehand commands
const (
	ExitSuccess         = 0
	ExitStageFailed     = 1
	ExitInvalidArgument = 2
	ExitLockHeld        = 3
	ExitStoreError      = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewStageFailedError creates an error for a recorded stage failure
func NewStageFailedError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitStageFailed, Message: msg, Cause: cause}
}

// NewInvalidArgumentError creates an error for malformed caller input
func NewInvalidArgumentError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidArgument, Message: msg, Cause: cause}
}

// NewLockHeldError creates an error for run lock contention
func NewLockHeldError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitLockHeld, Message: msg, Cause: cause}
}

// NewStoreError creates an error for metadata store failures
func NewStoreError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitStoreError, Message: msg, Cause: cause}
}

// ExitCodeFor maps a typed pipeline error to its process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if pkgerrors.As(err, &exitErr) {
		return exitErr.Code
	}

	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeInvalidArgument, pkgerrors.CodeDuplicateRunID, pkgerrors.CodeNotFound:
		return ExitInvalidArgument
	case pkgerrors.CodeLockHeld:
		return ExitLockHeld
	case pkgerrors.CodeStoreError, pkgerrors.CodeFilesystemError:
		return ExitStoreError
	default:
		return ExitStageFailed
	}
}

// WrapExit attaches the mapped exit code to an error, preserving the chain.
func WrapExit(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: ExitCodeFor(err), Message: err.Error(), Cause: pkgerrors.Unwrap(err)}
}

// HandleExitError prints an error and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	printSuggestion(err)
	os.Exit(ExitCodeFor(err))
}

// printSuggestion surfaces actionable guidance from validation errors.
func printSuggestion(err error) {
	var vErr *pkgerrors.ValidationError
	if pkgerrors.As(err, &vErr) && vErr.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", vErr.Suggestion)
	}
}
