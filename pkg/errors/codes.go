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

import "errors"

// Machine-readable error codes carried in error.json payloads and error
// events. Stable across releases; new codes may be added.
const (
	CodeInvalidArgument       = "INVALID_ARGUMENT"
	CodeNotFound              = "NOT_FOUND"
	CodeDuplicateRunID        = "DUPLICATE_RUN_ID"
	CodeLockHeld              = "LOCK_HELD"
	CodeHandlerError          = "HANDLER_ERROR"
	CodeTemplateStrictFailure = "TEMPLATE_STRICT_FAILURE"
	CodeStoreError            = "STORE_ERROR"
	CodeFilesystemError       = "FILESYSTEM_ERROR"
	CodeSchemaError           = "SCHEMA_ERROR"
	CodeUnknown               = "UNKNOWN"
)

// Coder is implemented by errors that carry a machine-readable code.
type Coder interface {
	error

	// Code returns a stable, machine-readable error code.
	Code() string
}

// Detailer is implemented by errors that carry structured evidence for
// persisted payloads (e.g. gate violations).
type Detailer interface {
	error

	// Details returns structured evidence to embed in error payloads.
	Details() map[string]any
}

// CodeOf walks err's tree and returns the first machine-readable code found,
// or CodeUnknown when no error in the tree implements Coder.
func CodeOf(err error) string {
	for err != nil {
		if c, ok := err.(Coder); ok {
			return c.Code()
		}
		err = errors.Unwrap(err)
	}
	return CodeUnknown
}

// DetailsOf walks err's tree and returns the first structured details found,
// or nil.
func DetailsOf(err error) map[string]any {
	for err != nil {
		if d, ok := err.(Detailer); ok {
			return d.Details()
		}
		err = errors.Unwrap(err)
	}
	return nil
}
