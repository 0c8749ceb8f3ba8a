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
	"encoding/json"
	"os"

	pkgerrors "github.com/tombee/stagehand/pkg/errors"
)

// JSONResponse is the base envelope for all JSON output
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// JSONError represents a structured error with code, message, and suggestion
type JSONError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// NewEnvelope builds the base envelope for a command.
func NewEnvelope(command string, success bool) JSONResponse {
	return JSONResponse{Version: "1.0", Command: command, Success: success}
}

// EmitJSON marshals a response to indented JSON on stdout.
func EmitJSON(response interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// EmitJSONError emits a JSON error envelope for a typed pipeline error.
func EmitJSONError(command string, err error) error {
	type errorResponse struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}

	jerr := JSONError{
		Code:    pkgerrors.CodeOf(err),
		Message: err.Error(),
		Details: pkgerrors.DetailsOf(err),
	}
	var vErr *pkgerrors.ValidationError
	if pkgerrors.As(err, &vErr) {
		jerr.Suggestion = vErr.Suggestion
	}

	return EmitJSON(errorResponse{
		JSONResponse: NewEnvelope(command, false),
		Errors:       []JSONError{jerr},
	})
}
