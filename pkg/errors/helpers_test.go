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
	"testing"

	pipelineerrors "github.com/tombee/stagehand/pkg/errors"
)

func TestWrap(t *testing.T) {
	base := pipelineerrors.New("disk full")

	wrapped := pipelineerrors.Wrap(base, "writing output.json")
	if wrapped == nil {
		t.Fatal("Wrap returned nil for non-nil error")
	}
	if wrapped.Error() != "writing output.json: disk full" {
		t.Errorf("Wrap message = %q", wrapped.Error())
	}
	if !pipelineerrors.Is(wrapped, base) {
		t.Error("wrapped error should match base via Is")
	}

	if pipelineerrors.Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapf(t *testing.T) {
	base := pipelineerrors.New("no such table")

	wrapped := pipelineerrors.Wrapf(base, "querying run %s", "run-vn-001")
	if wrapped.Error() != "querying run run-vn-001: no such table" {
		t.Errorf("Wrapf message = %q", wrapped.Error())
	}

	if pipelineerrors.Wrapf(nil, "querying run %s", "run-vn-001") != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestUnwrap(t *testing.T) {
	base := pipelineerrors.New("root")
	wrapped := pipelineerrors.Wrap(base, "layer")

	if got := pipelineerrors.Unwrap(wrapped); got != base {
		t.Errorf("Unwrap = %v, want %v", got, base)
	}
	if pipelineerrors.Unwrap(base) != nil {
		t.Error("Unwrap of unwrapped error should be nil")
	}
}
