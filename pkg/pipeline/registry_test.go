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
	"testing"

	"github.com/tombee/stagehand/pkg/errors"
	"github.com/tombee/stagehand/pkg/stage"
)

func noopHandler(ctx context.Context, sc *StageContext) (*StageResult, error) {
	return &StageResult{Data: map[string]any{}}, nil
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		stageID string
		entry   Entry
		wantErr bool
	}{
		{"valid", "3", Entry{Handler: noopHandler, Consumes: []string{"2", "2a"}}, false},
		{"unknown stage", "10", Entry{Handler: noopHandler}, true},
		{"nil handler", "3", Entry{}, true},
		{"unknown dep", "3", Entry{Handler: noopHandler, Consumes: []string{"zz"}}, true},
		{"self dep", "3", Entry{Handler: noopHandler, Consumes: []string{"3"}}, true},
		{"later dep", "3", Entry{Handler: noopHandler, Consumes: []string{"7"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.stageID, tt.entry)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryComplete(t *testing.T) {
	r := NewRegistry()
	if err := r.Complete(); err == nil {
		t.Error("empty registry reported complete")
	}

	for _, id := range stage.Order {
		r.MustRegister(id, Entry{Handler: noopHandler})
	}
	if err := r.Complete(); err != nil {
		t.Errorf("full registry incomplete: %v", err)
	}
}

func TestValidateOutput(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("2", Entry{
		Handler: noopHandler,
		OutputSchema: map[string]any{
			"type":     "object",
			"required": []any{"segments"},
		},
	})
	r.MustRegister("3", Entry{Handler: noopHandler})

	if err := r.ValidateOutput("2", map[string]any{"segments": []any{}}); err != nil {
		t.Errorf("conforming output rejected: %v", err)
	}

	err := r.ValidateOutput("2", map[string]any{"other": true})
	var schemaErr *errors.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if schemaErr.Stage != "2" {
		t.Errorf("schema error stage = %q", schemaErr.Stage)
	}

	// Stages without a schema always validate.
	if err := r.ValidateOutput("3", map[string]any{"anything": 1}); err != nil {
		t.Errorf("schemaless stage rejected output: %v", err)
	}
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	r := NewRegistry()
	err := r.Register("2", Entry{
		Handler:      noopHandler,
		OutputSchema: map[string]any{"type": 42},
	})
	if err == nil {
		t.Error("malformed schema accepted")
	}
}
