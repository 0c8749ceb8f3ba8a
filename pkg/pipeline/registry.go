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
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tombee/stagehand/pkg/errors"
	"github.com/tombee/stagehand/pkg/stage"
)

// Entry binds a stage to its handler and declares which prior-stage outputs
// the handler consumes. The Consumes list is the context-builder description:
// the runner hydrates exactly those stages into StageContext.Prior.
type Entry struct {
	// Handler performs the stage's work.
	Handler Handler

	// Consumes lists the prior stage ids whose outputs this handler needs.
	Consumes []string

	// OutputSchema optionally declares the shape of this stage's
	// output.json as a JSON Schema. Later stages loading the output
	// validate against it; a mismatch reads as missing context.
	OutputSchema map[string]any
}

// Registry maps stage ids to handler entries. Wired at program start.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register binds a handler entry to a stage id. The stage and every consumed
// stage must exist in the contract, and consumed stages must precede the
// stage they feed.
func (r *Registry) Register(stageID string, e Entry) error {
	if !stage.IsValid(stageID) {
		return &errors.ValidationError{Field: "stage", Message: fmt.Sprintf("unknown stage id %q", stageID)}
	}
	if e.Handler == nil {
		return &errors.ValidationError{Field: "handler", Message: fmt.Sprintf("stage %s has no handler", stageID)}
	}
	for _, dep := range e.Consumes {
		if !stage.IsValid(dep) {
			return &errors.ValidationError{Field: "consumes", Message: fmt.Sprintf("stage %s consumes unknown stage %q", stageID, dep)}
		}
		if stage.Index(dep) >= stage.Index(stageID) {
			return &errors.ValidationError{Field: "consumes", Message: fmt.Sprintf("stage %s cannot consume %s: not a prior stage", stageID, dep)}
		}
	}

	var compiled *jsonschema.Schema
	if e.OutputSchema != nil {
		var err error
		compiled, err = compileSchema(e.OutputSchema)
		if err != nil {
			return &errors.ValidationError{Field: "outputSchema", Message: fmt.Sprintf("stage %s schema: %v", stageID, err)}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[stageID] = e
	if compiled != nil {
		r.schemas[stageID] = compiled
	}
	return nil
}

// MustRegister is Register that panics on error. For wiring tables at
// program start.
func (r *Registry) MustRegister(stageID string, e Entry) {
	if err := r.Register(stageID, e); err != nil {
		panic(err)
	}
}

// Get returns the entry for a stage id.
func (r *Registry) Get(stageID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[stageID]
	return e, ok
}

// Complete verifies that every stage in the contract has a handler.
func (r *Registry) Complete() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, id := range stage.Order {
		if _, ok := r.entries[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &errors.ValidationError{
			Field:   "registry",
			Message: fmt.Sprintf("stages without handlers: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// ValidateOutput checks a decoded stage output against the producing stage's
// declared schema. Stages without a schema always validate.
func (r *Registry) ValidateOutput(stageID string, output any) error {
	r.mu.RLock()
	schema := r.schemas[stageID]
	r.mu.RUnlock()

	if schema == nil {
		return nil
	}
	if err := schema.Validate(output); err != nil {
		return &errors.SchemaError{Stage: stageID, Detail: err.Error(), Cause: err}
	}
	return nil
}

func compileSchema(raw map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}
