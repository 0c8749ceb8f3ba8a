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

// Package stage defines the frozen stage contract for the deck pipeline:
// the ordered stage sequence, per-stage metadata, and ordering helpers.
// Every other component consults this table; nothing else defines stages.
package stage

import (
	"fmt"

	"github.com/tombee/stagehand/pkg/errors"
)

// Kind distinguishes data-producing stages from review passes.
type Kind string

const (
	// KindPrimary marks a data-producing stage.
	KindPrimary Kind = "primary"

	// KindReview marks a quality/repair pass over the preceding primary
	// stage's output. Review stage ids end in "a".
	KindReview Kind = "review"
)

// Standard artifact filenames written into attempt directories.
const (
	FileOutputJSON   = "output.json"
	FileOutputMD     = "output.md"
	FileMetaJSON     = "meta.json"
	FileErrorJSON    = "error.json"
	FileEventsNDJSON = "events.ndjson"
	FileDeckPPTX     = "deck.pptx"
)

// Definition describes one stage of the pipeline.
type Definition struct {
	// ID is the short stage identifier ("2", "2a", ... "9")
	ID string

	// Label is the human-facing stage name
	Label string

	// Description explains what the stage produces
	Description string

	// Kind is primary or review
	Kind Kind

	// Inputs are the artifact filenames the stage consumes from prior stages
	Inputs []string

	// Outputs are the artifact filenames the stage produces
	Outputs []string
}

// Order is the frozen stage sequence. Review stages immediately follow the
// primary stage they audit.
var Order = []string{"2", "2a", "3", "3a", "4", "4a", "5", "6", "6a", "7", "8", "8a", "9"}

var definitions = map[string]Definition{
	"2": {
		ID:          "2",
		Label:       "Market research",
		Description: "Gathers the market landscape for the run's country and industry",
		Kind:        KindPrimary,
		Outputs:     []string{FileOutputJSON},
	},
	"2a": {
		ID:          "2a",
		Label:       "Research review",
		Description: "Audits and repairs the research output",
		Kind:        KindReview,
		Inputs:      []string{FileOutputJSON},
		Outputs:     []string{FileOutputJSON},
	},
	"3": {
		ID:          "3",
		Label:       "Synthesis",
		Description: "Synthesizes research into findings and implications",
		Kind:        KindPrimary,
		Inputs:      []string{FileOutputJSON},
		Outputs:     []string{FileOutputJSON},
	},
	"3a": {
		ID:          "3a",
		Label:       "Synthesis review",
		Description: "Audits and repairs the synthesis output",
		Kind:        KindReview,
		Inputs:      []string{FileOutputJSON},
		Outputs:     []string{FileOutputJSON},
	},
	"4": {
		ID:          "4",
		Label:       "Market sizing",
		Description: "Sizes the addressable market and builds the forecast",
		Kind:        KindPrimary,
		Inputs:      []string{FileOutputJSON},
		Outputs:     []string{FileOutputJSON},
	},
	"4a": {
		ID:          "4a",
		Label:       "Sizing review",
		Description: "Audits and repairs the sizing output",
		Kind:        KindReview,
		Inputs:      []string{FileOutputJSON},
		Outputs:     []string{FileOutputJSON},
	},
	"5": {
		ID:          "5",
		Label:       "Narrative",
		Description: "Builds the deck storyline from synthesis and sizing",
		Kind:        KindPrimary,
		Inputs:      []string{FileOutputJSON},
		Outputs:     []string{FileOutputJSON},
	},
	"6": {
		ID:          "6",
		Label:       "Slide drafting",
		Description: "Drafts per-slide content following the narrative",
		Kind:        KindPrimary,
		Inputs:      []string{FileOutputJSON},
		Outputs:     []string{FileOutputJSON},
	},
	"6a": {
		ID:          "6a",
		Label:       "Slide review",
		Description: "Audits and repairs the drafted slides",
		Kind:        KindReview,
		Inputs:      []string{FileOutputJSON},
		Outputs:     []string{FileOutputJSON},
	},
	"7": {
		ID:          "7",
		Label:       "Deck assembly",
		Description: "Assembles the presentation deck from the slide drafts",
		Kind:        KindPrimary,
		Inputs:      []string{FileOutputJSON},
		Outputs:     []string{FileOutputJSON, FileDeckPPTX},
	},
	"8": {
		ID:          "8",
		Label:       "Quality checks",
		Description: "Runs automated quality checks over the assembled deck",
		Kind:        KindPrimary,
		Inputs:      []string{FileOutputJSON, FileDeckPPTX},
		Outputs:     []string{FileOutputJSON},
	},
	"8a": {
		ID:          "8a",
		Label:       "Quality repair",
		Description: "Repairs issues raised by the quality checks",
		Kind:        KindReview,
		Inputs:      []string{FileOutputJSON},
		Outputs:     []string{FileOutputJSON},
	},
	"9": {
		ID:          "9",
		Label:       "Handoff",
		Description: "Packages the final deliverables and handoff summary",
		Kind:        KindPrimary,
		Inputs:      []string{FileOutputJSON},
		Outputs:     []string{FileOutputJSON},
	},
}

// index maps stage id to its position in Order.
var index = func() map[string]int {
	m := make(map[string]int, len(Order))
	for i, id := range Order {
		m[id] = i
	}
	return m
}()

// Get returns the definition for a stage id.
func Get(id string) (Definition, bool) {
	def, ok := definitions[id]
	return def, ok
}

// IsValid reports whether id is a defined stage.
func IsValid(id string) bool {
	_, ok := index[id]
	return ok
}

// Index returns the position of a stage in the frozen order, or -1 for an
// unknown id.
func Index(id string) int {
	i, ok := index[id]
	if !ok {
		return -1
	}
	return i
}

// First returns the first stage in the order.
func First() string {
	return Order[0]
}

// Last returns the final stage in the order.
func Last() string {
	return Order[len(Order)-1]
}

// Next returns the stage following id, or false when id is the last stage or
// unknown.
func Next(id string) (string, bool) {
	i, ok := index[id]
	if !ok || i == len(Order)-1 {
		return "", false
	}
	return Order[i+1], true
}

// Prev returns the stage preceding id, or false when id is the first stage or
// unknown.
func Prev(id string) (string, bool) {
	i, ok := index[id]
	if !ok || i == 0 {
		return "", false
	}
	return Order[i-1], true
}

// Through returns the stages from the start of the order up to and including
// through.
func Through(through string) ([]string, error) {
	return Slice(First(), through)
}

// Slice returns the stages from `from` up to and including `through`, in
// order. Both bounds must be valid stage ids and from must not come after
// through.
func Slice(from, through string) ([]string, error) {
	fi, ok := index[from]
	if !ok {
		return nil, &errors.ValidationError{Field: "from", Message: fmt.Sprintf("unknown stage id %q", from)}
	}
	ti, ok := index[through]
	if !ok {
		return nil, &errors.ValidationError{Field: "through", Message: fmt.Sprintf("unknown stage id %q", through)}
	}
	if fi > ti {
		return nil, &errors.ValidationError{
			Field:   "through",
			Message: fmt.Sprintf("stage %q precedes %q", through, from),
		}
	}
	out := make([]string, ti-fi+1)
	copy(out, Order[fi:ti+1])
	return out, nil
}

// Primary returns the primary stage ids in order.
func Primary() []string {
	var out []string
	for _, id := range Order {
		if definitions[id].Kind == KindPrimary {
			out = append(out, id)
		}
	}
	return out
}

// Review returns the review stage ids in order.
func Review() []string {
	var out []string
	for _, id := range Order {
		if definitions[id].Kind == KindReview {
			out = append(out, id)
		}
	}
	return out
}

// IsReview reports whether id names a review stage.
func IsReview(id string) bool {
	return definitions[id].Kind == KindReview
}
