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
	"testing"

	"github.com/tombee/stagehand/pkg/errors"
)

func conformingInspection() map[string]any {
	return map[string]any{
		"positionTolerance": 5.0,
		"allowedPalette":    []any{"1F3864", "FFFFFF"},
		"allowedFonts":      []any{"Calibri"},
		"slides": []any{
			map[string]any{
				"key": "title",
				"elements": []any{
					map[string]any{"name": "title", "x": 48.0, "y": 40.0, "expectedX": 48.0, "expectedY": 40.0},
				},
				"colors": []any{"#1f3864"},
				"fonts":  []any{"calibri"},
				"tables": []any{
					map[string]any{"name": "forecast", "borders": true},
				},
			},
		},
	}
}

func TestGatePassesConformingDeck(t *testing.T) {
	if err := evaluateTemplateGate("7", conformingInspection()); err != nil {
		t.Errorf("conforming deck rejected: %v", err)
	}
}

func TestGatePositionDrift(t *testing.T) {
	insp := conformingInspection()
	slides := insp["slides"].([]any)
	slide := slides[0].(map[string]any)
	slide["elements"] = []any{
		map[string]any{"name": "title", "x": 60.0, "y": 40.0, "expectedX": 48.0, "expectedY": 40.0},
	}

	err := evaluateTemplateGate("7", insp)
	var gateErr *errors.GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected GateError, got %v", err)
	}
	if errors.CodeOf(err) != errors.CodeTemplateStrictFailure {
		t.Errorf("code = %q", errors.CodeOf(err))
	}
	if len(gateErr.BlockingSlideKeys) != 1 || gateErr.BlockingSlideKeys[0] != "title" {
		t.Errorf("blocking slides = %v", gateErr.BlockingSlideKeys)
	}
	if len(gateErr.Violations) != 1 || gateErr.Violations[0].Kind != "position" {
		t.Errorf("violations = %+v", gateErr.Violations)
	}
}

func TestGateDriftWithinToleranceOK(t *testing.T) {
	insp := conformingInspection()
	slides := insp["slides"].([]any)
	slide := slides[0].(map[string]any)
	slide["elements"] = []any{
		map[string]any{"name": "title", "x": 52.0, "y": 43.0, "expectedX": 48.0, "expectedY": 40.0},
	}

	if err := evaluateTemplateGate("7", insp); err != nil {
		t.Errorf("drift within tolerance rejected: %v", err)
	}
}

func TestGatePaletteAndFont(t *testing.T) {
	insp := conformingInspection()
	slides := insp["slides"].([]any)
	slide := slides[0].(map[string]any)
	slide["colors"] = []any{"FF0000"}
	slide["fonts"] = []any{"Comic Sans"}

	err := evaluateTemplateGate("7", insp)
	var gateErr *errors.GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected GateError, got %v", err)
	}

	kinds := map[string]bool{}
	for _, v := range gateErr.Violations {
		kinds[v.Kind] = true
	}
	if !kinds["palette"] || !kinds["font"] {
		t.Errorf("violation kinds = %v", kinds)
	}
	// One blocking slide even with several violations on it.
	if len(gateErr.BlockingSlideKeys) != 1 {
		t.Errorf("blocking slides = %v", gateErr.BlockingSlideKeys)
	}
}

func TestGateTableBorders(t *testing.T) {
	insp := conformingInspection()
	slides := insp["slides"].([]any)
	slide := slides[0].(map[string]any)
	slide["tables"] = []any{
		map[string]any{"name": "forecast", "borders": false},
	}

	err := evaluateTemplateGate("7", insp)
	var gateErr *errors.GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected GateError, got %v", err)
	}
	if gateErr.Violations[0].Kind != "table" {
		t.Errorf("violation kind = %q", gateErr.Violations[0].Kind)
	}
}

func TestGateBlockingSlidesInDeckOrder(t *testing.T) {
	insp := map[string]any{
		"allowedFonts": []any{"Calibri"},
		"slides": []any{
			map[string]any{"key": "situation", "fonts": []any{"Papyrus"}},
			map[string]any{"key": "resolution", "fonts": []any{"Calibri"}},
			map[string]any{"key": "appendix", "fonts": []any{"Papyrus"}},
		},
	}

	err := evaluateTemplateGate("7", insp)
	var gateErr *errors.GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected GateError, got %v", err)
	}
	want := []string{"situation", "appendix"}
	if len(gateErr.BlockingSlideKeys) != len(want) {
		t.Fatalf("blocking slides = %v", gateErr.BlockingSlideKeys)
	}
	for i, key := range want {
		if gateErr.BlockingSlideKeys[i] != key {
			t.Errorf("blocking[%d] = %q, want %q", i, gateErr.BlockingSlideKeys[i], key)
		}
	}
}

func TestGateEmptyInspection(t *testing.T) {
	if err := evaluateTemplateGate("7", map[string]any{}); err != nil {
		t.Errorf("empty inspection rejected: %v", err)
	}
}
