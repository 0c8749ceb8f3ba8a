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
	"fmt"
	"math"
	"strings"

	"github.com/tombee/stagehand/pkg/errors"
)

// defaultPositionTolerance is the allowed drift, in template units, between
// an element's rendered position and its template position.
const defaultPositionTolerance = 5.0

// templateInspection is the decoded shape of a deck inspection payload. The
// deck-producing handler emits it in StageResult.Inspection; the runner
// evaluates it when the strict-template option is set.
type templateInspection struct {
	PositionTolerance float64
	AllowedPalette    map[string]bool
	AllowedFonts      map[string]bool
	Slides            []slideInspection
}

type slideInspection struct {
	Key      string
	Elements []elementInspection
	Colors   []string
	Fonts    []string
	Tables   []tableInspection
}

type elementInspection struct {
	Name                 string
	X, Y                 float64
	ExpectedX, ExpectedY float64
}

type tableInspection struct {
	Name    string
	Borders bool
}

// evaluateTemplateGate runs the deterministic template checks over an
// inspection payload: element positions within tolerance, palette and font
// membership, and table borders. A nil return means the deck conforms;
// otherwise the GateError lists the blocking slides and every violation.
func evaluateTemplateGate(stageID string, payload map[string]any) error {
	insp := decodeInspection(payload)

	var violations []errors.GateViolation
	blocking := make(map[string]bool)

	addViolation := func(slideKey, kind, detail string) {
		violations = append(violations, errors.GateViolation{SlideKey: slideKey, Kind: kind, Detail: detail})
		blocking[slideKey] = true
	}

	for _, slide := range insp.Slides {
		for _, el := range slide.Elements {
			dx := math.Abs(el.X - el.ExpectedX)
			dy := math.Abs(el.Y - el.ExpectedY)
			if dx > insp.PositionTolerance || dy > insp.PositionTolerance {
				addViolation(slide.Key, "position",
					fmt.Sprintf("element %s at (%.1f, %.1f), template (%.1f, %.1f), tolerance %.1f",
						el.Name, el.X, el.Y, el.ExpectedX, el.ExpectedY, insp.PositionTolerance))
			}
		}
		if len(insp.AllowedPalette) > 0 {
			for _, color := range slide.Colors {
				if !insp.AllowedPalette[normalizeColor(color)] {
					addViolation(slide.Key, "palette", fmt.Sprintf("color %s not in template palette", color))
				}
			}
		}
		if len(insp.AllowedFonts) > 0 {
			for _, font := range slide.Fonts {
				if !insp.AllowedFonts[strings.ToLower(font)] {
					addViolation(slide.Key, "font", fmt.Sprintf("font %s not in template fonts", font))
				}
			}
		}
		for _, table := range slide.Tables {
			if !table.Borders {
				addViolation(slide.Key, "table", fmt.Sprintf("table %s missing borders", table.Name))
			}
		}
	}

	if len(violations) == 0 {
		return nil
	}

	keys := make([]string, 0, len(blocking))
	for _, slide := range insp.Slides {
		if blocking[slide.Key] {
			keys = append(keys, slide.Key)
		}
	}
	return &errors.GateError{Stage: stageID, BlockingSlideKeys: keys, Violations: violations}
}

func decodeInspection(payload map[string]any) templateInspection {
	insp := templateInspection{
		PositionTolerance: defaultPositionTolerance,
		AllowedPalette:    make(map[string]bool),
		AllowedFonts:      make(map[string]bool),
	}

	if v, ok := toFloat(payload["positionTolerance"]); ok && v > 0 {
		insp.PositionTolerance = v
	}
	for _, c := range toStrings(payload["allowedPalette"]) {
		insp.AllowedPalette[normalizeColor(c)] = true
	}
	for _, f := range toStrings(payload["allowedFonts"]) {
		insp.AllowedFonts[strings.ToLower(f)] = true
	}

	slides, _ := payload["slides"].([]any)
	for _, raw := range slides {
		sm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		slide := slideInspection{
			Key:    toString(sm["key"]),
			Colors: toStrings(sm["colors"]),
			Fonts:  toStrings(sm["fonts"]),
		}
		if elements, ok := sm["elements"].([]any); ok {
			for _, e := range elements {
				em, ok := e.(map[string]any)
				if !ok {
					continue
				}
				el := elementInspection{Name: toString(em["name"])}
				el.X, _ = toFloat(em["x"])
				el.Y, _ = toFloat(em["y"])
				el.ExpectedX, _ = toFloat(em["expectedX"])
				el.ExpectedY, _ = toFloat(em["expectedY"])
				slide.Elements = append(slide.Elements, el)
			}
		}
		if tables, ok := sm["tables"].([]any); ok {
			for _, t := range tables {
				tm, ok := t.(map[string]any)
				if !ok {
					continue
				}
				borders, _ := tm["borders"].(bool)
				slide.Tables = append(slide.Tables, tableInspection{Name: toString(tm["name"]), Borders: borders})
			}
		}
		insp.Slides = append(insp.Slides, slide)
	}

	return insp
}

func normalizeColor(c string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(c), "#"))
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toStrings(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
