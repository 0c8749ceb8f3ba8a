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

package handlers

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/tombee/stagehand/pkg/pipeline"
)

// seed derives a stable number from the run scope so reference outputs are
// reproducible across attempts and machines.
func seed(sc *pipeline.StageContext) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(sc.Country)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(sc.Industry)))
	return h.Sum64()
}

// pick returns a deterministic value in [lo, hi) from the seed and a salt.
func pick(s uint64, salt string, lo, hi float64) float64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s", s, salt)
	frac := float64(h.Sum64()%10000) / 10000
	return lo + frac*(hi-lo)
}

var referenceSegments = []string{"enterprise", "mid-market", "smb", "public sector"}

func researchHandler(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
	s := seed(sc)

	segments := make([]map[string]any, 0, len(referenceSegments))
	for _, name := range referenceSegments {
		segments = append(segments, map[string]any{
			"name":       name,
			"sharePct":   round1(pick(s, "share-"+name, 5, 45)),
			"growthPct":  round1(pick(s, "growth-"+name, -2, 18)),
			"maturity":   maturityFor(pick(s, "maturity-"+name, 0, 3)),
			"keyPlayers": int(pick(s, "players-"+name, 3, 12)),
		})
	}

	data := map[string]any{
		"country":  sc.Country,
		"industry": sc.Industry,
		"segments": segments,
		"drivers": []string{
			"regulatory pressure",
			"digital adoption",
			"labour cost inflation",
		},
	}

	return &pipeline.StageResult{
		Data:    data,
		Summary: fmt.Sprintf("# Market research\n\n%s / %s: %d segments profiled.\n", sc.Country, sc.Industry, len(segments)),
		Metrics: map[string]float64{"segments": float64(len(segments))},
		Events: []map[string]any{
			{"event": "research.collected", "segments": len(segments)},
		},
	}, nil
}

func synthesisHandler(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
	research, _ := sc.Prior["2"].(map[string]any)
	segments, _ := research["segments"].([]any)

	findings := make([]map[string]any, 0, len(segments))
	for _, raw := range segments {
		seg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := seg["name"].(string)
		growth, _ := seg["growthPct"].(float64)
		findings = append(findings, map[string]any{
			"segment": name,
			"finding": fmt.Sprintf("%s segment growing at %.1f%% annually", name, growth),
			"growing": growth > 0,
		})
	}
	if len(findings) == 0 {
		return nil, fmt.Errorf("no research segments to synthesize")
	}

	data := map[string]any{
		"findings": findings,
		"implications": []string{
			"prioritise the fastest-growing segments",
			"position against incumbent consolidation",
		},
	}

	return &pipeline.StageResult{
		Data:    data,
		Summary: fmt.Sprintf("# Synthesis\n\n%d findings distilled from research.\n", len(findings)),
		Metrics: map[string]float64{"findings": float64(len(findings))},
	}, nil
}

func sizingHandler(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
	s := seed(sc)

	tam := pick(s, "tam", 0.8e9, 42e9)
	cagr := pick(s, "cagr", 0.02, 0.14)

	forecast := make([]map[string]any, 0, 5)
	value := tam
	for year := 2026; year <= 2030; year++ {
		forecast = append(forecast, map[string]any{
			"year":     year,
			"valueUsd": round1(value),
		})
		value *= 1 + cagr
	}

	data := map[string]any{
		"tamUsd":   round1(tam),
		"cagrPct":  round1(cagr * 100),
		"forecast": forecast,
		"method":   "top-down with segment weighting",
	}

	return &pipeline.StageResult{
		Data:    data,
		Summary: fmt.Sprintf("# Market sizing\n\nTAM %.1fB USD, CAGR %.1f%%.\n", tam/1e9, cagr*100),
		Metrics: map[string]float64{"tamUsd": round1(tam), "cagrPct": round1(cagr * 100)},
	}, nil
}

func narrativeHandler(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
	synthesis, _ := sc.Prior["3"].(map[string]any)
	findings, _ := synthesis["findings"].([]any)

	storyline := []map[string]any{
		{"key": "situation", "headline": fmt.Sprintf("The %s market in %s is at an inflection point", sc.Industry, sc.Country)},
		{"key": "complication", "headline": "Growth is concentrated in a minority of segments"},
		{"key": "resolution", "headline": "A focused segment strategy captures disproportionate share"},
	}

	data := map[string]any{
		"storyline":     storyline,
		"evidenceCount": len(findings),
	}

	return &pipeline.StageResult{
		Data:    data,
		Summary: "# Narrative\n\nSituation-complication-resolution arc over the synthesis evidence.\n",
	}, nil
}

func draftingHandler(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
	narrative, _ := sc.Prior["5"].(map[string]any)
	storyline, _ := narrative["storyline"].([]any)

	slides := []map[string]any{
		{"key": "title", "title": fmt.Sprintf("%s: %s market outlook", sc.Country, sc.Industry), "body": ""},
	}
	for _, raw := range storyline {
		beat, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		key, _ := beat["key"].(string)
		headline, _ := beat["headline"].(string)
		slides = append(slides, map[string]any{
			"key":   key,
			"title": headline,
			"body":  fmt.Sprintf("Supporting detail for the %s beat.", key),
		})
	}
	slides = append(slides, map[string]any{"key": "appendix", "title": "Appendix", "body": "Methodology and sources."})

	return &pipeline.StageResult{
		Data:    map[string]any{"slides": slides},
		Summary: fmt.Sprintf("# Slide drafting\n\n%d slides drafted.\n", len(slides)),
		Metrics: map[string]float64{"slides": float64(len(slides))},
	}, nil
}

func qualityHandler(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
	assembly, _ := sc.Prior["7"].(map[string]any)
	slideCount, _ := assembly["slideCount"].(float64)

	checks := []map[string]any{
		{"name": "deck_present", "pass": sc.DeckPath != ""},
		{"name": "slide_count", "pass": slideCount > 0, "value": slideCount},
		{"name": "narrative_arc", "pass": true},
	}

	failures := 0
	for _, c := range checks {
		if pass, _ := c["pass"].(bool); !pass {
			failures++
		}
	}

	return &pipeline.StageResult{
		Data:    map[string]any{"checks": checks, "failures": failures},
		Summary: fmt.Sprintf("# Quality checks\n\n%d checks, %d failures.\n", len(checks), failures),
		Gate: &pipeline.GateResult{
			Pass:  failures == 0,
			Score: 1 - float64(failures)/float64(len(checks)),
		},
		Metrics: map[string]float64{"failures": float64(failures)},
	}, nil
}

func handoffHandler(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
	deliverables := []map[string]any{
		{"name": "deck.pptx", "path": sc.DeckPath},
		{"name": "market model", "stage": "4"},
		{"name": "quality report", "stage": "8"},
	}

	return &pipeline.StageResult{
		Data: map[string]any{
			"deliverables": deliverables,
			"scope":        fmt.Sprintf("%s / %s", sc.Country, sc.Industry),
		},
		Summary: "# Handoff\n\nDeliverables packaged for the engagement team.\n",
	}, nil
}

// reviewHandler builds the audit pass for a primary stage: it re-emits the
// consumed output with a review envelope and reports a gate score. The
// reference reviews always pass; real reviewers repair the payload.
func reviewHandler(source, label string) pipeline.Handler {
	return func(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
		payload, ok := sc.Prior[source]
		if !ok {
			return nil, fmt.Errorf("%s review: no stage %s output in context", label, source)
		}

		data := map[string]any{
			"reviewed": payload,
			"source":   source,
			"repairs":  []string{},
		}

		return &pipeline.StageResult{
			Data:    data,
			Summary: fmt.Sprintf("# Review: %s\n\nNo repairs required.\n", label),
			Gate:    &pipeline.GateResult{Pass: true, Score: 1},
		}, nil
	}
}

func maturityFor(v float64) string {
	switch {
	case v < 1:
		return "emerging"
	case v < 2:
		return "growth"
	default:
		return "mature"
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
