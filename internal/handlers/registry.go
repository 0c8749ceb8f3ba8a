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

// Package handlers provides the built-in reference pipeline: a deterministic
// handler for every stage of the contract, so the binary runs end to end out
// of the box. Deployments embedding the runner register their own handlers
// instead; the wiring table below doubles as the worked example.
package handlers

import (
	"github.com/tombee/stagehand/pkg/pipeline"
)

// objectSchema declares an output shape requiring the given top-level keys.
func objectSchema(required ...string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": required,
	}
}

// NewRegistry builds the reference registry covering every stage.
func NewRegistry() *pipeline.Registry {
	r := pipeline.NewRegistry()

	r.MustRegister("2", pipeline.Entry{
		Handler:      researchHandler,
		OutputSchema: objectSchema("country", "industry", "segments"),
	})
	r.MustRegister("2a", pipeline.Entry{
		Handler:      reviewHandler("2", "research"),
		Consumes:     []string{"2"},
		OutputSchema: objectSchema("reviewed", "source"),
	})
	r.MustRegister("3", pipeline.Entry{
		Handler:      synthesisHandler,
		Consumes:     []string{"2", "2a"},
		OutputSchema: objectSchema("findings", "implications"),
	})
	r.MustRegister("3a", pipeline.Entry{
		Handler:  reviewHandler("3", "synthesis"),
		Consumes: []string{"3"},
	})
	r.MustRegister("4", pipeline.Entry{
		Handler:      sizingHandler,
		Consumes:     []string{"2", "3"},
		OutputSchema: objectSchema("tamUsd", "forecast"),
	})
	r.MustRegister("4a", pipeline.Entry{
		Handler:  reviewHandler("4", "sizing"),
		Consumes: []string{"4"},
	})
	r.MustRegister("5", pipeline.Entry{
		Handler:      narrativeHandler,
		Consumes:     []string{"3", "4"},
		OutputSchema: objectSchema("storyline"),
	})
	r.MustRegister("6", pipeline.Entry{
		Handler:      draftingHandler,
		Consumes:     []string{"5"},
		OutputSchema: objectSchema("slides"),
	})
	r.MustRegister("6a", pipeline.Entry{
		Handler:  reviewHandler("6", "slides"),
		Consumes: []string{"6"},
	})
	r.MustRegister("7", pipeline.Entry{
		Handler:      assemblyHandler,
		Consumes:     []string{"6"},
		OutputSchema: objectSchema("deck", "slideCount"),
	})
	r.MustRegister("8", pipeline.Entry{
		Handler:      qualityHandler,
		Consumes:     []string{"6", "7"},
		OutputSchema: objectSchema("checks"),
	})
	r.MustRegister("8a", pipeline.Entry{
		Handler:  reviewHandler("8", "quality"),
		Consumes: []string{"8"},
	})
	r.MustRegister("9", pipeline.Entry{
		Handler:      handoffHandler,
		Consumes:     []string{"4", "7", "8"},
		OutputSchema: objectSchema("deliverables"),
	})

	return r
}
