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

package stage

import (
	"strings"
	"testing"

	"github.com/tombee/stagehand/pkg/errors"
)

func TestOrderMatchesDefinitions(t *testing.T) {
	if len(Order) != 13 {
		t.Fatalf("expected 13 stages, got %d", len(Order))
	}
	if len(definitions) != len(Order) {
		t.Fatalf("definitions has %d entries, order has %d", len(definitions), len(Order))
	}
	for _, id := range Order {
		def, ok := Get(id)
		if !ok {
			t.Fatalf("stage %q in order but not defined", id)
		}
		if def.ID != id {
			t.Errorf("stage %q definition carries id %q", id, def.ID)
		}
	}
}

func TestKindPartition(t *testing.T) {
	primary := Primary()
	review := Review()

	if len(primary)+len(review) != len(Order) {
		t.Fatalf("partition sizes %d + %d != %d", len(primary), len(review), len(Order))
	}

	seen := make(map[string]bool)
	for _, id := range primary {
		seen[id] = true
	}
	for _, id := range review {
		if seen[id] {
			t.Errorf("stage %q is in both partitions", id)
		}
		seen[id] = true
	}
	for _, id := range Order {
		if !seen[id] {
			t.Errorf("stage %q missing from partition", id)
		}
	}

	for _, id := range review {
		if !strings.HasSuffix(id, "a") {
			t.Errorf("review stage %q does not end in 'a'", id)
		}
		if !IsReview(id) {
			t.Errorf("IsReview(%q) = false", id)
		}
	}
	for _, id := range primary {
		if strings.HasSuffix(id, "a") {
			t.Errorf("primary stage %q ends in 'a'", id)
		}
	}
}

func TestIndexAndValidity(t *testing.T) {
	if Index("2") != 0 {
		t.Errorf("Index(2) = %d, want 0", Index("2"))
	}
	if Index("9") != 12 {
		t.Errorf("Index(9) = %d, want 12", Index("9"))
	}
	if Index("10") != -1 {
		t.Errorf("Index(10) = %d, want -1", Index("10"))
	}
	if !IsValid("6a") {
		t.Error("IsValid(6a) = false")
	}
	if IsValid("1") {
		t.Error("IsValid(1) = true for undefined stage")
	}
}

func TestNextPrev(t *testing.T) {
	next, ok := Next("2")
	if !ok || next != "2a" {
		t.Errorf("Next(2) = %q, %v", next, ok)
	}
	next, ok = Next("4a")
	if !ok || next != "5" {
		t.Errorf("Next(4a) = %q, %v", next, ok)
	}
	if _, ok := Next("9"); ok {
		t.Error("Next(9) should report no successor")
	}
	if _, ok := Next("bogus"); ok {
		t.Error("Next(bogus) should report no successor")
	}

	prev, ok := Prev("2a")
	if !ok || prev != "2" {
		t.Errorf("Prev(2a) = %q, %v", prev, ok)
	}
	if _, ok := Prev("2"); ok {
		t.Error("Prev(2) should report no predecessor")
	}
}

func TestThrough(t *testing.T) {
	got, err := Through("3")
	if err != nil {
		t.Fatalf("Through(3): %v", err)
	}
	want := []string{"2", "2a", "3"}
	if len(got) != len(want) {
		t.Fatalf("Through(3) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Through(3)[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	full, err := Through("9")
	if err != nil {
		t.Fatalf("Through(9): %v", err)
	}
	if len(full) != len(Order) {
		t.Errorf("Through(9) returned %d stages, want %d", len(full), len(Order))
	}
}

func TestSlice(t *testing.T) {
	got, err := Slice("3a", "5")
	if err != nil {
		t.Fatalf("Slice(3a, 5): %v", err)
	}
	want := []string{"3a", "4", "4a", "5"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Slice(3a,5)[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Mutating the result must not touch the frozen order.
	got[0] = "mutated"
	if Order[3] != "3a" {
		t.Error("slice result aliases the frozen order")
	}

	if _, err := Slice("5", "3"); err == nil {
		t.Error("Slice(5, 3) should reject a reversed range")
	}
	var verr *errors.ValidationError
	if _, err := Slice("nope", "3"); !errors.As(err, &verr) {
		t.Errorf("Slice(nope, 3) error = %v, want ValidationError", err)
	}
	if _, err := Slice("2", "nope"); err == nil {
		t.Error("Slice(2, nope) should reject unknown through")
	}
}

func TestDeckStageDeclaresBinary(t *testing.T) {
	def, _ := Get("7")
	found := false
	for _, f := range def.Outputs {
		if f == FileDeckPPTX {
			found = true
		}
	}
	if !found {
		t.Error("stage 7 should declare deck.pptx as an output")
	}
}
