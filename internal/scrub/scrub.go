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

// Package scrub removes secrets and unbounded data from payloads before they
// are persisted or handed to hooks. Scrubbing applies only to emitted values;
// the in-memory context passed between stages is never altered.
package scrub

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// RedactedPlaceholder replaces values stored under sensitive field names.
	RedactedPlaceholder = "[REDACTED]"

	// FunctionPlaceholder replaces function values, which cannot be serialised.
	FunctionPlaceholder = "[Function]"

	// TruncationMarker is appended to strings cut at MaxStringLen.
	TruncationMarker = "…[truncated]"

	// MaxDepthPlaceholder replaces values nested beyond MaxDepth.
	MaxDepthPlaceholder = "[MaxDepth]"
)

// Default limits applied by New.
const (
	DefaultMaxStringLen = 500
	DefaultMaxArrayLen  = 50
	DefaultMaxDepth     = 6
)

// sensitiveFields are field names whose values are always redacted.
// Matching is case-insensitive on the exact field name.
var sensitiveFields = map[string]struct{}{
	"apikey":        {},
	"api_key":       {},
	"password":      {},
	"secret":        {},
	"token":         {},
	"authtoken":     {},
	"credential":    {},
	"authorization": {},
}

// Scrubber walks arbitrary values and produces a JSON-ready copy with
// secrets redacted and oversized data truncated.
type Scrubber struct {
	// MaxStringLen is the longest string carried through unmodified.
	MaxStringLen int

	// MaxArrayLen caps array and slice lengths, truncation marker included.
	MaxArrayLen int

	// MaxDepth caps nesting; deeper values collapse to MaxDepthPlaceholder.
	MaxDepth int
}

// New returns a Scrubber with the default limits.
func New() *Scrubber {
	return &Scrubber{
		MaxStringLen: DefaultMaxStringLen,
		MaxArrayLen:  DefaultMaxArrayLen,
		MaxDepth:     DefaultMaxDepth,
	}
}

// Value scrubs v with the default limits.
func Value(v any) any {
	return New().Scrub(v)
}

// IsSensitiveField reports whether a field name triggers redaction.
func IsSensitiveField(name string) bool {
	_, ok := sensitiveFields[strings.ToLower(name)]
	return ok
}

// Scrub returns a scrubbed, JSON-ready copy of v. The input is not modified.
func (s *Scrubber) Scrub(v any) any {
	return s.walk(v, 0)
}

func (s *Scrubber) walk(v any, depth int) any {
	if v == nil {
		return nil
	}
	if depth > s.MaxDepth {
		return MaxDepthPlaceholder
	}

	switch val := v.(type) {
	case string:
		return s.scrubString(val)
	case []byte:
		return fmt.Sprintf("[Buffer %d bytes]", len(val))
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case time.Time:
		return val
	case error:
		return s.scrubString(val.Error())
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if IsSensitiveField(k) {
				out[k] = RedactedPlaceholder
				continue
			}
			out[k] = s.walk(item, depth+1)
		}
		return out
	case []any:
		return s.scrubSlice(val, depth)
	}

	return s.walkReflect(reflect.ValueOf(v), depth)
}

// walkReflect handles typed maps, slices, structs and pointers that the
// type switch above cannot name statically.
func (s *Scrubber) walkReflect(rv reflect.Value, depth int) any {
	switch rv.Kind() {
	case reflect.Func:
		return FunctionPlaceholder

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return s.walk(rv.Elem().Interface(), depth)

	case reflect.Slice, reflect.Array:
		// Named byte slices count as buffers, same as []byte.
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Sprintf("[Buffer %d bytes]", rv.Len())
		}
		items := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
		return s.scrubSlice(items, depth)

	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			if IsSensitiveField(key) {
				out[key] = RedactedPlaceholder
				continue
			}
			out[key] = s.walk(iter.Value().Interface(), depth+1)
		}
		return out

	case reflect.Struct:
		return s.scrubStruct(rv, depth)

	case reflect.String:
		return s.scrubString(rv.String())

	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}

	// Channels and other non-serialisable kinds collapse to their type name.
	return fmt.Sprintf("[%s]", rv.Kind())
}

// scrubStruct walks exported fields, honouring json tags the way the value
// would serialise.
func (s *Scrubber) scrubStruct(rv reflect.Value, depth int) any {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		omitEmpty := false
		if tag, ok := field.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, p := range parts[1:] {
				if p == "omitempty" {
					omitEmpty = true
				}
			}
		}

		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		if IsSensitiveField(name) {
			out[name] = RedactedPlaceholder
			continue
		}
		out[name] = s.walk(fv.Interface(), depth+1)
	}
	return out
}

func (s *Scrubber) scrubSlice(items []any, depth int) []any {
	n := len(items)
	capped := n
	truncated := false
	if n > s.MaxArrayLen {
		// Keep MaxArrayLen entries total, the last being the marker.
		capped = s.MaxArrayLen - 1
		truncated = true
	}

	out := make([]any, 0, s.MaxArrayLen)
	for i := 0; i < capped; i++ {
		out = append(out, s.walk(items[i], depth+1))
	}
	if truncated {
		out = append(out, fmt.Sprintf("…[%d more]", n-capped))
	}
	return out
}

func (s *Scrubber) scrubString(v string) string {
	if utf8.RuneCountInString(v) <= s.MaxStringLen {
		return v
	}
	runes := []rune(v)
	return string(runes[:s.MaxStringLen]) + TruncationMarker
}
