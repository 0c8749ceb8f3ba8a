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

// Package artifact writes per-attempt files under the artifacts base
// directory. Every write goes through the atomic temp-file-and-rename
// protocol, so a concurrent reader observes either the prior contents or the
// new contents, never a partial write.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/stagehand/internal/store"
	"github.com/tombee/stagehand/pkg/errors"
	"github.com/tombee/stagehand/pkg/stage"
)

// Content types inferred from filename suffix.
const (
	ContentTypeJSON   = "application/json"
	ContentTypeMD     = "text/markdown"
	ContentTypeNDJSON = "application/x-ndjson"
	ContentTypeBinary = "application/octet-stream"
)

// ContentTypeFor infers a MIME type from the filename suffix.
func ContentTypeFor(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".ndjson"):
		return ContentTypeNDJSON
	case strings.HasSuffix(filename, ".json"):
		return ContentTypeJSON
	case strings.HasSuffix(filename, ".md"):
		return ContentTypeMD
	default:
		return ContentTypeBinary
	}
}

// AttemptRel returns the attempt directory path relative to the base:
// <runId>/stages/<stage>/attempt-<n>.
func AttemptRel(runID, stageID string, attempt int) string {
	return filepath.Join(runID, "stages", stageID, fmt.Sprintf("attempt-%d", attempt))
}

// Writer writes attempt artifacts under a base directory and produces the
// store rows describing them. It never touches the database itself; the
// runner records the returned rows inside its stage transaction.
type Writer struct {
	base string
}

// NewWriter creates a writer rooted at the given base directory.
func NewWriter(base string) *Writer {
	return &Writer{base: base}
}

// Base returns the artifacts base directory.
func (w *Writer) Base() string {
	return w.base
}

// AttemptDir returns the absolute attempt directory for (runID, stage, attempt).
func (w *Writer) AttemptDir(runID, stageID string, attempt int) string {
	return filepath.Join(w.base, AttemptRel(runID, stageID, attempt))
}

// Write atomically writes one artifact file into the attempt directory and
// returns the store row describing it. An empty contentType is inferred from
// the filename suffix.
func (w *Writer) Write(runID, stageID string, attempt int, filename string, data []byte, contentType string) (*store.Artifact, error) {
	rel := filepath.Join(AttemptRel(runID, stageID, attempt), filename)
	target := filepath.Join(w.base, rel)

	if err := atomicWrite(target, data); err != nil {
		return nil, err
	}

	if contentType == "" {
		contentType = ContentTypeFor(filename)
	}
	return &store.Artifact{
		RunID:       runID,
		Stage:       stageID,
		Attempt:     attempt,
		Filename:    filename,
		Path:        rel,
		SizeBytes:   int64(len(data)),
		ContentType: contentType,
	}, nil
}

// Read returns the contents of one artifact file.
func (w *Writer) Read(runID, stageID string, attempt int, filename string) ([]byte, error) {
	path := filepath.Join(w.AttemptDir(runID, stageID, attempt), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.FileSystemError{Op: "read", Path: path, Cause: err}
	}
	return data, nil
}

// atomicWrite writes data to target via a sibling temp file and rename. The
// rename is atomic because the temp file lives in the target's directory.
func atomicWrite(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &errors.FileSystemError{Op: "mkdir", Path: dir, Cause: err}
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return &errors.FileSystemError{Op: "write", Path: target, Cause: err}
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath) // Clean up temp file in case of error

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return &errors.FileSystemError{Op: "write", Path: target, Cause: err}
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return &errors.FileSystemError{Op: "sync", Path: target, Cause: err}
	}
	if err := tmpFile.Close(); err != nil {
		return &errors.FileSystemError{Op: "close", Path: target, Cause: err}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return &errors.FileSystemError{Op: "rename", Path: target, Cause: err}
	}
	return nil
}

// Bundle is the set of standard artifacts one stage attempt produces. Any
// subset may be present; nil fields are skipped.
type Bundle struct {
	RunID   string
	Stage   string
	Attempt int

	// Output becomes output.json. The caller scrubs it first.
	Output any

	// Summary becomes output.md.
	Summary string

	// Meta becomes meta.json.
	Meta any

	// Events become events.ndjson, one JSON object per line.
	Events []map[string]any

	// Binaries are opaque named blobs (e.g. deck.pptx), written as-is.
	Binaries map[string][]byte
}

// WriteStageArtifacts writes every artifact present in the bundle through the
// atomic protocol and returns the rows to record.
func (w *Writer) WriteStageArtifacts(b Bundle) ([]*store.Artifact, error) {
	var rows []*store.Artifact

	write := func(filename string, data []byte, contentType string) error {
		row, err := w.Write(b.RunID, b.Stage, b.Attempt, filename, data, contentType)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	}

	if b.Output != nil {
		data, err := marshalJSON(b.Output)
		if err != nil {
			return nil, err
		}
		if err := write(stage.FileOutputJSON, data, ContentTypeJSON); err != nil {
			return nil, err
		}
	}
	if b.Summary != "" {
		if err := write(stage.FileOutputMD, []byte(b.Summary), ContentTypeMD); err != nil {
			return nil, err
		}
	}
	if b.Meta != nil {
		data, err := marshalJSON(b.Meta)
		if err != nil {
			return nil, err
		}
		if err := write(stage.FileMetaJSON, data, ContentTypeJSON); err != nil {
			return nil, err
		}
	}
	if len(b.Events) > 0 {
		var sb strings.Builder
		for _, ev := range b.Events {
			line, err := json.Marshal(ev)
			if err != nil {
				return nil, &errors.FileSystemError{Op: "encode", Path: stage.FileEventsNDJSON, Cause: err}
			}
			sb.Write(line)
			sb.WriteByte('\n')
		}
		if err := write(stage.FileEventsNDJSON, []byte(sb.String()), ContentTypeNDJSON); err != nil {
			return nil, err
		}
	}
	for filename, data := range b.Binaries {
		if err := write(filename, data, ""); err != nil {
			return nil, err
		}
	}

	return rows, nil
}

// ErrorPayload is the persisted shape of error.json.
type ErrorPayload struct {
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Stack   string         `json:"stack,omitempty"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteErrorArtifact serialises a failure to error.json in the attempt
// directory and returns the row to record. The payload captures the error's
// type name, message, captured stack when present, machine-readable code,
// and any structured evidence (gate violations).
func (w *Writer) WriteErrorArtifact(runID, stageID string, attempt int, cause error) (*store.Artifact, error) {
	payload := ErrorPayload{
		Name:    fmt.Sprintf("%T", cause),
		Message: cause.Error(),
		Code:    errors.CodeOf(cause),
		Details: errors.DetailsOf(cause),
	}

	var handlerErr *errors.HandlerError
	if errors.As(cause, &handlerErr) {
		payload.Stack = handlerErr.Stack
	}

	data, err := marshalJSON(payload)
	if err != nil {
		return nil, err
	}
	return w.Write(runID, stageID, attempt, stage.FileErrorJSON, data, ContentTypeJSON)
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &errors.FileSystemError{Op: "encode", Path: "", Cause: err}
	}
	return append(data, '\n'), nil
}
