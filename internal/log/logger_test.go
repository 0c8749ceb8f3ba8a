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

package log

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}
	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}
	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		wantLevel string
		wantFmt   Format
		wantSrc   bool
	}{
		{
			name:      "defaults when no env vars",
			envVars:   map[string]string{},
			wantLevel: "info",
			wantFmt:   FormatJSON,
		},
		{
			name:      "LOG_LEVEL=debug",
			envVars:   map[string]string{"LOG_LEVEL": "debug"},
			wantLevel: "debug",
			wantFmt:   FormatJSON,
		},
		{
			name:      "STAGEHAND_LOG_LEVEL beats LOG_LEVEL",
			envVars:   map[string]string{"STAGEHAND_LOG_LEVEL": "warn", "LOG_LEVEL": "debug"},
			wantLevel: "warn",
			wantFmt:   FormatJSON,
		},
		{
			name:      "STAGEHAND_DEBUG enables debug and source",
			envVars:   map[string]string{"STAGEHAND_DEBUG": "1", "LOG_LEVEL": "error"},
			wantLevel: "debug",
			wantFmt:   FormatJSON,
			wantSrc:   true,
		},
		{
			name:      "LOG_FORMAT=text",
			envVars:   map[string]string{"LOG_FORMAT": "TEXT"},
			wantLevel: "info",
			wantFmt:   FormatText,
		},
		{
			name:      "LOG_SOURCE=1",
			envVars:   map[string]string{"LOG_SOURCE": "1"},
			wantLevel: "info",
			wantFmt:   FormatJSON,
			wantSrc:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()
			if cfg.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", cfg.Level, tt.wantLevel)
			}
			if cfg.Format != tt.wantFmt {
				t.Errorf("Format = %q, want %q", cfg.Format, tt.wantFmt)
			}
			if cfg.AddSource != tt.wantSrc {
				t.Errorf("AddSource = %v, want %v", cfg.AddSource, tt.wantSrc)
			}
		})
	}
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("stage completed", String(RunIDKey, "run-x"), String(StageKey, "2"), Int(AttemptKey, 1))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["msg"] != "stage completed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry[RunIDKey] != "run-x" {
		t.Errorf("run_id = %v", entry[RunIDKey])
	}
	if entry[StageKey] != "2" {
		t.Errorf("stage = %v", entry[StageKey])
	}
}

func TestNewTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

	logger.Info("lock acquired", String(HolderKey, "worker-ab12cd34"))

	out := buf.String()
	if !strings.Contains(out, "lock acquired") {
		t.Errorf("missing message in text output: %q", out)
	}
	if !strings.Contains(out, "holder=worker-ab12cd34") {
		t.Errorf("missing holder field in text output: %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})

	logger.Debug("should be dropped")
	logger.Info("should be dropped too")
	logger.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "kept") {
		t.Errorf("unexpected surviving line: %q", lines[0])
	}
}

func TestWithStageContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithStageContext(logger, "run-x", "3a", 2).Info("attempt started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry[RunIDKey] != "run-x" || entry[StageKey] != "3a" {
		t.Errorf("missing stage context: %v", entry)
	}
	if entry[AttemptKey] != float64(2) {
		t.Errorf("attempt = %v, want 2", entry[AttemptKey])
	}
}

func TestTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})

	Trace(logger, "payload dump", String("stage", "7"))
	if !strings.Contains(buf.String(), "payload dump") {
		t.Error("trace message missing at trace level")
	}

	buf.Reset()
	quiet := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	Trace(quiet, "payload dump")
	if buf.Len() != 0 {
		t.Error("trace message should be dropped at debug level")
	}
}
