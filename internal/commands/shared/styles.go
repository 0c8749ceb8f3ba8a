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

package shared

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// CLI style colors using lipgloss
var (
	// StatusOK styles success indicators
	StatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green

	// StatusWarn styles warning indicators
	StatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// StatusError styles error indicators
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// Muted styles secondary/less important text
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Bold styles emphasized text
	Bold = lipgloss.NewStyle().Bold(true)

	// Header styles section headers
	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // blue bold
)

// Symbols for status indicators
const (
	SymbolOK      = "✓"
	SymbolWarn    = "⚠"
	SymbolError   = "✗"
	SymbolPending = "·"
)

// RenderStageStatus renders a per-stage status cell for the scorecard table.
func RenderStageStatus(status string) string {
	switch status {
	case "completed":
		return StatusOK.Render(SymbolOK + " completed")
	case "failed":
		return StatusError.Render(SymbolError + " failed")
	case "running":
		return StatusWarn.Render("… running")
	case "skipped":
		return Muted.Render("- skipped")
	default:
		return Muted.Render(SymbolPending + " pending")
	}
}

// RenderRunStatus renders a run-level status badge.
func RenderRunStatus(status string) string {
	switch status {
	case "completed":
		return StatusOK.Render(status)
	case "failed", "cancelled":
		return StatusError.Render(status)
	case "running":
		return StatusWarn.Render(status)
	default:
		return Muted.Render(status)
	}
}

// RenderLabel renders a dim label (for key: value pairs)
func RenderLabel(label string) string {
	return Muted.Render(label)
}

// Table renders rows with left-aligned columns padded to the widest cell.
// Styling is applied per cell by the caller before padding is measured, so
// the header row is passed pre-rendered.
type Table struct {
	header []string
	rows   [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(header ...string) *Table {
	return &Table{header: header}
}

// AddRow appends one row of cells.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render returns the formatted table.
func (t *Table) Render() string {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style func(string) string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			pad := widths[i] - lipgloss.Width(cell)
			b.WriteString(style(cell))
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString("\n")
	}

	writeRow(t.header, func(s string) string { return Bold.Render(s) })
	for _, row := range t.rows {
		writeRow(row, func(s string) string { return s })
	}
	return b.String()
}

// FormatDuration renders a millisecond duration for table cells.
func FormatDuration(ms int64) string {
	if ms <= 0 {
		return ""
	}
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
