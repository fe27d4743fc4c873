package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wireit-go/wireit/internal/graph"
)

// Severity color palette, grounded on the example pack's semantic palette
// convention (green/red/orange for success/error/warning).
const (
	colorError   = "203"
	colorWarning = "214"
	colorInfo    = "245"
	colorMuted   = "240"
	colorSuccess = "42"
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorError)).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorWarning)).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorInfo))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorSuccess)).Bold(true)
)

// RenderDiagnostic formats one diagnostic for terminal output (§7), with
// ANSI color when color is true.
func RenderDiagnostic(d graph.Diagnostic, color bool) string {
	label, style := severityLabel(d.Severity)
	loc := ""
	if d.Position.File != "" {
		loc = fmt.Sprintf("%s:%d:%d: ", d.Position.File, d.Position.Line, d.Position.Column)
	}
	line := fmt.Sprintf("%s%s [%s]: %s", loc, label, d.Kind, d.Message)
	if !color {
		return plain(line, d)
	}
	out := style.Render(label) + " " + mutedStyle.Render(loc+"["+d.Kind+"]") + ": " + d.Message
	for _, r := range d.Related {
		out += "\n  " + mutedStyle.Render("-> "+r.Message)
	}
	return out
}

func plain(line string, d graph.Diagnostic) string {
	var b strings.Builder
	b.WriteString(line)
	for _, r := range d.Related {
		fmt.Fprintf(&b, "\n  -> %s", r.Message)
	}
	return b.String()
}

func severityLabel(s graph.Severity) (string, lipgloss.Style) {
	switch s {
	case graph.SeverityError:
		return "error", errorStyle
	case graph.SeverityWarning:
		return "warning", warningStyle
	default:
		return "info", infoStyle
	}
}

// RenderDiagnostics formats every diagnostic in ds, one per line.
func RenderDiagnostics(ds graph.Diagnostics, color bool) string {
	lines := make([]string, len(ds))
	for i, d := range ds {
		lines[i] = RenderDiagnostic(d, color)
	}
	return strings.Join(lines, "\n")
}
