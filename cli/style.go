// ABOUTME: Terminal styling for command output
// ABOUTME: Colors only when writing to a terminal so piped output stays plain
package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return printer{w: w, color: color}
}

func (p printer) paint(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

// status colors a sync or connection state word.
func (p printer) status(s string) string {
	switch s {
	case "success", "connected", "enabled", "ok":
		return p.paint(okStyle, s)
	case "pending", "retrying":
		return p.paint(pendingStyle, s)
	case "failed", "disconnected", "error":
		return p.paint(errorStyle, s)
	default:
		return p.paint(mutedStyle, s)
	}
}
