// Package output provides styled terminal output helpers (success, error,
// tab list formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/marcus/tabsync/internal/coordinator"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	urlStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
)

const defaultWidth = 80

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultWidth
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}

	return fallback
}

// TabList renders the canonical tab list, one line per tab, truncating
// urls to the terminal width.
func TabList(tabs []coordinator.TabView) string {
	if len(tabs) == 0 {
		return subtleStyle.Render("no open tabs")
	}

	width := TerminalWidth(defaultWidth)
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%d open tabs", len(tabs))))
	b.WriteString("\n")
	for _, t := range tabs {
		prefix := fmt.Sprintf("%3d  ", t.Position)
		url := truncate(t.URL, width-len(prefix))
		b.WriteString(subtleStyle.Render(prefix))
		b.WriteString(urlStyle.Render(url))
		b.WriteString("\n")
	}
	return b.String()
}

// StatusLine renders a one-line server status summary.
func StatusLine(st coordinator.Status) string {
	line := fmt.Sprintf("%d open tabs, %d pending creates, %d connected",
		st.OpenTabs, st.PendingCreates, len(st.Connected))
	if len(st.Connected) > 0 {
		line += subtleStyle.Render(" (" + strings.Join(st.Connected, ", ") + ")")
	}
	return line
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
