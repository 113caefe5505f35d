package main

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Styles for human-readable output.
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	spinStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// spinner frames for progress display.
var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// truncateText shortens a string to the given max length, appending "..." if
// truncation occurs. It also replaces newlines with spaces for single-line display.
func truncateText(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// writeOutput renders data as JSON (if --json flag is set) or invokes
// the human-readable callback.
func writeOutput(cmd *cobra.Command, data any, humanFn func()) error {
	jsonMode, _ := cmd.Flags().GetBool("json")
	if jsonMode {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	humanFn()
	return nil
}

// progressPrinter returns a progress callback drawing a spinner on cmd's
// stderr, or nil when output is quiet or JSON. Workers call it concurrently.
func progressPrinter(cmd *cobra.Command) func(phase string, done, total int) {
	quiet, _ := cmd.Flags().GetBool("quiet")
	jsonMode, _ := cmd.Flags().GetBool("json")
	if quiet || jsonMode {
		return nil
	}
	var mu sync.Mutex
	spinIdx := 0
	return func(phase string, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		frame := spinnerFrames[spinIdx%len(spinnerFrames)]
		spinIdx++
		if done >= total {
			cmd.PrintErrf("\r%s %s [%d/%d]\n", okStyle.Render("✓"), phase, done, total)
			return
		}
		cmd.PrintErrf("\r%s %s [%d/%d]", spinStyle.Render(frame), phase, done, total)
	}
}
