package scenario

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Markdown renders a run as a report
func Markdown(res *Result) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Scenario Report: %s\n\n", res.Name))
	if res.Description != "" {
		sb.WriteString(res.Description + "\n\n")
	}
	sb.WriteString(fmt.Sprintf("- Started: %s\n", res.Started.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("- Elapsed: %v\n\n", res.Elapsed.Round(time.Millisecond)))

	sb.WriteString("## Assertions\n\n")
	passed := 0
	for _, a := range res.Assertions {
		status := "❌"
		if a.Passed {
			status = "✅"
			passed++
		}
		line := fmt.Sprintf("- %s **%s**: %s", status, a.Assertion.Type, a.Message)
		if a.Assertion.Comment != "" {
			line += fmt.Sprintf(" (%s)", a.Assertion.Comment)
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString(fmt.Sprintf("\n%d/%d assertions passed\n\n", passed, len(res.Assertions)))

	sb.WriteString("## Timeline\n\n")
	sb.WriteString("| ms | event | detail |\n|---:|---|---|\n")
	for _, entry := range res.Log {
		detail := strings.ReplaceAll(entry.Message, "|", "\\|")
		sb.WriteString(fmt.Sprintf("| %d | %s | %s |\n", entry.TimeMs, entry.EventType, detail))
	}

	return sb.String()
}

// WriteReport writes the Markdown report into dir and returns its path
func WriteReport(dir string, res *Result) (string, error) {
	timestamp := res.Started.Format("2006-01-02_15-04-05")
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, res.Name)
	if name == "" {
		name = "scenario"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("scenario_%s_%s.md", name, timestamp))
	if err := os.WriteFile(path, []byte(Markdown(res)), 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// Print writes a console summary of the run
func Print(w io.Writer, res *Result) {
	fmt.Fprintf(w, "=== Scenario: %s ===\n", res.Name)
	if res.Description != "" {
		fmt.Fprintf(w, "%s\n", res.Description)
	}
	fmt.Fprintf(w, "Elapsed: %v\n\n", res.Elapsed.Round(time.Millisecond))

	fmt.Fprintln(w, "--- Event Log ---")
	for _, entry := range res.Log {
		fmt.Fprintf(w, "[%5dms] %-18s %s\n", entry.TimeMs, entry.EventType, entry.Message)
	}

	fmt.Fprintln(w, "\n--- Assertion Results ---")
	passed := 0
	for _, a := range res.Assertions {
		status := "FAIL"
		if a.Passed {
			status = "PASS"
			passed++
		}
		fmt.Fprintf(w, "%s - %s: %s\n", status, a.Assertion.Type, a.Message)
	}
	fmt.Fprintf(w, "\nTotal: %d/%d assertions passed\n", passed, len(res.Assertions))
}
