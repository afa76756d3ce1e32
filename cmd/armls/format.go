package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// formatDiagnosticsText formats CLIDiagnostic results as
// "file:line:col: severity: message" lines.
func formatDiagnosticsText(w io.Writer, diags []CLIDiagnostic) {
	for _, d := range diags {
		fmt.Fprintf(w, "%s:%d:%d: %s: %s\n", d.File, d.StartLine, d.StartCol, d.Severity, d.Message)
	}
}

// formatHoverText writes the hover contents.
func formatHoverText(w io.Writer, h CLIHover) {
	fmt.Fprintln(w, h.Contents)
}

// formatCandidatesText formats CLICandidate results as aligned columns.
func formatCandidatesText(w io.Writer, candidates []CLICandidate) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, c := range candidates {
		fmt.Fprintf(tw, "%s\t%s\n", c.Name, firstLine(c.Description))
	}
	tw.Flush()
}

// formatIndexStatsText formats CLIIndexStats as readable text.
func formatIndexStatsText(w io.Writer, stats CLIIndexStats) {
	fmt.Fprintf(w, "Catalog: %s\n", stats.Catalog)
	fmt.Fprintf(w, "Indexed: %d\n", stats.Indexed)
	fmt.Fprintf(w, "Unchanged: %d\n", stats.Unchanged)
	fmt.Fprintf(w, "Removed: %d\n", stats.Removed)
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLIDiagnostic:
		formatDiagnosticsText(w, v)
	case CLIHover:
		formatHoverText(w, v)
	case []CLICandidate:
		formatCandidatesText(w, v)
	case CLIIndexStats:
		formatIndexStatsText(w, v)
	case nil:
		// No output for nil results (e.g., hover with no description).
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
