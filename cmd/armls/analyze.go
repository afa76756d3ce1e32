package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/samvidmistry/Armls"
)

var checkCmd = &cobra.Command{
	Use:   "check <file|dir>...",
	Short: "Report diagnostics for templates",
	Long:  "Analyzes every template given, expanding directories to the *.json and *.jsonc files they contain. Exits non-zero when any error-severity diagnostic is found.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

var hoverCmd = &cobra.Command{
	Use:   "hover <file> <line> <col>",
	Short: "Describe the schema element at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runHover,
}

var completeCmd = &cobra.Command{
	Use:   "complete <file> <line> <col>",
	Short: "List the properties allowed in the object at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runComplete,
}

func runCheck(cmd *cobra.Command, args []string) error {
	paths, err := expandArgs(args)
	if err != nil {
		return outputError(cmd, "check", err)
	}
	engine, err := openEngine()
	if err != nil {
		return outputError(cmd, "check", err)
	}

	ctx := cmd.Context()
	opened, loadErr := engine.LoadFiles(ctx, paths)
	if loadErr != nil {
		log.Warningf("%v", loadErr)
	}
	results, err := engine.Analyze(ctx)
	if err != nil {
		return outputError(cmd, "check", err)
	}

	diags := make([]CLIDiagnostic, 0)
	for _, path := range opened {
		for _, d := range results[path] {
			diags = append(diags, diagnosticToCLI(path, d))
		}
	}
	if err := outputResult(cmd.OutOrStdout(), CLIResult{Command: "check", Results: diags}); err != nil {
		return err
	}

	if loadErr != nil {
		errorHandled = true
		return loadErr
	}
	if hasErrors(diags) {
		return errFindings
	}
	return nil
}

func runHover(cmd *cobra.Command, args []string) error {
	engine, path, pos, err := openAt(cmd, args)
	if err != nil {
		return outputError(cmd, "hover", err)
	}
	h, err := engine.Hover(cmd.Context(), path, pos)
	if err != nil {
		return outputError(cmd, "hover", err)
	}
	result := CLIResult{Command: "hover"}
	if h != nil {
		result.Results = hoverToCLI(*h)
	}
	return outputResult(cmd.OutOrStdout(), result)
}

func runComplete(cmd *cobra.Command, args []string) error {
	engine, path, pos, err := openAt(cmd, args)
	if err != nil {
		return outputError(cmd, "complete", err)
	}
	candidates, err := engine.Complete(cmd.Context(), path, pos)
	if err != nil {
		return outputError(cmd, "complete", err)
	}
	out := make([]CLICandidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, CLICandidate{Name: c.Name, Description: c.Description})
	}
	return outputResult(cmd.OutOrStdout(), CLIResult{Command: "complete", Results: out})
}

// --- Helpers ---

// openAt opens the file named by args[0] and parses the position in
// args[1:3].
func openAt(cmd *cobra.Command, args []string) (*armls.Engine, string, armls.Point, error) {
	var pos armls.Point
	path := resolvePath(args[0])
	line, err := parseIntArg(args[1], "line")
	if err != nil {
		return nil, "", pos, err
	}
	col, err := parseIntArg(args[2], "col")
	if err != nil {
		return nil, "", pos, err
	}
	pos = armls.Point{Row: uint32(line), Column: uint32(col)}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", pos, fmt.Errorf("reading %s: %w", path, err)
	}
	engine, err := openEngine()
	if err != nil {
		return nil, "", pos, err
	}
	if err := engine.Open(cmd.Context(), path, string(content)); err != nil {
		return nil, "", pos, err
	}
	return engine, path, pos, nil
}

// expandArgs replaces directory arguments with the templates under them.
func expandArgs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		abs := resolvePath(arg)
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("not found: %s", abs)
		}
		if !info.IsDir() {
			paths = append(paths, abs)
			continue
		}
		files, err := armls.ListFiles(abs)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", abs, err)
		}
		paths = append(paths, files...)
	}
	return paths, nil
}

// resolvePath converts a path argument to an absolute path.
func resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// parseIntArg parses a positional argument as an integer with a clear error.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be non-negative", name, value)
	}
	return n, nil
}

func hasErrors(diags []CLIDiagnostic) bool {
	for _, d := range diags {
		if d.Severity == armls.SeverityError.String() {
			return true
		}
	}
	return false
}

// diagnosticToCLI converts an armls.Diagnostic to a CLIDiagnostic.
func diagnosticToCLI(path string, d armls.Diagnostic) CLIDiagnostic {
	return CLIDiagnostic{
		File:      path,
		StartLine: int(d.Range.Start.Row),
		StartCol:  int(d.Range.Start.Column),
		EndLine:   int(d.Range.End.Row),
		EndCol:    int(d.Range.End.Column),
		Severity:  d.Severity.String(),
		Source:    d.Source,
		Message:   d.Message,
	}
}

// hoverToCLI converts an armls.Hover to a CLIHover.
func hoverToCLI(h armls.Hover) CLIHover {
	return CLIHover{
		Contents:  h.Contents,
		StartLine: int(h.Range.Start.Row),
		StartCol:  int(h.Range.Start.Column),
		EndLine:   int(h.Range.End.Row),
		EndCol:    int(h.Range.End.Column),
	}
}

// outputResult marshals a CLIResult to w in the selected format.
func outputResult(w io.Writer, result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(cmd *cobra.Command, command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}
