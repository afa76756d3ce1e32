package main

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLIDiagnostic is a JSON-friendly diagnostic.
type CLIDiagnostic struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
	Severity  string `json:"severity"`
	Source    string `json:"source,omitempty"`
	Message   string `json:"message"`
}

// CLIHover is a JSON-friendly hover result.
type CLIHover struct {
	Contents  string `json:"contents"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// CLICandidate is a JSON-friendly completion candidate.
type CLICandidate struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CLIIndexStats summarizes one catalog refresh.
type CLIIndexStats struct {
	Catalog   string `json:"catalog"`
	Indexed   int    `json:"indexed"`
	Unchanged int    `json:"unchanged"`
	Removed   int    `json:"removed"`
}
