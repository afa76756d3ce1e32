package armls

import (
	"github.com/samvidmistry/Armls/internal/analyzer"
	"github.com/samvidmistry/Armls/internal/cst"
	"github.com/samvidmistry/Armls/internal/schema"
)

// Public aliases for internal types used in the Engine API.

type Point = cst.Point
type Range = analyzer.Range
type Diagnostic = analyzer.Diagnostic
type Severity = analyzer.Severity
type Candidate = schema.Candidate

const (
	SeverityError       = analyzer.SeverityError
	SeverityWarning     = analyzer.SeverityWarning
	SeverityInformation = analyzer.SeverityInformation
	SeverityHint        = analyzer.SeverityHint
)

// Hover is the description of the schema element under a cursor. Contents
// is Markdown; Range spans the hovered node.
type Hover struct {
	Contents string
	Range    Range
}

// Analysis is the result of one pass over a document. Diagnostic ranges
// refer to Text, the content that was analyzed.
type Analysis struct {
	Text        string
	Diagnostics []Diagnostic
}
