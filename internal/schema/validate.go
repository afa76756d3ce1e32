package schema

import (
	"errors"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ValidationError is one node of a validation failure tree. Line and Column
// are 1-based; only errors without causes describe an actual failing
// constraint.
type ValidationError struct {
	Message          string
	Line             int
	Column           int
	InstanceLocation []string
	Causes           []*ValidationError

	// Got and Want are set for type mismatches.
	Got  string
	Want []string
}

// Locator maps an instance location (JSON pointer tokens) to a 1-based
// line and column in the validated document.
type Locator func(instance []string) (line, column int)

// Validate checks instance against s and returns the failure tree, or nil
// when the instance is valid.
func Validate(s *jsonschema.Schema, instance any, locate Locator) *ValidationError {
	err := s.Validate(instance)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Message: err.Error(), Line: 1, Column: 1}
	}
	p := message.NewPrinter(language.English)
	return convertError(ve, locate, p)
}

func convertError(ve *jsonschema.ValidationError, locate Locator, p *message.Printer) *ValidationError {
	out := &ValidationError{
		Message:          ve.ErrorKind.LocalizedString(p),
		InstanceLocation: ve.InstanceLocation,
		Line:             1,
		Column:           1,
	}
	if locate != nil {
		out.Line, out.Column = locate(ve.InstanceLocation)
	}
	if k, ok := ve.ErrorKind.(*kind.Type); ok {
		out.Got, out.Want = k.Got, k.Want
	}
	for _, cause := range ve.Causes {
		out.Causes = append(out.Causes, convertError(cause, locate, p))
	}
	return out
}

// Leaves flattens error trees depth-first to the errors that have no causes.
func Leaves(errs ...*ValidationError) []*ValidationError {
	var out []*ValidationError
	for _, e := range errs {
		if e == nil {
			continue
		}
		if len(e.Causes) == 0 {
			out = append(out, e)
			continue
		}
		out = append(out, Leaves(e.Causes...)...)
	}
	return out
}

// ArrayForObject reports the type mismatch templates trigger where the
// schema models a single object and the document holds an array of them.
func (e *ValidationError) ArrayForObject() bool {
	if e.Got == "array" && len(e.Want) == 1 && e.Want[0] == "object" {
		return true
	}
	return strings.Contains(e.Message, "Expected Object but got Array")
}
