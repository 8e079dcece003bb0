package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArguments is returned when a tool receives arguments that do
	// not match its parameter schema.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrDiscoveryNotExecutable is returned by DiscoverTool.Execute; discovery
	// calls are intercepted by the engine and never executed as a tool.
	ErrDiscoveryNotExecutable = errors.New("discover_tool is handled by the engine and cannot be executed")
)

// Calculation failure kinds, matched with errors.Is on a *CalculationError.
var (
	ErrSyntax          = errors.New("syntax error")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrUnknownName     = errors.New("unknown function or constant")
	ErrDomain          = errors.New("argument out of domain")
	ErrNotNumeric      = errors.New("result is not a number")
	ErrEvaluationError = errors.New("evaluation failed")
)

// CalculationError is the typed failure of the calculator tool.
type CalculationError struct {
	Expression string
	Kind       error
	Detail     string
}

func (e *CalculationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("calculate %q: %v", e.Expression, e.Kind)
	}
	return fmt.Sprintf("calculate %q: %v: %s", e.Expression, e.Kind, e.Detail)
}

func (e *CalculationError) Unwrap() error { return e.Kind }

func invalidArgs(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArguments, fmt.Sprintf(format, args...))
}
