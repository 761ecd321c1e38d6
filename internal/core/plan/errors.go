package plan

import (
	"errors"
	"fmt"
)

// ErrInvalidPlan is matched by both ParseError and SchemaError.
var ErrInvalidPlan = errors.New("invalid plan")

// ParseError means no JSON object could be extracted from the planner output.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid plan: JSON parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrInvalidPlan }

// SchemaError wraps field level violations of the plan schema. Err is a
// criterio.FieldErrors value.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid plan: %v", e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

func (e *SchemaError) Is(target error) bool { return target == ErrInvalidPlan }
