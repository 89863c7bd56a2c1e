// Package condition evaluates conjunctions of comparison predicates against
// telemetry streams at arbitrary query times using zero-order hold.
package condition

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperator is returned for an operator outside the supported set
	ErrInvalidOperator = errors.New("invalid operator")
	// ErrTypeMismatch is returned when an ordering operator gets a non-numeric comparison value
	ErrTypeMismatch = errors.New("operator requires a numeric comparison value")
)

// Operator is a comparison applied to the held value of a stream
type Operator string

const (
	OpEqual        Operator = "equal"
	OpUnequal      Operator = "unequal"
	OpGreater      Operator = "greater"
	OpLess         Operator = "less"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
)

// ParseOperator accepts the operator names and their symbolic aliases
func ParseOperator(s string) (Operator, error) {
	switch s {
	case "equal", "==", "=":
		return OpEqual, nil
	case "unequal", "!=":
		return OpUnequal, nil
	case "greater", ">":
		return OpGreater, nil
	case "less", "<":
		return OpLess, nil
	case "greater_equal", ">=":
		return OpGreaterEqual, nil
	case "less_equal", "<=":
		return OpLessEqual, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOperator, s)
}

// Ordering reports whether the operator compares magnitudes
func (op Operator) Ordering() bool {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

func (op Operator) valid() bool {
	return op == OpEqual || op == OpUnequal || op.Ordering()
}

// Symbol returns the operator in comparison notation
func (op Operator) Symbol() string {
	switch op {
	case OpEqual:
		return "=="
	case OpUnequal:
		return "!="
	case OpGreater:
		return ">"
	case OpLess:
		return "<"
	case OpGreaterEqual:
		return ">="
	case OpLessEqual:
		return "<="
	}
	return string(op)
}

// Truth is a three-valued evaluation result.
// Unknown means the reference stream has no sample at or before the query time.
type Truth int8

const (
	False Truth = iota
	True
	Unknown
)

func (t Truth) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unknown"
}

func truthOf(b bool) Truth {
	if b {
		return True
	}
	return False
}
