package condition

import "strings"

// Condition is a conjunction of predicates usable as a time-indexed gate.
// An empty Condition is true everywhere.
type Condition struct {
	predicates []*Predicate
}

// New builds a Condition from predicates, evaluated in the given order
func New(predicates ...*Predicate) *Condition {
	return &Condition{predicates: predicates}
}

// Evaluate returns the Kleene conjunction of every predicate at t.
// False short-circuits; Unknown is returned only when no predicate is False.
func (c *Condition) Evaluate(t float64) Truth {
	result := True
	for _, p := range c.predicates {
		switch p.Evaluate(t) {
		case False:
			return False
		case Unknown:
			result = Unknown
		}
	}
	return result
}

// State reports whether the condition definitely holds at t
func (c *Condition) State(t float64) bool {
	return c.Evaluate(t) == True
}

// Len returns the number of predicates
func (c *Condition) Len() int {
	return len(c.predicates)
}

func (c *Condition) String() string {
	if len(c.predicates) == 0 {
		return "true"
	}
	parts := make([]string, len(c.predicates))
	for i, p := range c.predicates {
		parts[i] = p.String()
	}
	return strings.Join(parts, " && ")
}
