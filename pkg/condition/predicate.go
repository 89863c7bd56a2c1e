package condition

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vjranagit/hktrend/pkg/types"
)

// Predicate is a single comparison bound to one reference stream
type Predicate struct {
	op    Operator
	ref   *types.Stream
	value types.Value
}

// NewPredicate binds op and value to the reference stream
func NewPredicate(op Operator, ref *types.Stream, value types.Value) (*Predicate, error) {
	if !op.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperator, op)
	}
	if ref == nil {
		return nil, errors.New("predicate: nil reference stream")
	}
	if op.Ordering() && !value.IsNumeric() {
		return nil, fmt.Errorf("predicate %s %s %q: %w", ref.Identifier, op.Symbol(), value.String(), ErrTypeMismatch)
	}
	return &Predicate{op: op, ref: ref, value: value}, nil
}

func mustPredicate(op Operator, ref *types.Stream, value types.Value) *Predicate {
	p, err := NewPredicate(op, ref, value)
	if err != nil {
		panic(err)
	}
	return p
}

// Equal holds while the stream's current value equals the given state label
func Equal(ref *types.Stream, state string) *Predicate {
	return mustPredicate(OpEqual, ref, types.ParseValue(state))
}

// Unequal holds while the stream's current value differs from the given state label
func Unequal(ref *types.Stream, state string) *Predicate {
	return mustPredicate(OpUnequal, ref, types.ParseValue(state))
}

// Greater holds while the stream's current value is above v
func Greater(ref *types.Stream, v float64) *Predicate {
	return mustPredicate(OpGreater, ref, types.Numeric(v))
}

// Less holds while the stream's current value is below v
func Less(ref *types.Stream, v float64) *Predicate {
	return mustPredicate(OpLess, ref, types.Numeric(v))
}

// GreaterEqual holds while the stream's current value is at least v
func GreaterEqual(ref *types.Stream, v float64) *Predicate {
	return mustPredicate(OpGreaterEqual, ref, types.Numeric(v))
}

// LessEqual holds while the stream's current value is at most v
func LessEqual(ref *types.Stream, v float64) *Predicate {
	return mustPredicate(OpLessEqual, ref, types.Numeric(v))
}

// Evaluate compares the value held by the reference stream at query time t
func (p *Predicate) Evaluate(t float64) Truth {
	held, ok := HeldAt(p.ref, t)
	if !ok {
		return Unknown
	}

	switch p.op {
	case OpEqual:
		return truthOf(equalValues(held, p.value))
	case OpUnequal:
		return truthOf(!equalValues(held, p.value))
	}

	v, err := held.Float()
	if err != nil {
		return Unknown
	}
	ref := p.value.Num

	switch p.op {
	case OpGreater:
		return truthOf(v > ref)
	case OpLess:
		return truthOf(v < ref)
	case OpGreaterEqual:
		return truthOf(v >= ref)
	case OpLessEqual:
		return truthOf(v <= ref)
	}
	return Unknown
}

// Holds reports whether the predicate is definitely true at t
func (p *Predicate) Holds(t float64) bool {
	return p.Evaluate(t) == True
}

// Reference returns the identifier of the bound stream
func (p *Predicate) Reference() string {
	return p.ref.Identifier
}

func (p *Predicate) String() string {
	return fmt.Sprintf("%s %s %s", p.ref.Identifier, p.op.Symbol(), p.value.String())
}

// HeldAt returns the value of the latest sample at or before t.
// Among samples sharing a timestamp the last one wins. ok is false when t
// precedes the first sample.
func HeldAt(s *types.Stream, t float64) (types.Value, bool) {
	i := sort.Search(len(s.Samples), func(i int) bool {
		return s.Samples[i].Time > t
	})
	if i == 0 {
		return types.Value{}, false
	}
	return s.Samples[i-1].Value, true
}

func equalValues(a, b types.Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return a.Num == b.Num
	}
	return a.String() == b.String()
}
