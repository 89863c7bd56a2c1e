package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotNumeric is returned when a state value is read as a number
var ErrNotNumeric = errors.New("value is not numeric")

// ValueKind tags the variant held by a Value
type ValueKind uint8

const (
	KindNumeric ValueKind = iota
	KindState
)

// Value is a telemetry value: either a number or an enumerated state label
type Value struct {
	Kind  ValueKind
	Num   float64
	State string
}

// Numeric returns a numeric Value
func Numeric(v float64) Value {
	return Value{Kind: KindNumeric, Num: v}
}

// State returns an enumerated-state Value
func State(s string) Value {
	return Value{Kind: KindState, State: s}
}

// ParseValue converts raw telemetry text into a Value.
// Text that parses as a float becomes numeric, anything else is a state label.
func ParseValue(raw string) Value {
	s := strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Numeric(f)
	}
	return State(s)
}

// IsNumeric reports whether the value holds a number
func (v Value) IsNumeric() bool {
	return v.Kind == KindNumeric
}

// Float returns the numeric value or ErrNotNumeric
func (v Value) Float() (float64, error) {
	if v.Kind == KindNumeric {
		return v.Num, nil
	}
	return 0, fmt.Errorf("%q: %w", v.State, ErrNotNumeric)
}

// String returns the canonical text form used for equality comparisons
func (v Value) String() string {
	if v.Kind == KindNumeric {
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	}
	return v.State
}

// Sample represents a single telemetry sample.
// Time is mission time in fractional days (MJD).
type Sample struct {
	Time  float64
	Value Value
}

// Stream is the ordered sample sequence of one mnemonic.
// Start and End are the coverage window declared by ingestion.
type Stream struct {
	Identifier string
	Samples    []Sample
	Start      float64
	End        float64
}

// Len returns the number of samples
func (s *Stream) Len() int {
	return len(s.Samples)
}

// Validate checks that samples are non-decreasing in time
func (s *Stream) Validate() error {
	for i := 1; i < len(s.Samples); i++ {
		if s.Samples[i].Time < s.Samples[i-1].Time {
			return fmt.Errorf("stream %s: sample %d at %v precedes sample %d at %v",
				s.Identifier, i, s.Samples[i].Time, i-1, s.Samples[i-1].Time)
		}
	}
	return nil
}

// MissingMnemonicError reports an identifier absent from the loaded day
type MissingMnemonicError struct {
	Identifier string
}

func (e *MissingMnemonicError) Error() string {
	return fmt.Sprintf("mnemonic %s not loaded", e.Identifier)
}

// Day holds every stream loaded for one processing window, keyed by identifier
type Day map[string]*Stream

// Stream returns the stream for id or a *MissingMnemonicError
func (d Day) Stream(id string) (*Stream, error) {
	s, ok := d[id]
	if !ok || s == nil {
		return nil, &MissingMnemonicError{Identifier: id}
	}
	return s, nil
}

// Record is the statistical summary of one gated extraction
type Record struct {
	Identifier string  `json:"identifier"`
	Start      float64 `json:"start_time"`
	End        float64 `json:"end_time"`
	Count      int     `json:"count"`
	Mean       float64 `json:"mean"`
	Stdev      float64 `json:"stdev"`
}

// PositionSample is one ratio sample attributed to a mechanism position.
// Identifier is the base identifier with the position label appended.
type PositionSample struct {
	Identifier string  `json:"identifier"`
	Time       float64 `json:"time"`
	Ratio      float64 `json:"ratio"`
}
