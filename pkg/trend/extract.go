// Package trend reduces condition-gated telemetry streams to trending data:
// matched values, statistical records and position buckets.
package trend

import (
	"errors"
	"fmt"
	"math"

	"github.com/vjranagit/hktrend/pkg/condition"
	"github.com/vjranagit/hktrend/pkg/types"
)

var (
	// ErrNoData is returned when a gated scan retains no samples
	ErrNoData = errors.New("no data")
	// ErrInsufficientSamples is returned when too few samples remain to aggregate
	ErrInsufficientSamples = errors.New("insufficient samples")
)

// Extraction holds the samples of a target stream retained by a condition
type Extraction struct {
	Identifier string
	Start      float64
	End        float64
	// Samples are the retained samples in stream order, all numeric
	Samples []types.Sample
	// Malformed are retained samples whose value is not a finite number
	Malformed []types.Sample
}

// Values returns the retained values in stream order
func (e *Extraction) Values() []float64 {
	values := make([]float64, len(e.Samples))
	for i, s := range e.Samples {
		values[i] = s.Value.Num
	}
	return values
}

// Len returns the number of retained samples
func (e *Extraction) Len() int {
	return len(e.Samples)
}

// Extract scans target in time order and keeps every sample whose timestamp
// satisfies c. It returns ErrNoData instead of an empty extraction; when the
// only retained samples are malformed the partial extraction is returned with
// the error so they can still be counted.
func Extract(c *condition.Condition, target *types.Stream) (*Extraction, error) {
	if c == nil || target == nil {
		return nil, errors.New("extract: nil condition or target")
	}

	ex := &Extraction{
		Identifier: target.Identifier,
		Start:      target.Start,
		End:        target.End,
	}

	for _, s := range target.Samples {
		if !c.State(s.Time) {
			continue
		}
		v, ok := finite(s.Value)
		if !ok {
			ex.Malformed = append(ex.Malformed, s)
			continue
		}
		ex.Samples = append(ex.Samples, types.Sample{Time: s.Time, Value: types.Numeric(v)})
	}

	if len(ex.Samples) == 0 {
		if len(ex.Malformed) > 0 {
			return ex, fmt.Errorf("%s: %d malformed samples: %w", target.Identifier, len(ex.Malformed), ErrNoData)
		}
		return nil, ErrNoData
	}
	return ex, nil
}

// finite reads v as a number, rejecting NaN and infinities
func finite(v types.Value) (float64, bool) {
	f, err := v.Float()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
