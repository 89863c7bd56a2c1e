package trend

import (
	"fmt"
	"math"

	"github.com/vjranagit/hktrend/pkg/types"
)

// MinRecordSamples is the smallest matched count that yields a Record
const MinRecordSamples = 3

// Aggregate reduces values to a Record carrying the mean and the sample
// standard deviation (divisor n-1). start and end describe the scanned window,
// not the span of the matched values.
func Aggregate(identifier string, values []float64, start, end float64) (types.Record, error) {
	n := len(values)
	if n < MinRecordSamples {
		return types.Record{}, fmt.Errorf("%s: %d samples: %w", identifier, n, ErrInsufficientSamples)
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	return types.Record{
		Identifier: identifier,
		Start:      start,
		End:        end,
		Count:      n,
		Mean:       mean,
		Stdev:      math.Sqrt(sq / float64(n-1)),
	}, nil
}

// AggregateExtraction aggregates ex under the output identifier
func AggregateExtraction(ex *Extraction, output string) (types.Record, error) {
	if output == "" {
		output = ex.Identifier
	}
	return Aggregate(output, ex.Values(), ex.Start, ex.End)
}
