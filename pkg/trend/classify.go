package trend

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vjranagit/hktrend/pkg/condition"
	"github.com/vjranagit/hktrend/pkg/types"
)

// Buckets maps a position label to the ratio samples attributed to it.
// A missing label means no data for that position.
type Buckets map[string][]types.Sample

// Known returns the nominal labels that have samples, in nominal order
func (b Buckets) Known(nominals []string) []string {
	labels := make([]string, 0, len(nominals))
	for _, label := range nominals {
		if len(b[label]) > 0 {
			labels = append(labels, label)
		}
	}
	return labels
}

// Unrecognized returns bucketed labels outside the nominal set, sorted
func (b Buckets) Unrecognized(nominals []string) []string {
	known := make(map[string]struct{}, len(nominals))
	for _, label := range nominals {
		known[label] = struct{}{}
	}
	var labels []string
	for label := range b {
		if _, ok := known[label]; !ok {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels
}

// PositionSamples flattens the buckets of the nominal labels into persistence
// tuples named base+label.
func (b Buckets) PositionSamples(base string, nominals []string) []types.PositionSample {
	var out []types.PositionSample
	for _, label := range b.Known(nominals) {
		for _, s := range b[label] {
			out = append(out, types.PositionSample{
				Identifier: base + label,
				Time:       s.Time,
				Ratio:      s.Value.Num,
			})
		}
	}
	return out
}

// Classification is the outcome of a position classification
type Classification struct {
	Buckets Buckets
	// Malformed are retained ratio samples that were not finite numbers or
	// had no declared position at their timestamp
	Malformed []types.Sample
}

// Classify gates ratio samples by c and files each retained sample under the
// position label that current declares at the sample time (zero-order hold).
// Like Extract, it returns the partial classification with ErrNoData when only
// malformed samples were retained.
func Classify(c *condition.Condition, ratio, current *types.Stream) (*Classification, error) {
	if c == nil || ratio == nil || current == nil {
		return nil, errors.New("classify: nil condition or stream")
	}

	out := &Classification{Buckets: make(Buckets)}
	for _, s := range ratio.Samples {
		if !c.State(s.Time) {
			continue
		}
		v, ok := finite(s.Value)
		if !ok {
			out.Malformed = append(out.Malformed, s)
			continue
		}
		pos, ok := condition.HeldAt(current, s.Time)
		if !ok {
			out.Malformed = append(out.Malformed, s)
			continue
		}
		label := pos.String()
		out.Buckets[label] = append(out.Buckets[label], types.Sample{Time: s.Time, Value: types.Numeric(v)})
	}

	if len(out.Buckets) == 0 {
		if len(out.Malformed) > 0 {
			return out, fmt.Errorf("%s: %d malformed samples: %w", ratio.Identifier, len(out.Malformed), ErrNoData)
		}
		return nil, ErrNoData
	}
	return out, nil
}
