package routine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/hktrend/pkg/trend"
	"github.com/vjranagit/hktrend/pkg/types"
)

// DefaultWorkers is the number of routine units evaluated concurrently
const DefaultWorkers = 4

// Sink receives the finished output of a routine run
type Sink interface {
	// AddRecord persists one aggregate record
	AddRecord(ctx context.Context, rec types.Record) error
	// AddPositionSamples persists the bucketed ratio samples of one mechanism
	AddPositionSamples(ctx context.Context, samples []types.PositionSample) error
}

// UnitKind distinguishes scalar units from position units
type UnitKind string

const (
	KindRecord   UnitKind = "record"
	KindPosition UnitKind = "position"
)

// Outcome labels used in logs and metrics
const (
	OutcomeEmitted      = "emitted"
	OutcomeNoData       = "no_data"
	OutcomeInsufficient = "insufficient"
	OutcomeMissing      = "missing_mnemonic"
	OutcomeFailed       = "failed"
)

// Result is the outcome of one routine unit
type Result struct {
	Kind  UnitKind
	Group string
	// Identifier is the target mnemonic or the mechanism ratio mnemonic
	Identifier string
	// Output is the stored identifier (records) or identifier prefix (positions)
	Output string

	Extraction     *trend.Extraction
	Record         *types.Record
	Classification *trend.Classification
	Samples        []types.PositionSample

	// Err is nil, trend.ErrNoData, trend.ErrInsufficientSamples or a
	// *types.MissingMnemonicError
	Err error
}

// Outcome classifies the result for logs and metrics
func (r *Result) Outcome() string {
	var missing *types.MissingMnemonicError
	switch {
	case r.Err == nil:
		return OutcomeEmitted
	case errors.Is(r.Err, trend.ErrNoData):
		return OutcomeNoData
	case errors.Is(r.Err, trend.ErrInsufficientSamples):
		return OutcomeInsufficient
	case errors.As(r.Err, &missing):
		return OutcomeMissing
	}
	return OutcomeFailed
}

// Malformed returns the number of matched samples that could not be read
func (r *Result) Malformed() int {
	n := 0
	if r.Extraction != nil {
		n += len(r.Extraction.Malformed)
	}
	if r.Classification != nil {
		n += len(r.Classification.Malformed)
	}
	return n
}

// Summary describes one completed routine run
type Summary struct {
	RunID           string
	Records         int
	PositionSamples int
	NoData          int
	Insufficient    int
	Missing         int
	Failed          int
	Malformed       int
	Results         []Result
}

// RunnerConfig holds the tunables of a Runner
type RunnerConfig struct {
	Workers int
}

// Runner evaluates a routine table against days of telemetry
type Runner struct {
	table   *Table
	cfg     RunnerConfig
	log     *slog.Logger
	metrics *Metrics
}

// NewRunner validates table and returns a Runner. metrics may be nil.
func NewRunner(table *Table, cfg RunnerConfig, log *slog.Logger, metrics *Metrics) (*Runner, error) {
	if table == nil {
		return nil, errors.New("routine: nil table")
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("routine %s: %w", table.Instrument, err)
	}
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{table: table, cfg: cfg, log: log, metrics: metrics}, nil
}

// Table returns the routine table
func (r *Runner) Table() *Table {
	return r.table
}

type unit struct {
	kind      UnitKind
	group     *Group
	target    Target
	mechanism *Mechanism
}

func (r *Runner) units() []unit {
	var out []unit
	for gi := range r.table.Groups {
		g := &r.table.Groups[gi]
		for _, tg := range g.Targets {
			out = append(out, unit{kind: KindRecord, group: g, target: tg})
		}
	}
	for mi := range r.table.Mechanisms {
		out = append(out, unit{kind: KindPosition, mechanism: &r.table.Mechanisms[mi]})
	}
	return out
}

// Evaluate runs every unit of the table against day and returns one Result
// per unit in table order. Units run concurrently; each builds and drops its
// own Condition. Only context cancellation and a stream whose samples are out
// of time order are returned as errors.
func (r *Runner) Evaluate(ctx context.Context, day types.Day) ([]Result, error) {
	for _, stream := range day {
		if stream == nil {
			continue
		}
		if err := stream.Validate(); err != nil {
			return nil, err
		}
	}

	units := r.units()
	results := make([]Result, len(units))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			switch u.kind {
			case KindRecord:
				results[i] = evaluateTarget(day, u.group, u.target)
			case KindPosition:
				results[i] = evaluateMechanism(day, u.mechanism)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func evaluateTarget(day types.Day, g *Group, tg Target) Result {
	res := Result{Kind: KindRecord, Group: g.Name, Identifier: tg.Identifier, Output: tg.OutputID()}

	cond, err := buildCondition(day, g.Conditions)
	if err != nil {
		res.Err = err
		return res
	}
	target, err := day.Stream(tg.Identifier)
	if err != nil {
		res.Err = err
		return res
	}

	ex, err := trend.Extract(cond, target)
	res.Extraction = ex
	if err != nil {
		res.Err = err
		return res
	}

	rec, err := trend.AggregateExtraction(ex, res.Output)
	if err != nil {
		res.Err = err
		return res
	}
	res.Record = &rec
	return res
}

func evaluateMechanism(day types.Day, m *Mechanism) Result {
	res := Result{Kind: KindPosition, Group: m.Name, Identifier: m.Ratio, Output: m.Base}

	cond, err := buildCondition(day, m.Conditions)
	if err != nil {
		res.Err = err
		return res
	}
	ratio, err := day.Stream(m.Ratio)
	if err != nil {
		res.Err = err
		return res
	}
	current, err := day.Stream(m.Current)
	if err != nil {
		res.Err = err
		return res
	}

	cl, err := trend.Classify(cond, ratio, current)
	res.Classification = cl
	if err != nil {
		res.Err = err
		return res
	}
	res.Samples = cl.Buckets.PositionSamples(m.Base, m.Positions)
	if len(res.Samples) == 0 {
		res.Err = fmt.Errorf("%s: only unrecognized positions %v: %w", m.Name, cl.Buckets.Unrecognized(m.Positions), trend.ErrNoData)
	}
	return res
}

// Run evaluates day and hands every emitted record and position sample to
// sink in table order. A unit that fails never aborts the day; sink errors do.
func (r *Runner) Run(ctx context.Context, day types.Day, sink Sink) (*Summary, error) {
	started := time.Now()
	sum := &Summary{RunID: types.GetRunID(ctx)}
	if sum.RunID == "" {
		sum.RunID = uuid.NewString()
		ctx = types.WithRunID(ctx, sum.RunID)
	}
	log := r.log.With("run_id", sum.RunID, "instrument", r.table.Instrument)

	if r.metrics != nil {
		r.metrics.StreamsLoaded.Set(float64(len(day)))
	}

	results, err := r.Evaluate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("routine: evaluation aborted: %w", err)
	}
	sum.Results = results

	for i := range results {
		res := &results[i]
		outcome := res.Outcome()
		r.observe(res, outcome)

		if n := res.Malformed(); n > 0 {
			sum.Malformed += n
			log.WarnContext(ctx, "skipped malformed samples",
				"group", res.Group, "identifier", res.Identifier, "count", n)
		}

		switch outcome {
		case OutcomeNoData:
			sum.NoData++
			log.DebugContext(ctx, "no data", "group", res.Group, "identifier", res.Identifier)
			continue
		case OutcomeInsufficient:
			sum.Insufficient++
			log.InfoContext(ctx, "too few samples to aggregate",
				"group", res.Group, "identifier", res.Identifier, "count", res.Extraction.Len())
			continue
		case OutcomeMissing:
			sum.Missing++
			log.WarnContext(ctx, "skipping unit with missing mnemonic",
				"group", res.Group, "identifier", res.Identifier, "error", res.Err)
			continue
		case OutcomeFailed:
			sum.Failed++
			log.ErrorContext(ctx, "unit failed", "group", res.Group, "identifier", res.Identifier, "error", res.Err)
			continue
		}

		switch res.Kind {
		case KindRecord:
			if err := sink.AddRecord(ctx, *res.Record); err != nil {
				return sum, fmt.Errorf("routine: failed to store record %s: %w", res.Output, err)
			}
			sum.Records++
			if r.metrics != nil {
				r.metrics.RecordsEmitted.Inc()
			}
		case KindPosition:
			if err := sink.AddPositionSamples(ctx, res.Samples); err != nil {
				return sum, fmt.Errorf("routine: failed to store positions %s: %w", res.Output, err)
			}
			sum.PositionSamples += len(res.Samples)
			if r.metrics != nil {
				r.metrics.PositionsEmitted.Add(float64(len(res.Samples)))
			}
			if extra := res.Classification.Buckets.Unrecognized(r.mechanism(res.Group).Positions); len(extra) > 0 {
				log.WarnContext(ctx, "dropped samples at unrecognized positions",
					"group", res.Group, "positions", extra)
			}
		}
	}

	if r.metrics != nil {
		r.metrics.RunDuration.Observe(time.Since(started).Seconds())
	}
	log.InfoContext(ctx, "routine complete",
		"records", sum.Records,
		"position_samples", sum.PositionSamples,
		"no_data", sum.NoData,
		"insufficient", sum.Insufficient,
		"missing", sum.Missing,
		"malformed", sum.Malformed,
		"duration", time.Since(started),
	)
	return sum, nil
}

func (r *Runner) observe(res *Result, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.UnitsTotal.WithLabelValues(string(res.Kind), outcome).Inc()
	if n := res.Malformed(); n > 0 {
		r.metrics.MalformedSamples.WithLabelValues(string(res.Kind)).Add(float64(n))
	}
}

func (r *Runner) mechanism(name string) *Mechanism {
	for i := range r.table.Mechanisms {
		if r.table.Mechanisms[i].Name == name {
			return &r.table.Mechanisms[i]
		}
	}
	return &Mechanism{}
}
