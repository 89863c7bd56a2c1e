// Package routine runs the per-day trending routine: a table of condition
// groups and position mechanisms evaluated against one day of telemetry, with
// the resulting records handed to a Sink.
package routine

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/hktrend/pkg/condition"
	"github.com/vjranagit/hktrend/pkg/types"
)

// PredicateSpec describes one comparison of a condition
type PredicateSpec struct {
	Mnemonic string `yaml:"mnemonic"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
}

func (p PredicateSpec) String() string {
	return fmt.Sprintf("%s %s %s", p.Mnemonic, p.Operator, p.Value)
}

// Target is a scalar mnemonic aggregated under a condition group.
// Output renames the stored identifier; empty means Identifier.
type Target struct {
	Identifier string `yaml:"identifier"`
	Output     string `yaml:"output,omitempty"`
}

// UnmarshalYAML accepts either a bare identifier or an identifier/output mapping
func (t *Target) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Identifier = node.Value
		return nil
	}
	type plain Target
	return node.Decode((*plain)(t))
}

// OutputID returns the identifier under which the record is stored
func (t Target) OutputID() string {
	if t.Output != "" {
		return t.Output
	}
	return t.Identifier
}

// Group gates a list of scalar targets with one condition
type Group struct {
	Name       string          `yaml:"name"`
	Conditions []PredicateSpec `yaml:"conditions"`
	Targets    []Target        `yaml:"targets"`
}

// Mechanism classifies a position-ratio stream by the declared current position
type Mechanism struct {
	Name       string          `yaml:"name"`
	Conditions []PredicateSpec `yaml:"conditions"`
	Ratio      string          `yaml:"ratio"`
	Current    string          `yaml:"current"`
	// Base is prefixed to each position label to form the stored identifier
	Base      string   `yaml:"base"`
	Positions []string `yaml:"positions"`
}

// Table is the static configuration of one instrument's routine
type Table struct {
	Instrument string      `yaml:"instrument"`
	Groups     []Group     `yaml:"groups"`
	Mechanisms []Mechanism `yaml:"mechanisms"`
}

// Validate checks the table for programmer errors before any data is touched
func (t *Table) Validate() error {
	var errs []error
	seen := make(map[string]struct{})

	checkName := func(name string) {
		if name == "" {
			errs = append(errs, errors.New("unnamed group or mechanism"))
			return
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("duplicate name %q", name))
		}
		seen[name] = struct{}{}
	}

	for _, g := range t.Groups {
		checkName(g.Name)
		errs = append(errs, validateSpecs(g.Name, g.Conditions)...)
		if len(g.Targets) == 0 {
			errs = append(errs, fmt.Errorf("group %s: no targets", g.Name))
		}
		for _, tg := range g.Targets {
			if tg.Identifier == "" {
				errs = append(errs, fmt.Errorf("group %s: empty target identifier", g.Name))
			}
		}
	}

	for _, m := range t.Mechanisms {
		checkName(m.Name)
		errs = append(errs, validateSpecs(m.Name, m.Conditions)...)
		if m.Ratio == "" || m.Current == "" || m.Base == "" {
			errs = append(errs, fmt.Errorf("mechanism %s: ratio, current and base are required", m.Name))
		}
		if len(m.Positions) == 0 {
			errs = append(errs, fmt.Errorf("mechanism %s: no positions", m.Name))
		}
	}

	return errors.Join(errs...)
}

func validateSpecs(owner string, specs []PredicateSpec) []error {
	var errs []error
	for _, s := range specs {
		if s.Mnemonic == "" {
			errs = append(errs, fmt.Errorf("%s: predicate without mnemonic", owner))
		}
		op, err := condition.ParseOperator(s.Operator)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", owner, err))
			continue
		}
		if op.Ordering() && !types.ParseValue(s.Value).IsNumeric() {
			errs = append(errs, fmt.Errorf("%s: %s: %w", owner, s, condition.ErrTypeMismatch))
		}
	}
	return errs
}

// buildCondition binds specs to the day's streams. The returned Condition
// holds references into day and must not outlive the calling unit.
func buildCondition(day types.Day, specs []PredicateSpec) (*condition.Condition, error) {
	preds := make([]*condition.Predicate, 0, len(specs))
	for _, s := range specs {
		ref, err := day.Stream(s.Mnemonic)
		if err != nil {
			return nil, err
		}
		op, err := condition.ParseOperator(s.Operator)
		if err != nil {
			return nil, err
		}
		p, err := condition.NewPredicate(op, ref, types.ParseValue(s.Value))
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return condition.New(preds...), nil
}

// Mnemonics returns every identifier the table reads, in first-use order
func (t *Table) Mnemonics() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, g := range t.Groups {
		for _, s := range g.Conditions {
			add(s.Mnemonic)
		}
		for _, tg := range g.Targets {
			add(tg.Identifier)
		}
	}
	for _, m := range t.Mechanisms {
		for _, s := range m.Conditions {
			add(s.Mnemonic)
		}
		add(m.Ratio)
		add(m.Current)
	}
	return out
}
