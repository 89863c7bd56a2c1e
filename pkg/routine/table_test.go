package routine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTable = `
instrument: nirspec
groups:
  - name: fpe_idle
    conditions:
      - {mnemonic: INRSD_EXP_STAT, operator: unequal, value: STARTED}
    targets:
      - SE_ZINRSFPEA
      - identifier: SE_ZINRSFPEB
        output: SE_ZINRSFPEB_IDLE
mechanisms:
  - name: filter_wheel
    conditions:
      - {mnemonic: IMIR_HK_FW_POS_VOLT, operator: ">", value: "250"}
    ratio: IMIR_HK_FW_POS_RATIO
    current: IMIR_HK_FW_CUR_POS
    base: IMIR_HK_FW_POS_RATIO_
    positions: [FND, OPAQUE]
`

func TestParseTable(t *testing.T) {
	table, err := ParseTable([]byte(sampleTable))
	require.NoError(t, err)

	assert.Equal(t, "nirspec", table.Instrument)
	require.Len(t, table.Groups, 1)
	assert.Equal(t, []Target{
		{Identifier: "SE_ZINRSFPEA"},
		{Identifier: "SE_ZINRSFPEB", Output: "SE_ZINRSFPEB_IDLE"},
	}, table.Groups[0].Targets)
	assert.Equal(t, "SE_ZINRSFPEB_IDLE", table.Groups[0].Targets[1].OutputID())
	assert.Equal(t, "SE_ZINRSFPEA", table.Groups[0].Targets[0].OutputID())

	require.Len(t, table.Mechanisms, 1)
	assert.Equal(t, []string{"FND", "OPAQUE"}, table.Mechanisms[0].Positions)
	assert.Equal(t, ">", table.Mechanisms[0].Conditions[0].Operator)
}

func TestParseTableRejectsUnknownFields(t *testing.T) {
	_, err := ParseTable([]byte("instrument: x\nfroups: []\n"))
	require.Error(t, err)
}

func TestParseTableRejectsInvalidPredicates(t *testing.T) {
	data := `
instrument: x
groups:
  - name: g
    conditions:
      - {mnemonic: A, operator: between, value: "1"}
      - {mnemonic: B, operator: greater, value: ON}
    targets: [C]
`
	_, err := ParseTable([]byte(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between")
	assert.Contains(t, err.Error(), "numeric")
}

func TestValidateStructure(t *testing.T) {
	table := &Table{
		Groups: []Group{
			{Name: "dup", Targets: targets("A")},
			{Name: "dup"},
		},
		Mechanisms: []Mechanism{{Name: "m"}},
	}
	err := table.Validate()
	require.Error(t, err)
	for _, want := range []string{"duplicate name", "no targets", "ratio, current and base", "no positions"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestBuiltinTablesAreValid(t *testing.T) {
	for _, name := range []string{InstrumentNIRSpec, InstrumentMIRI} {
		table, err := Builtin(name)
		require.NoError(t, err, name)
		assert.NoError(t, table.Validate(), name)
	}

	_, err := Builtin("fgs")
	assert.Error(t, err)
}

func TestBuiltinRoundTripsThroughYAML(t *testing.T) {
	data, err := MIRI().Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "miri.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	table, err := Resolve(path, "ignored")
	require.NoError(t, err)
	assert.Equal(t, MIRI(), table)
}

func TestResolveFallsBackToBuiltin(t *testing.T) {
	table, err := Resolve("", InstrumentNIRSpec)
	require.NoError(t, err)
	assert.Len(t, table.Groups, 5)
}

func TestMnemonics(t *testing.T) {
	table := &Table{
		Groups: []Group{{
			Name:       "g",
			Conditions: []PredicateSpec{when("A", "equal", "ON")},
			Targets:    targets("B", "A"),
		}},
		Mechanisms: []Mechanism{{Name: "m", Ratio: "R", Current: "C", Conditions: []PredicateSpec{when("B", "greater", "1")}}},
	}
	assert.Equal(t, []string{"A", "B", "R", "C"}, table.Mnemonics())
}
