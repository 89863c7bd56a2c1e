package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/hktrend/internal/config"
	"github.com/vjranagit/hktrend/pkg/storage"
)

func TestParseInvocation(t *testing.T) {
	inv, err := ParseInvocation([]string{"process", "-merge", "a.csv", "dir/../b.csv.zst"})
	require.NoError(t, err)
	assert.Equal(t, Invocation{Command: CommandProcess, Files: []string{"a.csv", "b.csv.zst"}, Merge: true}, inv)

	inv, err = ParseInvocation([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, CommandServe, inv.Command)
}

func TestParseInvocationErrors(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"compact"},
		{"process"},
		{"process", "-merge"},
		{"process", "-fast", "a.csv"},
		{"serve", "extra"},
	} {
		_, err := ParseInvocation(args)
		require.Error(t, err, args)

		var invErr *InvocationError
		require.True(t, errors.As(err, &invErr), args)
		assert.Equal(t, ExitInvalidInvocation, invErr.ExitCode, args)
	}
}

const testTable = `
instrument: nirspec
groups:
  - name: heater_on
    conditions:
      - {mnemonic: HEATER, operator: equal, value: "ON"}
    targets:
      - TEMP
`

const heaterExport = `theMnemonic,theTime,euvalue
HEATER,60000.0,ON
`

const tempExport = `theMnemonic,theTime,euvalue
TEMP,60000.1,1
TEMP,60000.2,2
TEMP,60000.3,3
TEMP,60000.4,4
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testEnv(t *testing.T, dir string) Env {
	t.Helper()
	return Env{
		Config: &config.Config{
			LogLevel: "info",
			Routine: config.RoutineConfig{
				Instrument: "nirspec",
				File:       writeFile(t, dir, "routines.yaml", testTable),
				Workers:    2,
			},
			Storage: config.StorageConfig{
				Sink:             config.SinkBadger,
				Path:             filepath.Join(dir, "store"),
				CompressionLevel: 3,
				EnableWAL:        true,
				FlushInterval:    time.Second,
				BatchSize:        16,
			},
		},
		Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func storedRecords(t *testing.T, env Env) int {
	t.Helper()
	store, err := storage.NewStorage(env.Config.ToStorageConfig(), env.Log)
	require.NoError(t, err)
	defer store.Close()

	records, err := store.QueryRecords(context.Background(), "TEMP", math.Inf(-1), math.Inf(1))
	require.NoError(t, err)
	if len(records) == 1 {
		assert.Equal(t, 4, records[0].Count)
		assert.InDelta(t, 2.5, records[0].Mean, 1e-12)
	}
	return len(records)
}

func TestProcessMergedDay(t *testing.T) {
	dir := t.TempDir()
	env := testEnv(t, dir)
	inv := Invocation{
		Command: CommandProcess,
		Files:   []string{writeFile(t, dir, "heater.csv", heaterExport), writeFile(t, dir, "temp.csv", tempExport)},
		Merge:   true,
	}

	res, err := Execute(context.Background(), inv, env)
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, res.ExitCode)
	require.Len(t, res.Summaries, 1)
	assert.Equal(t, 1, res.Summaries[0].Records)
	assert.NotEmpty(t, res.Summaries[0].RunID)

	assert.Equal(t, 1, storedRecords(t, env))
}

func TestProcessFilePerDay(t *testing.T) {
	dir := t.TempDir()
	env := testEnv(t, dir)
	inv := Invocation{
		Command: CommandProcess,
		Files:   []string{writeFile(t, dir, "heater.csv", heaterExport), writeFile(t, dir, "temp.csv", tempExport)},
	}

	res, err := Execute(context.Background(), inv, env)
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, res.ExitCode)
	require.Len(t, res.Summaries, 2)
	for _, sum := range res.Summaries {
		assert.Equal(t, 0, sum.Records)
		assert.Equal(t, 1, sum.Missing)
	}
	assert.NotEqual(t, res.Summaries[0].RunID, res.Summaries[1].RunID)

	assert.Equal(t, 0, storedRecords(t, env))
}

func TestProcessUnreadableInput(t *testing.T) {
	dir := t.TempDir()
	env := testEnv(t, dir)
	combined := heaterExport + "TEMP,60000.1,1\nTEMP,60000.2,2\nTEMP,60000.3,3\nTEMP,60000.4,4\n"
	inv := Invocation{
		Command: CommandProcess,
		Files:   []string{filepath.Join(dir, "missing.csv"), writeFile(t, dir, "day.csv", combined)},
	}

	res, err := Execute(context.Background(), inv, env)
	require.Error(t, err)
	assert.Equal(t, ExitRunFailure, res.ExitCode)
	require.Len(t, res.Summaries, 1)

	assert.Equal(t, 1, storedRecords(t, env))
}

func TestProcessBadRoutineTable(t *testing.T) {
	dir := t.TempDir()
	env := testEnv(t, dir)
	env.Config.Routine.File = writeFile(t, dir, "broken.yaml", "instrument: x\ngroups: [{name: g}]\n")

	res, err := Execute(context.Background(), Invocation{Command: CommandProcess, Files: []string{"x.csv"}}, env)
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, res.ExitCode)
}
