package ingest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/hktrend/pkg/types"
)

const export = `theMnemonic,theTime,euvalue
INRSH_LAMP_SEL,58000.5,LINE1
INRSH_LAMP_SEL,58000.1,NO_LAMP
SE_ZINRSICEA,58000.2,1.5
SE_ZINRSICEA,bogus,2.5
SE_ZINRSICEA,58000.3,BAD
,58000.4,1
`

func TestParseBuildsStreams(t *testing.T) {
	day := make(types.Day)
	stats, err := Parse(strings.NewReader(export), DefaultColumns, day)
	require.NoError(t, err)
	Finalize(day)

	assert.Equal(t, 6, stats.Rows)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 2, stats.Streams)

	lamp, err := day.Stream("INRSH_LAMP_SEL")
	require.NoError(t, err)
	require.Len(t, lamp.Samples, 2)
	assert.Equal(t, types.State("NO_LAMP"), lamp.Samples[0].Value)
	assert.Equal(t, 58000.1, lamp.Start)
	assert.Equal(t, 58000.5, lamp.End)
	assert.NoError(t, lamp.Validate())

	ice, err := day.Stream("SE_ZINRSICEA")
	require.NoError(t, err)
	require.Len(t, ice.Samples, 2)
	assert.Equal(t, types.Numeric(1.5), ice.Samples[0].Value)
	// unreadable values are kept, numeric validity is decided downstream
	assert.False(t, ice.Samples[1].Value.IsNumeric())
}

func TestParseCustomColumns(t *testing.T) {
	data := "mnemonic,mjd,value\nA,1.0,3\n"
	day := make(types.Day)
	_, err := Parse(strings.NewReader(data), Columns{Mnemonic: "mnemonic", Time: "mjd", Value: "value"}, day)
	require.NoError(t, err)
	assert.Contains(t, day, "A")
}

func TestParseMissingColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("a,b\n1,2\n"), DefaultColumns, make(types.Day))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestParseTime(t *testing.T) {
	mjd, err := ParseTime("58000.25")
	require.NoError(t, err)
	assert.Equal(t, 58000.25, mjd)

	mjd, err = ParseTime("1970-01-02T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 40588.0, mjd)

	mjd, err = ParseTime("1970/01/01 12:00:00.000")
	require.NoError(t, err)
	assert.InDelta(t, 40587.5, mjd, 1e-9)

	_, err = ParseTime("noon")
	assert.Error(t, err)

	assert.Equal(t, mjdUnixEpoch, ToMJD(time.Unix(0, 0)))
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestReadDayCompressed(t *testing.T) {
	var zbuf bytes.Buffer
	enc, err := zstd.NewWriter(&zbuf)
	require.NoError(t, err)
	_, err = enc.Write([]byte("theMnemonic,theTime,euvalue\nX,2.0,20\nX,1.0,10\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	var gbuf bytes.Buffer
	gz := gzip.NewWriter(&gbuf)
	_, err = gz.Write([]byte("theMnemonic,theTime,euvalue\nX,3.0,30\nY,1.0,ON\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	plain := writeFile(t, "c.csv", []byte("theMnemonic,theTime,euvalue\nX,0.5,5\n"))

	r := NewReader(Columns{})
	day, stats, err := r.ReadDay(
		writeFile(t, "a.csv.zst", zbuf.Bytes()),
		writeFile(t, "b.csv.gz", gbuf.Bytes()),
		plain,
	)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Rows)
	assert.Equal(t, 2, stats.Streams)

	x := day["X"]
	require.NotNil(t, x)
	var times []float64
	for _, s := range x.Samples {
		times = append(times, s.Time)
	}
	assert.Equal(t, []float64{0.5, 1, 2, 3}, times)
	assert.Equal(t, 0.5, x.Start)
	assert.Equal(t, 3.0, x.End)
}

func TestReadDayMissingFile(t *testing.T) {
	_, _, err := NewReader(DefaultColumns).ReadDay(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
