// Package ingest turns housekeeping CSV exports into a types.Day.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vjranagit/hktrend/pkg/types"
)

// ErrMissingColumn is returned when the header lacks a configured column
var ErrMissingColumn = errors.New("missing column")

// Columns names the CSV header fields read by Parse
type Columns struct {
	Mnemonic string
	Time     string
	Value    string
}

// DefaultColumns matches the engineering database CSV export
var DefaultColumns = Columns{
	Mnemonic: "theMnemonic",
	Time:     "theTime",
	Value:    "euvalue",
}

// mjdUnixEpoch is the MJD of 1970-01-01T00:00:00Z
const mjdUnixEpoch = 40587.0

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006/01/02 15:04:05.000",
	"2006-01-02 15:04:05.000",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
}

// Stats reports what Parse read
type Stats struct {
	Rows    int
	Skipped int
	Streams int
}

// ParseTime converts a time cell to MJD. Numeric cells are taken as MJD.
func ParseTime(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return ToMJD(t), nil
		}
	}
	return 0, fmt.Errorf("unrecognized time %q", s)
}

// ToMJD converts t to a Modified Julian Date
func ToMJD(t time.Time) float64 {
	return mjdUnixEpoch + float64(t.UnixNano())/float64(24*time.Hour)
}

// Parse reads one CSV export into day, creating streams as needed. Rows with an
// unreadable time are skipped and counted. Values are kept as read; numeric
// validity is decided later, per sample.
func Parse(r io.Reader, cols Columns, day types.Day) (Stats, error) {
	var stats Stats
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return stats, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	idx := map[string]int{}
	for i, h := range headers {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	col := func(name string) (int, error) {
		i, ok := idx[name]
		if !ok {
			return 0, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
		return i, nil
	}
	mi, err := col(cols.Mnemonic)
	if err != nil {
		return stats, err
	}
	ti, err := col(cols.Time)
	if err != nil {
		return stats, err
	}
	vi, err := col(cols.Value)
	if err != nil {
		return stats, err
	}
	width := max(mi, ti, vi) + 1

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Skipped++
				continue
			}
			return stats, fmt.Errorf("failed to read CSV row: %w", err)
		}
		stats.Rows++
		if len(row) < width {
			stats.Skipped++
			continue
		}

		id := strings.TrimSpace(row[mi])
		t, err := ParseTime(row[ti])
		if id == "" || err != nil {
			stats.Skipped++
			continue
		}

		s, ok := day[id]
		if !ok {
			s = &types.Stream{Identifier: id}
			day[id] = s
		}
		s.Samples = append(s.Samples, types.Sample{Time: t, Value: types.ParseValue(row[vi])})
	}

	stats.Streams = len(day)
	return stats, nil
}

// Finalize orders every stream by time and sets its observation window to
// the first and last sample
func Finalize(day types.Day) {
	for _, s := range day {
		sort.SliceStable(s.Samples, func(i, j int) bool {
			return s.Samples[i].Time < s.Samples[j].Time
		})
		if len(s.Samples) > 0 {
			s.Start = s.Samples[0].Time
			s.End = s.Samples[len(s.Samples)-1].Time
		}
	}
}
