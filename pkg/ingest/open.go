package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/vjranagit/hktrend/pkg/types"
)

// Reader loads CSV exports into days
type Reader struct {
	Columns Columns
}

// NewReader returns a Reader using cols, or DefaultColumns when cols is zero
func NewReader(cols Columns) *Reader {
	if cols == (Columns{}) {
		cols = DefaultColumns
	}
	return &Reader{Columns: cols}
}

// Open returns a decompressing reader for path chosen by its extension
// (.zst, .gz, or plain)
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return &stackedCloser{Reader: dec, closers: []func() error{func() error { dec.Close(); return nil }, f.Close}}, nil
	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return &stackedCloser{Reader: gz, closers: []func() error{gz.Close, f.Close}}, nil
	}
	return f, nil
}

type stackedCloser struct {
	io.Reader
	closers []func() error
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReadFile parses one export into day
func (r *Reader) ReadFile(path string, day types.Day) (Stats, error) {
	rc, err := Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer rc.Close()

	stats, err := Parse(rc, r.Columns, day)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", path, err)
	}
	return stats, nil
}

// ReadDay merges every path into one finalized Day
func (r *Reader) ReadDay(paths ...string) (types.Day, Stats, error) {
	day := make(types.Day)
	var total Stats
	for _, p := range paths {
		stats, err := r.ReadFile(p, day)
		if err != nil {
			return nil, total, err
		}
		total.Rows += stats.Rows
		total.Skipped += stats.Skipped
	}
	Finalize(day)
	total.Streams = len(day)
	return day, total, nil
}
