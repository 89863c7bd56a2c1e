package storage

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vjranagit/hktrend/pkg/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trend_records (
	identifier TEXT NOT NULL,
	start_time DOUBLE PRECISION NOT NULL,
	end_time   DOUBLE PRECISION NOT NULL,
	count      INTEGER NOT NULL,
	mean       DOUBLE PRECISION NOT NULL,
	stdev      DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (identifier, start_time)
);
CREATE TABLE IF NOT EXISTS trend_positions (
	identifier TEXT NOT NULL,
	time       DOUBLE PRECISION NOT NULL,
	ratio      DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (identifier, time)
);`

var _ Storage = (*PostgresStorage)(nil)

// PostgresStorage stores routine output in PostgreSQL. Rows are upserted on
// their natural key so reprocessing a day replaces its output.
type PostgresStorage struct {
	db DBTX
}

// NewPostgresStorage creates a storage backed by db (pool or transaction)
func NewPostgresStorage(db DBTX) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// Migrate creates the tables when missing
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create trending tables: %w", err)
	}
	return nil
}

// AddRecord implements routine.Sink
func (s *PostgresStorage) AddRecord(ctx context.Context, rec types.Record) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO trend_records (identifier, start_time, end_time, count, mean, stdev)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (identifier, start_time) DO UPDATE
		 SET end_time = EXCLUDED.end_time, count = EXCLUDED.count,
		     mean = EXCLUDED.mean, stdev = EXCLUDED.stdev`,
		rec.Identifier, rec.Start, rec.End, rec.Count, rec.Mean, rec.Stdev)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.Identifier, err)
	}
	return nil
}

// AddPositionSamples implements routine.Sink. Samples are written in one
// statement; a later sample at the same identifier and time wins.
func (s *PostgresStorage) AddPositionSamples(ctx context.Context, samples []types.PositionSample) error {
	if len(samples) == 0 {
		return nil
	}

	type key struct {
		id   string
		bits uint64
	}
	last := make(map[key]int, len(samples))
	for i, p := range samples {
		last[key{p.Identifier, math.Float64bits(p.Time)}] = i
	}

	ids := make([]string, 0, len(last))
	times := make([]float64, 0, len(last))
	ratios := make([]float64, 0, len(last))
	for i, p := range samples {
		if last[key{p.Identifier, math.Float64bits(p.Time)}] != i {
			continue
		}
		ids = append(ids, p.Identifier)
		times = append(times, p.Time)
		ratios = append(ratios, p.Ratio)
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO trend_positions (identifier, time, ratio)
		 SELECT * FROM unnest($1::text[], $2::float8[], $3::float8[])
		 ON CONFLICT (identifier, time) DO UPDATE SET ratio = EXCLUDED.ratio`,
		ids, times, ratios)
	if err != nil {
		return fmt.Errorf("failed to insert %d position samples: %w", len(ids), err)
	}
	return nil
}

// QueryRecords implements Reader
func (s *PostgresStorage) QueryRecords(ctx context.Context, identifier string, start, end float64) ([]types.Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT identifier, start_time, end_time, count, mean, stdev
		 FROM trend_records
		 WHERE identifier = $1 AND start_time <= $3 AND end_time >= $2
		 ORDER BY start_time`,
		identifier, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []types.Record{}
	for rows.Next() {
		var r types.Record
		if err := rows.Scan(&r.Identifier, &r.Start, &r.End, &r.Count, &r.Mean, &r.Stdev); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}
	return records, nil
}

// QueryPositions implements Reader
func (s *PostgresStorage) QueryPositions(ctx context.Context, identifier string, start, end float64) ([]types.PositionSample, error) {
	rows, err := s.db.Query(ctx,
		`SELECT identifier, time, ratio
		 FROM trend_positions
		 WHERE identifier = $1 AND time >= $2 AND time <= $3
		 ORDER BY time`,
		identifier, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	samples := []types.PositionSample{}
	for rows.Next() {
		var p types.PositionSample
		if err := rows.Scan(&p.Identifier, &p.Time, &p.Ratio); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		samples = append(samples, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return samples, nil
}

// ListSeries implements Reader
func (s *PostgresStorage) ListSeries(ctx context.Context, kind SeriesKind, base string) ([]SeriesInfo, error) {
	var out []SeriesInfo
	if kind == "" || kind == SeriesRecord {
		infos, err := s.listSeries(ctx, SeriesRecord,
			`SELECT identifier, MIN(start_time), MAX(end_time)
			 FROM trend_records GROUP BY identifier ORDER BY identifier`)
		if err != nil {
			return nil, err
		}
		out = append(out, infos...)
	}
	if kind == "" || kind == SeriesPosition {
		infos, err := s.listSeries(ctx, SeriesPosition,
			`SELECT identifier, MIN(time), MAX(time)
			 FROM trend_positions GROUP BY identifier ORDER BY identifier`)
		if err != nil {
			return nil, err
		}
		out = append(out, infos...)
	}

	if base == "" {
		return out, nil
	}
	filtered := out[:0]
	for _, info := range out {
		if info.Base == base {
			filtered = append(filtered, info)
		}
	}
	return filtered, nil
}

func (s *PostgresStorage) listSeries(ctx context.Context, kind SeriesKind, sql string) ([]SeriesInfo, error) {
	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s series: %w", kind, err)
	}
	defer rows.Close()

	var out []SeriesInfo
	for rows.Next() {
		info := SeriesInfo{Kind: kind, hasRange: true}
		if err := rows.Scan(&info.Identifier, &info.MinTime, &info.MaxTime); err != nil {
			return nil, fmt.Errorf("failed to scan series row: %w", err)
		}
		info.ID = calculateFingerprint(kind, info.Identifier)
		if kind == SeriesPosition {
			info.Base, info.Position = SplitPosition(info.Identifier)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating series rows: %w", err)
	}
	return out, nil
}

// Flush is a no-op; every write is a committed statement
func (s *PostgresStorage) Flush() error { return nil }

// Close is a no-op; the pool belongs to the caller
func (s *PostgresStorage) Close() error { return nil }
