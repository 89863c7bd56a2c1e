// Package storage persists trending output: aggregate records and position
// ratio samples, in BadgerDB or PostgreSQL.
package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vjranagit/hktrend/pkg/types"
)

// Reader serves stored trending output
type Reader interface {
	// QueryRecords returns the records of identifier whose window overlaps [start, end], ordered by start
	QueryRecords(ctx context.Context, identifier string, start, end float64) ([]types.Record, error)

	// QueryPositions returns the position samples of identifier within [start, end], ordered by time
	QueryPositions(ctx context.Context, identifier string, start, end float64) ([]types.PositionSample, error)

	// ListSeries returns the stored series of kind, restricted to base when set
	ListSeries(ctx context.Context, kind SeriesKind, base string) ([]SeriesInfo, error)
}

// Storage is a Reader that also accepts routine output
type Storage interface {
	Reader

	AddRecord(ctx context.Context, rec types.Record) error
	AddPositionSamples(ctx context.Context, samples []types.PositionSample) error

	// Flush writes any buffered output
	Flush() error

	// Close closes the storage
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	CompressionLevel int
	EnableWAL        bool
	FlushInterval    time.Duration
	BatchSize        int
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		CompressionLevel: 3,
		EnableWAL:        true,
		FlushInterval:    time.Second,
		BatchSize:        256,
	}
}

var metaIndexKey = []byte("meta/index")

const (
	recordPrefix = "rec/"
	blockPrefix  = "pos/"
)

// badgerStorage implements Storage using BadgerDB. Records are JSON values
// keyed by identifier and start time; position samples live in one
// compressed block per identifier and MJD day.
type badgerStorage struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	log        *slog.Logger
	mu         sync.RWMutex

	wal   *WAL
	batch *BatchWriter
}

// NewStorage opens the store under cfg.Path, replaying any WAL left by an
// unclean shutdown
func NewStorage(cfg *Config, log *slog.Logger) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	s := &badgerStorage{
		cfg:        cfg,
		db:         db,
		compressor: compressor,
		log:        log,
	}

	if err := s.loadIndex(); err != nil {
		s.closeDB()
		return nil, err
	}

	if cfg.EnableWAL {
		replayed := 0
		err := ReplayWAL(cfg.Path, func(entry *WALEntry) error {
			replayed++
			return s.writeDirect(entry)
		})
		if err != nil {
			s.closeDB()
			return nil, fmt.Errorf("failed to replay WAL: %w", err)
		}
		if replayed > 0 {
			log.Info("replayed WAL", "entries", replayed)
		}

		s.wal, err = NewWAL(cfg.Path, cfg.FlushInterval)
		if err != nil {
			s.closeDB()
			return nil, err
		}
		s.batch = NewBatchWriter(s, s.wal, cfg.BatchSize, cfg.FlushInterval, log)
	}

	log.Info("storage opened", "path", cfg.Path, "series", s.index.SeriesCount(), "wal", cfg.EnableWAL)
	return s, nil
}

func (s *badgerStorage) loadIndex() error {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaIndexKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("failed to read index: %w", err)
	}

	idx, err := LoadIndex(data)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	s.index = idx
	return nil
}

// AddRecord implements routine.Sink
func (s *badgerStorage) AddRecord(ctx context.Context, rec types.Record) error {
	entry := &WALEntry{RunID: types.GetRunID(ctx), Records: []types.Record{rec}}
	if s.batch != nil {
		return s.batch.Add(entry)
	}
	return s.writeDirect(entry)
}

// AddPositionSamples implements routine.Sink
func (s *badgerStorage) AddPositionSamples(ctx context.Context, samples []types.PositionSample) error {
	if len(samples) == 0 {
		return nil
	}
	entry := &WALEntry{RunID: types.GetRunID(ctx), Positions: samples}
	if s.batch != nil {
		return s.batch.Add(entry)
	}
	return s.writeDirect(entry)
}

// Flush implements Storage.Flush
func (s *badgerStorage) Flush() error {
	if s.batch != nil {
		return s.batch.Flush()
	}
	return nil
}

type blockID struct {
	identifier string
	day        int64
}

// writeDirect applies entry in one transaction. Writing the same entry twice
// leaves the store unchanged.
func (s *badgerStorage) writeDirect(entry *WALEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := make(map[blockID][]types.PositionSample)
	for _, p := range entry.Positions {
		id := blockID{identifier: p.Identifier, day: int64(math.Floor(p.Time))}
		blocks[id] = append(blocks[id], p)
	}

	// the catalog only changes once the transaction commits
	staged := s.index.Clone()
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, rec := range entry.Records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal record %s: %w", rec.Identifier, err)
			}
			if err := txn.Set(recordKey(rec.Identifier, rec.Start), data); err != nil {
				return err
			}
			sid := staged.AddSeries(SeriesRecord, rec.Identifier)
			if err := staged.UpdateTimeRange(sid, rec.Start, rec.End); err != nil {
				return err
			}
		}

		for id, samples := range blocks {
			if err := s.mergeBlock(txn, staged, id, samples); err != nil {
				return fmt.Errorf("failed to write block: %w", err)
			}
		}

		catalog, err := staged.Serialize()
		if err != nil {
			return fmt.Errorf("failed to serialize index: %w", err)
		}
		return txn.Set(metaIndexKey, catalog)
	})
	if err != nil {
		return err
	}
	s.index = staged
	return nil
}

// mergeBlock folds samples into the stored block and records the block in
// idx. A sample at a time already present replaces the stored one.
func (s *badgerStorage) mergeBlock(txn *badger.Txn, idx *Index, id blockID, samples []types.PositionSample) error {
	key := blockKey(id.identifier, id.day)

	existing, err := s.readBlockTxn(txn, key, id.identifier)
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	byTime := make(map[uint64]types.PositionSample, len(existing)+len(samples))
	for _, p := range existing {
		byTime[math.Float64bits(p.Time)] = p
	}
	for _, p := range samples {
		byTime[math.Float64bits(p.Time)] = p
	}

	merged := make([]types.PositionSample, 0, len(byTime))
	for _, p := range byTime {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time < merged[j].Time })

	times := make([]float64, len(merged))
	ratios := make([]float64, len(merged))
	for i, p := range merged {
		times[i] = p.Time
		ratios[i] = p.Ratio
	}

	compressedTimes, err := s.compressor.CompressTimes(times)
	if err != nil {
		return fmt.Errorf("failed to compress times: %w", err)
	}
	compressedRatios, err := s.compressor.CompressValues(ratios)
	if err != nil {
		return fmt.Errorf("failed to compress ratios: %w", err)
	}

	payload, err := json.Marshal(&blockPayload{
		Count:            len(merged),
		CompressedTimes:  compressedTimes,
		CompressedRatios: compressedRatios,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := txn.Set(key, payload); err != nil {
		return err
	}

	sid := idx.AddSeries(SeriesPosition, id.identifier)
	return idx.UpdateTimeRange(sid, times[0], times[len(times)-1])
}

type blockPayload struct {
	Count            int
	CompressedTimes  []byte
	CompressedRatios []byte
}

func (s *badgerStorage) readBlockTxn(txn *badger.Txn, key []byte, identifier string) ([]types.PositionSample, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var payloadBytes []byte
	err = item.Value(func(val []byte) error {
		payloadBytes = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.decodeBlock(payloadBytes, identifier)
}

func (s *badgerStorage) decodeBlock(payloadBytes []byte, identifier string) ([]types.PositionSample, error) {
	var payload blockPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	times, err := s.compressor.DecompressTimes(payload.CompressedTimes, payload.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress times: %w", err)
	}
	ratios, err := s.compressor.DecompressValues(payload.CompressedRatios, payload.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress ratios: %w", err)
	}

	samples := make([]types.PositionSample, payload.Count)
	for i := range samples {
		samples[i] = types.PositionSample{Identifier: identifier, Time: times[i], Ratio: ratios[i]}
	}
	return samples, nil
}

// QueryRecords implements Reader
func (s *badgerStorage) QueryRecords(ctx context.Context, identifier string, start, end float64) ([]types.Record, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := []types.Record{}
	prefix := seriesPrefix(recordPrefix, identifier)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: prefix})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec types.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("failed to decode record: %w", err)
			}
			if rec.Start > end {
				break
			}
			if rec.End >= start {
				records = append(records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// QueryPositions implements Reader
func (s *badgerStorage) QueryPositions(ctx context.Context, identifier string, start, end float64) ([]types.PositionSample, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := []types.PositionSample{}
	prefix := seriesPrefix(blockPrefix, identifier)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: prefix})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			day := blockDay(it.Item().Key())
			if float64(day) > end {
				break
			}
			if float64(day)+1 <= start {
				continue
			}

			payload, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			block, err := s.decodeBlock(payload, identifier)
			if err != nil {
				return err
			}
			for _, p := range block {
				if p.Time >= start && p.Time <= end {
					samples = append(samples, p)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// ListSeries implements Reader
func (s *badgerStorage) ListSeries(_ context.Context, kind SeriesKind, base string) ([]SeriesInfo, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	selectors := map[string]string{}
	if kind != "" {
		selectors[LabelKind] = string(kind)
	}
	if base != "" {
		selectors[LabelBase] = base
	}
	s.mu.RLock()
	idx := s.index
	s.mu.RUnlock()
	return idx.List(selectors), nil
}

// Close flushes buffered output and closes the storage. The WAL is removed
// once everything it journals is stored.
func (s *badgerStorage) Close() error {
	var errs []error
	if s.batch != nil {
		if err := s.batch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.wal != nil {
		discard := len(errs) == 0
		if err := s.wal.Close(discard); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.closeDB())
	return errors.Join(errs...)
}

func (s *badgerStorage) closeDB() error {
	s.compressor.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func seriesPrefix(prefix, identifier string) []byte {
	return []byte(prefix + identifier + "/")
}

// recordKey orders records of one identifier by start time
func recordKey(identifier string, start float64) []byte {
	buf := bytes.NewBuffer(seriesPrefix(recordPrefix, identifier))
	binary.Write(buf, binary.BigEndian, orderedBits(start))
	return buf.Bytes()
}

// blockKey generates the key of one identifier's position block for an MJD day
func blockKey(identifier string, day int64) []byte {
	buf := bytes.NewBuffer(seriesPrefix(blockPrefix, identifier))
	binary.Write(buf, binary.BigEndian, uint64(day)^(1<<63))
	return buf.Bytes()
}

func blockDay(key []byte) int64 {
	if len(key) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]) ^ (1 << 63))
}

// orderedBits maps a float to an unsigned integer with the same ordering
func orderedBits(f float64) uint64 {
	b := math.Float64bits(f)
	if b&(1<<63) != 0 {
		return ^b
	}
	return b | (1 << 63)
}
