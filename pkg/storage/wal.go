package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vjranagit/hktrend/pkg/types"
)

// WAL implements a Write-Ahead Log for buffered routine output
type WAL struct {
	path       string
	filename   string
	file       *os.File
	writer     *bufio.Writer
	mu         sync.Mutex
	interval   time.Duration
	flushTimer *time.Timer
	closed     bool
}

// WALEntry represents a single WAL entry
type WALEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id,omitempty"`
	Records   []types.Record         `json:"records,omitempty"`
	Positions []types.PositionSample `json:"positions,omitempty"`
}

// Len returns the number of records and samples in the entry
func (e *WALEntry) Len() int {
	return len(e.Records) + len(e.Positions)
}

// NewWAL creates a new Write-Ahead Log under dataPath, synced every interval
func NewWAL(dataPath string, interval time.Duration) (*WAL, error) {
	walPath := filepath.Join(dataPath, "wal")
	if err := os.MkdirAll(walPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}
	if interval <= 0 {
		interval = time.Second
	}

	filename := filepath.Join(walPath, fmt.Sprintf("wal-%d.log", time.Now().UnixNano()))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	wal := &WAL{
		path:     walPath,
		filename: filename,
		file:     file,
		writer:   bufio.NewWriter(file),
		interval: interval,
	}
	wal.flushTimer = time.AfterFunc(interval, wal.autoFlush)

	return wal, nil
}

// Append appends an entry to the WAL
func (w *WAL) Append(entry *WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("WAL closed")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}

	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// Flush flushes the WAL to disk
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if w.closed {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

func (w *WAL) autoFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	_ = w.flushLocked()
	w.flushTimer.Reset(w.interval)
}

// Close syncs and closes the WAL. With discard set the file is removed,
// which the caller does once every entry is stored.
func (w *WAL) Close(discard bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if w.flushTimer != nil {
		w.flushTimer.Stop()
	}

	err := w.flushLocked()
	w.closed = true
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if discard {
		return os.Remove(w.filename)
	}
	return nil
}

// ReplayWAL feeds every entry of every WAL file under dataPath to handler and
// removes each file once replayed
func ReplayWAL(dataPath string, handler func(*WALEntry) error) error {
	walPath := filepath.Join(dataPath, "wal")

	entries, err := os.ReadDir(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read WAL directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := filepath.Join(walPath, entry.Name())
		if err := replayWALFile(filename, handler); err != nil {
			return fmt.Errorf("failed to replay %s: %w", filename, err)
		}

		if err := os.Remove(filename); err != nil {
			return fmt.Errorf("failed to remove replayed WAL: %w", err)
		}
	}

	return nil
}

func replayWALFile(filename string, handler func(*WALEntry) error) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	// A crash mid-append leaves a torn final line, which is dropped.
	var torn error
	for scanner.Scan() {
		if torn != nil {
			return torn
		}
		var entry WALEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			torn = fmt.Errorf("failed to unmarshal WAL entry: %w", err)
			continue
		}

		if err := handler(&entry); err != nil {
			return fmt.Errorf("failed to replay entry: %w", err)
		}
	}

	return scanner.Err()
}

type directWriter interface {
	writeDirect(entry *WALEntry) error
}

// BatchWriter buffers routine output and writes it in batches
type BatchWriter struct {
	storage    directWriter
	wal        *WAL
	buffer     []*WALEntry
	pending    int
	bufferSize int
	interval   time.Duration
	log        *slog.Logger
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// NewBatchWriter creates a batch writer that flushes when bufferSize records
// and samples are pending or every interval
func NewBatchWriter(storage directWriter, wal *WAL, bufferSize int, interval time.Duration, log *slog.Logger) *BatchWriter {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	bw := &BatchWriter{
		storage:    storage,
		wal:        wal,
		bufferSize: bufferSize,
		interval:   interval,
		log:        log,
	}
	bw.flushTimer = time.AfterFunc(interval, bw.autoFlush)

	return bw
}

// Add journals entry and buffers it
func (bw *BatchWriter) Add(entry *WALEntry) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return errors.New("batch writer closed")
	}

	if bw.wal != nil {
		if err := bw.wal.Append(entry); err != nil {
			return fmt.Errorf("WAL append failed: %w", err)
		}
	}

	bw.buffer = append(bw.buffer, entry)
	bw.pending += entry.Len()

	if bw.pending >= bw.bufferSize {
		return bw.flushLocked()
	}
	return nil
}

// Flush writes the buffer
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked()
}

// Pending returns the number of buffered records and samples
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.pending
}

func (bw *BatchWriter) flushLocked() error {
	if len(bw.buffer) == 0 {
		return nil
	}

	batch := &WALEntry{}
	for _, entry := range bw.buffer {
		batch.Records = append(batch.Records, entry.Records...)
		batch.Positions = append(batch.Positions, entry.Positions...)
	}

	if err := bw.storage.writeDirect(batch); err != nil {
		return fmt.Errorf("batch write failed: %w", err)
	}

	bw.buffer = bw.buffer[:0]
	bw.pending = 0
	return nil
}

func (bw *BatchWriter) autoFlush() {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return
	}
	if err := bw.flushLocked(); err != nil {
		bw.log.Error("background flush failed", "error", err)
	}
	bw.flushTimer.Reset(bw.interval)
}

// Close stops the timer and flushes what is left
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return nil
	}
	bw.closed = true
	if bw.flushTimer != nil {
		bw.flushTimer.Stop()
	}
	return bw.flushLocked()
}
