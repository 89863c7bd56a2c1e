package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// SeriesKind separates aggregate record series from position sample series
type SeriesKind string

const (
	SeriesRecord   SeriesKind = "record"
	SeriesPosition SeriesKind = "position"
)

// Label names understood by FindSeries
const (
	LabelIdentifier = "__name__"
	LabelKind       = "kind"
	LabelBase       = "base"
	LabelPosition   = "position"
)

// SeriesInfo describes one stored output identifier
type SeriesInfo struct {
	ID         uint64     `json:"-"`
	Identifier string     `json:"identifier"`
	Kind       SeriesKind `json:"kind"`
	Base       string     `json:"base,omitempty"`
	Position   string     `json:"position,omitempty"`
	MinTime    float64    `json:"min_time"`
	MaxTime    float64    `json:"max_time"`

	hasRange bool
}

// Index is the in-memory catalog of stored series
type Index struct {
	mu sync.RWMutex
	// Maps series fingerprint to series metadata
	series map[uint64]*SeriesInfo
	// Inverted index: label name -> label value -> series IDs
	labelIndex map[string]map[string][]uint64
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		series:     make(map[uint64]*SeriesInfo),
		labelIndex: make(map[string]map[string][]uint64),
	}
}

// SplitPosition splits a position identifier into its base and label at the
// last underscore. Identifiers without one have no base.
func SplitPosition(identifier string) (base, position string) {
	i := strings.LastIndexByte(identifier, '_')
	if i < 0 {
		return "", identifier
	}
	return identifier[:i+1], identifier[i+1:]
}

// AddSeries registers identifier under kind and returns its fingerprint
func (idx *Index) AddSeries(kind SeriesKind, identifier string) uint64 {
	fingerprint := calculateFingerprint(kind, identifier)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.series[fingerprint]; exists {
		return fingerprint
	}

	meta := &SeriesInfo{ID: fingerprint, Identifier: identifier, Kind: kind}
	labels := map[string]string{
		LabelIdentifier: identifier,
		LabelKind:       string(kind),
	}
	if kind == SeriesPosition {
		meta.Base, meta.Position = SplitPosition(identifier)
		labels[LabelBase] = meta.Base
		labels[LabelPosition] = meta.Position
	}
	idx.series[fingerprint] = meta

	for name, value := range labels {
		if idx.labelIndex[name] == nil {
			idx.labelIndex[name] = make(map[string][]uint64)
		}
		idx.labelIndex[name][value] = append(idx.labelIndex[name][value], fingerprint)
	}

	return fingerprint
}

// GetSeries returns a copy of the series metadata for id
func (idx *Index) GetSeries(id uint64) (SeriesInfo, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	meta, ok := idx.series[id]
	if !ok {
		return SeriesInfo{}, false
	}
	return *meta, true
}

// Lookup finds a series by kind and identifier
func (idx *Index) Lookup(kind SeriesKind, identifier string) (SeriesInfo, bool) {
	return idx.GetSeries(calculateFingerprint(kind, identifier))
}

// FindSeries returns the IDs of series matching every selector, sorted
func (idx *Index) FindSeries(labelSelectors map[string]string) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(labelSelectors) == 0 {
		result := make([]uint64, 0, len(idx.series))
		for id := range idx.series {
			result = append(result, id)
		}
		sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
		return result
	}

	var result []uint64
	first := true

	for labelName, labelValue := range labelSelectors {
		valueMap, ok := idx.labelIndex[labelName]
		if !ok {
			return nil
		}

		seriesIDs, ok := valueMap[labelValue]
		if !ok {
			return nil
		}

		if first {
			result = append([]uint64(nil), seriesIDs...)
			sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
			first = false
		} else {
			result = intersect(result, seriesIDs)
		}

		if len(result) == 0 {
			return nil
		}
	}

	return result
}

// List returns the series matching selectors ordered by identifier
func (idx *Index) List(labelSelectors map[string]string) []SeriesInfo {
	ids := idx.FindSeries(labelSelectors)

	idx.mu.RLock()
	out := make([]SeriesInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, *idx.series[id])
	}
	idx.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Identifier != out[j].Identifier {
			return out[i].Identifier < out[j].Identifier
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// UpdateTimeRange widens the time range of a series
func (idx *Index) UpdateTimeRange(id uint64, minTime, maxTime float64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	meta, ok := idx.series[id]
	if !ok {
		return fmt.Errorf("series %d not found", id)
	}

	if !meta.hasRange || minTime < meta.MinTime {
		meta.MinTime = minTime
	}
	if !meta.hasRange || maxTime > meta.MaxTime {
		meta.MaxTime = maxTime
	}
	meta.hasRange = true

	return nil
}

// SeriesCount returns the number of indexed series
func (idx *Index) SeriesCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.series)
}

func calculateFingerprint(kind SeriesKind, identifier string) uint64 {
	buf := new(bytes.Buffer)
	buf.WriteString(string(kind))
	buf.WriteByte(0)
	buf.WriteString(identifier)
	return hashBytes(buf.Bytes())
}

// hashBytes computes FNV-1a
func hashBytes(data []byte) uint64 {
	var hash uint64 = 14695981039346656037
	for _, b := range data {
		hash ^= uint64(b)
		hash *= 1099511628211
	}
	return hash
}

// intersect finds common elements of sorted a and unsorted b
func intersect(a, b []uint64) []uint64 {
	b = append([]uint64(nil), b...)
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })

	result := make([]uint64, 0)
	i, j := 0, 0

	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			i++
		} else if a[i] > b[j] {
			j++
		} else {
			result = append(result, a[i])
			i++
			j++
		}
	}

	return result
}

// Serialize encodes the catalog. Series are written in fingerprint order so
// equal catalogs encode identically.
func (idx *Index) Serialize() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]uint64, 0, len(idx.series))
	for id := range idx.series {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(ids))); err != nil {
		return nil, err
	}

	for _, id := range ids {
		meta := idx.series[id]
		if err := writeString(buf, string(meta.Kind)); err != nil {
			return nil, err
		}
		if err := writeString(buf, meta.Identifier); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.LittleEndian, meta.hasRange); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.LittleEndian, meta.MinTime); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.LittleEndian, meta.MaxTime); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// LoadIndex decodes a catalog written by Serialize
func LoadIndex(data []byte) (*Index, error) {
	idx := NewIndex()
	if len(data) == 0 {
		return idx, nil
	}

	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read series count: %w", err)
	}

	for i := uint32(0); i < count; i++ {
		kind, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("series %d: %w", i, err)
		}
		identifier, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("series %d: %w", i, err)
		}
		var hasRange bool
		var minTime, maxTime float64
		if err := binary.Read(r, binary.LittleEndian, &hasRange); err != nil {
			return nil, fmt.Errorf("series %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &minTime); err != nil {
			return nil, fmt.Errorf("series %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &maxTime); err != nil {
			return nil, fmt.Errorf("series %d: %w", i, err)
		}

		id := idx.AddSeries(SeriesKind(kind), identifier)
		if hasRange {
			if err := idx.UpdateTimeRange(id, minTime, maxTime); err != nil {
				return nil, err
			}
		}
	}

	return idx, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Clear clears the index
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.series = make(map[uint64]*SeriesInfo)
	idx.labelIndex = make(map[string]map[string][]uint64)
}

// Clone returns an independent copy of the index
func (idx *Index) Clone() *Index {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := NewIndex()
	for id, meta := range idx.series {
		m := *meta
		out.series[id] = &m
	}
	for name, values := range idx.labelIndex {
		vm := make(map[string][]uint64, len(values))
		for value, ids := range values {
			vm[value] = append([]uint64(nil), ids...)
		}
		out.labelIndex[name] = vm
	}
	return out
}
