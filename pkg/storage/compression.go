package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Compressor encodes position sample blocks: delta-of-delta over the bit
// patterns of increasing MJD times, XOR over ratios, both zstd compressed
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a compressor. level runs from 1 (fastest) to 4 (best).
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// CompressTimes encodes sample times. Positive floats order like their bit
// patterns, so sorted times give small deltas; the encoding is lossless.
func (c *Compressor) CompressTimes(times []float64) ([]byte, error) {
	bits := make([]int64, len(times))
	for i, t := range times {
		bits[i] = int64(math.Float64bits(t))
	}
	return c.compressDeltas(bits)
}

// DecompressTimes decodes count times written by CompressTimes
func (c *Compressor) DecompressTimes(data []byte, count int) ([]float64, error) {
	bits, err := c.decompressDeltas(data, count)
	if err != nil {
		return nil, err
	}
	times := make([]float64, len(bits))
	for i, b := range bits {
		times[i] = math.Float64frombits(uint64(b))
	}
	return times, nil
}

func (c *Compressor) compressDeltas(values []int64) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, values[0]); err != nil {
		return nil, err
	}

	var prevDelta int64
	for i := 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if err := binary.Write(buf, binary.LittleEndian, delta-prevDelta); err != nil {
			return nil, err
		}
		prevDelta = delta
	}

	return c.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len())), nil
}

func (c *Compressor) decompressDeltas(data []byte, count int) ([]int64, error) {
	if len(data) == 0 || count == 0 {
		return nil, nil
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	buf := bytes.NewReader(decompressed)
	values := make([]int64, count)
	if err := binary.Read(buf, binary.LittleEndian, &values[0]); err != nil {
		return nil, err
	}

	var prevDelta int64
	for i := 1; i < count; i++ {
		var dod int64
		if err := binary.Read(buf, binary.LittleEndian, &dod); err != nil {
			return nil, err
		}
		delta := dod + prevDelta
		values[i] = values[i-1] + delta
		prevDelta = delta
	}

	return values, nil
}

// CompressValues compresses float64 values using XOR encoding + zstd
func (c *Compressor) CompressValues(values []float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	buf := new(bytes.Buffer)
	prevBits := math.Float64bits(values[0])
	if err := binary.Write(buf, binary.LittleEndian, prevBits); err != nil {
		return nil, err
	}

	for i := 1; i < len(values); i++ {
		currentBits := math.Float64bits(values[i])
		if err := binary.Write(buf, binary.LittleEndian, currentBits^prevBits); err != nil {
			return nil, err
		}
		prevBits = currentBits
	}

	return c.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len())), nil
}

// DecompressValues decompresses float64 values
func (c *Compressor) DecompressValues(data []byte, count int) ([]float64, error) {
	if len(data) == 0 || count == 0 {
		return nil, nil
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	buf := bytes.NewReader(decompressed)
	values := make([]float64, count)

	var prevBits uint64
	if err := binary.Read(buf, binary.LittleEndian, &prevBits); err != nil {
		return nil, err
	}
	values[0] = math.Float64frombits(prevBits)

	for i := 1; i < count; i++ {
		var xorBits uint64
		if err := binary.Read(buf, binary.LittleEndian, &xorBits); err != nil {
			return nil, err
		}
		prevBits ^= xorBits
		values[i] = math.Float64frombits(prevBits)
	}

	return values, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
