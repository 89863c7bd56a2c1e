package storage

import (
	"math"
	"testing"
)

func TestCompressTimes(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	// One day of one-minute samples
	times := make([]float64, 1440)
	for i := range times {
		times[i] = 60200 + float64(i)/1440
	}

	compressed, err := comp.CompressTimes(times)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	originalSize := len(times) * 8
	if len(compressed) >= originalSize {
		t.Errorf("Compression ineffective: original=%d, compressed=%d",
			originalSize, len(compressed))
	}

	decompressed, err := comp.DecompressTimes(compressed, len(times))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	if len(decompressed) != len(times) {
		t.Fatalf("Length mismatch: expected %d, got %d", len(times), len(decompressed))
	}
	for i := range times {
		if math.Float64bits(times[i]) != math.Float64bits(decompressed[i]) {
			t.Errorf("Time mismatch at %d: expected %v, got %v", i, times[i], decompressed[i])
		}
	}
}

func TestCompressTimesIrregular(t *testing.T) {
	comp, err := NewCompressor(1)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	times := []float64{0.05, 0.15, 0.1500001, 0.9, 1.25}
	compressed, err := comp.CompressTimes(times)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}
	decompressed, err := comp.DecompressTimes(compressed, len(times))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}
	for i := range times {
		if times[i] != decompressed[i] {
			t.Errorf("Time mismatch at %d: expected %v, got %v", i, times[i], decompressed[i])
		}
	}
}

func TestCompressValues(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	// Position ratios drift slowly around a nominal value
	values := make([]float64, 100)
	for i := range values {
		values[i] = 0.6 + math.Sin(float64(i)*0.1)*0.01
	}

	compressed, err := comp.CompressValues(values)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	decompressed, err := comp.DecompressValues(compressed, len(values))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	if len(decompressed) != len(values) {
		t.Fatalf("Length mismatch: expected %d, got %d", len(values), len(decompressed))
	}
	for i := range values {
		if values[i] != decompressed[i] {
			t.Errorf("Value mismatch at %d: expected %f, got %f", i, values[i], decompressed[i])
		}
	}
}

func TestCompressEmpty(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	data, err := comp.CompressTimes(nil)
	if err != nil || data != nil {
		t.Fatalf("expected nil block, got %v, %v", data, err)
	}
	times, err := comp.DecompressTimes(nil, 0)
	if err != nil || len(times) != 0 {
		t.Fatalf("expected no times, got %v, %v", times, err)
	}
}

func TestCompressionLevels(t *testing.T) {
	testCases := []struct {
		level       int
		description string
	}{
		{1, "fastest"},
		{2, "default"},
		{3, "better"},
		{4, "best"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			comp, err := NewCompressor(tc.level)
			if err != nil {
				t.Fatalf("Failed to create compressor at level %d: %v", tc.level, err)
			}
			defer comp.Close()

			values := []float64{0.1, 0.2, 0.3, 0.4, 0.5}
			compressed, err := comp.CompressValues(values)
			if err != nil {
				t.Fatalf("Compression failed: %v", err)
			}

			decompressed, err := comp.DecompressValues(compressed, len(values))
			if err != nil {
				t.Fatalf("Decompression failed: %v", err)
			}

			for i := range values {
				if values[i] != decompressed[i] {
					t.Errorf("Mismatch at index %d", i)
				}
			}
		})
	}
}

func BenchmarkCompressTimes(b *testing.B) {
	comp, _ := NewCompressor(2)
	defer comp.Close()

	times := make([]float64, 1000)
	for i := range times {
		times[i] = 60200 + float64(i)/1440
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = comp.CompressTimes(times)
	}
}

func BenchmarkCompressValues(b *testing.B) {
	comp, _ := NewCompressor(2)
	defer comp.Close()

	values := make([]float64, 1000)
	for i := range values {
		values[i] = 0.6 + math.Sin(float64(i)*0.1)*0.01
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = comp.CompressValues(values)
	}
}
