package storage

import (
	"reflect"
	"testing"
)

func TestIndexAddSeries(t *testing.T) {
	idx := NewIndex()

	id1 := idx.AddSeries(SeriesRecord, "SE_ZIMIRICEA_HV_ON")
	id2 := idx.AddSeries(SeriesRecord, "SE_ZIMIRICEA_HV_ON")
	if id1 != id2 {
		t.Errorf("same series produced different IDs: %d vs %d", id1, id2)
	}

	// Same identifier under another kind is a different series
	id3 := idx.AddSeries(SeriesPosition, "SE_ZIMIRICEA_HV_ON")
	if id3 == id1 {
		t.Error("record and position series share an ID")
	}

	if got := idx.SeriesCount(); got != 2 {
		t.Errorf("expected 2 series, got %d", got)
	}

	meta, ok := idx.Lookup(SeriesRecord, "SE_ZIMIRICEA_HV_ON")
	if !ok {
		t.Fatal("series not found")
	}
	if meta.ID != id1 || meta.Base != "" {
		t.Errorf("unexpected metadata %+v", meta)
	}
}

func TestIndexPositionLabels(t *testing.T) {
	idx := NewIndex()
	idx.AddSeries(SeriesPosition, "IMIR_HK_FW_POS_RATIO_F1000W")
	idx.AddSeries(SeriesPosition, "IMIR_HK_FW_POS_RATIO_OPAQUE")
	idx.AddSeries(SeriesPosition, "IMIR_HK_CCC_POS_RATIO_OPEN")
	idx.AddSeries(SeriesRecord, "IMIR_HK_FW_POS_VOLT")

	fw := idx.List(map[string]string{LabelBase: "IMIR_HK_FW_POS_RATIO_"})
	if len(fw) != 2 {
		t.Fatalf("expected 2 filter wheel series, got %d", len(fw))
	}
	if fw[0].Position != "F1000W" || fw[1].Position != "OPAQUE" {
		t.Errorf("unexpected order or labels: %+v", fw)
	}

	open := idx.FindSeries(map[string]string{
		LabelKind:     string(SeriesPosition),
		LabelPosition: "OPEN",
	})
	if len(open) != 1 {
		t.Fatalf("expected 1 series, got %d", len(open))
	}

	records := idx.List(map[string]string{LabelKind: string(SeriesRecord)})
	if len(records) != 1 || records[0].Identifier != "IMIR_HK_FW_POS_VOLT" {
		t.Errorf("unexpected record series %+v", records)
	}

	if got := idx.FindSeries(map[string]string{LabelBase: "nope"}); got != nil {
		t.Errorf("expected no match, got %v", got)
	}
	if got := idx.FindSeries(map[string]string{"missing": "x"}); got != nil {
		t.Errorf("expected no match, got %v", got)
	}
	if got := len(idx.FindSeries(nil)); got != 4 {
		t.Errorf("expected all 4 series, got %d", got)
	}
}

func TestSplitPosition(t *testing.T) {
	tests := []struct {
		in, base, pos string
	}{
		{"IMIR_HK_GW14_POS_RATIO_SHORT", "IMIR_HK_GW14_POS_RATIO_", "SHORT"},
		{"PLAIN", "", "PLAIN"},
		{"TRAILING_", "TRAILING_", ""},
	}
	for _, tt := range tests {
		base, pos := SplitPosition(tt.in)
		if base != tt.base || pos != tt.pos {
			t.Errorf("SplitPosition(%q) = %q, %q", tt.in, base, pos)
		}
	}
}

func TestIndexUpdateTimeRange(t *testing.T) {
	idx := NewIndex()
	id := idx.AddSeries(SeriesRecord, "X")

	// Zero is a valid MJD bound
	if err := idx.UpdateTimeRange(id, 0, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := idx.UpdateTimeRange(id, 0.25, 2); err != nil {
		t.Fatal(err)
	}

	meta, _ := idx.GetSeries(id)
	if meta.MinTime != 0 || meta.MaxTime != 2 {
		t.Errorf("unexpected range [%v, %v]", meta.MinTime, meta.MaxTime)
	}

	if err := idx.UpdateTimeRange(42, 0, 1); err == nil {
		t.Error("expected error for unknown series")
	}
}

func TestIndexSerializeRoundTrip(t *testing.T) {
	idx := NewIndex()
	id := idx.AddSeries(SeriesPosition, "IMIR_HK_FW_POS_RATIO_FND")
	if err := idx.UpdateTimeRange(id, 60200.1, 60200.9); err != nil {
		t.Fatal(err)
	}
	idx.AddSeries(SeriesRecord, "SE_ZINRSICEA")

	data, err := idx.Serialize()
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}

	again, err := idx.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(data, again) {
		t.Error("serialization is not deterministic")
	}

	loaded, err := LoadIndex(data)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !reflect.DeepEqual(idx.List(nil), loaded.List(nil)) {
		t.Errorf("catalog changed across round trip:\n%+v\n%+v", idx.List(nil), loaded.List(nil))
	}

	if _, err := LoadIndex(data[:len(data)-3]); err == nil {
		t.Error("expected error for truncated catalog")
	}
}

func TestIndexClear(t *testing.T) {
	idx := NewIndex()
	idx.AddSeries(SeriesRecord, "X")
	idx.Clear()
	if idx.SeriesCount() != 0 {
		t.Error("index not cleared")
	}
}

func TestIndexCloneIsIndependent(t *testing.T) {
	idx := NewIndex()
	id := idx.AddSeries(SeriesPosition, "IMIR_HK_FW_POS_RATIO_FND")
	if err := idx.UpdateTimeRange(id, 1, 2); err != nil {
		t.Fatal(err)
	}

	clone := idx.Clone()
	clone.AddSeries(SeriesPosition, "IMIR_HK_FW_POS_RATIO_OPAQUE")
	if err := clone.UpdateTimeRange(id, 0, 5); err != nil {
		t.Fatal(err)
	}

	if idx.SeriesCount() != 1 || clone.SeriesCount() != 2 {
		t.Fatalf("series counts: original=%d clone=%d", idx.SeriesCount(), clone.SeriesCount())
	}
	if got := idx.FindSeries(map[string]string{LabelBase: "IMIR_HK_FW_POS_RATIO_"}); len(got) != 1 {
		t.Errorf("original label index changed: %v", got)
	}
	meta, _ := idx.GetSeries(id)
	if meta.MinTime != 1 || meta.MaxTime != 2 {
		t.Errorf("original time range changed: %+v", meta)
	}
}

func BenchmarkIndexAddSeries(b *testing.B) {
	idx := NewIndex()
	for i := 0; i < b.N; i++ {
		idx.AddSeries(SeriesPosition, "IMIR_HK_FW_POS_RATIO_F1000W")
	}
}
