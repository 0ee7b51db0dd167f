package index

import (
	"testing"

	"github.com/mnohosten/streamhub/pkg/document"
)

func TestStatisticsStaleness(t *testing.T) {
	stats := newStatistics()
	if !stats.Stale() {
		t.Error("Expected unanalyzed stats to be stale")
	}

	stats.set(1000, 50)
	snap := stats.Snapshot()
	if snap.Entries != 1000 || snap.Distinct != 50 || snap.Stale {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
	if snap.AnalyzedAt.IsZero() {
		t.Error("Expected an analysis time")
	}

	stats.recordWrite()
	if !stats.Stale() {
		t.Error("Expected a write to make stats stale")
	}
}

func TestSelectivity(t *testing.T) {
	tests := []struct {
		name     string
		snap     Snapshot
		expected float64
	}{
		{"Empty", Snapshot{}, 1.0},
		{"All unique", Snapshot{Entries: 100, Distinct: 100}, 1.0},
		{"Half unique", Snapshot{Entries: 100, Distinct: 50}, 0.5},
		{"Low selectivity", Snapshot{Entries: 1000, Distinct: 10}, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.Selectivity(); got != tt.expected {
				t.Errorf("Expected selectivity %.2f, got %.2f", tt.expected, got)
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	idx := NewIndex(&Config{Keys: []KeyField{{Field: "type", Direction: 1}}})
	idx.Insert("1", document.MustParseJSON(`{"type": "movie"}`))
	idx.Insert("2", document.MustParseJSON(`{"type": "movie"}`))
	idx.Insert("3", document.MustParseJSON(`{"type": "series"}`))

	stats := idx.Stats()
	if stats["total_entries"] != 3 || stats["unique_keys"] != 2 {
		t.Errorf("Unexpected stats: %v", stats)
	}
	if _, ok := stats["analyzed_at"]; !ok {
		t.Error("Expected analyzed_at after Stats")
	}
	if idx.Statistics().Stale() {
		t.Error("Expected stats to be fresh after Stats")
	}

	idx.Remove("3", document.MustParseJSON(`{"type": "series"}`))
	if !idx.Statistics().Stale() {
		t.Error("Expected a removal to make stats stale")
	}
	if stats := idx.Stats(); stats["unique_keys"] != 1 {
		t.Errorf("Expected reanalysis after removal, got %v", stats)
	}
}

func TestRecordUse(t *testing.T) {
	idx := NewIndex(&Config{Keys: []KeyField{{Field: "type", Direction: 1}}})
	idx.RecordUse()
	idx.RecordUse()
	if uses := idx.Statistics().Snapshot().Uses; uses != 2 {
		t.Errorf("Expected 2 uses, got %d", uses)
	}
	if idx.Stats()["uses"] != int64(2) {
		t.Errorf("Expected uses in Stats, got %v", idx.Stats()["uses"])
	}
}
