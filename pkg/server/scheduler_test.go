package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/impex"
)

func TestExportNow(t *testing.T) {
	db, err := database.Open(database.DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	coll := db.Collection("people")
	for _, raw := range []string{`{"name": "Alice"}`, `{"name": "Bob"}`} {
		if _, err := coll.InsertOne(ctx, document.MustParseJSON(raw)); err != nil {
			t.Fatalf("InsertOne: %v", err)
		}
	}

	dir := filepath.Join(t.TempDir(), "dumps")
	scheduler, err := NewExportScheduler(db, "@every 1h", dir, nil)
	if err != nil {
		t.Fatalf("NewExportScheduler: %v", err)
	}
	if scheduler.Last() != nil {
		t.Error("Expected no run before the first export")
	}

	run := scheduler.ExportNow(ctx)
	if run.Error != "" {
		t.Fatalf("Export failed: %s", run.Error)
	}
	if !strings.HasSuffix(run.Path, dumpExtension) || filepath.Dir(run.Path) != dir {
		t.Errorf("Unexpected dump path %s", run.Path)
	}
	if run.Stats.Documents != 2 {
		t.Errorf("Expected 2 documents, got %d", run.Stats.Documents)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected only the dump in %s, got %d entries", dir, len(entries))
	}

	f, err := os.Open(run.Path)
	if err != nil {
		t.Fatalf("Open dump: %v", err)
	}
	defer f.Close()

	restored, err := database.Open(database.DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer restored.Close()
	stats, err := impex.Import(ctx, restored, f, nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.Documents != 2 {
		t.Errorf("Expected 2 restored documents, got %d", stats.Documents)
	}
}

func TestExportSchedulerRun(t *testing.T) {
	db, err := database.Open(database.DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	scheduler, err := NewExportScheduler(db, "@daily", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewExportScheduler: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if scheduler.Next().IsZero() {
		t.Error("Expected a next run time")
	}

	scheduler.run()
	last := scheduler.Last()
	if last == nil || last.Error != "" {
		t.Fatalf("Expected a successful run, got %+v", last)
	}
	if last.Stats.Collections != 0 {
		t.Errorf("Expected an empty dump, got %d collections", last.Stats.Collections)
	}
}

func TestExportSchedulerInvalidSpec(t *testing.T) {
	db, err := database.Open(database.DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := NewExportScheduler(db, "every hour", t.TempDir(), nil); err == nil {
		t.Error("Expected error for invalid schedule")
	}
}
