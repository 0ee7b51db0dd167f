package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/impex"
	"github.com/robfig/cron/v3"
)

// dumpExtension is the file extension of scheduled dumps
const dumpExtension = ".shdump"

// ExportScheduler writes compressed dumps of the database to a directory on
// a cron schedule
type ExportScheduler struct {
	db      *database.Database
	dir     string
	options *impex.ExportOptions
	cron    *cron.Cron

	mu      sync.Mutex
	last    *ExportRun
	running bool
}

// ExportRun records the outcome of one scheduled export
type ExportRun struct {
	Path     string        `json:"path"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Stats    *impex.Stats  `json:"stats,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// NewExportScheduler schedules dumps of db into dir. spec is a standard
// cron expression or a descriptor such as "@every 1h".
func NewExportScheduler(db *database.Database, spec, dir string, options *impex.ExportOptions) (*ExportScheduler, error) {
	if options == nil {
		options = impex.DefaultExportOptions()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	s := &ExportScheduler{
		db:      db,
		dir:     dir,
		options: options,
		cron:    cron.New(),
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid export schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the schedule
func (s *ExportScheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for a running export to finish
func (s *ExportScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the time of the next scheduled export
func (s *ExportScheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Last returns the most recent run, or nil
func (s *ExportScheduler) Last() *ExportRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *ExportScheduler) run() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Printf("export: previous run still in progress, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	run := s.ExportNow(context.Background())

	s.mu.Lock()
	s.running = false
	s.last = run
	s.mu.Unlock()
}

// ExportNow writes one dump immediately. The dump is written to a temporary
// file and renamed into place once complete.
func (s *ExportScheduler) ExportNow(ctx context.Context) *ExportRun {
	start := time.Now()
	name := fmt.Sprintf("%s-%s%s", s.db.Name(), start.UTC().Format("20060102T150405.000Z"), dumpExtension)
	run := &ExportRun{Path: filepath.Join(s.dir, name), Started: start}

	stats, err := s.writeDump(ctx, run.Path)
	run.Duration = time.Since(start)
	run.Stats = stats
	if err != nil {
		run.Error = err.Error()
		log.Printf("export: %s failed: %v", run.Path, err)
		return run
	}

	log.Printf("export: wrote %s (%d collections, %d documents, %d bytes) in %v",
		run.Path, stats.Collections, stats.Documents, stats.CompressedBytes, run.Duration)
	return run
}

func (s *ExportScheduler) writeDump(ctx context.Context, path string) (*impex.Stats, error) {
	tmp, err := os.CreateTemp(s.dir, ".export-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	stats, err := impex.Export(ctx, s.db, tmp, s.options)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, err
	}
	return stats, nil
}
