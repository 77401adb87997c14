// Package archive periodically exports the activity log to external storage.
// Operators keep the hot table small (analytics and compliance read the
// archived JSONL) while the cleanup detector is free to prune aggressively.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/finchops/finch/internal/store"
)

// Destination is the interface for an archive target.
type Destination interface {
	// Write sends one day's JSONL payload to the destination.
	Write(ctx context.Context, day string, data []byte) error
}

// ExportJSONL writes every activity entry created at or after since as one
// JSON object per line.
func ExportJSONL(ctx context.Context, s store.Store, since time.Time, buf *bytes.Buffer) (int, error) {
	entries, err := s.ListActivitySince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("listing activity: %w", err)
	}
	enc := json.NewEncoder(buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return 0, fmt.Errorf("encoding entry %s: %w", e.ID, err)
		}
	}
	return len(entries), nil
}

// Scheduler runs periodic exports to one or more destinations. Each run
// re-exports the current UTC day's entries, so the day object converges even
// when individual runs fail.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger
	now          func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler exporting at the given interval.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		now:          time.Now,
	}
}

// Start begins periodic exports. It runs an initial export immediately,
// then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.exportOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.exportOnce(ctx)
		}
	}
}

func (s *Scheduler) exportOnce(ctx context.Context) {
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	day := dayStart.Format("2006-01-02")

	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, s.store, dayStart, &buf)
	if err != nil {
		s.logger.Error("archive export failed", "err", err)
		return
	}

	for i, dest := range s.destinations {
		if err := dest.Write(ctx, day, buf.Bytes()); err != nil {
			s.logger.Error("archive destination write failed", "destination", fmt.Sprintf("%d", i), "err", err)
		}
	}

	s.logger.Info("archive export completed", "day", day, "entries", n, "bytes", buf.Len())
}
