// Package broadcaster periodically publishes a snapshot of every
// office's current state to the ingest surface (spec §4.5).
package broadcaster

import (
	"context"
	"log"
	"time"

	"github.com/snapetech/siteslam/internal/domain"
	"github.com/snapetech/siteslam/internal/scheduler"
)

// TickEntry is one office's row in a broadcast batch.
type TickEntry struct {
	Office  string
	State   domain.State
	Sample  domain.Sample
	Sampled bool
	TS      int64
}

// Sender submits a tick batch to the ingest surface. Implemented by the
// monitor's ingest client.
type Sender interface {
	IngestTicks(ctx context.Context, entries []TickEntry) error
}

// OnTick, if set, is invoked with every assembled batch — used by the
// monitor's stdout event emitter. It runs after Sender.IngestTicks is
// attempted, regardless of outcome.
type OnTick func(entries []TickEntry)

// Broadcaster assembles and submits periodic snapshots.
type Broadcaster struct {
	Scheduler *scheduler.Scheduler
	Sender    Sender
	Interval  time.Duration
	OnTick    OnTick
}

// DefaultInterval is the fallback cadence when Interval is unset
// (spec §4.5, broadcast_seconds default 15).
const DefaultInterval = 15 * time.Second

// Run broadcasts snapshots until ctx is cancelled. Ingest failure never
// stops the next tick from proceeding (spec §4.5, §7
// TransientIngestFailure).
func (b *Broadcaster) Run(ctx context.Context) {
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.tick(ctx, now)
		}
	}
}

func (b *Broadcaster) tick(ctx context.Context, now time.Time) {
	snap := b.Scheduler.Snapshot()
	entries := make([]TickEntry, 0, len(snap))
	for _, s := range snap {
		entries = append(entries, TickEntry{
			Office:  s.Office,
			State:   s.State,
			Sample:  s.Sample,
			Sampled: s.Sampled,
			TS:      now.Unix(),
		})
	}

	if b.Sender != nil {
		if err := b.Sender.IngestTicks(ctx, entries); err != nil {
			log.Printf("broadcaster: ingest tick batch: %v", err)
		}
	}
	if b.OnTick != nil {
		b.OnTick(entries)
	}
}
