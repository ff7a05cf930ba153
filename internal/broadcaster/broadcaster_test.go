package broadcaster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/snapetech/siteslam/internal/domain"
	"github.com/snapetech/siteslam/internal/probe"
	"github.com/snapetech/siteslam/internal/scheduler"
)

type recordingSender struct {
	mu      sync.Mutex
	batches [][]TickEntry
}

func (r *recordingSender) IngestTicks(ctx context.Context, entries []TickEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, entries)
	return nil
}

func (r *recordingSender) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestBroadcasterTicksIncludeSnapshot(t *testing.T) {
	sched := scheduler.New(probe.Func(func(ctx context.Context, host string, timeout time.Duration) bool {
		return true
	}), 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.StartOffice(ctx, scheduler.OfficeConfig{
		Name: "HQ", GatewayIP: "1.1.1.1", MXIP: "2.2.2.2", TunnelProbeIP: "3.3.3.3",
		Interval: time.Hour, Timeout: time.Second,
	}, 2, 1)

	sender := &recordingSender{}
	var onTickCalls int
	b := &Broadcaster{
		Scheduler: sched,
		Sender:    sender,
		Interval:  10 * time.Millisecond,
		OnTick:    func(entries []TickEntry) { onTickCalls++ },
	}

	b.tick(context.Background(), time.Now())

	if sender.batchCount() != 1 {
		t.Fatalf("expected 1 ingest call, got %d", sender.batchCount())
	}
	if onTickCalls != 1 {
		t.Fatalf("expected OnTick called once, got %d", onTickCalls)
	}
	if batch := sender.batches[0]; len(batch) != 1 || batch[0].Office != "HQ" {
		t.Fatalf("expected batch with the HQ snapshot entry, got %+v", batch)
	}
}

func TestBroadcasterEntryFields(t *testing.T) {
	e := TickEntry{Office: "HQ", State: domain.StateUp, Sample: domain.Sample{Gateway: true}, Sampled: true, TS: 123}
	if e.Office != "HQ" || e.State != domain.StateUp || e.TS != 123 {
		t.Fatalf("unexpected entry: %+v", e)
	}
}
