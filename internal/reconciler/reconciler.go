// Package reconciler watches the configuration source and reconciles
// the live set of probe tasks against it (spec §4.4).
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/snapetech/siteslam/internal/scheduler"
	"github.com/snapetech/siteslam/internal/siteconfig"
)

// OfficeUpserter pushes an office's identity into the durable store.
// Implemented by the monitor's ingest client.
type OfficeUpserter interface {
	UpsertOffice(ctx context.Context, spec siteconfig.OfficeSpec) error
}

// DefaultPollInterval is the cadence at which the configuration source
// is consulted (spec §4.4 "Polling").
const DefaultPollInterval = 5 * time.Second

// Reconciler owns the diff between the desired configuration and the
// scheduler's live office set.
type Reconciler struct {
	Path         string
	PollInterval time.Duration
	Scheduler    *scheduler.Scheduler
	Upserter     OfficeUpserter

	// IntervalOverride and TimeoutOverride, when non-zero, take
	// precedence over the configuration document's interval_seconds and
	// timeout_ms for every office (CLI flags --interval-seconds,
	// --timeout-ms per spec §6).
	IntervalOverride time.Duration
	TimeoutOverride  time.Duration

	lastModTime time.Time
	hashes      map[string]string
	doc         siteconfig.Document
}

// New builds a Reconciler. Scheduler and Upserter must be non-nil.
func New(path string, sched *scheduler.Scheduler, up OfficeUpserter) *Reconciler {
	return &Reconciler{
		Path:         path,
		PollInterval: DefaultPollInterval,
		Scheduler:    sched,
		Upserter:     up,
		hashes:       make(map[string]string),
	}
}

// Run polls the configuration source until ctx is cancelled, reloading
// only when the modification indicator advances (spec §4.4). Run does
// not load on entry: the first reload happens on the first poll tick.
// Callers that need offices live before that tick should call LoadOnce
// first.
func (r *Reconciler) Run(ctx context.Context) {
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

// LoadOnce performs one immediate load-and-reconcile pass, regardless
// of the modification indicator. Callers typically call this once
// before starting Run so the first probe cycle has offices to work
// with.
func (r *Reconciler) LoadOnce(ctx context.Context) error {
	doc, err := siteconfig.Load(r.Path)
	if err != nil {
		log.Printf("reconciler: %v; keeping previous snapshot", err)
		return err
	}
	mod, _ := siteconfig.ModTime(r.Path)
	r.lastModTime = mod
	r.reconcile(ctx, doc)
	return nil
}

func (r *Reconciler) pollOnce(ctx context.Context) {
	mod, err := siteconfig.ModTime(r.Path)
	if err != nil {
		log.Printf("reconciler: stat %s: %v", r.Path, err)
		return
	}
	if !mod.After(r.lastModTime) {
		return
	}
	doc, err := siteconfig.Load(r.Path)
	if err != nil {
		log.Printf("reconciler: %v; keeping previous snapshot", err)
		return
	}
	r.lastModTime = mod
	r.reconcile(ctx, doc)
}

// reconcile implements the four-step algorithm of spec §4.4.
func (r *Reconciler) reconcile(ctx context.Context, doc siteconfig.Document) {
	r.doc = doc
	desired := make(map[string]siteconfig.OfficeSpec, len(doc.Offices))
	for _, o := range doc.Offices {
		if o.Name == "" {
			continue
		}
		desired[o.Name] = o
	}

	// Step 2: live but not desired — cancel and drop.
	for name := range r.hashes {
		if _, ok := desired[name]; !ok {
			r.Scheduler.RemoveOffice(name)
			delete(r.hashes, name)
			log.Printf("reconciler: removed office %q", name)
		}
	}

	for name, spec := range desired {
		cfg := r.toOfficeConfig(spec, doc)
		retriesDown, retriesUp := spec.EffectiveRetries()
		hash := spec.Hash()

		prevHash, known := r.hashes[name]
		switch {
		case !known:
			// Step 3: desired but not live — create, start, upsert.
			r.Scheduler.StartOffice(ctx, cfg, retriesDown, retriesUp)
			if err := r.Upserter.UpsertOffice(ctx, spec); err != nil {
				log.Printf("reconciler: upsert office %q: %v", name, err)
			}
			r.hashes[name] = hash
			log.Printf("reconciler: added office %q", name)
		case prevHash != hash:
			// Step 4: changed — mutate in place, do not restart or reset.
			r.Scheduler.UpdateOffice(name, cfg, retriesDown, retriesUp)
			if err := r.Upserter.UpsertOffice(ctx, spec); err != nil {
				log.Printf("reconciler: upsert office %q: %v", name, err)
			}
			r.hashes[name] = hash
			log.Printf("reconciler: updated office %q", name)
		}
	}
}

func (r *Reconciler) toOfficeConfig(spec siteconfig.OfficeSpec, doc siteconfig.Document) scheduler.OfficeConfig {
	interval := doc.Interval()
	if r.IntervalOverride > 0 {
		interval = r.IntervalOverride
	}
	timeout := doc.Timeout()
	if r.TimeoutOverride > 0 {
		timeout = r.TimeoutOverride
	}
	return scheduler.OfficeConfig{
		Name:          spec.Name,
		GatewayIP:     spec.GatewayIP,
		MXIP:          spec.MXIP,
		TunnelProbeIP: spec.TunnelProbeIP,
		Interval:      interval,
		Timeout:       timeout,
	}
}
