// Package scheduler drives one independent probe cycle per configured
// office, gated by a process-wide concurrency limiter (spec §4.2).
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapetech/siteslam/internal/debounce"
	"github.com/snapetech/siteslam/internal/domain"
	"github.com/snapetech/siteslam/internal/probe"
)

// OfficeConfig is the mutable per-office configuration the scheduler
// reads every cycle. The reconciler mutates these fields in place on
// the live *Task (spec §4.4 step 4); no lock is required on the
// scheduler's side for cross-task visibility beyond the Task's own
// mutex.
type OfficeConfig struct {
	Name          string
	GatewayIP     string
	MXIP          string
	TunnelProbeIP string
	Interval      time.Duration
	Timeout       time.Duration
}

// ChangeFunc is invoked whenever an office's debounce machine commits a
// transition. Implementations must not block the probe cycle for long;
// the scheduler does not retry or roll back on delivery failure.
type ChangeFunc func(office string, ev debounce.Event)

// semaphore is the process-wide limiter of capacity C gating every
// outbound reachability probe (spec §5). Modeled on the teacher's
// per-host semaphore (internal/httpclient.HostSemaphore) but flattened
// to a single global slot pool, since the concurrency bound here is
// process-wide rather than per-upstream-host.
type semaphore chan struct{}

func newSemaphore(capacity int) semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return make(semaphore, capacity)
}

func (s semaphore) acquire(ctx context.Context) bool {
	select {
	case s <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s semaphore) release() { <-s }

// Scheduler owns the live set of per-office probe tasks.
type Scheduler struct {
	oracle  probe.Oracle
	sem     semaphore
	onEvent ChangeFunc

	// startLimiter smooths bursts of new office tasks starting at once
	// (e.g. a reconcile that adds many offices in one pass), so the
	// oracle and downstream ingest are not hit with a restart storm.
	startLimiter *rate.Limiter

	mu      sync.RWMutex
	offices map[string]*Task
}

// New builds a Scheduler with a global concurrency cap of capacity C.
func New(oracle probe.Oracle, capacity int, onEvent ChangeFunc) *Scheduler {
	if capacity < 1 {
		capacity = 20
	}
	return &Scheduler{
		oracle:       oracle,
		sem:          newSemaphore(capacity),
		onEvent:      onEvent,
		startLimiter: rate.NewLimiter(rate.Limit(capacity), capacity),
		offices:      make(map[string]*Task),
	}
}

// Task is one office's independent probe cycle.
type Task struct {
	mu      sync.RWMutex
	cfg     OfficeConfig
	machine *debounce.Machine
	cancel  context.CancelFunc
}

func (t *Task) snapshot() OfficeConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// update mutates the task's configuration in place, preserving the
// debounce machine's confirmed state and streak counters (spec §4.4
// step 4, invariant 7).
func (t *Task) update(cfg OfficeConfig, retriesDown, retriesUp int) {
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	t.machine.SetThresholds(retriesDown, retriesUp)
}

// State returns the task's current confirmed state and last sample.
func (t *Task) State() (domain.State, domain.Sample, bool) {
	st := t.machine.State()
	sample, have := t.machine.LastSample()
	return st, sample, have
}

// Thresholds returns the task's live retry thresholds, reflecting any
// in-place reconciler update (spec §4.4 step 4).
func (t *Task) Thresholds() (retriesDown, retriesUp int) {
	return t.machine.Thresholds()
}

// StartOffice creates runtime state for a newly-reconciled office,
// initialized to StateUnknown, and starts its probe task (spec §4.4
// step 3). If an office with this name is already live, StartOffice is
// a no-op and returns the existing task.
func (s *Scheduler) StartOffice(ctx context.Context, cfg OfficeConfig, retriesDown, retriesUp int) *Task {
	s.mu.Lock()
	if existing, ok := s.offices[cfg.Name]; ok {
		s.mu.Unlock()
		return existing
	}
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		cfg:     cfg,
		machine: debounce.New(retriesDown, retriesUp),
		cancel:  cancel,
	}
	s.offices[cfg.Name] = t
	s.mu.Unlock()

	go s.runOffice(taskCtx, t)
	return t
}

// UpdateOffice mutates an existing task's configuration in place
// without restarting the probe task or resetting its confirmed state
// (spec §4.4 step 4). It is a no-op if the office is not live.
func (s *Scheduler) UpdateOffice(name string, cfg OfficeConfig, retriesDown, retriesUp int) {
	s.mu.RLock()
	t, ok := s.offices[name]
	s.mu.RUnlock()
	if !ok {
		return
	}
	t.update(cfg, retriesDown, retriesUp)
}

// RemoveOffice cancels the office's probe task at the next suspension
// point and drops its in-memory runtime (spec §4.4 step 2, §5).
// In-flight probes for that office may still complete; their results
// are discarded.
func (s *Scheduler) RemoveOffice(name string) {
	s.mu.Lock()
	t, ok := s.offices[name]
	delete(s.offices, name)
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// Task returns the live task for name, if any.
func (s *Scheduler) Task(name string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.offices[name]
	return t, ok
}

// Names returns the names of all currently live offices.
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.offices))
	for n := range s.offices {
		out = append(out, n)
	}
	return out
}

// Snapshot returns every office's current state and latest sample, for
// the tick broadcaster (spec §4.5).
type SnapshotEntry struct {
	Office string
	State  domain.State
	Sample domain.Sample
	Sampled bool
}

func (s *Scheduler) Snapshot() []SnapshotEntry {
	s.mu.RLock()
	names := make([]string, 0, len(s.offices))
	tasks := make([]*Task, 0, len(s.offices))
	for n, t := range s.offices {
		names = append(names, n)
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	out := make([]SnapshotEntry, 0, len(names))
	for i, n := range names {
		st, sample, have := tasks[i].State()
		out = append(out, SnapshotEntry{Office: n, State: st, Sample: sample, Sampled: have})
	}
	return out
}

// runOffice is the per-office cooperating loop: jittered start, then a
// steady cadence of parallel triple-probe cycles (spec §4.2).
func (s *Scheduler) runOffice(ctx context.Context, t *Task) {
	initial := t.snapshot()
	startJitter := jitterDuration(minDuration(500*time.Millisecond, initial.Interval/4))
	select {
	case <-ctx.Done():
		return
	case <-time.After(startJitter):
	}
	_ = s.startLimiter.Wait(ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		cfg := t.snapshot()
		cycleStart := time.Now()

		sample := s.probeOnce(ctx, cfg)
		if ctx.Err() != nil {
			return
		}

		now := time.Now()
		if ev, ok := t.machine.Submit(sample, now); ok && s.onEvent != nil {
			s.onEvent(cfg.Name, ev)
		}

		elapsed := time.Since(cycleStart)
		sleepFor := cfg.Interval - elapsed
		if sleepFor < 0 {
			sleepFor = 0
		}
		sleepFor += jitterDuration(minDuration(250*time.Millisecond, time.Duration(float64(cfg.Interval)*0.05)))

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepFor):
		}
	}
}

// probeOnce issues the three probes in parallel, each gated by the
// global capacity-C semaphore; the three slots for one office's cycle
// may be held simultaneously (spec §4.2).
func (s *Scheduler) probeOnce(ctx context.Context, cfg OfficeConfig) domain.Sample {
	var wg sync.WaitGroup
	var gw, mx, ip bool

	probeOne := func(host string, out *bool) {
		defer wg.Done()
		if !s.sem.acquire(ctx) {
			return
		}
		defer s.sem.release()
		*out = s.oracle.Probe(ctx, host, cfg.Timeout)
	}

	wg.Add(3)
	go probeOne(cfg.GatewayIP, &gw)
	go probeOne(cfg.MXIP, &mx)
	go probeOne(cfg.TunnelProbeIP, &ip)
	wg.Wait()

	return domain.Sample{Gateway: gw, MX: mx, IPsec: ip}
}

func jitterDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
