// Package debounce implements the per-office confirmed-state state
// machine: it rejects single-cycle blips while staying responsive to
// sustained change (spec §4.3).
package debounce

import (
	"sync"
	"time"

	"github.com/snapetech/siteslam/internal/domain"
)

// Event is emitted whenever the machine commits a transition.
type Event struct {
	NewState  domain.State
	Sample    domain.Sample
	At        time.Time
}

// Machine is the debounce state machine for a single office. It is safe
// for concurrent use: the reconciler may mutate the thresholds while a
// probe task commits samples.
type Machine struct {
	mu sync.Mutex

	confirmed   domain.State
	downStreak  int
	upStreak    int
	lastSample  domain.Sample
	sampled     bool
	lastChange  time.Time

	retriesDown int
	retriesUp   int
}

// New returns a Machine starting at StateUnknown, as spec §4.3 requires.
func New(retriesDown, retriesUp int) *Machine {
	return &Machine{
		confirmed:   domain.StateUnknown,
		retriesDown: normalizeThreshold(retriesDown, domain.DefaultRetriesDown),
		retriesUp:   normalizeThreshold(retriesUp, domain.DefaultRetriesUp),
	}
}

func normalizeThreshold(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SetThresholds updates the retry thresholds in place. Streak counters
// and confirmed state are preserved across the update (spec §4.3, §4.4
// step 4, and invariant 7).
func (m *Machine) SetThresholds(retriesDown, retriesUp int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retriesDown = normalizeThreshold(retriesDown, domain.DefaultRetriesDown)
	m.retriesUp = normalizeThreshold(retriesUp, domain.DefaultRetriesUp)
}

// State returns the current confirmed state.
func (m *Machine) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed
}

// Thresholds returns the current retry thresholds.
func (m *Machine) Thresholds() (retriesDown, retriesUp int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retriesDown, m.retriesUp
}

// LastSample returns the most recently observed raw sample and whether
// any sample has been observed yet.
func (m *Machine) LastSample() (domain.Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSample, m.sampled
}

// deteriorating reports whether moving from s to n is a deterioration
// (up/unknown toward down/degraded), per the table in spec §4.3.
func deteriorating(s, n domain.State) bool {
	if n != domain.StateDown && n != domain.StateDegraded {
		return false
	}
	return s == domain.StateUp || s == domain.StateUnknown
}

// Submit feeds one instantaneous sample through the debounce logic. If
// the sample causes a confirmed transition, ok is true and ev describes
// the committed change; now is the wall-clock commit time recorded as
// the event's timestamp.
func (m *Machine) Submit(sample domain.Sample, now time.Time) (ev Event, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := sample.Classify()
	m.lastSample = sample
	m.sampled = true
	s := m.confirmed

	if n == s {
		m.upStreak++
		m.downStreak = 0
		return Event{}, false
	}

	if deteriorating(s, n) {
		m.downStreak++
		m.upStreak = 0
		if m.downStreak >= m.retriesDown {
			return m.commit(n, sample, now), true
		}
		return Event{}, false
	}

	// Recovery or lateral transition (degraded->up, down->degraded, down->up).
	m.upStreak++
	m.downStreak = 0
	if m.upStreak >= m.retriesUp {
		return m.commit(n, sample, now), true
	}
	return Event{}, false
}

func (m *Machine) commit(n domain.State, sample domain.Sample, now time.Time) Event {
	m.confirmed = n
	m.downStreak = 0
	m.upStreak = 0
	m.lastChange = now
	return Event{NewState: n, Sample: sample, At: now}
}
