package debounce

import (
	"testing"
	"time"

	"github.com/snapetech/siteslam/internal/domain"
)

func upSample() domain.Sample   { return domain.Sample{Gateway: true, IPsec: true} }
func downSample() domain.Sample { return domain.Sample{} }

// TestDebounceBasicThresholds exercises spec scenario 4: starting from
// confirmed up with retries_down=2, retries_up=1, the instantaneous
// sequence down, up, down, down, up commits exactly one up->down
// transition (on the fourth sample) and one down->up transition (on
// the fifth).
func TestDebounceBasicThresholds(t *testing.T) {
	m := New(2, 1)
	now := time.Now()

	// From unknown, a single up sample is a recovery/lateral move and
	// commits once the up-streak threshold (1) is reached.
	ev, ok := m.Submit(upSample(), now)
	if !ok || ev.NewState != domain.StateUp {
		t.Fatalf("expected immediate commit to up, got ok=%v ev=%+v", ok, ev)
	}

	samples := []domain.Sample{downSample(), upSample(), downSample(), downSample(), upSample()}
	var commits []Event
	for i, s := range samples {
		if ev, ok := m.Submit(s, now.Add(time.Duration(i+1)*time.Second)); ok {
			commits = append(commits, ev)
		}
	}

	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d: %+v", len(commits), commits)
	}
	if commits[0].NewState != domain.StateDown {
		t.Errorf("first commit = %v, want down", commits[0].NewState)
	}
	if commits[1].NewState != domain.StateUp {
		t.Errorf("second commit = %v, want up", commits[1].NewState)
	}
	if m.State() != domain.StateUp {
		t.Errorf("final state = %v, want up", m.State())
	}
}

func TestSetThresholdsPreservesStreaks(t *testing.T) {
	m := New(3, 1)
	now := time.Now()
	m.Submit(upSample(), now)
	m.Submit(downSample(), now.Add(time.Second))
	m.Submit(downSample(), now.Add(2*time.Second))

	m.SetThresholds(5, 1)
	rd, ru := m.Thresholds()
	if rd != 5 || ru != 1 {
		t.Fatalf("Thresholds() = (%d, %d), want (5, 1)", rd, ru)
	}
	if m.State() != domain.StateUp {
		t.Errorf("state should be unchanged by SetThresholds, got %v", m.State())
	}

	// One more down sample is not enough under the new threshold of 5.
	if _, ok := m.Submit(downSample(), now.Add(3*time.Second)); ok {
		t.Fatal("should not commit yet under raised threshold")
	}
}

func TestLastSample(t *testing.T) {
	m := New(2, 1)
	if _, have := m.LastSample(); have {
		t.Fatal("fresh machine should report no sample yet")
	}
	m.Submit(downSample(), time.Now())
	sample, have := m.LastSample()
	if !have {
		t.Fatal("expected a sample to be recorded")
	}
	if sample != downSample() {
		t.Errorf("LastSample() = %+v, want down sample", sample)
	}
}
