package slaquery

import (
	"context"
	"testing"

	"github.com/snapetech/siteslam/internal/domain"
)

// fakeSource implements Source directly over in-memory slices, so the
// query engine's arithmetic can be tested without a store.
type fakeSource struct {
	offices []domain.Office
	changes map[int64][]domain.StateChange
	samples map[int64]struct {
		sample domain.Sample
		ts     int64
		ok     bool
	}
}

func (f fakeSource) Offices(ctx context.Context, nameFilter string) ([]domain.Office, error) {
	if nameFilter == "" {
		return f.offices, nil
	}
	var out []domain.Office
	for _, o := range f.offices {
		if o.Name == nameFilter {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f fakeSource) StateChangesUpTo(ctx context.Context, officeID int64, tEnd int64) ([]domain.StateChange, error) {
	var out []domain.StateChange
	for _, c := range f.changes[officeID] {
		if c.At <= tEnd {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f fakeSource) LatestSampleUpTo(ctx context.Context, officeID int64, tEnd int64) (domain.Sample, int64, bool, error) {
	s := f.samples[officeID]
	return s.sample, s.ts, s.ok, nil
}

// TestQueryBasicWindow exercises spec scenario 1: office HQ with events
// (at=0,down), (at=30,degraded), (at=90,up); query t_start=10,
// t_end=150 yields sec_down=20, sec_deg=60, sec_up=60, sec_total=140,
// current_state=up, previous_state=degraded,
// uptime_strict≈0.428571, uptime_lenient≈0.857143.
func TestQueryBasicWindow(t *testing.T) {
	src := fakeSource{
		offices: []domain.Office{{ID: 1, Name: "HQ"}},
		changes: map[int64][]domain.StateChange{
			1: {
				{ID: 1, OfficeID: 1, At: 0, FromState: domain.StateUnknown, ToState: domain.StateDown},
				{ID: 2, OfficeID: 1, At: 30, FromState: domain.StateDown, ToState: domain.StateDegraded},
				{ID: 3, OfficeID: 1, At: 90, FromState: domain.StateDegraded, ToState: domain.StateUp},
			},
		},
	}

	results, err := Query(context.Background(), src, "", 10, 150)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]

	if r.SecDown != 20 || r.SecDeg != 60 || r.SecUp != 60 || r.SecTotal != 140 {
		t.Fatalf("got sec_down=%d sec_deg=%d sec_up=%d sec_total=%d",
			r.SecDown, r.SecDeg, r.SecUp, r.SecTotal)
	}
	if r.CurrentState != domain.StateUp || r.PreviousState != domain.StateDegraded {
		t.Fatalf("current=%v previous=%v", r.CurrentState, r.PreviousState)
	}
	if want := 0.428571; abs(r.UptimeStrict-want) > 1e-6 {
		t.Errorf("uptime_strict = %v, want %v", r.UptimeStrict, want)
	}
	if want := 0.857143; abs(r.UptimeLenient-want) > 1e-6 {
		t.Errorf("uptime_lenient = %v, want %v", r.UptimeLenient, want)
	}
}

func TestQueryOmitsOfficeWithNoHistory(t *testing.T) {
	src := fakeSource{
		offices: []domain.Office{{ID: 1, Name: "Branch"}},
		changes: map[int64][]domain.StateChange{},
	}
	results, err := Query(context.Background(), src, "", 0, 100)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty sla, got %+v", results)
	}
}

func TestQueryDiscardsSegmentBeforeWindow(t *testing.T) {
	src := fakeSource{
		offices: []domain.Office{{ID: 1, Name: "HQ"}},
		changes: map[int64][]domain.StateChange{
			1: {
				{ID: 1, OfficeID: 1, At: 0, ToState: domain.StateDown},
				{ID: 2, OfficeID: 1, At: 5, ToState: domain.StateUp},
			},
		},
	}
	// Window starts after the first segment's end (5 <= t_start=5):
	// that segment must be discarded entirely, not clamped.
	results, err := Query(context.Background(), src, "", 5, 100)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if results[0].SecDown != 0 {
		t.Errorf("sec_down = %d, want 0 (segment fully before window)", results[0].SecDown)
	}
	if results[0].SecUp != 95 {
		t.Errorf("sec_up = %d, want 95", results[0].SecUp)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
