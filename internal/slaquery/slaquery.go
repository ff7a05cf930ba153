// Package slaquery computes SLA/uptime statistics over a window from
// the durable store's persisted state-change history (spec §4.7). It
// is a pure function of its inputs: the caller resolves "now" and
// passes concrete t_start/t_end, so the engine itself has no clock
// dependency and is trivial to test with fixed timestamps.
package slaquery

import (
	"context"
	"fmt"
	"math"

	"github.com/snapetech/siteslam/internal/domain"
)

// Source is the read surface the query engine needs from the durable
// store. internal/store.Store satisfies it.
type Source interface {
	Offices(ctx context.Context, nameFilter string) ([]domain.Office, error)
	StateChangesUpTo(ctx context.Context, officeID int64, tEnd int64) ([]domain.StateChange, error)
	LatestSampleUpTo(ctx context.Context, officeID int64, tEnd int64) (domain.Sample, int64, bool, error)
}

// Result is one office's SLA statistics for the queried window.
type Result struct {
	Office string `json:"office"`

	SecUp    int64 `json:"sec_up"`
	SecDeg   int64 `json:"sec_deg"`
	SecDown  int64 `json:"sec_down"`
	SecTotal int64 `json:"sec_total"`

	UptimeStrict  float64 `json:"uptime_strict"`
	UptimeLenient float64 `json:"uptime_lenient"`

	CurrentState  domain.State `json:"current_state"`
	CurrentAt     int64        `json:"current_at"`
	PreviousState domain.State `json:"previous_state"`

	HasLatestSample bool          `json:"-"`
	LatestSample    domain.Sample `json:"latest_sample,omitempty"`
	LatestSampleAt  int64         `json:"latest_sample_at,omitempty"`
}

// Query computes SLA results for every office matching nameFilter
// (empty matches all), over [tStart, tEnd]. Results are ordered by
// office name ascending (spec §4.7 "Determinism"); an office with no
// state change at or before tEnd is omitted entirely.
func Query(ctx context.Context, src Source, nameFilter string, tStart, tEnd int64) ([]Result, error) {
	offices, err := src.Offices(ctx, nameFilter)
	if err != nil {
		return nil, fmt.Errorf("slaquery: list offices: %w", err)
	}

	secTotal := tEnd - tStart
	if secTotal < 1 {
		secTotal = 1
	}

	var out []Result
	for _, o := range offices {
		changes, err := src.StateChangesUpTo(ctx, o.ID, tEnd)
		if err != nil {
			return nil, fmt.Errorf("slaquery: state changes for %q: %w", o.Name, err)
		}
		if len(changes) == 0 {
			continue // no prior event: office omitted per spec §4.7 step 1
		}

		var secUp, secDeg, secDown int64
		for i, ch := range changes {
			nextTs := tEnd
			if i+1 < len(changes) {
				nextTs = changes[i+1].At
			}
			if nextTs <= tStart {
				continue // segment entirely before the window
			}
			segStart := ch.At
			if segStart < tStart {
				segStart = tStart
			}
			segEnd := nextTs
			if segEnd > tEnd {
				segEnd = tEnd
			}
			dur := segEnd - segStart
			if dur < 0 {
				dur = 0 // same-timestamp tie-break: zero-length segment
			}

			switch ch.ToState {
			case domain.StateUp:
				secUp += dur
			case domain.StateDegraded:
				secDeg += dur
			case domain.StateDown:
				secDown += dur
			}
		}

		last := changes[len(changes)-1]
		res := Result{
			Office:        o.Name,
			SecUp:         secUp,
			SecDeg:        secDeg,
			SecDown:       secDown,
			SecTotal:      secTotal,
			UptimeStrict:  round6(float64(secUp) / float64(secTotal)),
			UptimeLenient: round6(float64(secUp+secDeg) / float64(secTotal)),
			CurrentState:  last.ToState,
			CurrentAt:     last.At,
			PreviousState: last.FromState,
		}

		sample, ts, ok, err := src.LatestSampleUpTo(ctx, o.ID, tEnd)
		if err != nil {
			return nil, fmt.Errorf("slaquery: latest sample for %q: %w", o.Name, err)
		}
		if ok {
			res.HasLatestSample = true
			res.LatestSample = sample
			res.LatestSampleAt = ts
		}

		out = append(out, res)
	}
	return out, nil
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
