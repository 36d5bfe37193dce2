package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/recorder"
)

// Submitter is the pipeline surface the replayer drives.
type Submitter interface {
	Submit(ctx context.Context, s admission.Submission) admission.Verdict
}

// Options tunes a replay.
type Options struct {
	Speed           float64 // 1.0 = real-time, 10.0 = 10x, 0 = instant
	Filter          Filter
	ForwardedHeader string
}

// Replayer re-runs recorded submissions through a pipeline on a virtual clock.
type Replayer struct {
	records   []recorder.SubmissionRecord
	submitter Submitter
	clock     *clock.VirtualClock
	opts      Options
}

// Result captures the outcome of replaying a single record.
type Result struct {
	Record  recorder.SubmissionRecord `json:"record"`
	Verdict admission.Verdict         `json:"verdict"`
	Time    time.Time                 `json:"time"` // virtual time when the verdict was made
}

// Summary aggregates replay statistics.
type Summary struct {
	TotalRecords int                      `json:"total_records"`
	Filtered     int                      `json:"filtered"`
	Replayed     int                      `json:"replayed"`
	Accepted     int                      `json:"accepted"`
	Rejected     int                      `json:"rejected"`
	Degraded     int                      `json:"degraded"`
	ByReason     map[admission.Reason]int `json:"by_reason"`
	Duration     time.Duration            `json:"duration"`      // virtual time span
	WallDuration time.Duration            `json:"wall_duration"` // actual wall clock time
	PerAddress   map[string]KeySummary    `json:"per_address"`
}

// KeySummary has per-address stats.
type KeySummary struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// New creates a new replayer. The submitter must read time from vc.
func New(s Submitter, vc *clock.VirtualClock, opts Options) *Replayer {
	if opts.Speed < 0 {
		opts.Speed = 0
	}
	return &Replayer{
		submitter: s,
		clock:     vc,
		opts:      opts,
	}
}

// LoadFile reads records written by the recorder.
func (r *Replayer) LoadFile(path string) error {
	records, err := recorder.LoadFile(path)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	r.records = records
	return nil
}

// LoadRecords sets the records directly.
func (r *Replayer) LoadRecords(records []recorder.SubmissionRecord) {
	r.records = make([]recorder.SubmissionRecord, len(records))
	copy(r.records, records)
}

// Run replays all loaded records in timestamp order. The virtual clock is
// moved to each record's timestamp before it is submitted.
func (r *Replayer) Run(ctx context.Context, cb func(Result)) (*Summary, error) {
	if len(r.records) == 0 {
		return nil, fmt.Errorf("no records loaded")
	}

	sorted := make([]recorder.SubmissionRecord, len(r.records))
	copy(sorted, r.records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var filtered []recorder.SubmissionRecord
	for _, rec := range sorted {
		if r.opts.Filter.Match(rec) {
			filtered = append(filtered, rec)
		}
	}

	summary := &Summary{
		TotalRecords: len(sorted),
		Filtered:     len(filtered),
		ByReason:     make(map[admission.Reason]int),
		PerAddress:   make(map[string]KeySummary),
	}
	if len(filtered) == 0 {
		return summary, nil
	}

	wallStart := time.Now()
	if first := filtered[0].Timestamp; first.After(r.clock.Now()) {
		r.clock.Set(first)
	}

	for i, rec := range filtered {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		if i > 0 {
			gap := rec.Timestamp.Sub(filtered[i-1].Timestamp)
			if gap > 0 {
				if err := r.pace(ctx, gap); err != nil {
					return summary, err
				}
				r.clock.Advance(gap)
			}
		}

		verdict := r.submitter.Submit(ctx, rec.Submission(r.opts.ForwardedHeader))
		summary.add(rec, verdict)

		if cb != nil {
			cb(Result{Record: rec, Verdict: verdict, Time: r.clock.Now()})
		}
	}

	summary.Duration = filtered[len(filtered)-1].Timestamp.Sub(filtered[0].Timestamp)
	summary.WallDuration = time.Since(wallStart)
	return summary, nil
}

// pace sleeps for the scaled gap so a replay can be watched live.
func (r *Replayer) pace(ctx context.Context, gap time.Duration) error {
	if r.opts.Speed <= 0 {
		return nil
	}
	scaled := time.Duration(float64(gap) / r.opts.Speed)
	if scaled <= time.Millisecond {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(scaled):
		return nil
	}
}

func (s *Summary) add(rec recorder.SubmissionRecord, v admission.Verdict) {
	s.Replayed++
	ks := s.PerAddress[host(rec.RemoteAddr)]
	if v.Accepted() {
		s.Accepted++
		ks.Accepted++
		if v.Degraded {
			s.Degraded++
		}
	} else {
		s.Rejected++
		ks.Rejected++
		s.ByReason[v.Reason]++
	}
	s.PerAddress[host(rec.RemoteAddr)] = ks
}
