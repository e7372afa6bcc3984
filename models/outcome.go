package models

import "time"

// SiteState is the terminal state of one site run.
type SiteState string

const (
	StateSuccess    SiteState = "success"
	StateZeroResult SiteState = "zero_result"
	StateError      SiteState = "error"
	StateCancelled  SiteState = "cancelled"
	StateSkipped    SiteState = "skipped"
)

// SiteRunOutcome is the result of running one catalog entry.
type SiteRunOutcome struct {
	SiteID          string
	SiteName        string
	State           SiteState
	Records         []*ProductRecord
	PagesFetched    int
	PagesFailed     int
	StopReason      string
	Strategy        string
	Err             error
	DiagnosticSaved bool
	DiagnosticPath  string
	Issues          int
	Dropped         int
	Duration        time.Duration
}

// ErrorText returns the error message or an empty string.
func (o *SiteRunOutcome) ErrorText() string {
	if o == nil || o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// RunResult aggregates every site outcome of a run.
type RunResult struct {
	Outcomes  []*SiteRunOutcome
	Records   []*ProductRecord
	StartTime time.Time
	EndTime   time.Time
	Skipped   int
}

// CountByState tallies outcomes per terminal state.
func (r *RunResult) CountByState() map[SiteState]int {
	out := make(map[SiteState]int, 4)
	if r == nil {
		return out
	}
	for _, o := range r.Outcomes {
		out[o.State]++
	}
	return out
}

// Duration is the wall-clock time of the run.
func (r *RunResult) Duration() time.Duration {
	if r == nil || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
