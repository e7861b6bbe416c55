package ingest

import (
	"fmt"
	"strings"
	"time"

	"ticketsync/internal/gapfill"
	"ticketsync/internal/models"
)

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Kind     string
	Target   string
	State    string
	Location string

	// Processed counts tickets handed to the target, gap recoveries included.
	Processed int
	// Expected is the remote total, or -1 when the count call failed.
	Expected int64
	Gap      *gapfill.Result

	// Interrupted holds the cause when paging stopped early.
	Interrupted error
	Err         error
	Message     string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Discrepancy reports whether fewer tickets were retrieved than the source claims.
func (r *Report) Discrepancy() bool {
	return r.Expected >= 0 && int64(r.Processed) < r.Expected
}

// Partial reports a usable but incomplete run.
func (r *Report) Partial() bool {
	return r.Discrepancy() || r.Interrupted != nil || (r.Gap != nil && (r.Gap.Truncated || r.Gap.StoppedBy != nil))
}

func (r *Report) summary() string {
	var b strings.Builder
	switch r.Kind {
	case models.KindFull:
		fmt.Fprintf(&b, "Full import finished: %d tickets", r.Processed)
	default:
		fmt.Fprintf(&b, "Incremental import finished: %d tickets merged", r.Processed)
	}

	if r.Gap != nil && len(r.Gap.Candidates) > 0 {
		fmt.Fprintf(&b, ", gap scan checked %d ids and recovered %d", len(r.Gap.Candidates), len(r.Gap.Recovered))
	}
	if r.Interrupted != nil {
		fmt.Fprintf(&b, "; paging stopped early: %v", r.Interrupted)
	}
	if r.Gap != nil && r.Gap.Truncated {
		fmt.Fprintf(&b, "; gap scan truncated: %d missing ids, %d checked", r.Gap.Total, len(r.Gap.Candidates))
	}
	if r.Gap != nil && r.Gap.StoppedBy != nil {
		fmt.Fprintf(&b, "; gap scan stopped by rate limit, %d ids skipped", r.Gap.Skipped)
	}
	if r.Discrepancy() {
		fmt.Fprintf(&b, "; discrepancy: source reports %d, retrieved %d", r.Expected, r.Processed)
	}
	return b.String()
}
