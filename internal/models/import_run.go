package models

import "time"

// ImportRun is the persisted history entry of one import.
type ImportRun struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Target        string     `json:"target"`
	State         string     `json:"state"`
	Processed     int        `json:"processed"`
	Expected      int64      `json:"expected"`
	GapCandidates int        `json:"gap_candidates"`
	GapRecovered  int        `json:"gap_recovered"`
	GapTruncated  int        `json:"gap_truncated"`
	Message       string     `json:"message"`
	Error         *string    `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}
