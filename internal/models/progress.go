package models

import "time"

// Progress is the single, overwritten status record of the current or last import.
type Progress struct {
	State     string    `json:"status"`
	Count     int       `json:"count"`
	Message   string    `json:"message"`
	Error     string    `json:"error"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IdleProgress is reported before any import ran.
func IdleProgress() Progress {
	return Progress{State: StateIdle}
}

// Terminal reports whether the progress record describes a finished run.
func (p Progress) Terminal() bool {
	return p.State == StateDone || p.State == StateError
}
