package model

import "time"

// HostResult is the immutable per-host record kept in a RolloutResult.
type HostResult struct {
	HostID      string       `json:"host_id"`
	Group       string       `json:"group"`
	Stage       Stage        `json:"stage"`
	Attempts    int          `json:"attempts"`
	Skipped     bool         `json:"skipped,omitempty"`
	Error       string       `json:"error,omitempty"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// RolloutResult aggregates the outcome of one rollout. It is produced once,
// at completion or abort, and is immutable thereafter. A completed rollout
// always yields a result, even when every host failed; success is a
// property the caller checks, not a precondition.
type RolloutResult struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Healthy     int           `json:"healthy"`
	Failed      int           `json:"failed"`
	RolledBack  int           `json:"rolled_back"`
	Skipped     int           `json:"skipped"`
	Aborted     bool          `json:"aborted"`
	AbortReason string        `json:"abort_reason,omitempty"`
	Hosts       []HostResult  `json:"hosts"`
}

// Succeeded reports whether every host reached Healthy.
func (r *RolloutResult) Succeeded() bool {
	return !r.Aborted && r.Failed == 0 && r.RolledBack == 0 && r.Skipped == 0
}
