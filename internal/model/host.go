package model

import (
	"fmt"
	"strings"
	"time"
)

// Stage represents the lifecycle stage of a host within a rollout
type Stage string

const (
	StagePending        Stage = "pending"
	StageRestarting     Stage = "restarting"
	StageAwaitingHealth Stage = "awaiting_health"
	StageHealthy        Stage = "healthy"
	StageFailed         Stage = "failed"
	StageRolledBack     Stage = "rolled_back"
)

// Terminal reports whether no further automatic transition occurs from s.
func (s Stage) Terminal() bool {
	switch s {
	case StageHealthy, StageFailed, StageRolledBack:
		return true
	}
	return false
}

// legalTransitions encodes the per-host state machine. Failed is reachable
// from any non-terminal stage so a cancelled host can still settle.
var legalTransitions = map[Stage][]Stage{
	StagePending:        {StageRestarting, StageFailed},
	StageRestarting:     {StageAwaitingHealth, StageRestarting, StageFailed},
	StageAwaitingHealth: {StageHealthy, StageRestarting, StageFailed},
	StageFailed:         {StageRolledBack},
}

// Host represents a single machine in the inventory. Hosts are immutable
// once loaded into a rollout.
type Host struct {
	ID     string            `json:"id"`
	Groups []string          `json:"groups,omitempty"`
	Conn   map[string]string `json:"conn,omitempty"`
}

// Group returns the host's primary group. Hosts carrying several group
// tags are planned under the first one.
func (h *Host) Group() string {
	if len(h.Groups) == 0 {
		return "default"
	}
	return h.Groups[0]
}

// Var returns a connection variable, or def when the variable is unset.
func (h *Host) Var(key, def string) string {
	if v, ok := h.Conn[key]; ok && v != "" {
		return v
	}
	return def
}

// Expand substitutes {name} placeholders in tmpl with the host's connection
// variables. {host} and {group} are always available.
func (h *Host) Expand(tmpl string) string {
	pairs := make([]string, 0, 2*(len(h.Conn)+2))
	pairs = append(pairs, "{host}", h.ID, "{group}", h.Group())
	for k, v := range h.Conn {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Transition records a single stage change with its timestamp
type Transition struct {
	From  Stage     `json:"from"`
	To    Stage     `json:"to"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// HostState tracks one host's progress through a rollout. It is owned
// exclusively by the goroutine processing that host; no locking is needed.
type HostState struct {
	Host      *Host        `json:"host"`
	Stage     Stage        `json:"stage"`
	Attempt   int          `json:"attempt"`
	LastError error        `json:"-"`
	History   []Transition `json:"history,omitempty"`
}

// NewHostState returns a fresh Pending state for host.
func NewHostState(host *Host) *HostState {
	return &HostState{
		Host:  host,
		Stage: StagePending,
	}
}

// Transition moves the host to the given stage, recording the change in the
// history log. Transitions outside the state machine are rejected.
func (s *HostState) Transition(to Stage, cause error) error {
	allowed := false
	for _, next := range legalTransitions[s.Stage] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("illegal stage transition for host %s: %s -> %s", s.Host.ID, s.Stage, to)
	}

	t := Transition{From: s.Stage, To: to, At: time.Now()}
	if cause != nil {
		t.Error = cause.Error()
		s.LastError = cause
	}
	s.History = append(s.History, t)
	s.Stage = to
	return nil
}

// Terminal reports whether the host has reached a terminal stage.
func (s *HostState) Terminal() bool {
	return s.Stage.Terminal()
}

// Snapshot produces the serializable per-host record stored in a
// RolloutResult.
func (s *HostState) Snapshot() HostResult {
	r := HostResult{
		HostID:      s.Host.ID,
		Group:       s.Host.Group(),
		Stage:       s.Stage,
		Attempts:    s.Attempt,
		Transitions: append([]Transition(nil), s.History...),
	}
	if s.LastError != nil {
		r.Error = s.LastError.Error()
	}
	return r
}
