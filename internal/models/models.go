// Package models defines the core domain types for showerflow.
package models

import "time"

// StepStatus is the operator-visible state of a step. It is always derived
// from the filesystem and the stored input hashes, never persisted.
type StepStatus string

const (
	StepStatusPending             StepStatus = "PENDING"
	StepStatusReady               StepStatus = "READY"
	StepStatusOK                  StepStatus = "OK"
	StepStatusRerunRequired       StepStatus = "RERUN_REQUIRED"
	StepStatusPrevStepRerunNeeded StepStatus = "PREV_STEP_RERUN_REQUIRED"
)

// EventType is the kind of a ledger entry.
type EventType string

const (
	EventStarted   EventType = "STARTED"
	EventSkipped   EventType = "SKIPPED"
	EventCompleted EventType = "COMPLETED"
	EventFailed    EventType = "FAILED"
)

// PipelineStatus summarises one pipeline from the ledger and its sentinel.
type PipelineStatus string

const (
	PipelineStatusPending   PipelineStatus = "pending"
	PipelineStatusRunning   PipelineStatus = "running"
	PipelineStatusCompleted PipelineStatus = "completed"
	PipelineStatusFailed    PipelineStatus = "failed"
)

// SlotStatus is the per-step value held in the scheduler status array.
type SlotStatus int32

const (
	SlotPending SlotStatus = iota
	SlotRunning
	SlotCompleted
	SlotFailed
	SlotAbandoned
)

func (s SlotStatus) String() string {
	switch s {
	case SlotPending:
		return "pending"
	case SlotRunning:
		return "running"
	case SlotCompleted:
		return "completed"
	case SlotFailed:
		return "failed"
	case SlotAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// LedgerEntry is one append-only record of a step lifecycle event.
type LedgerEntry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Pipeline  string    `json:"pipeline"`
	Step      string    `json:"step"`
	InputHash string    `json:"input_hash,omitempty"`
	Event     EventType `json:"event"`
	Value     string    `json:"value,omitempty"`
}

// PipelineSummary is the ledger-derived view of one pipeline.
type PipelineSummary struct {
	Pipeline  string         `json:"pipeline"`
	Status    PipelineStatus `json:"status"`
	Completed int            `json:"completed"`
	Skipped   int            `json:"skipped"`
	Running   []string       `json:"running,omitempty"`
	Failure   string         `json:"failure,omitempty"`
	LastEvent *time.Time     `json:"last_event,omitempty"`
}

// RunRecord is one invocation of the run or continue command.
type RunRecord struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	Args      []string   `json:"args,omitempty"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
}
