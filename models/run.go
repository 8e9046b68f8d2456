package models

import "time"

type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusRateLimited RunStatus = "rate_limited"
	RunStatusFailed      RunStatus = "failed"
)

// HarvestRun is one execution of the harvest step.
type HarvestRun struct {
	ID         string     `json:"id" db:"id"`
	Table      string     `json:"table" db:"table_path"`
	StartIndex int        `json:"start_index" db:"start_index"`
	NextIndex  int        `json:"next_index" db:"next_index"`
	Records    int        `json:"records" db:"records"`
	BatchPath  string     `json:"batch_path" db:"batch_path"`
	Status     RunStatus  `json:"status" db:"status"`
	Error      string     `json:"error,omitempty" db:"error"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
}
