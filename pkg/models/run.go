package models

import (
	"time"

	"github.com/google/uuid"
)

// RunCounts accumulates the per-row outcomes of one batch operation.
// Skips and parse failures are counted, never fatal; the run still
// exits zero when work completed.
type RunCounts struct {
	Created int `json:"created"`
	Linked  int `json:"linked"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

// Add folds another set of counts into this one.
func (c *RunCounts) Add(other RunCounts) {
	c.Created += other.Created
	c.Linked += other.Linked
	c.Updated += other.Updated
	c.Skipped += other.Skipped
	c.Errored += other.Errored
}

// Run records one engine invocation for the operational audit trail.
type Run struct {
	ID         uuid.UUID      `json:"id"`
	Operation  string         `json:"operation"`
	DryRun     bool           `json:"dry_run"`
	Counts     RunCounts      `json:"counts"`
	Detail     map[string]any `json:"detail,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}
