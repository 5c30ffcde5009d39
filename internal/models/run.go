package models

import (
	"time"
)

// Run is the persisted lifecycle record of one engine invocation.
type Run struct {
	ID                 string     `json:"id" db:"id"`
	Status             string     `json:"status" db:"status"` // "pending", "running", "completed", "failed"
	Source             string     `json:"source" db:"source"`
	TextThreshold      float64    `json:"text_threshold" db:"text_threshold"`
	DistanceThresholdM float64    `json:"distance_threshold_m" db:"distance_threshold_m"`
	TotalRecords       int        `json:"total_records" db:"total_records"`
	SkippedRecords     int        `json:"skipped_records" db:"skipped_records"`
	Clusters           int        `json:"clusters" db:"clusters"`
	Merged             int        `json:"merged" db:"merged"`
	Flagged            int        `json:"flagged" db:"flagged"`
	Error              *string    `json:"error,omitempty" db:"error"`
	StartedAt          time.Time  `json:"started_at" db:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool {
	return r.Status == "completed" || r.Status == "failed"
}
