package domain

import "time"

// FlagReviewAuditLog records one verdict on a flagged pair.
type FlagReviewAuditLog struct {
	ID        int64
	EntryID   string  // duplicate_log entry the verdict applies to
	Reviewer  *string // nullable - NULL for automated reviews
	Action    string  // "merged" or "ignored"
	Reason    *string
	CreatedAt time.Time
}

// NewAuditLog creates a new audit log entry
func NewAuditLog(entryID string, reviewer *string, action string, reason *string) *FlagReviewAuditLog {
	return &FlagReviewAuditLog{
		EntryID:   entryID,
		Reviewer:  reviewer,
		Action:    action,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}
