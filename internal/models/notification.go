package models

import (
	"fmt"
	"time"
)

// Notification kinds accepted by the notification store.
const (
	NotificationViewed   = "viewed"
	NotificationMessage  = "message"
	NotificationProposal = "proposal"
	NotificationSystem   = "system"
)

// AllowedNotificationKind reports whether kind belongs to the fixed kind set.
func AllowedNotificationKind(kind string) bool {
	switch kind {
	case NotificationViewed, NotificationMessage, NotificationProposal, NotificationSystem:
		return true
	}
	return false
}

// Notification represents a single inbox notification. ReadAt is nil while unread.
type Notification struct {
	ID           int        `db:"id" json:"id"`
	TargetUserID int        `db:"target_user_id" json:"target_user_id"`
	Kind         string     `db:"kind" json:"kind"`
	Content      string     `db:"content" json:"content"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	ReadAt       *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// JobRefToken renders the structured job-reference token embedded in
// notification content. The same token is matched during dedupe checks.
func JobRefToken(jobID int) string {
	return fmt.Sprintf("[job:%d]", jobID)
}
