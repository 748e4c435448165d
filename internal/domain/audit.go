package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditLogEntry records one profile event for the local history screen.
// Entries are append-only; nothing in the normal write path removes them.
type AuditLogEntry struct {
	ID        string            `bson:"_id" json:"id"`
	UserID    string            `bson:"userId" json:"userId"`
	Action    string            `bson:"action" json:"action"` // Free-form tag, e.g. "profile.displayName"
	Timestamp time.Time         `bson:"timestamp" json:"timestamp"`
	Metadata  map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// NewAuditEntry builds an entry stamped with now.
func NewAuditEntry(userID, action string, now time.Time, metadata map[string]string) *AuditLogEntry {
	return &AuditLogEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Timestamp: now.UTC(),
		Metadata:  metadata,
	}
}
