package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxOperation type for the kind of remote write an item represents.
type OutboxOperation string

const (
	OpUpsertProfile OutboxOperation = "upsert-profile" // Payload: ProfileAggregate snapshot
	OpUpsertWeight  OutboxOperation = "upsert-weight"  // Payload: WeightLogEntry snapshot
	OpDeleteWeight  OutboxOperation = "delete-weight"  // Payload: WeightDeletion
)

// ErrEncoding marks a snapshot that could not be encoded or decoded.
var ErrEncoding = errors.New("snapshot encoding failure")

// OutboxItem is one pending remote write. Items are appended on local
// mutation, drained oldest-first, and removed only once the remote confirms.
type OutboxItem struct {
	ID        string          `bson:"_id" json:"id"`
	UserID    string          `bson:"userId" json:"userId"`
	Operation OutboxOperation `bson:"operation" json:"operation"`
	Payload   json.RawMessage `bson:"payload" json:"payload"` // Opaque snapshot, decoded only at push time
	Attempt   int             `bson:"attempt" json:"attempt"` // Completed push attempts
	LastError *string         `bson:"lastError,omitempty" json:"lastError,omitempty"`
	CreatedAt time.Time       `bson:"createdAt" json:"createdAt"`
}

// NewOutboxItem builds a pending item. IDs are UUIDv7 so they sort in
// creation order even when CreatedAt timestamps collide at storage
// precision.
func NewOutboxItem(userID string, op OutboxOperation, payload json.RawMessage, now time.Time) *OutboxItem {
	return &OutboxItem{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    userID,
		Operation: op,
		Payload:   payload,
		CreatedAt: now.UTC(),
	}
}

// WeightDeletion is the payload of an OpDeleteWeight item.
type WeightDeletion struct {
	UserID     string    `json:"userId"`
	RecordDate string    `json:"recordDate"`
	DeletedAt  time.Time `json:"deletedAt"`
}

// --- Snapshot codec ---
//
// Outbox payloads are full snapshots, not diffs. Replaying one is always
// safe because the remote applies it as an idempotent upsert.

// EncodeProfileSnapshot serializes the aggregate for an OpUpsertProfile
// payload.
func EncodeProfileSnapshot(p *ProfileAggregate) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: profile %s: %v", ErrEncoding, p.UserID, err)
	}
	return data, nil
}

// DecodeProfileSnapshot parses an OpUpsertProfile payload.
func DecodeProfileSnapshot(raw json.RawMessage) (*ProfileAggregate, error) {
	var p ProfileAggregate
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: profile snapshot: %v", ErrEncoding, err)
	}
	return &p, nil
}

// EncodeWeightSnapshot serializes a ledger row for an OpUpsertWeight payload.
func EncodeWeightSnapshot(e *WeightLogEntry) (json.RawMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: weight %s/%s: %v", ErrEncoding, e.UserID, e.RecordDate, err)
	}
	return data, nil
}

// DecodeWeightSnapshot parses an OpUpsertWeight payload.
func DecodeWeightSnapshot(raw json.RawMessage) (*WeightLogEntry, error) {
	var e WeightLogEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: weight snapshot: %v", ErrEncoding, err)
	}
	return &e, nil
}

// EncodeWeightDeletion serializes an OpDeleteWeight payload.
func EncodeWeightDeletion(userID, day string, deletedAt time.Time) (json.RawMessage, error) {
	data, err := json.Marshal(WeightDeletion{UserID: userID, RecordDate: day, DeletedAt: deletedAt.UTC()})
	if err != nil {
		return nil, fmt.Errorf("%w: weight deletion %s/%s: %v", ErrEncoding, userID, day, err)
	}
	return data, nil
}

// DecodeWeightDeletion parses an OpDeleteWeight payload.
func DecodeWeightDeletion(raw json.RawMessage) (*WeightDeletion, error) {
	var d WeightDeletion
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: weight deletion: %v", ErrEncoding, err)
	}
	return &d, nil
}
