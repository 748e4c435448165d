package repository

import (
	"context"
	"time"

	"alcyxob/profile-sync/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for the repository layer.
var (
	ErrNotFound    = RepositoryError("not found")
	ErrPersistence = RepositoryError("persistence failure")
	ErrConflict    = RepositoryError("conflicting write")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// MutationBatch is one atomic unit of local change. A profile mutation sets
// Profile, its OutboxItem and its AuditLogEntry together; a ledger write
// sets Weight (or DeleteWeightDay) instead of Profile. Nil fields are left
// untouched. Implementations commit the whole batch or none of it.
type MutationBatch struct {
	UserID          string                   // Owner of every record in the batch
	Profile         *domain.ProfileAggregate // Upsert the full aggregate snapshot
	Weight          *domain.WeightLogEntry   // Upsert one ledger row, keyed by (UserID, RecordDate)
	DeleteWeightDay string                   // Remove this ledger day for UserID
	Outbox          *domain.OutboxItem       // Append one pending remote write
	Audit           *domain.AuditLogEntry    // Append one history entry
}

// ProfileStore defines the interface for the profile aggregate.
type ProfileStore interface {
	// GetProfile returns ErrNotFound when the user has never been mutated.
	GetProfile(ctx context.Context, userID string) (*domain.ProfileAggregate, error)
	// DeleteProfile removes the aggregate and cascades to the user's weight
	// ledger and pending outbox items. Audit history is retained.
	DeleteProfile(ctx context.Context, userID string) error
}

// WeightLogStore defines the interface for the per-day weight ledger.
type WeightLogStore interface {
	GetWeightEntry(ctx context.Context, userID, day string) (*domain.WeightLogEntry, error)
	// ListWeightEntries returns rows ordered by RecordDate ascending. Empty
	// from/to leave that side of the range open.
	ListWeightEntries(ctx context.Context, userID, from, to string) ([]domain.WeightLogEntry, error)
}

// OutboxQueue defines the interface for the durable queue of pending remote
// writes. Items leave the queue only through MarkSucceeded or an explicit
// discard of superseded snapshots.
type OutboxQueue interface {
	Enqueue(ctx context.Context, item *domain.OutboxItem) error
	// Drain returns up to limit pending items for the user, oldest first.
	// Items stay queued; delivery bookkeeping goes through the Mark methods.
	Drain(ctx context.Context, userID string, limit int) ([]domain.OutboxItem, error)
	// MarkSucceeded removes a delivered item.
	MarkSucceeded(ctx context.Context, itemID string) error
	// MarkFailed bumps the attempt counter and records the cause. The item
	// keeps its queue position.
	MarkFailed(ctx context.Context, itemID, cause string) error
	// DiscardProfileUpserts drops pending OpUpsertProfile items created at or
	// before the cutoff. Used when a newer remote snapshot supersedes queued
	// local ones. Returns the number removed.
	DiscardProfileUpserts(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	PendingCount(ctx context.Context, userID string) (int64, error)
	// PendingUserIDs lists users with at least one queued item, for the
	// background sync runner.
	PendingUserIDs(ctx context.Context, limit int) ([]string, error)
}

// AuditLog defines the read interface for the append-only history. Writes
// happen only through MutationBatch.
type AuditLog interface {
	// AuditEntries returns entries at or after since, oldest first. A zero
	// since returns everything.
	AuditEntries(ctx context.Context, userID string, since time.Time) ([]domain.AuditLogEntry, error)
}

// AccountStore defines the interface for authentication identities.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *domain.Account) (primitive.ObjectID, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetAccountByID(ctx context.Context, id primitive.ObjectID) (*domain.Account, error)
}

// Store is the full local persistence surface the services run on.
// ApplyMutation is the only write path for profile and ledger state; the
// narrow interfaces above exist so read-side callers can depend on less.
type Store interface {
	ProfileStore
	WeightLogStore
	OutboxQueue
	AuditLog

	// ApplyMutation commits the batch atomically: afterwards either every
	// non-nil field is applied or none is.
	ApplyMutation(ctx context.Context, batch MutationBatch) error
}
