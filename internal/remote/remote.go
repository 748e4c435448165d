package remote

import (
	"context"
	"errors"

	"alcyxob/profile-sync/internal/domain"
)

// ErrUnavailable wraps transport and backend errors so the sync engine can
// tell a remote outage apart from a local persistence problem.
var ErrUnavailable = errors.New("remote unavailable")

// Service is the remote authority the sync engine pushes to and reconciles
// against. Every push is an idempotent full-state upsert; replaying a
// snapshot is always safe.
type Service interface {
	// FetchProfile returns the remote aggregate, or (nil, nil) when the
	// remote has never seen this user.
	FetchProfile(ctx context.Context, userID string) (*domain.ProfileAggregate, error)
	PushProfile(ctx context.Context, profile *domain.ProfileAggregate) error
	PushWeight(ctx context.Context, entry *domain.WeightLogEntry) error
	DeleteWeight(ctx context.Context, userID, day string) error
}

// Noop is the default backend while the product runs local-only: pushes
// succeed without leaving the device and fetch never returns remote state.
// The whole sync pipeline stays exercised so a real backend can be swapped
// in by configuration.
type Noop struct{}

// NewNoop creates the no-op backend.
func NewNoop() Noop {
	return Noop{}
}

func (Noop) FetchProfile(ctx context.Context, userID string) (*domain.ProfileAggregate, error) {
	return nil, nil
}

func (Noop) PushProfile(ctx context.Context, profile *domain.ProfileAggregate) error {
	return nil
}

func (Noop) PushWeight(ctx context.Context, entry *domain.WeightLogEntry) error {
	return nil
}

func (Noop) DeleteWeight(ctx context.Context, userID, day string) error {
	return nil
}
