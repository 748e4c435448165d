package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/remote"
	"alcyxob/profile-sync/internal/repository"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// SyncReport summarizes one push cycle for a single user. A remote outage
// shows up here as RemoteError, never as a Push error.
type SyncReport struct {
	UserID           string    `json:"userId"`
	Attempted        int       `json:"attempted"`
	Delivered        int       `json:"delivered"`
	Discarded        int64     `json:"discarded"` // Superseded profile snapshots dropped during conflict adoption
	Remaining        int64     `json:"remaining"`
	ConflictResolved bool      `json:"conflictResolved"` // A newer remote profile was adopted locally
	RemoteError      string    `json:"remoteError,omitempty"`
	CompletedAt      time.Time `json:"completedAt"`
}

// SyncEngine is the narrow surface the profile service needs.
type SyncEngine interface {
	// Push attempts the user's backlog once, oldest first. It returns an
	// error only for local persistence problems or context cancellation.
	Push(ctx context.Context, userID string) (*SyncReport, error)
}

// SyncService adds the background runner on top of the engine.
type SyncService interface {
	SyncEngine
	// Run drives periodic background pushes until ctx is cancelled.
	Run(ctx context.Context, interval time.Duration, parallelism int) error
}

// syncService implements the SyncService interface.
type syncService struct {
	store         repository.Store
	remote        remote.Service
	locks         *UserLocks
	group         singleflight.Group
	drainLimit    int
	staleAttempts int
	logger        *slog.Logger
}

// NewSyncService creates a new instance of syncService. locks must be the
// same instance the profile service mutates under.
func NewSyncService(
	store repository.Store,
	remoteSvc remote.Service,
	locks *UserLocks,
	drainLimit, staleAttempts int,
	logger *slog.Logger,
) SyncService {
	if drainLimit <= 0 {
		drainLimit = 50
	}
	if staleAttempts <= 0 {
		staleAttempts = 10
	}
	return &syncService{
		store:         store,
		remote:        remoteSvc,
		locks:         locks,
		drainLimit:    drainLimit,
		staleAttempts: staleAttempts,
		logger:        logger,
	}
}

// Push runs one push cycle for the user. Concurrent calls for the same user
// coalesce: the second caller waits for the in-flight cycle and receives its
// report instead of double-sending.
func (s *syncService) Push(ctx context.Context, userID string) (*SyncReport, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	v, err, _ := s.group.Do(userID, func() (interface{}, error) {
		return s.push(ctx, userID)
	})
	report, _ := v.(*SyncReport)
	if err != nil {
		return report, err
	}
	return report, nil
}

// push is one full cycle: reconcile against the remote head, then deliver
// the backlog strictly in queue order.
func (s *syncService) push(ctx context.Context, userID string) (*SyncReport, error) {
	report := &SyncReport{UserID: userID}

	// 1. Fetch the remote head for conflict resolution. Any failure here is
	// a remote-class failure: skip the cycle, leave the queue intact.
	remoteProfile, err := s.remote.FetchProfile(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		s.logger.Warn("remote fetch failed, skipping push cycle", "userId", userID, "error", err)
		report.RemoteError = err.Error()
		s.finish(ctx, report)
		return report, nil
	}

	// 2. Last-writer-wins: if the remote copy is newer, adopt it and drop
	// the queued snapshots it supersedes. If the local copy is newer, the
	// queue below carries it out.
	if remoteProfile != nil {
		local, err := s.store.GetProfile(ctx, userID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return report, err
		}
		if remoteProfile.NewerThan(local) {
			adopted, discarded, err := s.adoptRemote(ctx, userID, remoteProfile)
			if err != nil {
				return report, err
			}
			report.ConflictResolved = adopted
			report.Discarded = discarded
		}
	}

	// 3. Drain the backlog as of now and deliver in order.
	items, err := s.store.Drain(ctx, userID, s.drainLimit)
	if err != nil {
		return report, err
	}
	report.Attempted = len(items)

	for _, item := range items {
		if ctx.Err() != nil {
			// Cancelled between items: everything still queued stays put.
			return report, ctx.Err()
		}

		if err := s.deliver(ctx, item); err != nil {
			if ctx.Err() != nil {
				// Cancelled mid-delivery: the item keeps its drained state.
				return report, ctx.Err()
			}
			// Remote or payload failure: record it and stop. No skip-ahead;
			// the next cycle replays from this item.
			attempt := item.Attempt + 1
			if markErr := s.store.MarkFailed(ctx, item.ID, err.Error()); markErr != nil {
				return report, markErr
			}
			s.logger.Warn("outbox delivery failed",
				"userId", userID, "itemId", item.ID, "operation", item.Operation,
				"attempt", attempt, "error", err)
			if attempt >= s.staleAttempts {
				s.logger.Warn("outbox item is stale and blocking the queue",
					"userId", userID, "itemId", item.ID, "operation", item.Operation,
					"attempt", attempt)
			}
			report.RemoteError = err.Error()
			break
		}

		if err := s.store.MarkSucceeded(ctx, item.ID); err != nil {
			return report, err
		}
		report.Delivered++
	}

	s.finish(ctx, report)
	return report, nil
}

// adoptRemote writes the remote aggregate over the local one and discards
// the queued profile snapshots it supersedes. Runs under the user lock so it
// cannot interleave with a UI mutation; the lock is re-checked because one
// may have landed since the unlocked comparison.
func (s *syncService) adoptRemote(ctx context.Context, userID string, remoteProfile *domain.ProfileAggregate) (bool, int64, error) {
	mu := s.locks.ForUser(userID)
	mu.Lock()
	defer mu.Unlock()

	local, err := s.store.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return false, 0, err
	}
	if !remoteProfile.NewerThan(local) {
		return false, 0, nil
	}

	now := time.Now()
	meta := map[string]string{
		"remoteVersion": strconv.FormatInt(remoteProfile.Version, 10),
		"remoteDevice":  remoteProfile.DeviceID,
	}
	if local != nil {
		meta["localVersion"] = strconv.FormatInt(local.Version, 10)
	}

	// The adopted aggregate keeps the winner's version and timestamp; no
	// Touch, or the adoption would look like a fresh local edit.
	batch := repository.MutationBatch{
		UserID:  userID,
		Profile: remoteProfile.Clone(),
		Audit:   domain.NewAuditEntry(userID, actionSyncConflict, now, meta),
	}
	if err := s.store.ApplyMutation(ctx, batch); err != nil {
		return false, 0, err
	}

	// Every profile snapshot queued before this moment carries state the
	// adopted copy supersedes. Weight items are per-day facts and stay.
	discarded, err := s.store.DiscardProfileUpserts(ctx, userID, now)
	if err != nil {
		return true, 0, err
	}
	if discarded > 0 {
		s.logger.Info("discarded superseded profile snapshots",
			"userId", userID, "count", discarded)
	}
	return true, discarded, nil
}

// deliver pushes one item to the remote. A payload that no longer decodes is
// treated like a failed delivery: the item stays queued and flagged rather
// than being silently dropped.
func (s *syncService) deliver(ctx context.Context, item domain.OutboxItem) error {
	switch item.Operation {
	case domain.OpUpsertProfile:
		profile, err := domain.DecodeProfileSnapshot(item.Payload)
		if err != nil {
			return err
		}
		return s.remote.PushProfile(ctx, profile)
	case domain.OpUpsertWeight:
		entry, err := domain.DecodeWeightSnapshot(item.Payload)
		if err != nil {
			return err
		}
		return s.remote.PushWeight(ctx, entry)
	case domain.OpDeleteWeight:
		deletion, err := domain.DecodeWeightDeletion(item.Payload)
		if err != nil {
			return err
		}
		return s.remote.DeleteWeight(ctx, deletion.UserID, deletion.RecordDate)
	default:
		return fmt.Errorf("unknown outbox operation %q", item.Operation)
	}
}

// finish fills the trailing report fields. Diagnostics only, so a counting
// error does not fail an otherwise completed cycle.
func (s *syncService) finish(ctx context.Context, report *SyncReport) {
	if n, err := s.store.PendingCount(ctx, report.UserID); err == nil {
		report.Remaining = n
	}
	report.CompletedAt = time.Now().UTC()
}

// === Background runner ===

// Run pushes every backlog on a fixed interval until ctx is cancelled, at
// most parallelism users at a time. The first sweep happens immediately.
func (s *syncService) Run(ctx context.Context, interval time.Duration, parallelism int) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sync runner started", "interval", interval, "parallelism", parallelism)
	for {
		s.pushAll(ctx, parallelism)

		select {
		case <-ctx.Done():
			s.logger.Info("sync runner stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pushAll pushes each user with pending items. One user's failure never
// stops the sweep for the others.
func (s *syncService) pushAll(ctx context.Context, parallelism int) {
	users, err := s.store.PendingUserIDs(ctx, 0)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("listing users with pending items failed", "error", err)
		}
		return
	}
	if len(users) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			if _, err := s.Push(gctx, userID); err != nil && gctx.Err() == nil {
				s.logger.Error("background push failed", "userId", userID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
