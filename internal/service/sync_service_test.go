package service_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/repository/memory"
	"alcyxob/profile-sync/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote is an in-memory remote authority. Tests script failures via
// beforePush (delivery rejected, nothing applied) and afterPush (state
// applied, then an error returned — the ambiguous-network case). A non-nil
// gate blocks deliveries until it is closed, for the cancellation and
// coalescing tests.
type fakeRemote struct {
	mu       sync.Mutex
	profiles map[string]*domain.ProfileAggregate
	weights  map[string]map[string]float64
	trace    []string

	fetchErr   error
	fetches    int
	beforePush func(key string) error
	afterPush  func(key string) error

	gate      chan struct{}
	entered   chan struct{}
	enterOnce sync.Once
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		profiles: make(map[string]*domain.ProfileAggregate),
		weights:  make(map[string]map[string]float64),
	}
}

func (r *fakeRemote) FetchProfile(ctx context.Context, userID string) (*domain.ProfileAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fetches++
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	p, ok := r.profiles[userID]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (r *fakeRemote) push(ctx context.Context, key string, apply func()) error {
	if r.entered != nil {
		r.enterOnce.Do(func() { close(r.entered) })
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.beforePush != nil {
		if err := r.beforePush(key); err != nil {
			return err
		}
	}
	apply()
	r.trace = append(r.trace, key)
	if r.afterPush != nil {
		return r.afterPush(key)
	}
	return nil
}

func (r *fakeRemote) PushProfile(ctx context.Context, p *domain.ProfileAggregate) error {
	return r.push(ctx, "profile:v"+strconv.FormatInt(p.Version, 10), func() {
		r.profiles[p.UserID] = p.Clone()
	})
}

func (r *fakeRemote) PushWeight(ctx context.Context, e *domain.WeightLogEntry) error {
	return r.push(ctx, "weight:"+e.RecordDate, func() {
		rows, ok := r.weights[e.UserID]
		if !ok {
			rows = make(map[string]float64)
			r.weights[e.UserID] = rows
		}
		rows[e.RecordDate] = e.WeightKg
	})
}

func (r *fakeRemote) DeleteWeight(ctx context.Context, userID, day string) error {
	return r.push(ctx, "delete:"+day, func() {
		delete(r.weights[userID], day)
	})
}

func (r *fakeRemote) traceCopy() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.trace...)
}

func (r *fakeRemote) weightFor(userID, day string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kg, ok := r.weights[userID][day]
	return kg, ok
}

// syncFixture wires a profile service and a sync engine over one store,
// one lock table and one fake remote, the way main does.
type syncFixture struct {
	store   *memory.Store
	remote  *fakeRemote
	engine  service.SyncService
	profile service.ProfileService
}

func newSyncFixture() *syncFixture {
	store := memory.New()
	rem := newFakeRemote()
	locks := service.NewUserLocks()
	engine := service.NewSyncService(store, rem, locks, 50, 3, quietLogger())
	profile := service.NewProfileService(store, locks, engine, "test-device", 3, quietLogger())
	return &syncFixture{store: store, remote: rem, engine: engine, profile: profile}
}

func TestPushDeliversBacklogInOrder(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture()

	_, err := f.profile.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)
	_, err = f.profile.RecordWeight(ctx, "u1", "2025-03-01", 61.0)
	require.NoError(t, err)
	require.NoError(t, f.profile.DeleteWeight(ctx, "u1", "2025-03-01"))

	report, err := f.engine.Push(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 3, report.Delivered)
	assert.EqualValues(t, 0, report.Remaining)
	assert.False(t, report.ConflictResolved)
	assert.Empty(t, report.RemoteError)

	// Deliveries happened in enqueue order.
	assert.Equal(t, []string{"profile:v1", "weight:2025-03-01", "delete:2025-03-01"}, f.remote.traceCopy())

	// The remote ledger reflects the record-then-delete sequence.
	_, ok := f.remote.weightFor("u1", "2025-03-01")
	assert.False(t, ok)

	n, err := f.store.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

// A failed item stops the cycle: nothing behind it is skipped over, and the
// delivered item ahead of it stays removed.
func TestPushStopsAtFirstFailureWithoutSkipAhead(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture()

	for i, day := range []string{"2025-03-01", "2025-03-02", "2025-03-03"} {
		_, err := f.profile.RecordWeight(ctx, "u1", day, 60.0+float64(i))
		require.NoError(t, err)
	}

	f.remote.beforePush = func(key string) error {
		if key == "weight:2025-03-02" {
			return errors.New("remote: 503")
		}
		return nil
	}

	report, err := f.engine.Push(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 1, report.Delivered)
	assert.EqualValues(t, 2, report.Remaining)
	assert.Equal(t, "remote: 503", report.RemoteError)

	// Items 2 and 3 are still queued, in order. Only the failed one carries
	// an attempt.
	items, err := f.store.Drain(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)

	second, err := domain.DecodeWeightSnapshot(items[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-02", second.RecordDate)
	assert.Equal(t, 1, items[0].Attempt)
	require.NotNil(t, items[0].LastError)
	assert.Equal(t, "remote: 503", *items[0].LastError)

	third, err := domain.DecodeWeightSnapshot(items[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-03", third.RecordDate)
	assert.Equal(t, 0, items[1].Attempt)

	// Item 3 never went out.
	assert.Equal(t, []string{"weight:2025-03-01"}, f.remote.traceCopy())

	// The next cycle replays from the failed item.
	f.remote.beforePush = nil
	report, err = f.engine.Push(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	assert.EqualValues(t, 0, report.Remaining)
}

// Remote newer: the remote copy wins, is written locally without a version
// bump, and the queued profile snapshots it supersedes are discarded.
func TestPushAdoptsNewerRemoteProfile(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture()

	local, err := f.profile.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)
	_, err = f.profile.RecordWeight(ctx, "u1", "2025-03-01", 61.0)
	require.NoError(t, err)

	remoteCopy := &domain.ProfileAggregate{
		UserID:      "u1",
		DeviceID:    "other-phone",
		Version:     5,
		UpdatedAt:   local.UpdatedAt.Add(time.Hour),
		DisplayName: "Aya (tablet)",
		Age:         30,
	}
	f.remote.profiles["u1"] = remoteCopy

	report, err := f.engine.Push(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, report.ConflictResolved)
	assert.EqualValues(t, 1, report.Discarded) // the queued profile snapshot

	// Local state now equals the remote copy, version and all.
	got, err := f.profile.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, remoteCopy, got)

	// The weight item is a per-day fact, not superseded: it still went out.
	assert.Equal(t, 1, report.Delivered)
	kg, ok := f.remote.weightFor("u1", "2025-03-01")
	require.True(t, ok)
	assert.Equal(t, 61.0, kg)

	// No stale local snapshot overwrote the adopted remote head.
	for _, key := range f.remote.traceCopy() {
		assert.NotEqual(t, "profile:v1", key)
	}

	// The adoption is on the record.
	entries, err := f.store.AuditEntries(ctx, "u1", time.Time{})
	require.NoError(t, err)
	var conflicts int
	for _, e := range entries {
		if e.Action == "sync.conflict" {
			conflicts++
			assert.Equal(t, "5", e.Metadata["remoteVersion"])
		}
	}
	assert.Equal(t, 1, conflicts)
}

// Local newer: the push proceeds and the remote ends up equal to the local
// aggregate.
func TestPushLocalNewerWinsOverRemote(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture()

	_, err := f.profile.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)
	local, err := f.profile.SetAge(ctx, "u1", 30)
	require.NoError(t, err)

	// Higher version but an older timestamp: last writer is decided by time.
	f.remote.profiles["u1"] = &domain.ProfileAggregate{
		UserID:      "u1",
		Version:     7,
		UpdatedAt:   local.UpdatedAt.Add(-time.Hour),
		DisplayName: "Stale",
	}

	report, err := f.engine.Push(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, report.ConflictResolved)
	assert.EqualValues(t, 0, report.Discarded)
	assert.Equal(t, 2, report.Delivered)

	f.remote.mu.Lock()
	head := f.remote.profiles["u1"]
	f.remote.mu.Unlock()
	assert.Equal(t, local, head)

	// Local state was never touched by the stale remote copy.
	got, err := f.profile.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, local, got)
}

// A remote fetch failure skips the cycle: nothing is delivered, nothing is
// marked failed, and the caller sees a report rather than an error.
func TestPushFetchFailureLeavesQueueIntact(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture()

	_, err := f.profile.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)

	f.remote.fetchErr = errors.New("remote: connection refused")

	report, err := f.engine.Push(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted)
	assert.Contains(t, report.RemoteError, "connection refused")
	assert.EqualValues(t, 1, report.Remaining)

	items, err := f.store.Drain(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].Attempt)
}

// The ambiguous-network case: the remote applied the write but the response
// was lost. The retry replays the same full snapshot, so the remote ends up
// exactly where a single successful delivery would have left it.
func TestRetryAfterAmbiguousFailureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture()

	_, err := f.profile.RecordWeight(ctx, "u1", "2025-03-01", 61.0)
	require.NoError(t, err)

	ambiguous := true
	f.remote.afterPush = func(key string) error {
		if ambiguous {
			ambiguous = false
			return errors.New("remote: response lost")
		}
		return nil
	}

	// First cycle: the write landed remotely but counts as failed locally.
	report, err := f.engine.Push(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Delivered)
	kg, ok := f.remote.weightFor("u1", "2025-03-01")
	require.True(t, ok)
	assert.Equal(t, 61.0, kg)

	items, err := f.store.Drain(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempt)

	// Second cycle replays the snapshot. Same final remote state, queue
	// empty.
	report, err = f.engine.Push(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)

	kg, ok = f.remote.weightFor("u1", "2025-03-01")
	require.True(t, ok)
	assert.Equal(t, 61.0, kg)
	assert.Equal(t, []string{"weight:2025-03-01", "weight:2025-03-01"}, f.remote.traceCopy())

	n, err := f.store.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

// Cancelling a push mid-delivery leaves the in-flight item untouched: not
// succeeded, not failed, ready for the next cycle.
func TestPushCancellationLeavesItemsUntouched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newSyncFixture()

	_, err := f.profile.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)
	_, err = f.profile.SetAge(ctx, "u1", 30)
	require.NoError(t, err)

	f.remote.gate = make(chan struct{})
	f.remote.entered = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Push(ctx, "u1")
		done <- err
	}()

	// Wait until the first delivery is in flight, then pull the plug.
	<-f.remote.entered
	cancel()

	err = <-done
	assert.ErrorIs(t, err, context.Canceled)

	items, err := f.store.Drain(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, 0, item.Attempt)
		assert.Nil(t, item.LastError)
	}
}

// Two concurrent pushes for one user coalesce into a single cycle; nothing
// is delivered twice.
func TestConcurrentPushesCoalesce(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture()

	_, err := f.profile.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)

	f.remote.gate = make(chan struct{})
	f.remote.entered = make(chan struct{})

	errs := make(chan error, 2)
	go func() {
		_, err := f.engine.Push(ctx, "u1")
		errs <- err
	}()

	// First push is blocked inside the remote call; the second must join it
	// rather than start another cycle.
	<-f.remote.entered
	go func() {
		_, err := f.engine.Push(ctx, "u1")
		errs <- err
	}()
	time.Sleep(100 * time.Millisecond)
	close(f.remote.gate)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Equal(t, []string{"profile:v1"}, f.remote.traceCopy())
	n, err := f.store.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

// An unreadable payload behaves like a failed delivery: flagged and kept,
// never silently dropped.
func TestPushKeepsUndecodablePayloadQueued(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture()

	item := domain.NewOutboxItem("u1", domain.OpUpsertProfile, []byte(`{"version":`), time.Now())
	require.NoError(t, f.store.Enqueue(ctx, item))

	report, err := f.engine.Push(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Delivered)
	assert.NotEmpty(t, report.RemoteError)

	items, err := f.store.Drain(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempt)
}

// The background runner sweeps every user with a backlog and stops cleanly
// on cancellation.
func TestRunnerDrainsAllUsersAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newSyncFixture()

	_, err := f.profile.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)
	_, err = f.profile.RecordWeight(ctx, "u2", "2025-03-01", 72.5)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- f.engine.Run(ctx, 10*time.Millisecond, 2)
	}()

	require.Eventually(t, func() bool {
		n1, err1 := f.store.PendingCount(context.Background(), "u1")
		n2, err2 := f.store.PendingCount(context.Background(), "u2")
		return err1 == nil && err2 == nil && n1 == 0 && n2 == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

func TestPushRequiresUserID(t *testing.T) {
	f := newSyncFixture()
	_, err := f.engine.Push(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrUserIDRequired)
}
