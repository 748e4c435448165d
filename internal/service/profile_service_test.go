package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/repository"
	"alcyxob/profile-sync/internal/repository/memory"
	"alcyxob/profile-sync/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// faultStore wraps a real store and fails ApplyMutation on demand, for the
// atomicity checks.
type faultStore struct {
	repository.Store
	applyErr error
}

func (f *faultStore) ApplyMutation(ctx context.Context, batch repository.MutationBatch) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	return f.Store.ApplyMutation(ctx, batch)
}

func newProfileService(store repository.Store) service.ProfileService {
	return service.NewProfileService(store, service.NewUserLocks(), nil, "test-device", 3, quietLogger())
}

func TestGetProfileAbsentReturnsZeroValue(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store)

	p, err := svc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.EqualValues(t, 0, p.Version)
	assert.True(t, p.UpdatedAt.IsZero())

	// A pure read persists nothing.
	_, err = store.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	n, err := store.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestGetProfileRequiresUserID(t *testing.T) {
	svc := newProfileService(memory.New())
	_, err := svc.GetProfile(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrUserIDRequired)
}

// Two field mutations leave a version-2 aggregate, two queued snapshots in
// order, and two history entries.
func TestTwoMutationsProduceVersionTwoAndTwoOutboxItems(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store)

	_, err := svc.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)
	_, err = svc.SetAge(ctx, "u1", 30)
	require.NoError(t, err)

	p, err := svc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Aya", p.DisplayName)
	assert.Equal(t, 30, p.Age)
	assert.EqualValues(t, 2, p.Version)
	assert.Equal(t, "test-device", p.DeviceID)

	items, err := store.Drain(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, domain.OpUpsertProfile, item.Operation)
		assert.Equal(t, 0, item.Attempt)
	}

	// Each payload is the full snapshot as of its mutation.
	first, err := domain.DecodeProfileSnapshot(items[0].Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.Version)
	assert.Equal(t, "Aya", first.DisplayName)
	assert.Zero(t, first.Age)

	second, err := domain.DecodeProfileSnapshot(items[1].Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 2, second.Version)
	assert.Equal(t, "Aya", second.DisplayName)
	assert.Equal(t, 30, second.Age)

	entries, err := store.AuditEntries(ctx, "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "profile.displayName", entries[0].Action)
	assert.Equal(t, "profile.age", entries[1].Action)
}

func TestEverySetterBumpsVersionByOne(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store)

	goal := domain.GoalProfile{Type: domain.GoalLoseWeight, TargetWeightKg: 60}
	schedule := domain.WorkoutSchedule{Days: []int{1, 3, 5}, Reminder: true}

	mutations := []struct {
		name string
		run  func() (*domain.ProfileAggregate, error)
	}{
		{"displayName", func() (*domain.ProfileAggregate, error) { return svc.SetDisplayName(ctx, "u1", "Aya") }},
		{"gender", func() (*domain.ProfileAggregate, error) { return svc.SetGender(ctx, "u1", domain.GenderFemale) }},
		{"age", func() (*domain.ProfileAggregate, error) { return svc.SetAge(ctx, "u1", 30) }},
		{"height", func() (*domain.ProfileAggregate, error) { return svc.SetHeight(ctx, "u1", 168) }},
		{"currentWeight", func() (*domain.ProfileAggregate, error) { return svc.SetCurrentWeight(ctx, "u1", 64.2) }},
		{"trainingFrequency", func() (*domain.ProfileAggregate, error) { return svc.SetTrainingFrequency(ctx, "u1", 3) }},
		{"activities", func() (*domain.ProfileAggregate, error) { return svc.SetPreferredActivities(ctx, "u1", []string{"running"}) }},
		{"equipment", func() (*domain.ProfileAggregate, error) { return svc.SetOwnedEquipment(ctx, "u1", []string{"kettlebell"}) }},
		{"bodyType", func() (*domain.ProfileAggregate, error) { return svc.SetBodyType(ctx, "u1", domain.BodyTypeMesomorph) }},
		{"activityLevel", func() (*domain.ProfileAggregate, error) { return svc.SetActivityLevel(ctx, "u1", domain.ActivityModerate) }},
		{"goal", func() (*domain.ProfileAggregate, error) { return svc.SetGoal(ctx, "u1", goal) }},
		{"schedule", func() (*domain.ProfileAggregate, error) { return svc.SetSchedule(ctx, "u1", schedule) }},
	}

	var lastUpdated time.Time
	for i, m := range mutations {
		p, err := m.run()
		require.NoError(t, err, "mutation %s", m.name)
		assert.EqualValues(t, i+1, p.Version, "mutation %s", m.name)
		assert.False(t, p.UpdatedAt.Before(lastUpdated), "UpdatedAt regressed on %s", m.name)
		lastUpdated = p.UpdatedAt
	}

	// One queued snapshot and one history entry per mutation.
	n, err := store.PendingCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, len(mutations), n)

	entries, err := store.AuditEntries(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, len(mutations))
}

func TestFailedMutationLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	store := &faultStore{Store: inner}
	svc := newProfileService(store)

	// One good mutation to establish state.
	_, err := svc.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)

	// Now every commit fails.
	store.applyErr = fmt.Errorf("%w: disk full", repository.ErrPersistence)

	_, err = svc.SetAge(ctx, "u1", 30)
	require.ErrorIs(t, err, repository.ErrPersistence)

	_, err = svc.RecordWeight(ctx, "u1", "2025-03-01", 64.5)
	require.ErrorIs(t, err, repository.ErrPersistence)

	// Neither the aggregate, the ledger, the queue nor the history moved.
	p, err := inner.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Version)
	assert.Zero(t, p.Age)

	rows, err := inner.ListWeightEntries(ctx, "u1", "", "")
	require.NoError(t, err)
	assert.Empty(t, rows)

	n, err := inner.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	entries, err := inner.AuditEntries(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// Same-day writes overwrite in place: the ledger never grows past one row
// per day.
func TestRecordWeightSameDayOverwrites(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store)

	_, err := svc.RecordWeight(ctx, "u1", "2025-03-01", 61.0)
	require.NoError(t, err)
	_, err = svc.RecordWeight(ctx, "u1", "2025-03-01", 60.5)
	require.NoError(t, err)

	rows, err := svc.WeightHistory(ctx, "u1", "", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-03-01", rows[0].RecordDate)
	assert.Equal(t, 60.5, rows[0].WeightKg)

	// Both writes were still queued for the remote, in order.
	items, err := store.Drain(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, domain.OpUpsertWeight, items[0].Operation)
	assert.Equal(t, domain.OpUpsertWeight, items[1].Operation)

	latest, err := domain.DecodeWeightSnapshot(items[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, 60.5, latest.WeightKg)
}

func TestRecordWeightRejectsBadDay(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store)

	for _, bad := range []string{"2025-3-1", "March 1", ""} {
		_, err := svc.RecordWeight(ctx, "u1", bad, 60)
		assert.ErrorIs(t, err, domain.ErrInvalidDay, "day %q", bad)
	}

	n, err := store.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestDeleteWeightRemovesDayAndQueuesDeletion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store)

	_, err := svc.RecordWeight(ctx, "u1", "2025-03-01", 61.0)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteWeight(ctx, "u1", "2025-03-01"))

	rows, err := svc.WeightHistory(ctx, "u1", "", "")
	require.NoError(t, err)
	assert.Empty(t, rows)

	items, err := store.Drain(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, domain.OpUpsertWeight, items[0].Operation)
	assert.Equal(t, domain.OpDeleteWeight, items[1].Operation)

	deletion, err := domain.DecodeWeightDeletion(items[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", deletion.RecordDate)

	// Deleting an absent day reports it.
	err = svc.DeleteWeight(ctx, "u1", "2025-03-01")
	assert.ErrorIs(t, err, service.ErrWeightEntryNotFound)
}

func TestApplyPatchAppliesSetFieldsInOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store)

	name := "Aya"
	age := 30
	goal := domain.GoalProfile{Type: domain.GoalKeepFit}
	patch := service.ProfilePatch{DisplayName: &name, Age: &age, Goal: &goal}

	p, err := svc.ApplyPatch(ctx, "u1", patch)
	require.NoError(t, err)
	assert.EqualValues(t, 3, p.Version) // one bump per set field
	assert.Equal(t, "Aya", p.DisplayName)
	assert.Equal(t, 30, p.Age)
	require.NotNil(t, p.Goal)
	assert.Equal(t, domain.GoalKeepFit, p.Goal.Type)

	n, err := store.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestApplyPatchEmptyIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store)

	_, err := svc.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)

	p, err := svc.ApplyPatch(ctx, "u1", service.ProfilePatch{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Version)

	// No new queue or history rows.
	n, err := store.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	entries, err := store.AuditEntries(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInvalidSubRecordsRejectedWithoutVersionBump(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store)

	_, err := svc.SetGoal(ctx, "u1", domain.GoalProfile{Type: "get_swole"})
	assert.ErrorIs(t, err, domain.ErrInvalidGoal)

	_, err = svc.SetSchedule(ctx, "u1", domain.WorkoutSchedule{Days: []int{0}})
	assert.ErrorIs(t, err, domain.ErrInvalidSchedule)

	// Nothing was created.
	_, err = store.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	n, err := store.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

// Concurrent callers must observe gapless versions: N successful mutations
// mean exactly version N, N queued snapshots and N history entries.
func TestConcurrentMutationsStayGapless(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store)

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := svc.SetAge(ctx, "u1", 20+w)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	p, err := svc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, workers*perWorker, p.Version)

	n, err := store.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, workers*perWorker, n)

	// Snapshot versions drained in order cover 1..N without gaps.
	items, err := store.Drain(ctx, "u1", workers*perWorker)
	require.NoError(t, err)
	require.Len(t, items, workers*perWorker)
	seen := make(map[int64]bool)
	for _, item := range items {
		snap, err := domain.DecodeProfileSnapshot(item.Payload)
		require.NoError(t, err)
		assert.False(t, seen[snap.Version], "version %d queued twice", snap.Version)
		seen[snap.Version] = true
	}
	for v := int64(1); v <= workers*perWorker; v++ {
		assert.True(t, seen[v], "version %d missing from queue", v)
	}
}

func TestDeleteProfileResetsStateButKeepsHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store)

	_, err := svc.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)
	_, err = svc.RecordWeight(ctx, "u1", "2025-03-01", 61.0)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteProfile(ctx, "u1"))

	p, err := svc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, p.Version)

	rows, err := svc.WeightHistory(ctx, "u1", "", "")
	require.NoError(t, err)
	assert.Empty(t, rows)

	n, err := store.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	// The trail survives and records the reset itself.
	entries, err := svc.AuditTrail(ctx, "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "profile.delete", entries[2].Action)
}

func TestOutboxStatusFlagsStaleItems(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newProfileService(store) // stale threshold 3

	_, err := svc.SetDisplayName(ctx, "u1", "Aya")
	require.NoError(t, err)
	_, err = svc.SetAge(ctx, "u1", 30)
	require.NoError(t, err)

	items, err := store.Drain(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.MarkFailed(ctx, items[0].ID, "remote: 503"))
	}

	status, err := svc.OutboxStatus(ctx, "u1", 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, status.Pending)
	assert.Equal(t, 1, status.Stale)
	require.Len(t, status.Items, 2)
	assert.Equal(t, 3, status.Items[0].Attempt)
}

func TestSyncNowWithoutEngine(t *testing.T) {
	svc := newProfileService(memory.New())
	_, err := svc.SyncNow(context.Background(), "u1")
	assert.ErrorIs(t, err, service.ErrSyncEngineUnattached)
}

func TestWeightHistoryValidatesBounds(t *testing.T) {
	svc := newProfileService(memory.New())

	_, err := svc.WeightHistory(context.Background(), "u1", "01-03-2025", "")
	assert.ErrorIs(t, err, domain.ErrInvalidDay)

	_, err = svc.WeightHistory(context.Background(), "u1", "", "bad")
	assert.ErrorIs(t, err, domain.ErrInvalidDay)
}
