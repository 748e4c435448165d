package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/repository"
)

// --- Error Definitions ---
var (
	ErrUserIDRequired       = errors.New("user ID is required")
	ErrWeightEntryNotFound  = errors.New("no weight entry recorded for this day")
	ErrSyncEngineUnattached = errors.New("sync engine is not attached")
)

// Audit action tags. One tag per mutation kind; the trail is the user's
// "what changed" history.
const (
	actionDisplayName   = "profile.displayName"
	actionGender        = "profile.gender"
	actionAge           = "profile.age"
	actionHeight        = "profile.heightCm"
	actionCurrentWeight = "profile.currentWeightKg"
	actionTrainingFreq  = "profile.trainingFrequency"
	actionActivities    = "profile.preferredActivities"
	actionEquipment     = "profile.ownedEquipment"
	actionBodyType      = "profile.bodyType"
	actionActivityLevel = "profile.activityLevel"
	actionGoal          = "profile.goal"
	actionSchedule      = "profile.schedule"
	actionWeightRecord  = "weight.record"
	actionWeightDelete  = "weight.delete"
	actionProfileDelete = "profile.delete"
	actionSyncConflict  = "sync.conflict"
)

// ProfilePatch carries optional new values for the aggregate's mutable
// fields. Nil fields are skipped; each set field is applied as its own
// mutation in declaration order.
type ProfilePatch struct {
	DisplayName         *string
	Gender              *domain.Gender
	Age                 *int
	HeightCm            *float64
	CurrentWeightKg     *float64
	TrainingFrequency   *int
	PreferredActivities *[]string
	OwnedEquipment      *[]string
	BodyType            *domain.BodyType
	ActivityLevel       *domain.ActivityLevel
	Goal                *domain.GoalProfile
	Schedule            *domain.WorkoutSchedule
}

// IsEmpty reports whether no field is set.
func (p ProfilePatch) IsEmpty() bool {
	return p.DisplayName == nil && p.Gender == nil && p.Age == nil &&
		p.HeightCm == nil && p.CurrentWeightKg == nil && p.TrainingFrequency == nil &&
		p.PreferredActivities == nil && p.OwnedEquipment == nil && p.BodyType == nil &&
		p.ActivityLevel == nil && p.Goal == nil && p.Schedule == nil
}

// OutboxStatus is the diagnostics view of a user's pending queue.
type OutboxStatus struct {
	Pending int64               `json:"pending"`
	Stale   int                 `json:"stale"` // Items at or past the stale attempt threshold
	Items   []domain.OutboxItem `json:"items,omitempty"`
}

// ProfileService is the single entry point the UI talks to. Every mutation
// commits the aggregate, its audit entry and its outbox item as one unit;
// reads never block on the network.
type ProfileService interface {
	GetProfile(ctx context.Context, userID string) (*domain.ProfileAggregate, error)

	// Field setters. Each bumps the version by exactly one.
	SetDisplayName(ctx context.Context, userID, name string) (*domain.ProfileAggregate, error)
	SetGender(ctx context.Context, userID string, gender domain.Gender) (*domain.ProfileAggregate, error)
	SetAge(ctx context.Context, userID string, age int) (*domain.ProfileAggregate, error)
	SetHeight(ctx context.Context, userID string, heightCm float64) (*domain.ProfileAggregate, error)
	SetCurrentWeight(ctx context.Context, userID string, weightKg float64) (*domain.ProfileAggregate, error)
	SetTrainingFrequency(ctx context.Context, userID string, perWeek int) (*domain.ProfileAggregate, error)
	SetPreferredActivities(ctx context.Context, userID string, activities []string) (*domain.ProfileAggregate, error)
	SetOwnedEquipment(ctx context.Context, userID string, equipment []string) (*domain.ProfileAggregate, error)
	SetBodyType(ctx context.Context, userID string, bodyType domain.BodyType) (*domain.ProfileAggregate, error)
	SetActivityLevel(ctx context.Context, userID string, level domain.ActivityLevel) (*domain.ProfileAggregate, error)
	SetGoal(ctx context.Context, userID string, goal domain.GoalProfile) (*domain.ProfileAggregate, error)
	SetSchedule(ctx context.Context, userID string, schedule domain.WorkoutSchedule) (*domain.ProfileAggregate, error)

	// ApplyPatch applies the set fields of the patch in order, skipping nil
	// ones. An all-nil patch mutates nothing and returns the current state.
	ApplyPatch(ctx context.Context, userID string, patch ProfilePatch) (*domain.ProfileAggregate, error)

	// Weight ledger.
	RecordWeight(ctx context.Context, userID, day string, weightKg float64) (*domain.WeightLogEntry, error)
	DeleteWeight(ctx context.Context, userID, day string) error
	WeightHistory(ctx context.Context, userID, from, to string) ([]domain.WeightLogEntry, error)

	// Diagnostics.
	AuditTrail(ctx context.Context, userID string, since time.Time) ([]domain.AuditLogEntry, error)
	OutboxStatus(ctx context.Context, userID string, limit int) (*OutboxStatus, error)

	// SyncNow pushes the user's backlog once. Remote failures are absorbed
	// into the report, never returned as errors.
	SyncNow(ctx context.Context, userID string) (*SyncReport, error)

	// DeleteProfile is the local reset: aggregate, ledger and pending queue
	// are removed, audit history stays.
	DeleteProfile(ctx context.Context, userID string) error
}

// profileService implements the ProfileService interface.
type profileService struct {
	store         repository.Store
	locks         *UserLocks
	engine        SyncEngine
	deviceID      string
	staleAttempts int
	logger        *slog.Logger
}

// NewProfileService creates a new instance of profileService. locks must be
// the same instance the sync engine uses.
func NewProfileService(
	store repository.Store,
	locks *UserLocks,
	engine SyncEngine,
	deviceID string,
	staleAttempts int,
	logger *slog.Logger,
) ProfileService {
	if staleAttempts <= 0 {
		staleAttempts = 10
	}
	return &profileService{
		store:         store,
		locks:         locks,
		engine:        engine,
		deviceID:      deviceID,
		staleAttempts: staleAttempts,
		logger:        logger,
	}
}

// GetProfile returns the stored aggregate, or the zero-valued one when the
// user has never mutated anything. The zero aggregate is not persisted.
func (s *profileService) GetProfile(ctx context.Context, userID string) (*domain.ProfileAggregate, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewProfile(userID), nil
		}
		return nil, err
	}
	return profile, nil
}

// mutate is the one write path for aggregate fields: load, apply, bump,
// snapshot, commit. The user lock is held across the whole unit so versions
// stay gapless under concurrent callers.
func (s *profileService) mutate(ctx context.Context, userID, action string, metadata map[string]string, apply func(p *domain.ProfileAggregate) error) (*domain.ProfileAggregate, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	mu := s.locks.ForUser(userID)
	mu.Lock()
	defer mu.Unlock()

	// 1. Load the current aggregate, or start from the zero value.
	current, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		current = domain.NewProfile(userID)
	}

	// 2. Apply the field change to a copy.
	next := current.Clone()
	if err := apply(next); err != nil {
		return nil, err
	}
	now := time.Now()
	next.Touch(s.deviceID, now)

	// 3. Encode the outbox snapshot of the post-mutation state.
	payload, err := domain.EncodeProfileSnapshot(next)
	if err != nil {
		return nil, err
	}

	// 4. Commit aggregate, outbox item and audit entry as one unit.
	batch := repository.MutationBatch{
		UserID:  userID,
		Profile: next,
		Outbox:  domain.NewOutboxItem(userID, domain.OpUpsertProfile, payload, now),
		Audit:   domain.NewAuditEntry(userID, action, now, metadata),
	}
	if err := s.store.ApplyMutation(ctx, batch); err != nil {
		return nil, err
	}
	return next, nil
}

// === Field setters ===

func (s *profileService) SetDisplayName(ctx context.Context, userID, name string) (*domain.ProfileAggregate, error) {
	return s.mutate(ctx, userID, actionDisplayName, map[string]string{"displayName": name}, func(p *domain.ProfileAggregate) error {
		p.DisplayName = name
		return nil
	})
}

func (s *profileService) SetGender(ctx context.Context, userID string, gender domain.Gender) (*domain.ProfileAggregate, error) {
	return s.mutate(ctx, userID, actionGender, map[string]string{"gender": string(gender)}, func(p *domain.ProfileAggregate) error {
		p.Gender = gender
		return nil
	})
}

func (s *profileService) SetAge(ctx context.Context, userID string, age int) (*domain.ProfileAggregate, error) {
	return s.mutate(ctx, userID, actionAge, map[string]string{"age": strconv.Itoa(age)}, func(p *domain.ProfileAggregate) error {
		p.Age = age
		return nil
	})
}

func (s *profileService) SetHeight(ctx context.Context, userID string, heightCm float64) (*domain.ProfileAggregate, error) {
	meta := map[string]string{"heightCm": strconv.FormatFloat(heightCm, 'f', -1, 64)}
	return s.mutate(ctx, userID, actionHeight, meta, func(p *domain.ProfileAggregate) error {
		p.HeightCm = heightCm
		return nil
	})
}

func (s *profileService) SetCurrentWeight(ctx context.Context, userID string, weightKg float64) (*domain.ProfileAggregate, error) {
	meta := map[string]string{"currentWeightKg": strconv.FormatFloat(weightKg, 'f', -1, 64)}
	return s.mutate(ctx, userID, actionCurrentWeight, meta, func(p *domain.ProfileAggregate) error {
		p.CurrentWeightKg = weightKg
		return nil
	})
}

func (s *profileService) SetTrainingFrequency(ctx context.Context, userID string, perWeek int) (*domain.ProfileAggregate, error) {
	meta := map[string]string{"trainingFrequency": strconv.Itoa(perWeek)}
	return s.mutate(ctx, userID, actionTrainingFreq, meta, func(p *domain.ProfileAggregate) error {
		p.TrainingFrequency = perWeek
		return nil
	})
}

func (s *profileService) SetPreferredActivities(ctx context.Context, userID string, activities []string) (*domain.ProfileAggregate, error) {
	meta := map[string]string{"count": strconv.Itoa(len(activities))}
	return s.mutate(ctx, userID, actionActivities, meta, func(p *domain.ProfileAggregate) error {
		p.PreferredActivities = append([]string(nil), activities...)
		return nil
	})
}

func (s *profileService) SetOwnedEquipment(ctx context.Context, userID string, equipment []string) (*domain.ProfileAggregate, error) {
	meta := map[string]string{"count": strconv.Itoa(len(equipment))}
	return s.mutate(ctx, userID, actionEquipment, meta, func(p *domain.ProfileAggregate) error {
		p.OwnedEquipment = append([]string(nil), equipment...)
		return nil
	})
}

func (s *profileService) SetBodyType(ctx context.Context, userID string, bodyType domain.BodyType) (*domain.ProfileAggregate, error) {
	return s.mutate(ctx, userID, actionBodyType, map[string]string{"bodyType": string(bodyType)}, func(p *domain.ProfileAggregate) error {
		p.BodyType = bodyType
		return nil
	})
}

func (s *profileService) SetActivityLevel(ctx context.Context, userID string, level domain.ActivityLevel) (*domain.ProfileAggregate, error) {
	return s.mutate(ctx, userID, actionActivityLevel, map[string]string{"activityLevel": string(level)}, func(p *domain.ProfileAggregate) error {
		p.ActivityLevel = level
		return nil
	})
}

func (s *profileService) SetGoal(ctx context.Context, userID string, goal domain.GoalProfile) (*domain.ProfileAggregate, error) {
	return s.mutate(ctx, userID, actionGoal, map[string]string{"type": string(goal.Type)}, func(p *domain.ProfileAggregate) error {
		if err := goal.Validate(); err != nil {
			return err
		}
		copied := goal
		if goal.Plan != nil {
			plan := *goal.Plan
			copied.Plan = &plan
		}
		p.Goal = &copied
		return nil
	})
}

func (s *profileService) SetSchedule(ctx context.Context, userID string, schedule domain.WorkoutSchedule) (*domain.ProfileAggregate, error) {
	meta := map[string]string{"days": strconv.Itoa(len(schedule.Days))}
	return s.mutate(ctx, userID, actionSchedule, meta, func(p *domain.ProfileAggregate) error {
		if err := schedule.Validate(); err != nil {
			return err
		}
		copied := schedule
		copied.Days = append([]int(nil), schedule.Days...)
		copied.Times = append([]domain.ScheduleTime(nil), schedule.Times...)
		p.Schedule = &copied
		return nil
	})
}

// ApplyPatch applies each set field as its own mutation, in declaration
// order. An error mid-way leaves the earlier fields committed; the fields
// are independent updates, not a transaction.
func (s *profileService) ApplyPatch(ctx context.Context, userID string, patch ProfilePatch) (*domain.ProfileAggregate, error) {
	if patch.IsEmpty() {
		return s.GetProfile(ctx, userID)
	}

	steps := []struct {
		set bool
		run func() (*domain.ProfileAggregate, error)
	}{
		{patch.DisplayName != nil, func() (*domain.ProfileAggregate, error) { return s.SetDisplayName(ctx, userID, *patch.DisplayName) }},
		{patch.Gender != nil, func() (*domain.ProfileAggregate, error) { return s.SetGender(ctx, userID, *patch.Gender) }},
		{patch.Age != nil, func() (*domain.ProfileAggregate, error) { return s.SetAge(ctx, userID, *patch.Age) }},
		{patch.HeightCm != nil, func() (*domain.ProfileAggregate, error) { return s.SetHeight(ctx, userID, *patch.HeightCm) }},
		{patch.CurrentWeightKg != nil, func() (*domain.ProfileAggregate, error) { return s.SetCurrentWeight(ctx, userID, *patch.CurrentWeightKg) }},
		{patch.TrainingFrequency != nil, func() (*domain.ProfileAggregate, error) { return s.SetTrainingFrequency(ctx, userID, *patch.TrainingFrequency) }},
		{patch.PreferredActivities != nil, func() (*domain.ProfileAggregate, error) { return s.SetPreferredActivities(ctx, userID, *patch.PreferredActivities) }},
		{patch.OwnedEquipment != nil, func() (*domain.ProfileAggregate, error) { return s.SetOwnedEquipment(ctx, userID, *patch.OwnedEquipment) }},
		{patch.BodyType != nil, func() (*domain.ProfileAggregate, error) { return s.SetBodyType(ctx, userID, *patch.BodyType) }},
		{patch.ActivityLevel != nil, func() (*domain.ProfileAggregate, error) { return s.SetActivityLevel(ctx, userID, *patch.ActivityLevel) }},
		{patch.Goal != nil, func() (*domain.ProfileAggregate, error) { return s.SetGoal(ctx, userID, *patch.Goal) }},
		{patch.Schedule != nil, func() (*domain.ProfileAggregate, error) { return s.SetSchedule(ctx, userID, *patch.Schedule) }},
	}

	var result *domain.ProfileAggregate
	for _, step := range steps {
		if !step.set {
			continue
		}
		next, err := step.run()
		if err != nil {
			return nil, err
		}
		result = next
	}
	return result, nil
}

// === Weight ledger ===

// RecordWeight upserts the ledger row for one calendar day. Same-day writes
// overwrite; the row count never grows past one per day.
func (s *profileService) RecordWeight(ctx context.Context, userID, day string, weightKg float64) (*domain.WeightLogEntry, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if _, err := domain.ParseDay(day); err != nil {
		return nil, err
	}

	mu := s.locks.ForUser(userID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	entry := &domain.WeightLogEntry{
		UserID:     userID,
		RecordDate: day,
		WeightKg:   weightKg,
		UpdatedAt:  now.UTC(),
		DeviceID:   s.deviceID,
	}

	payload, err := domain.EncodeWeightSnapshot(entry)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		"recordDate": day,
		"weightKg":   strconv.FormatFloat(weightKg, 'f', -1, 64),
	}
	batch := repository.MutationBatch{
		UserID: userID,
		Weight: entry,
		Outbox: domain.NewOutboxItem(userID, domain.OpUpsertWeight, payload, now),
		Audit:  domain.NewAuditEntry(userID, actionWeightRecord, now, meta),
	}
	if err := s.store.ApplyMutation(ctx, batch); err != nil {
		return nil, err
	}
	return entry, nil
}

// DeleteWeight removes the ledger row for one day and queues the deletion
// for the remote.
func (s *profileService) DeleteWeight(ctx context.Context, userID, day string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	if _, err := domain.ParseDay(day); err != nil {
		return err
	}

	mu := s.locks.ForUser(userID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.store.GetWeightEntry(ctx, userID, day); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrWeightEntryNotFound
		}
		return err
	}

	now := time.Now()
	payload, err := domain.EncodeWeightDeletion(userID, day, now)
	if err != nil {
		return err
	}

	batch := repository.MutationBatch{
		UserID:          userID,
		DeleteWeightDay: day,
		Outbox:          domain.NewOutboxItem(userID, domain.OpDeleteWeight, payload, now),
		Audit:           domain.NewAuditEntry(userID, actionWeightDelete, now, map[string]string{"recordDate": day}),
	}
	return s.store.ApplyMutation(ctx, batch)
}

// WeightHistory lists ledger rows in day order.
func (s *profileService) WeightHistory(ctx context.Context, userID, from, to string) ([]domain.WeightLogEntry, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if from != "" {
		if _, err := domain.ParseDay(from); err != nil {
			return nil, err
		}
	}
	if to != "" {
		if _, err := domain.ParseDay(to); err != nil {
			return nil, err
		}
	}
	return s.store.ListWeightEntries(ctx, userID, from, to)
}

// === Diagnostics ===

func (s *profileService) AuditTrail(ctx context.Context, userID string, since time.Time) ([]domain.AuditLogEntry, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return s.store.AuditEntries(ctx, userID, since)
}

func (s *profileService) OutboxStatus(ctx context.Context, userID string, limit int) (*OutboxStatus, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	pending, err := s.store.PendingCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.Drain(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	status := &OutboxStatus{Pending: pending, Items: items}
	for _, item := range items {
		if item.Attempt >= s.staleAttempts {
			status.Stale++
		}
	}
	return status, nil
}

func (s *profileService) SyncNow(ctx context.Context, userID string) (*SyncReport, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if s.engine == nil {
		return nil, ErrSyncEngineUnattached
	}
	return s.engine.Push(ctx, userID)
}

// DeleteProfile resets the user's local state. The audit entry recording the
// reset is appended afterwards; if that append fails the reset stands.
func (s *profileService) DeleteProfile(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	mu := s.locks.ForUser(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.DeleteProfile(ctx, userID); err != nil {
		return err
	}

	entry := domain.NewAuditEntry(userID, actionProfileDelete, time.Now(), nil)
	if err := s.store.ApplyMutation(ctx, repository.MutationBatch{UserID: userID, Audit: entry}); err != nil {
		s.logger.Warn("audit append after profile delete failed", "userId", userID, "error", err)
	}
	return nil
}
