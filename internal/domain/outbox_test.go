package domain_test

import (
	"errors"
	"testing"
	"time"

	"alcyxob/profile-sync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileSnapshotRoundTrip(t *testing.T) {
	selected := time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)
	p := &domain.ProfileAggregate{
		UserID:              "u1",
		DeviceID:            "phone-1",
		Version:             7,
		UpdatedAt:           time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		DisplayName:         "Olena",
		Gender:              domain.GenderFemale,
		Age:                 31,
		HeightCm:            168,
		CurrentWeightKg:     64.2,
		TrainingFrequency:   3,
		PreferredActivities: []string{"running", "yoga"},
		OwnedEquipment:      []string{"kettlebell"},
		BodyType:            domain.BodyTypeMesomorph,
		ActivityLevel:       domain.ActivityModerate,
		Goal: &domain.GoalProfile{
			Type:           domain.GoalLoseWeight,
			TargetWeightKg: 60,
			Plan: &domain.PlanSelection{
				Difficulty:    "medium",
				WeeklyRateKg:  0.5,
				DailyCalories: 1850,
				WeeksNeeded:   9,
				SelectedAt:    selected,
				TargetDate:    selected.AddDate(0, 0, 9*7),
			},
		},
		Schedule: &domain.WorkoutSchedule{
			Days:     []int{1, 3, 5},
			Times:    []domain.ScheduleTime{{Day: 1, At: "07:00"}, {Day: 5, At: "18:30"}},
			Reminder: true,
		},
	}

	raw, err := domain.EncodeProfileSnapshot(p)
	require.NoError(t, err)

	got, err := domain.DecodeProfileSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestWeightSnapshotRoundTrip(t *testing.T) {
	e := &domain.WeightLogEntry{
		UserID:     "u1",
		RecordDate: "2025-03-01",
		WeightKg:   64.2,
		UpdatedAt:  time.Date(2025, 3, 1, 8, 15, 0, 0, time.UTC),
		DeviceID:   "phone-1",
	}

	raw, err := domain.EncodeWeightSnapshot(e)
	require.NoError(t, err)

	got, err := domain.DecodeWeightSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestWeightDeletionRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 2, 11, 0, 0, 0, time.UTC)

	raw, err := domain.EncodeWeightDeletion("u1", "2025-03-01", at)
	require.NoError(t, err)

	got, err := domain.DecodeWeightDeletion(raw)
	require.NoError(t, err)
	assert.Equal(t, &domain.WeightDeletion{UserID: "u1", RecordDate: "2025-03-01", DeletedAt: at}, got)
}

func TestDecodeGarbageReportsEncodingFailure(t *testing.T) {
	garbage := []byte(`{"userId": 42,`)

	_, err := domain.DecodeProfileSnapshot(garbage)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEncoding))

	_, err = domain.DecodeWeightSnapshot(garbage)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEncoding))

	_, err = domain.DecodeWeightDeletion(garbage)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEncoding))
}

func TestNewOutboxItemNormalizesToUTC(t *testing.T) {
	kyiv := time.FixedZone("EET", 2*60*60)
	local := time.Date(2025, 3, 1, 12, 0, 0, 0, kyiv)

	item := domain.NewOutboxItem("u1", domain.OpUpsertWeight, []byte(`{}`), local)

	assert.Equal(t, time.UTC, item.CreatedAt.Location())
	assert.True(t, item.CreatedAt.Equal(local))
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, 0, item.Attempt)
	assert.Nil(t, item.LastError)
}
