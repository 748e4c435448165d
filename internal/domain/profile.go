package domain

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors for the aggregate sub-records.
var (
	ErrInvalidGoal     = errors.New("invalid goal")
	ErrInvalidSchedule = errors.New("invalid workout schedule")
)

// Gender as selected during onboarding.
type Gender string

const (
	GenderFemale      Gender = "female"
	GenderMale        Gender = "male"
	GenderOther       Gender = "other"
	GenderUnspecified Gender = "" // Default until the user picks one
)

// BodyType self-assessment used by the plan calculator.
type BodyType string

const (
	BodyTypeEctomorph  BodyType = "ectomorph"
	BodyTypeMesomorph  BodyType = "mesomorph"
	BodyTypeEndomorph  BodyType = "endomorph"
	BodyTypeUnassessed BodyType = ""
)

// ActivityLevel describes baseline daily activity outside of workouts.
type ActivityLevel string

const (
	ActivitySedentary ActivityLevel = "sedentary"
	ActivityLight     ActivityLevel = "light"
	ActivityModerate  ActivityLevel = "moderate"
	ActivityHigh      ActivityLevel = "high"
)

// GoalType for the user's primary objective.
type GoalType string

const (
	GoalLoseWeight   GoalType = "lose_weight"
	GoalGainMuscle   GoalType = "gain_muscle"
	GoalKeepFit      GoalType = "keep_fit"
	GoalGainStrength GoalType = "gain_strength"
)

// ValidGoalType reports whether t is one of the known goal types.
func ValidGoalType(t GoalType) bool {
	switch t {
	case GoalLoseWeight, GoalGainMuscle, GoalKeepFit, GoalGainStrength:
		return true
	}
	return false
}

// PlanSelection captures the concrete plan the user accepted for their goal.
type PlanSelection struct {
	Difficulty    string    `bson:"difficulty" json:"difficulty"` // e.g. "easy", "medium", "hard"
	WeeklyRateKg  float64   `bson:"weeklyRateKg" json:"weeklyRateKg"`
	DailyCalories int       `bson:"dailyCalories" json:"dailyCalories"`
	WeeksNeeded   int       `bson:"weeksNeeded" json:"weeksNeeded"`
	SelectedAt    time.Time `bson:"selectedAt" json:"selectedAt"`
	TargetDate    time.Time `bson:"targetDate" json:"targetDate"`
}

// GoalProfile is the goal sub-record of the aggregate. Plan stays nil until
// the user commits to one.
type GoalProfile struct {
	Type           GoalType       `bson:"type" json:"type"`
	TargetWeightKg float64        `bson:"targetWeightKg,omitempty" json:"targetWeightKg,omitempty"`
	Plan           *PlanSelection `bson:"plan,omitempty" json:"plan,omitempty"`
}

// Validate checks the goal type against the known set.
func (g *GoalProfile) Validate() error {
	if !ValidGoalType(g.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidGoal, g.Type)
	}
	return nil
}

// ScheduleTime is a preferred workout time on a given weekday.
type ScheduleTime struct {
	Day int    `bson:"day" json:"day"` // ISO weekday, 1 (Monday) .. 7 (Sunday)
	At  string `bson:"at" json:"at"`   // Wall-clock "HH:MM"
}

// WorkoutSchedule is the weekly training schedule sub-record.
type WorkoutSchedule struct {
	Days     []int          `bson:"days" json:"days"` // Selected ISO weekdays
	Times    []ScheduleTime `bson:"times,omitempty" json:"times,omitempty"`
	Reminder bool           `bson:"reminder" json:"reminder"`
}

// Validate checks weekday ranges and the HH:MM shape of preferred times.
// Nothing else is enforced here; range checks on user-entered numbers live
// with the caller.
func (s *WorkoutSchedule) Validate() error {
	seen := make(map[int]bool, len(s.Days))
	for _, d := range s.Days {
		if d < 1 || d > 7 {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidSchedule, d)
		}
		if seen[d] {
			return fmt.Errorf("%w: weekday %d listed twice", ErrInvalidSchedule, d)
		}
		seen[d] = true
	}
	for _, t := range s.Times {
		if t.Day < 1 || t.Day > 7 {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidSchedule, t.Day)
		}
		if _, err := time.Parse("15:04", t.At); err != nil {
			return fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidSchedule, t.At)
		}
	}
	return nil
}

// ProfileAggregate is the full local profile for one user: identity scalars,
// onboarding answers and the tagged sub-records. It is stored and shipped as
// one document; Version and UpdatedAt drive conflict resolution.
type ProfileAggregate struct {
	UserID    string    `bson:"_id" json:"userId"`
	DeviceID  string    `bson:"deviceId,omitempty" json:"deviceId,omitempty"` // Device that wrote the last mutation
	Version   int64     `bson:"version" json:"version"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`

	DisplayName     string  `bson:"displayName,omitempty" json:"displayName,omitempty"`
	Gender          Gender  `bson:"gender,omitempty" json:"gender,omitempty"`
	Age             int     `bson:"age,omitempty" json:"age,omitempty"`
	HeightCm        float64 `bson:"heightCm,omitempty" json:"heightCm,omitempty"`
	CurrentWeightKg float64 `bson:"currentWeightKg,omitempty" json:"currentWeightKg,omitempty"`

	TrainingFrequency   int           `bson:"trainingFrequency,omitempty" json:"trainingFrequency,omitempty"` // Sessions per week
	PreferredActivities []string      `bson:"preferredActivities,omitempty" json:"preferredActivities,omitempty"`
	OwnedEquipment      []string      `bson:"ownedEquipment,omitempty" json:"ownedEquipment,omitempty"`
	BodyType            BodyType      `bson:"bodyType,omitempty" json:"bodyType,omitempty"`
	ActivityLevel       ActivityLevel `bson:"activityLevel,omitempty" json:"activityLevel,omitempty"`

	Goal     *GoalProfile     `bson:"goal,omitempty" json:"goal,omitempty"`
	Schedule *WorkoutSchedule `bson:"schedule,omitempty" json:"schedule,omitempty"`
}

// NewProfile returns the zero-valued aggregate for a user. Version 0 means
// the profile has never been mutated and is not persisted yet.
func NewProfile(userID string) *ProfileAggregate {
	return &ProfileAggregate{UserID: userID}
}

// Touch records a mutation: bumps Version, stamps the writing device and
// advances UpdatedAt. UpdatedAt never moves backwards even if the wall clock
// does.
func (p *ProfileAggregate) Touch(deviceID string, now time.Time) {
	p.Version++
	p.DeviceID = deviceID
	if now = now.UTC(); now.After(p.UpdatedAt) {
		p.UpdatedAt = now
	}
}

// NewerThan reports whether p supersedes other under last-writer-wins.
// UpdatedAt decides; Version breaks exact timestamp ties.
func (p *ProfileAggregate) NewerThan(other *ProfileAggregate) bool {
	if other == nil {
		return true
	}
	if p.UpdatedAt.Equal(other.UpdatedAt) {
		return p.Version > other.Version
	}
	return p.UpdatedAt.After(other.UpdatedAt)
}

// Clone returns a deep copy so callers can mutate without aliasing the
// stored aggregate.
func (p *ProfileAggregate) Clone() *ProfileAggregate {
	if p == nil {
		return nil
	}
	out := *p
	if p.PreferredActivities != nil {
		out.PreferredActivities = append([]string(nil), p.PreferredActivities...)
	}
	if p.OwnedEquipment != nil {
		out.OwnedEquipment = append([]string(nil), p.OwnedEquipment...)
	}
	if p.Goal != nil {
		goal := *p.Goal
		if p.Goal.Plan != nil {
			plan := *p.Goal.Plan
			goal.Plan = &plan
		}
		out.Goal = &goal
	}
	if p.Schedule != nil {
		sched := *p.Schedule
		if p.Schedule.Days != nil {
			sched.Days = append([]int(nil), p.Schedule.Days...)
		}
		if p.Schedule.Times != nil {
			sched.Times = append([]ScheduleTime(nil), p.Schedule.Times...)
		}
		out.Schedule = &sched
	}
	return &out
}
