package domain

import (
	"errors"
	"fmt"
	"time"
)

// DayFormat is the wire format for calendar days. Weight entries are keyed
// by day, never by instant, so time zones and clock precision stay out of
// the uniqueness rule.
const DayFormat = "2006-01-02"

// ErrInvalidDay marks a record date that does not parse as DayFormat.
var ErrInvalidDay = errors.New("invalid record date")

// ParseDay validates a calendar day string.
func ParseDay(day string) (time.Time, error) {
	t, err := time.Parse(DayFormat, day)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}
	return t, nil
}

// FormatDay renders t as a calendar day in UTC.
func FormatDay(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// WeightLogEntry is one row of the weight ledger. At most one entry exists
// per user per RecordDate; recording again on the same day overwrites.
type WeightLogEntry struct {
	UserID     string    `bson:"userId" json:"userId"`
	RecordDate string    `bson:"recordDate" json:"recordDate"` // Calendar day, DayFormat
	WeightKg   float64   `bson:"weightKg" json:"weightKg"`
	UpdatedAt  time.Time `bson:"updatedAt" json:"updatedAt"`
	DeviceID   string    `bson:"deviceId,omitempty" json:"deviceId,omitempty"`
}
