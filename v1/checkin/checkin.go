// Package checkin models habit check-ins recorded on a device and the
// background routine that syncs them to the remote store.
package checkin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DayLayout is the calendar day format used for CheckIn.Day.
const DayLayout = "2006-01-02"

var (
	// ErrInvalidCheckIn is returned when a check-in fails validation.
	ErrInvalidCheckIn = errors.New("checkin: invalid check-in")
	// ErrDuplicateCheckIn is returned when the habit already has a pending
	// check-in for the same day.
	ErrDuplicateCheckIn = errors.New("checkin: duplicate check-in")
)

// CheckIn records that a habit was completed on a given day.
type CheckIn struct {
	ID          string    `json:"id"`
	HabitID     string    `json:"habit_id"`
	Day         string    `json:"day"`
	CompletedAt time.Time `json:"completed_at"`
	Note        string    `json:"note,omitempty"`
}

// New builds a check-in with a fresh ID and validates it.
func New(habitID, day string, completedAt time.Time, note string) (CheckIn, error) {
	c := CheckIn{
		ID:          uuid.NewString(),
		HabitID:     strings.TrimSpace(habitID),
		Day:         day,
		CompletedAt: completedAt.UTC(),
		Note:        note,
	}
	if err := c.Validate(); err != nil {
		return CheckIn{}, err
	}
	return c, nil
}

// Validate reports the first invalid field, wrapped in ErrInvalidCheckIn.
func (c CheckIn) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidCheckIn)
	}
	if c.HabitID == "" {
		return fmt.Errorf("%w: missing habit id", ErrInvalidCheckIn)
	}
	if _, err := time.Parse(DayLayout, c.Day); err != nil {
		return fmt.Errorf("%w: day %q is not %s", ErrInvalidCheckIn, c.Day, DayLayout)
	}
	if c.CompletedAt.IsZero() {
		return fmt.Errorf("%w: missing completion time", ErrInvalidCheckIn)
	}
	return nil
}

// key identifies the habit-day slot a check-in occupies.
func (c CheckIn) key() string {
	return c.HabitID + "/" + c.Day
}
