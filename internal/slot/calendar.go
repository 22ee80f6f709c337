// Package slot converts between wall-clock time of a UTC day and 15-minute slot indexes.
package slot

import (
	"fmt"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

const (
	Minutes = 15
	PerDay  = 24 * 60 / Minutes // 96
	Last    = PerDay - 1
)

// ToSlot переводит час и минуту в индекс слота
func ToSlot(hour, minute int) (int, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || minute%Minutes != 0 {
		return 0, fmt.Errorf("%02d:%02d: %w", hour, minute, model.ErrInvalidSlot)
	}
	return hour*(60/Minutes) + minute/Minutes, nil
}

// ToClock переводит слот обратно в час и минуту
func ToClock(s int) (hour, minute int, err error) {
	if err := Validate(s); err != nil {
		return 0, 0, err
	}
	total := s * Minutes
	return total / 60, total % 60, nil
}

// Validate checks that s is within [0, Last].
func Validate(s int) error {
	if s < 0 || s > Last {
		return fmt.Errorf("slot %d: %w", s, model.ErrInvalidSlot)
	}
	return nil
}

// End returns start+duration, the exclusive end of the interval.
func End(start, duration int) (int, error) {
	if err := Validate(start); err != nil {
		return 0, err
	}
	if duration <= 0 {
		return 0, model.Invalid("duration", "must be positive")
	}
	end := start + duration
	if end > PerDay {
		return 0, fmt.Errorf("slot %d + %d: %w", start, duration, model.ErrSlotRangeExceeded)
	}
	return end, nil
}

// Of returns the slot containing t (truncated to the slot boundary).
func Of(t time.Time) int {
	t = t.UTC()
	return (t.Hour()*60 + t.Minute()) / Minutes
}

// Time returns the instant at which slot s starts on the given date.
func Time(date time.Time, s int) time.Time {
	return model.DateOf(date).Add(time.Duration(s*Minutes) * time.Minute)
}

// Format выводит слот как ЧЧ:ММ, 96 выводится как 24:00
func Format(s int) string {
	return fmt.Sprintf("%02d:%02d", s*Minutes/60, s*Minutes%60)
}
