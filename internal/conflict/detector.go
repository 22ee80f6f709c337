// Package conflict checks proposed intervals against an instructor's existing bookings.
package conflict

import (
	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/slot"
)

// Find возвращает первое активное бронирование, пересекающееся с proposed.
// Бронирование с ID == excludeID не учитывается (перенос самого себя).
func Find(proposed slot.Interval, bookings []*model.Booking, excludeID int64) *model.Booking {
	for _, b := range bookings {
		if b == nil || !b.IsActive() || (excludeID != 0 && b.ID == excludeID) {
			continue
		}
		if proposed.Overlaps(slot.Interval{Start: b.StartSlot, End: b.EndSlot()}) {
			return b
		}
	}
	return nil
}

// HasConflict reports whether proposed overlaps any non-cancelled booking.
// Bookings are expected to belong to one instructor and date.
func HasConflict(proposed slot.Interval, bookings []*model.Booking) bool {
	return Find(proposed, bookings, 0) != nil
}
