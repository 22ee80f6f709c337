// Package availability computes an instructor's open intervals for one UTC date.
package availability

import (
	"sort"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/slot"
)

// Resolve вычитает блокировки из недельного шаблона на конкретную дату.
// Записи шаблона обрабатываются независимо, соседние интервалы не склеиваются.
func Resolve(date time.Time, weekly []*model.WeeklyAvailability, blocked []*model.BlockedInterval) []slot.Interval {
	day := model.DateOf(date)
	weekday := int(day.Weekday())

	var cuts []slot.Interval
	for _, b := range blocked {
		if cut, ok := BlockedSlots(day, b); ok {
			cuts = append(cuts, cut)
		}
	}

	open := []slot.Interval{}
	for _, entry := range weekly {
		if entry == nil || entry.Weekday != weekday {
			continue
		}
		pieces := []slot.Interval{{Start: entry.StartSlot, End: entry.EndSlot}}
		if pieces[0].Empty() {
			continue
		}
		for _, cut := range cuts {
			var next []slot.Interval
			for _, p := range pieces {
				next = append(next, p.Subtract(cut)...)
			}
			pieces = next
		}
		open = append(open, pieces...)
	}

	sort.Slice(open, func(i, j int) bool {
		if open[i].Start == open[j].Start {
			return open[i].End < open[j].End
		}
		return open[i].Start < open[j].Start
	})
	return open
}

// BlockedSlots clips a blocked interval to the 24h UTC window of day and
// widens it to whole slots. ok is false when it does not touch the day.
func BlockedSlots(day time.Time, b *model.BlockedInterval) (slot.Interval, bool) {
	if b == nil {
		return slot.Interval{}, false
	}
	dayStart := model.DateOf(day)
	dayEnd := dayStart.Add(24 * time.Hour)

	start, end := b.StartsAt.UTC(), b.EndsAt.UTC()
	if !start.Before(dayEnd) || !end.After(dayStart) {
		return slot.Interval{}, false
	}
	if start.Before(dayStart) {
		start = dayStart
	}
	if end.After(dayEnd) {
		end = dayEnd
	}

	step := time.Duration(slot.Minutes) * time.Minute
	from := int(start.Sub(dayStart) / step)
	to := int((end.Sub(dayStart) + step - 1) / step)
	if to <= from {
		return slot.Interval{}, false
	}
	return slot.Interval{Start: from, End: to}, true
}

// Fits возвращает true, если proposed целиком лежит ровно в одном открытом интервале
func Fits(open []slot.Interval, proposed slot.Interval) bool {
	matches := 0
	for _, o := range open {
		if o.Contains(proposed) {
			matches++
		}
	}
	return matches == 1
}
