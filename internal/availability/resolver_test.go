package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/slot"
)

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func weekly(weekday, start, end int) *model.WeeklyAvailability {
	return &model.WeeklyAvailability{InstructorID: 1, Weekday: weekday, StartSlot: start, EndSlot: end}
}

func TestResolveLunchBreak(t *testing.T) {
	entries := []*model.WeeklyAvailability{weekly(1, 36, 68)} // 09:00-17:00
	blocks := []*model.BlockedInterval{{
		InstructorID: 1,
		StartsAt:     monday.Add(12 * time.Hour),
		EndsAt:       monday.Add(13 * time.Hour),
		Reason:       "lunch",
	}}

	open := Resolve(monday, entries, blocks)

	assert.Equal(t, []slot.Interval{{Start: 36, End: 48}, {Start: 52, End: 68}}, open)
	assert.Equal(t, "09:00-12:00", open[0].String())
	assert.Equal(t, "13:00-17:00", open[1].String())
}

func TestResolveNoEntriesIsEmptyNotNil(t *testing.T) {
	open := Resolve(monday, []*model.WeeklyAvailability{weekly(2, 36, 68)}, nil)

	assert.NotNil(t, open)
	assert.Empty(t, open)
}

func TestResolveEntriesStayIndependent(t *testing.T) {
	entries := []*model.WeeklyAvailability{weekly(1, 48, 56), weekly(1, 36, 48)}

	open := Resolve(monday, entries, nil)

	assert.Equal(t, []slot.Interval{{Start: 36, End: 48}, {Start: 48, End: 56}}, open, "adjacent entries are not merged")
}

func TestResolveBlockOnOtherDayIgnored(t *testing.T) {
	entries := []*model.WeeklyAvailability{weekly(1, 36, 68)}
	blocks := []*model.BlockedInterval{{
		StartsAt: monday.Add(-3 * time.Hour),
		EndsAt:   monday,
	}}

	assert.Equal(t, []slot.Interval{{Start: 36, End: 68}}, Resolve(monday, entries, blocks))
}

func TestResolveMultiDayBlockRemovesWholeEntry(t *testing.T) {
	entries := []*model.WeeklyAvailability{weekly(1, 36, 68)}
	blocks := []*model.BlockedInterval{{
		StartsAt: monday.Add(-24 * time.Hour),
		EndsAt:   monday.Add(48 * time.Hour),
		Reason:   "vacation",
	}}

	assert.Empty(t, Resolve(monday, entries, blocks))
}

func TestBlockedSlotsWidensToWholeSlots(t *testing.T) {
	b := &model.BlockedInterval{
		StartsAt: monday.Add(12*time.Hour + 5*time.Minute),
		EndsAt:   monday.Add(12*time.Hour + 20*time.Minute),
	}

	cut, ok := BlockedSlots(monday, b)

	assert.True(t, ok)
	assert.Equal(t, slot.Interval{Start: 48, End: 50}, cut)
}

func TestFits(t *testing.T) {
	open := []slot.Interval{{Start: 36, End: 48}, {Start: 52, End: 68}}

	assert.True(t, Fits(open, slot.Interval{Start: 44, End: 48}))
	assert.False(t, Fits(open, slot.Interval{Start: 46, End: 50}), "spans the break")
	assert.False(t, Fits(open, slot.Interval{Start: 30, End: 34}))
}
