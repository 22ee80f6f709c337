package conflict

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/slot"
)

func booking(id int64, start, duration int, status model.BookingStatus) *model.Booking {
	return &model.Booking{ID: id, InstructorID: 1, StartSlot: start, Duration: duration, Status: status}
}

func TestHasConflict(t *testing.T) {
	existing := []*model.Booking{
		booking(1, 36, 2, model.BookingStatusBooked),
		booking(2, 44, 4, model.BookingStatusBlocked),
		booking(3, 40, 4, model.BookingStatusCancelled),
	}

	assert.True(t, HasConflict(slot.Interval{Start: 37, End: 39}, existing))
	assert.True(t, HasConflict(slot.Interval{Start: 46, End: 50}, existing), "blocked time conflicts")
	assert.False(t, HasConflict(slot.Interval{Start: 38, End: 44}, existing), "cancelled booking is ignored, endpoints touch")
	assert.False(t, HasConflict(slot.Interval{Start: 48, End: 52}, existing))
}

func TestFindExcludesSelf(t *testing.T) {
	existing := []*model.Booking{booking(7, 36, 4, model.BookingStatusBooked)}

	assert.Nil(t, Find(slot.Interval{Start: 38, End: 42}, existing, 7))
	assert.Equal(t, int64(7), Find(slot.Interval{Start: 38, End: 42}, existing, 0).ID)
}

// Randomised check against a brute-force slot occupancy map.
func TestHasConflictMatchesOccupancy(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 500; round++ {
		var existing []*model.Booking
		var occupied [slot.PerDay]bool

		for i := 0; i < rng.Intn(6); i++ {
			start := rng.Intn(slot.PerDay)
			duration := 1 + rng.Intn(slot.PerDay-start)
			status := model.BookingStatusBooked
			if rng.Intn(4) == 0 {
				status = model.BookingStatusCancelled
			}
			existing = append(existing, booking(int64(i+1), start, duration, status))
			if status != model.BookingStatusCancelled {
				for s := start; s < start+duration; s++ {
					occupied[s] = true
				}
			}
		}

		start := rng.Intn(slot.PerDay)
		proposed, err := slot.NewInterval(start, 1+rng.Intn(slot.PerDay-start))
		require.NoError(t, err)

		want := false
		for s := proposed.Start; s < proposed.End; s++ {
			if occupied[s] {
				want = true
				break
			}
		}

		assert.Equal(t, want, HasConflict(proposed, existing), "round %d proposed %s", round, proposed)
	}
}
