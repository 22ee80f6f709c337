package model

import "time"

type BookingStatus string

const (
	BookingStatusBooked    BookingStatus = "booked"    // Занятие со студентом
	BookingStatusBlocked   BookingStatus = "blocked"   // Инструктор сам закрыл время
	BookingStatusCancelled BookingStatus = "cancelled" // Отменено, интервал снова свободен
)

type Booking struct {
	ID           int64         `json:"id"`
	InstructorID int64         `json:"instructor_id"`
	StudentID    *int64        `json:"student_id"` // nil - self-block инструктора
	Date         time.Time     `json:"date"`       // полночь UTC
	StartSlot    int           `json:"start_slot"`
	Duration     int           `json:"duration"` // в слотах по 15 минут
	Status       BookingStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// EndSlot возвращает первый слот после занятия
func (b *Booking) EndSlot() int {
	return b.StartSlot + b.Duration
}

// IsActive - бронирование занимает интервал
func (b *Booking) IsActive() bool {
	return b.Status != BookingStatusCancelled
}

// StartsAt переводит дату и стартовый слот в момент времени UTC
func (b *Booking) StartsAt() time.Time {
	return b.Date.Add(time.Duration(b.StartSlot) * 15 * time.Minute)
}

// DurationClass - длительность занятия в минутах, ключ кредитного пула
func (b *Booking) DurationClass() int {
	return b.Duration * 15
}
