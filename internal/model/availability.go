package model

import "time"

// WeeklyAvailability is a recurring open interval of an instructor.
type WeeklyAvailability struct {
	ID           int64     `json:"id"`
	InstructorID int64     `json:"instructor_id"`
	Weekday      int       `json:"weekday"` // 0 = Sunday, 6 = Saturday
	StartSlot    int       `json:"start_slot"`
	EndSlot      int       `json:"end_slot"`
	CreatedAt    time.Time `json:"created_at"`
}

// BlockedInterval removes an absolute period from weekly availability.
type BlockedInterval struct {
	ID           int64     `json:"id"`
	InstructorID int64     `json:"instructor_id"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}
