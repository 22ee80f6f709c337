package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

// AvailabilityRepository управляет недельным шаблоном и блокировками инструктора
type AvailabilityRepository struct {
	db DBTX
}

// CreateWeekly создаёт запись недельного шаблона
func (r *AvailabilityRepository) CreateWeekly(ctx context.Context, entry *model.WeeklyAvailability) error {
	query := `
		INSERT INTO weekly_availability (instructor_id, weekday, start_slot, end_slot)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		ctx,
		query,
		entry.InstructorID,
		entry.Weekday,
		entry.StartSlot,
		entry.EndSlot,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("create weekly availability: %w", err)
	}

	return nil
}

// ListWeekly получает записи шаблона на день недели
func (r *AvailabilityRepository) ListWeekly(ctx context.Context, instructorID int64, weekday int) ([]*model.WeeklyAvailability, error) {
	query := `
		SELECT id, instructor_id, weekday, start_slot, end_slot, created_at
		FROM weekly_availability
		WHERE instructor_id = $1 AND weekday = $2
		ORDER BY start_slot
	`

	rows, err := r.db.Query(ctx, query, instructorID, weekday)
	if err != nil {
		return nil, fmt.Errorf("list weekly availability: %w", err)
	}
	defer rows.Close()

	var entries []*model.WeeklyAvailability
	for rows.Next() {
		entry := &model.WeeklyAvailability{}
		err := rows.Scan(
			&entry.ID,
			&entry.InstructorID,
			&entry.Weekday,
			&entry.StartSlot,
			&entry.EndSlot,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan weekly availability: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// CreateBlocked создаёт блокировку
func (r *AvailabilityRepository) CreateBlocked(ctx context.Context, block *model.BlockedInterval) error {
	query := `
		INSERT INTO blocked_intervals (instructor_id, starts_at, ends_at, reason)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		ctx,
		query,
		block.InstructorID,
		block.StartsAt,
		block.EndsAt,
		block.Reason,
	).Scan(&block.ID, &block.CreatedAt)

	if err != nil {
		return fmt.Errorf("create blocked interval: %w", err)
	}

	return nil
}

// ListBlocked получает блокировки, пересекающие [from, to)
func (r *AvailabilityRepository) ListBlocked(ctx context.Context, instructorID int64, from, to time.Time) ([]*model.BlockedInterval, error) {
	query := `
		SELECT id, instructor_id, starts_at, ends_at, COALESCE(reason, ''), created_at
		FROM blocked_intervals
		WHERE instructor_id = $1 AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at
	`

	rows, err := r.db.Query(ctx, query, instructorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list blocked intervals: %w", err)
	}
	defer rows.Close()

	var blocks []*model.BlockedInterval
	for rows.Next() {
		block := &model.BlockedInterval{}
		err := rows.Scan(
			&block.ID,
			&block.InstructorID,
			&block.StartsAt,
			&block.EndsAt,
			&block.Reason,
			&block.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan blocked interval: %w", err)
		}
		blocks = append(blocks, block)
	}

	return blocks, rows.Err()
}
