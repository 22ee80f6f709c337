package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

const jobColumns = `id, dedupe_key, kind, user_id, payload, status, attempts, COALESCE(last_error, ''), next_attempt_at, created_at`

// NotificationRepository - очередь уведомлений в Postgres (outbox)
type NotificationRepository struct {
	db DBTX
}

// Enqueue ставит задачу в очередь, дубликат по dedupe_key игнорируется
func (r *NotificationRepository) Enqueue(ctx context.Context, job *model.NotificationJob) error {
	query := `
		INSERT INTO notification_jobs (dedupe_key, kind, user_id, payload, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING id, created_at
	`

	next := job.NextAttemptAt
	if next.IsZero() {
		next = time.Now()
	}

	err := r.db.QueryRow(ctx, query, job.DedupeKey, job.Kind, job.UserID, []byte(job.Payload), next).
		Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		if IsNotFound(err) {
			return nil // уже в очереди
		}
		return fmt.Errorf("enqueue notification: %w", err)
	}

	job.Status = model.NotificationStatusPending
	job.NextAttemptAt = next
	return nil
}

// ClaimDue забирает готовые к отправке задачи, пропуская заблокированные другими воркерами
func (r *NotificationRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.NotificationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM notification_jobs
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim notification jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.NotificationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// MarkSent отмечает задачу доставленной
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64) error {
	query := `
		UPDATE notification_jobs
		SET status = 'sent', attempts = attempts + 1, last_error = NULL, sent_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, "mark notification sent", query, id)
}

// MarkRetry откладывает задачу до next
func (r *NotificationRepository) MarkRetry(ctx context.Context, id int64, attempts int, lastErr string, next time.Time) error {
	query := `
		UPDATE notification_jobs
		SET attempts = $2, last_error = $3, next_attempt_at = $4
		WHERE id = $1
	`
	return r.exec(ctx, "mark notification retry", query, id, attempts, lastErr, next)
}

// MarkDead переводит задачу в dead letter
func (r *NotificationRepository) MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error {
	query := `
		UPDATE notification_jobs
		SET status = 'dead', attempts = $2, last_error = $3
		WHERE id = $1
	`
	return r.exec(ctx, "mark notification dead", query, id, attempts, lastErr)
}

// GetByDedupeKey получает задачу по ключу дедупликации
func (r *NotificationRepository) GetByDedupeKey(ctx context.Context, key string) (*model.NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs WHERE dedupe_key = $1`

	job, err := scanJob(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification job: %w", err)
	}
	return job, nil
}

func (r *NotificationRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return nil
}

func scanJob(row pgx.Row) (*model.NotificationJob, error) {
	var job model.NotificationJob
	var payload []byte
	err := row.Scan(
		&job.ID,
		&job.DedupeKey,
		&job.Kind,
		&job.UserID,
		&payload,
		&job.Status,
		&job.Attempts,
		&job.LastError,
		&job.NextAttemptAt,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	return &job, nil
}
