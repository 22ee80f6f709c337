// Package cache хранит вычисленную доступность инструкторов.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Freeeeeet/lesson_booking/internal/slot"
)

// RedisAvailability кэширует открытые интервалы по (instructor, date).
// Ключи содержат версию инструктора и версию даты: смена недельного шаблона
// прячет все даты разом, новая блокировка - только свою дату.
type RedisAvailability struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisAvailability(client redis.UniversalClient, ttl time.Duration) *RedisAvailability {
	return &RedisAvailability{client: client, ttl: ttl}
}

// Dial подключается к Redis и проверяет соединение
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	const op = "cache.Dial"

	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return client, nil
}

// Get читает интервалы и версию, под которой их искали. Set после промаха
// пишет под этой же версией: если шаблон или блокировки сменились между
// чтением из базы и записью, устаревшие интервалы никто не прочитает.
func (c *RedisAvailability) Get(ctx context.Context, instructorID int64, date time.Time) ([]slot.Interval, string, bool, error) {
	const op = "cache.RedisAvailability.Get"

	version, err := c.version(ctx, instructorID, date)
	if err != nil {
		return nil, "", false, fmt.Errorf("%s: %w", op, err)
	}

	raw, err := c.client.Get(ctx, entryKey(instructorID, date, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, version, false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("%s: %w", op, err)
	}

	var open []slot.Interval
	if err := json.Unmarshal(raw, &open); err != nil {
		return nil, "", false, fmt.Errorf("%s: decode: %w", op, err)
	}
	if open == nil {
		open = []slot.Interval{}
	}
	return open, version, true, nil
}

func (c *RedisAvailability) Set(ctx context.Context, instructorID int64, date time.Time, version string, open []slot.Interval) error {
	const op = "cache.RedisAvailability.Set"

	raw, err := json.Marshal(open)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", op, err)
	}

	if err := c.client.Set(ctx, entryKey(instructorID, date, version), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// InvalidateDate увеличивает версию одной даты. Счётчик живёт дольше
// записей, иначе после его истечения снова стала бы видна старая запись.
func (c *RedisAvailability) InvalidateDate(ctx context.Context, instructorID int64, date time.Time) error {
	const op = "cache.RedisAvailability.InvalidateDate"

	key := dateVersionKey(instructorID, date)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, 2*c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *RedisAvailability) InvalidateInstructor(ctx context.Context, instructorID int64) error {
	const op = "cache.RedisAvailability.InvalidateInstructor"

	if err := c.client.Incr(ctx, versionKey(instructorID)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// version - "<версия инструктора>.<версия даты>", оба счётчика одним MGET
func (c *RedisAvailability) version(ctx context.Context, instructorID int64, date time.Time) (string, error) {
	vals, err := c.client.MGet(ctx, versionKey(instructorID), dateVersionKey(instructorID, date)).Result()
	if err != nil {
		return "", err
	}
	return counter(vals[0]) + "." + counter(vals[1]), nil
}

func counter(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "0"
}

func entryKey(instructorID int64, date time.Time, version string) string {
	return fmt.Sprintf("availability:%d:v%s:%s", instructorID, version, date.Format(time.DateOnly))
}

func versionKey(instructorID int64) string {
	return fmt.Sprintf("availability:%d:version", instructorID)
}

func dateVersionKey(instructorID int64, date time.Time) string {
	return fmt.Sprintf("availability:%d:version:%s", instructorID, date.Format(time.DateOnly))
}

// Nop - кэш, который ничего не хранит (Redis не настроен)
type Nop struct{}

func (Nop) Get(context.Context, int64, time.Time) ([]slot.Interval, string, bool, error) {
	return nil, "", false, nil
}

func (Nop) Set(context.Context, int64, time.Time, string, []slot.Interval) error { return nil }

func (Nop) InvalidateDate(context.Context, int64, time.Time) error { return nil }

func (Nop) InvalidateInstructor(context.Context, int64) error { return nil }
