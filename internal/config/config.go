package config

import (
	"fmt"
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Транспорты доставки уведомлений
const (
	TransportTelegram = "telegram"
	TransportAMQP     = "amqp"
	TransportLog      = "log"
)

type Config struct {
	Environment   string `env:"ENV" env-default:"development"`
	DBDSN         string `env:"DB_DSN" env-required:"true"`
	MigrationsDir string `env:"MIGRATIONS_DIR"` // пусто - встроенные миграции

	RedisAddr            string        `env:"REDIS_ADDR"`
	AvailabilityCacheTTL time.Duration `env:"AVAILABILITY_CACHE_TTL" env-default:"10m"`

	TelegramToken   string `env:"TELEGRAM_TOKEN"`
	AMQPURL         string `env:"AMQP_URL"`
	AMQPQueue       string `env:"AMQP_QUEUE" env-default:"lesson.notifications"`
	NotifyTransport string `env:"NOTIFY_TRANSPORT" env-default:"log"`

	Gateway Gateway

	Pricing Pricing

	AutoRefundWindow time.Duration `env:"AUTO_REFUND_WINDOW" env-default:"24h"`

	Notify Notify

	LowBalanceThreshold int `env:"LOW_BALANCE_THRESHOLD" env-default:"1"`
}

type Gateway struct {
	URL     string        `env:"GATEWAY_URL"`
	APIKey  string        `env:"GATEWAY_API_KEY"`
	Timeout time.Duration `env:"GATEWAY_TIMEOUT" env-default:"10s"`
}

type Pricing struct {
	BaseDurationSlots int   `env:"BASE_DURATION_SLOTS" env-default:"2"`
	FallbackRateCents int64 `env:"FALLBACK_RATE_CENTS" env-default:"2000"`
}

type Notify struct {
	MaxAttempts  int           `env:"NOTIFY_MAX_ATTEMPTS" env-default:"8"`
	PollInterval time.Duration `env:"NOTIFY_POLL_INTERVAL" env-default:"15s"`
	BatchSize    int           `env:"NOTIFY_BATCH_SIZE" env-default:"50"`
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate проверяет сочетания параметров, которые не выражаются тегами
func (c *Config) Validate() error {
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}

	switch c.NotifyTransport {
	case TransportTelegram:
		if c.TelegramToken == "" {
			return fmt.Errorf("TELEGRAM_TOKEN is required for NOTIFY_TRANSPORT=%s", c.NotifyTransport)
		}
	case TransportAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required for NOTIFY_TRANSPORT=%s", c.NotifyTransport)
		}
	case TransportLog:
	default:
		return fmt.Errorf("unknown NOTIFY_TRANSPORT %q", c.NotifyTransport)
	}

	if c.Pricing.BaseDurationSlots <= 0 {
		return fmt.Errorf("BASE_DURATION_SLOTS must be positive")
	}
	if c.Pricing.FallbackRateCents < 0 {
		return fmt.Errorf("FALLBACK_RATE_CENTS must not be negative")
	}
	if c.Notify.MaxAttempts <= 0 || c.Notify.BatchSize <= 0 || c.Notify.PollInterval <= 0 {
		return fmt.Errorf("NOTIFY_MAX_ATTEMPTS, NOTIFY_BATCH_SIZE and NOTIFY_POLL_INTERVAL must be positive")
	}
	if c.AutoRefundWindow <= 0 {
		return fmt.Errorf("AUTO_REFUND_WINDOW must be positive")
	}
	return nil
}

func (c *Config) GetDBDSN() string {
	return c.DBDSN
}
