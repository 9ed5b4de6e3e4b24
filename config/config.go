package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Booking      BookingConfig
	Stream       StreamConfig
	Notification NotificationConfig
}

type AppConfig struct {
	Port          string `envconfig:"APP_PORT" default:"8080"`
	Mode          string `envconfig:"APP_MODE" default:"debug"`
	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`
	// EventBus selects "local" (single node) or "redis" (cross-process pub/sub).
	EventBus string `envconfig:"EVENT_BUS" default:"redis"`

	CORSAllowOrigins []string `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
}

type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"`
	Name     string `envconfig:"DB_NAME" default:"market_booking"`
	SSLMode  string `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" default:"20"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     string `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type AuthConfig struct {
	JWTSecret string        `envconfig:"JWT_SECRET" default:"change-me"`
	TokenTTL  time.Duration `envconfig:"JWT_TTL" default:"24h"`
}

type BookingConfig struct {
	Buffer          time.Duration `envconfig:"BOOKING_BUFFER" default:"2h"`
	SlotGranularity time.Duration `envconfig:"BOOKING_SLOT_GRANULARITY" default:"30m"`
	StorageTimeout  time.Duration `envconfig:"BOOKING_STORAGE_TIMEOUT" default:"5s"`
	ReadRetries     int           `envconfig:"BOOKING_READ_RETRIES" default:"2"`
	ReminderHour    int           `envconfig:"BOOKING_REMINDER_HOUR" default:"18"`
	CreateLimit     int           `envconfig:"BOOKING_CREATE_LIMIT" default:"10"`
	CreateWindow    time.Duration `envconfig:"BOOKING_CREATE_WINDOW" default:"1m"`
	DirectoryTTL    time.Duration `envconfig:"BOOKING_DIRECTORY_TTL" default:"5m"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `envconfig:"STREAM_HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout  time.Duration `envconfig:"STREAM_HEARTBEAT_TIMEOUT" default:"60s"`
	SendBuffer        int           `envconfig:"STREAM_SEND_BUFFER" default:"256"`
	PendingTTL        time.Duration `envconfig:"STREAM_PENDING_TTL" default:"24h"`
	PendingMaxLen     int64         `envconfig:"STREAM_PENDING_MAX_LEN" default:"100"`
	PresenceTTL       time.Duration `envconfig:"STREAM_PRESENCE_TTL" default:"90s"`
	ConnectRate       float64       `envconfig:"STREAM_CONNECT_RATE" default:"0.5"`
	ConnectBurst      int           `envconfig:"STREAM_CONNECT_BURST" default:"10"`
}

type NotificationConfig struct {
	GatewayURL       string        `envconfig:"SMS_GATEWAY_URL" default:""`
	APIKey           string        `envconfig:"SMS_API_KEY" default:""`
	Sender           string        `envconfig:"SMS_SENDER" default:""`
	TestMode         bool          `envconfig:"SMS_TEST_MODE" default:"true"`
	Workers          int           `envconfig:"SMS_WORKERS" default:"4"`
	QueueSize        int           `envconfig:"SMS_QUEUE_SIZE" default:"256"`
	RequestTimeout   time.Duration `envconfig:"SMS_REQUEST_TIMEOUT" default:"10s"`
	BreakerFailures  uint32        `envconfig:"SMS_BREAKER_FAILURES" default:"5"`
	BreakerOpenDelay time.Duration `envconfig:"SMS_BREAKER_OPEN_DELAY" default:"30s"`
}

func (c *DBConfig) BuildDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if cfg.Booking.Buffer <= 0 || cfg.Booking.SlotGranularity <= 0 {
		return nil, fmt.Errorf("booking buffer and slot granularity must be positive")
	}
	return &cfg, nil
}

// NewTestConfig returns deterministic settings for tests.
func NewTestConfig() *Config {
	return &Config{
		App: AppConfig{Port: "8889", Mode: "test", EventBus: "local"},
		Auth: AuthConfig{
			JWTSecret: "test-secret",
			TokenTTL:  time.Hour,
		},
		Booking: BookingConfig{
			Buffer:          2 * time.Hour,
			SlotGranularity: 30 * time.Minute,
			StorageTimeout:  time.Second,
			ReadRetries:     2,
			ReminderHour:    18,
			CreateLimit:     100,
			CreateWindow:    time.Minute,
			DirectoryTTL:    time.Minute,
		},
		Stream: StreamConfig{
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  60 * time.Second,
			SendBuffer:        16,
			PendingTTL:        24 * time.Hour,
			PendingMaxLen:     100,
			PresenceTTL:       90 * time.Second,
			ConnectRate:       100,
			ConnectBurst:      100,
		},
		Notification: NotificationConfig{
			TestMode:         true,
			Workers:          1,
			QueueSize:        16,
			RequestTimeout:   time.Second,
			BreakerFailures:  3,
			BreakerOpenDelay: time.Second,
		},
	}
}
