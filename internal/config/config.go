package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Codec    CodecConfig
	Auth     AuthConfig
	Cleanup  CleanupConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type DatabaseConfig struct {
	Driver       string // postgres or sqlite
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	PaymentSettled   string
	TicketActivated  string
	TicketCheckedIn  string
	TicketCancelled  string
	WristbandScanned string
	CleanupCompleted string
}

type CodecConfig struct {
	EncryptionKey string
	ExpiryGrace   time.Duration
}

type AuthConfig struct {
	OIDCIssuer string
	JWTSecret  string // HS256 fallback when no issuer is set
	CronSecret string
}

type CleanupConfig struct {
	Enabled               bool
	Interval              time.Duration
	MaxAge                time.Duration
	BatchSize             int
	IncludeFailedPayments bool
	LockTTL               time.Duration
	Timeout               time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", ":8085"),
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:  getEnvBool("MIGRATIONS_AUTO", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("KAFKA_GROUP_ID", "admission-service"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				PaymentSettled:   getEnv("KAFKA_TOPIC_PAYMENT_SETTLED", "payments.settled"),
				TicketActivated:  getEnv("KAFKA_TOPIC_TICKET_ACTIVATED", "tickets.activated"),
				TicketCheckedIn:  getEnv("KAFKA_TOPIC_TICKET_CHECKED_IN", "tickets.checked_in"),
				TicketCancelled:  getEnv("KAFKA_TOPIC_TICKET_CANCELLED", "tickets.cancelled"),
				WristbandScanned: getEnv("KAFKA_TOPIC_WRISTBAND_SCANNED", "wristbands.scanned"),
				CleanupCompleted: getEnv("KAFKA_TOPIC_CLEANUP_COMPLETED", "cleanup.completed"),
			},
		},
		Codec: CodecConfig{
			EncryptionKey: os.Getenv("CODE_ENCRYPTION_KEY"),
			ExpiryGrace:   getEnvDuration("CODE_EXPIRY_GRACE", 24*time.Hour),
		},
		Auth: AuthConfig{
			OIDCIssuer: os.Getenv("OIDC_ISSUER"),
			JWTSecret:  os.Getenv("AUTH_JWT_SECRET"),
			CronSecret: os.Getenv("CRON_SECRET"),
		},
		Cleanup: CleanupConfig{
			Enabled:               getEnvBool("CLEANUP_ENABLED", true),
			Interval:              getEnvDuration("CLEANUP_INTERVAL", time.Hour),
			MaxAge:                time.Duration(getEnvInt("CLEANUP_MAX_AGE_HOURS", 24)) * time.Hour,
			BatchSize:             getEnvInt("CLEANUP_BATCH_SIZE", 500),
			IncludeFailedPayments: getEnvBool("CLEANUP_INCLUDE_FAILED_PAYMENTS", true),
			LockTTL:               getEnvDuration("CLEANUP_LOCK_TTL", 10*time.Minute),
			Timeout:               getEnvDuration("CLEANUP_TIMEOUT", 2*time.Minute),
		},
	}
}

// AllTopics lists every topic the service produces to or consumes from.
func (k KafkaConfig) AllTopics() []string {
	return []string{
		k.Topics.PaymentSettled,
		k.Topics.TicketActivated,
		k.Topics.TicketCheckedIn,
		k.Topics.TicketCancelled,
		k.Topics.WristbandScanned,
		k.Topics.CleanupCompleted,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
