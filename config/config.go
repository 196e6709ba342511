package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int    `validate:"gte=0,lt=65536"`
	LogLevel   string `validate:"omitempty,oneof=debug info warn error"`
	Database   DatabaseConfig
	Auth       AuthConfig
	Mail       MailConfig
	Redis      RedisConfig
	MQ         MQConfig
	Storage    StorageConfig
}

type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"required,gt=0,lt=65536"`
	User     string `validate:"required"`
	Password string `validate:"required"`
	DBName   string `validate:"required"`
	UseSSL   bool
}

type AuthConfig struct {
	JWTSecret string        `validate:"required"`
	TokenTTL  time.Duration `validate:"required,gt=0"`
}

type MailConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"required,gt=0,lt=65536"`
	User     string `validate:"required"`
	Password string `validate:"required"`
	From     string `validate:"required"`
	UseTLS   bool
}

// RedisConfig is optional; an empty URL disables token revocation.
type RedisConfig struct {
	URL string `validate:"omitempty,url"`
}

type MQConfig struct {
	Backend              string `validate:"omitempty,oneof=rabbitmq pubsub"`
	NotificationsChannel string `validate:"required"`
	RabbitMQ             RabbitMQConfig
	PubSub               PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int `validate:"gte=0"`
}

type PubSubConfig struct {
	ProjectID           string
	CredentialsFile     string
	SubscriptionSuffix  string
	MaxDeliveryAttempts int `validate:"gte=5,lte=100"`
}

type StorageConfig struct {
	Backend string `validate:"omitempty,oneof=minio gcs"`
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

var validate = validator.New()

// LoadConfig reads the process environment and fails when a required
// setting is missing or malformed.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var errs []error

	dbPort, err := getEnvInt("DB_PORT", 0)
	errs = append(errs, err)
	mailPort, err := getEnvInt("MAIL_PORT", 0)
	errs = append(errs, err)
	serverPort, err := getEnvInt("PORT", 8080)
	errs = append(errs, err)
	prefetch, err := getEnvInt("RABBITMQ_PREFETCH", 10)
	errs = append(errs, err)
	deliveryAttempts, err := getEnvInt("PUBSUB_MAX_DELIVERY_ATTEMPTS", 5)
	errs = append(errs, err)

	var tokenTTL time.Duration
	if raw := getEnv("JWT_EXP_TIME", ""); raw != "" {
		tokenTTL, err = ParseExpiry(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("JWT_EXP_TIME: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	mailUser := getEnv("MAIL_USER", "")

	cfg := Config{
		ServerPort: serverPort,
		LogLevel:   strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     dbPort,
			User:     getEnv("DB_USER", ""),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", ""),
			UseSSL:   getEnvBool("DB_USE_SSL", false),
		},
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(getEnv("JWT_SECRET", "")),
			TokenTTL:  tokenTTL,
		},
		Mail: MailConfig{
			Host:     getEnv("MAIL_HOST", ""),
			Port:     mailPort,
			User:     mailUser,
			Password: getEnv("MAIL_PASS", ""),
			From:     getEnv("MAIL_FROM", mailUser),
			UseTLS:   getEnvBool("MAIL_USE_TLS", true),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		MQ: MQConfig{
			Backend:              strings.ToLower(getEnv("MQ_BACKEND", "")),
			NotificationsChannel: getEnv("MQ_NOTIFICATIONS_CHANNEL", "user-notifications"),
			RabbitMQ: RabbitMQConfig{
				URL:             getEnv("RABBITMQ_URL", ""),
				QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
				QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
				PrefetchCount:   prefetch,
			},
			PubSub: PubSubConfig{
				ProjectID:           getEnv("PUBSUB_PROJECT_ID", ""),
				CredentialsFile:     getEnv("PUBSUB_CREDENTIALS_FILE", ""),
				SubscriptionSuffix:  getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
				MaxDeliveryAttempts: deliveryAttempts,
			},
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", "")),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "avatars"),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			GCS: GCSConfig{
				Bucket:          getEnv("GCS_BUCKET", ""),
				ProjectID:       getEnv("GCS_PROJECT_ID", ""),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags and reports every offending setting.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := strings.TrimPrefix(fe.Namespace(), "Config.")
		if env, ok := envNames[name]; ok {
			name = env
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %q", name, fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

var envNames = map[string]string{
	"ServerPort":                    "PORT",
	"LogLevel":                      "LOG_LEVEL",
	"Database.Host":                 "DB_HOST",
	"Database.Port":                 "DB_PORT",
	"Database.User":                 "DB_USER",
	"Database.Password":             "DB_PASSWORD",
	"Database.DBName":               "DB_NAME",
	"Auth.JWTSecret":                "JWT_SECRET",
	"Auth.TokenTTL":                 "JWT_EXP_TIME",
	"Mail.Host":                     "MAIL_HOST",
	"Mail.Port":                     "MAIL_PORT",
	"Mail.User":                     "MAIL_USER",
	"Mail.Password":                 "MAIL_PASS",
	"Mail.From":                     "MAIL_FROM",
	"Redis.URL":                     "REDIS_URL",
	"MQ.Backend":                    "MQ_BACKEND",
	"MQ.RabbitMQ.PrefetchCount":     "RABBITMQ_PREFETCH",
	"MQ.PubSub.MaxDeliveryAttempts": "PUBSUB_MAX_DELIVERY_ATTEMPTS",
	"Storage.Backend":               "STORAGE_BACKEND",
}

// ParseExpiry accepts Go durations ("90m"), whole days ("7d") and bare seconds ("3600").
func ParseExpiry(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty expiry")
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("expiry must be positive: %q", raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid expiry: %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid expiry: %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("expiry must be positive: %q", raw)
	}
	return d, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return 0, fmt.Errorf("%s: not a number: %q", key, valueStr)
	}
	return value, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
