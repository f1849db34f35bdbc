package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/oops"
)

// Backend names.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	MQBackendNone     = "none"
	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"

	StorageBackendNone  = "none"
	StorageBackendMinio = "minio"
	StorageBackendGCS   = "gcs"
)

const minJWTKeyLength = 32

type Config struct {
	Env          string
	ServerPort   int
	StoreBackend string
	Database     DatabaseConfig
	JWT          JWTConfig
	BcryptCost   int
	Qr           QrConfig
	Log          LogConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	MQ           MQConfig
	Storage      StorageConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

type JWTConfig struct {
	Issuer        string
	Audience      string
	Key           string
	ExpireMinutes int
}

// TTL returns the token lifetime.
func (c JWTConfig) TTL() time.Duration {
	return time.Duration(c.ExpireMinutes) * time.Minute
}

type QrConfig struct {
	TTLMinutes           int
	ImageSize            int
	OneTimeSpentOnCreate bool
}

// TTL returns the code lifetime.
func (c QrConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

type LogConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig configures the token bucket on the auth endpoints.
// Rate limiting is enabled only when Redis is configured.
type RateLimitConfig struct {
	Capacity   int
	RefillRate float64
}

type MQConfig struct {
	Backend  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type StorageConfig struct {
	Backend string
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

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "qrpass"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "qrpass_db"),
		UseSSL:   getEnvBool("DB_SSL", false),
	}

	return Config{
		Env:          getEnv("ENV", "production"),
		ServerPort:   getEnvInt("SERVER_PORT", 8080),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		Database:     dbConfig,
		JWT: JWTConfig{
			Issuer:        getEnv("JWT_ISSUER", "qrpass"),
			Audience:      getEnv("JWT_AUDIENCE", "qrpass-clients"),
			Key:           getEnv("JWT_KEY", ""),
			ExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 60),
		},
		BcryptCost: getEnvInt("BCRYPT_COST", 12),
		Qr: QrConfig{
			TTLMinutes:           getEnvInt("QR_TTL_MINUTES", 60),
			ImageSize:            getEnvInt("QR_IMAGE_SIZE", 256),
			OneTimeSpentOnCreate: getEnvBool("QR_ONE_TIME_SPENT_ON_CREATE", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Capacity:   getEnvInt("RATE_LIMIT_CAPACITY", 10),
			RefillRate: getEnvFloat("RATE_LIMIT_REFILL_PER_SECOND", 0.2),
		},
		MQ: MQConfig{
			Backend: strings.ToLower(getEnv("MQ_BACKEND", MQBackendNone)),
			RabbitMQ: RabbitMQConfig{
				URL:             getEnv("RABBITMQ_URL", ""),
				QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
				QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
				PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH_COUNT", 10),
			},
			PubSub: PubSubConfig{
				ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
				CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
				SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
			},
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendNone)),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "qrpass"),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			GCS: GCSConfig{
				Bucket:          getEnv("GCS_BUCKET", ""),
				ProjectID:       getEnv("GCS_PROJECT_ID", ""),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			},
		},
	}
}

// Validate reports every configuration problem that would prevent the
// server from starting.
func (c Config) Validate() error {
	var problems []string

	if len(c.JWT.Key) < minJWTKeyLength {
		problems = append(problems, fmt.Sprintf("JWT_KEY must be at least %d bytes", minJWTKeyLength))
	}
	if c.JWT.ExpireMinutes <= 0 {
		problems = append(problems, "JWT_EXPIRE_MINUTES must be positive")
	}
	if c.Qr.TTLMinutes <= 0 {
		problems = append(problems, "QR_TTL_MINUTES must be positive")
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		problems = append(problems, "SERVER_PORT must be between 0 and 65535")
	}
	switch c.StoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	switch c.MQ.Backend {
	case MQBackendNone, MQBackendRabbitMQ, MQBackendPubSub:
	default:
		problems = append(problems, fmt.Sprintf("unknown MQ_BACKEND %q", c.MQ.Backend))
	}
	switch c.Storage.Backend {
	case StorageBackendNone, StorageBackendMinio, StorageBackendGCS:
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillRate <= 0 {
		problems = append(problems, "RATE_LIMIT_CAPACITY and RATE_LIMIT_REFILL_PER_SECOND must be positive")
	}

	if len(problems) > 0 {
		return oops.
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
