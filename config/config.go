package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full runtime configuration, read from the environment.
type Config struct {
	ApiAddr         string        `envconfig:"API_ADDR" default:":8080" validate:"required"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	MaxMessageBytes int64         `envconfig:"MESSAGE_MAX_BYTES" default:"65536" validate:"gt=0"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s" validate:"gt=0"`
	PongWait        time.Duration `envconfig:"PONG_WAIT" default:"60s" validate:"gt=0"`
	PingInterval    time.Duration `envconfig:"PING_INTERVAL" default:"54s" validate:"gt=0,ltfield=PongWait"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`

	TranscriptBuffer int `envconfig:"TRANSCRIPT_BUFFER" default:"1024" validate:"gt=0"`

	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic    string   `envconfig:"KAFKA_TOPIC" default:"echo-exchanges" validate:"required"`
	KafkaDLQTopic string   `envconfig:"KAFKA_DLQ_TOPIC" default:"echo-exchanges-dlq" validate:"required"`
	KafkaGroupID  string   `envconfig:"KAFKA_GROUP_ID" default:"echo-transcript" validate:"required"`

	MongoURI      string `envconfig:"MONGO_URI" validate:"omitempty,uri"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"echoapp" validate:"required"`

	OIDCIssuerURL   string `envconfig:"OIDC_ISSUER_URL" validate:"omitempty,url"`
	OIDCClientID    string `envconfig:"OIDC_CLIENT_ID" default:"echo"`
	OIDCAudience    string `envconfig:"OIDC_AUDIENCE" default:"echo"`
	OIDCMaxAttempts int    `envconfig:"OIDC_MAX_ATTEMPTS" default:"8" validate:"gt=0"`
}

var validate = validator.New()

// Load reads an optional .env file (missing files are ignored), then the process
// environment, and validates the result. Variables already set in the environment win
// over .env entries.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks field constraints, e.g. that pings are sent before the pong wait expires.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }
func (c Config) MongoEnabled() bool { return c.MongoURI != "" }
func (c Config) AuthEnabled() bool  { return c.OIDCIssuerURL != "" }

// GetEnv returns the value of the environment variable or a default value
func GetEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}
