package internal

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

type Config struct {
	Host      string `env:"HOST,default=0.0.0.0"`
	Port      int    `env:"PORT,required=true"`
	DebugPort int    `env:"DEBUG_PORT,default=8081"`
	LogLevel  string `env:"LOG_LEVEL,default=INFO"`
	// InstanceID identifies this process on the broadcast channel. Generated when empty.
	InstanceID string `env:"INSTANCE_ID"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	JWTSecret      string `env:"JWT_SECRET,required=true"`
	JWTIssuer      string `env:"JWT_ISSUER,default=chat-core"`
	// ServiceAccounts is "identity=argon2hash;identity=argon2hash", see auth.ParseServiceAccounts.
	ServiceAccounts string `env:"SERVICE_ACCOUNTS"`

	HeartbeatTimeout          time.Duration `env:"HEARTBEAT_TIMEOUT,default=30s"`
	PresenceGraceWindow       time.Duration `env:"PRESENCE_GRACE_WINDOW,default=5s"`
	PushTimeout               time.Duration `env:"PUSH_TIMEOUT,default=2s"`
	ConnectionBufferSize      int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	MaxConnectionsPerIdentity int           `env:"MAX_CONNECTIONS_PER_IDENTITY,default=0"`
	MaxPayloadBytes           int           `env:"MAX_PAYLOAD_BYTES,default=16384"`

	ParticipantsCacheSize int64 `env:"PARTICIPANTS_CACHE_SIZE,default=10000"`
	HistoryMaxLimit       int   `env:"HISTORY_MAX_LIMIT,default=100"`
	AckQueueSize          int   `env:"ACK_QUEUE_SIZE,default=1024"`
	AckWorkers            int   `env:"ACK_WORKERS,default=4"`

	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=1s"`
	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=10s"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT,default=5s"`

	// NatsURL is where the CRUD surface announces membership changes. Empty means admin API only.
	NatsURL string `env:"NATS_URL"`
}

// LoadConfig reads an optional .env file then the process environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	switch {
	case len(c.JWTSecret) < 32:
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
	case c.HeartbeatTimeout <= 0:
		return fmt.Errorf("HEARTBEAT_TIMEOUT must be positive")
	case c.PushTimeout <= 0:
		return fmt.Errorf("PUSH_TIMEOUT must be positive")
	case c.ConnectionBufferSize <= 0 || c.AckQueueSize <= 0:
		return fmt.Errorf("CONNECTION_BUFFER_SIZE and ACK_QUEUE_SIZE must be positive")
	case c.AckWorkers <= 0:
		return fmt.Errorf("ACK_WORKERS must be positive")
	case c.MaxConnectionsPerIdentity < 0:
		return fmt.Errorf("MAX_CONNECTIONS_PER_IDENTITY must not be negative")
	}
	return nil
}

// BroadcastsEnabled reports whether messages leave this instance.
func (c Config) BroadcastsEnabled() bool {
	return lo.IsNotEmpty(c.NatsURL)
}
