package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adwski/blinddate/backend/storage"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

var (
	ErrUnknownStore = errors.New("unknown store kind")
	ErrMissing      = errors.New("required setting is missing")
)

type Config struct {
	APIListenAddr   string        `env:"BLINDDATE_API_LISTEN_ADDR" envDefault:":8080"`
	WSListenAddr    string        `env:"BLINDDATE_WS_LISTEN_ADDR" envDefault:":8888"`
	LogLevel        string        `env:"BLINDDATE_LOG_LEVEL" envDefault:"debug"`
	ShutdownTimeout time.Duration `env:"BLINDDATE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSOrigins     []string      `env:"BLINDDATE_CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	Store        string `env:"BLINDDATE_STORE" envDefault:"memory"`
	PostgresDSN  string `env:"BLINDDATE_POSTGRES_DSN"`
	DynamoRegion string `env:"BLINDDATE_DYNAMO_REGION" envDefault:"us-east-1"`
	DynamoURL    string `env:"BLINDDATE_DYNAMO_ENDPOINT"`
	DynamoPrefix string `env:"BLINDDATE_DYNAMO_TABLE_PREFIX" envDefault:"blinddate_"`

	LiveKitURL       string        `env:"LIVEKIT_WS_URL" envDefault:"ws://localhost:7880"`
	LiveKitAPIKey    string        `env:"LIVEKIT_API_KEY"`
	LiveKitAPISecret string        `env:"LIVEKIT_API_SECRET"`
	LiveKitTokenTTL  time.Duration `env:"LIVEKIT_TOKEN_TTL" envDefault:"1h"`
}

// LoadEnvFiles applies .env files found in the working directory or its parent.
func LoadEnvFiles(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env", "../.env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err = godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}

// Load reads the environment, then applies command line overrides.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	fs := pflag.NewFlagSet("blinddate", pflag.ContinueOnError)
	fs.StringVarP(&cfg.APIListenAddr, "api-listen-addr", "a", cfg.APIListenAddr, "api listen address")
	fs.StringVarP(&cfg.WSListenAddr, "ws-listen-addr", "w", cfg.WSListenAddr, "websocket signaling listen address")
	fs.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, "log level")
	fs.StringVarP(&cfg.Store, "store", "s", cfg.Store, "storage backend: memory, postgres or dynamo")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "postgres connection string")
	fs.StringVar(&cfg.DynamoURL, "dynamo-endpoint", cfg.DynamoURL, "dynamodb endpoint override")
	fs.StringVar(&cfg.LiveKitURL, "livekit-url", cfg.LiveKitURL, "livekit server url")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse command line: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case storage.KindMemory:
	case storage.KindPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("%w: BLINDDATE_POSTGRES_DSN for postgres store", ErrMissing)
		}
	case storage.KindDynamo:
		if strings.TrimSpace(c.DynamoRegion) == "" {
			return fmt.Errorf("%w: BLINDDATE_DYNAMO_REGION for dynamo store", ErrMissing)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, c.Store)
	}
	if strings.TrimSpace(c.LiveKitAPIKey) == "" {
		return fmt.Errorf("%w: LIVEKIT_API_KEY", ErrMissing)
	}
	if strings.TrimSpace(c.LiveKitAPISecret) == "" {
		return fmt.Errorf("%w: LIVEKIT_API_SECRET", ErrMissing)
	}
	return nil
}
