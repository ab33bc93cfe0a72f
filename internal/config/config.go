package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

type Config struct {
	Host                  string        `env:"HOST,default=0.0.0.0" validate:"required"`
	Port                  int           `env:"PORT,default=5000" validate:"min=0,max=65535"`
	MaxConnections        int           `env:"MAX_CONNECTIONS,default=100" validate:"min=1"`
	ServerName            string        `env:"SERVER_NAME,default=SERVER" validate:"required,max=50,excludesall=:"`
	ServerAccountPassword string        `env:"SERVER_ACCOUNT_PASSWORD,required=true" validate:"required"`
	StoreDriver           string        `env:"STORE_DRIVER,default=badger" validate:"oneof=badger postgres"`
	BadgerFilepath        string        `env:"BADGER_FILEPATH,default=data/badger"`
	DatabaseURL           string        `env:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	MetricsAddr           string        `env:"METRICS_ADDR,default=:9090"`
	LogLevel              string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	ReadBufferSize        int           `env:"READ_BUFFER_SIZE,default=4096" validate:"min=512"`
	OutboundBufferSize    int           `env:"OUTBOUND_BUFFER_SIZE,default=64" validate:"min=1"`
	WriteTimeout          time.Duration `env:"WRITE_TIMEOUT,default=5s" validate:"gt=0"`
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT,default=0s" validate:"min=0"`
	HistoryDefaultLimit   int           `env:"HISTORY_DEFAULT_LIMIT,default=10" validate:"min=1"`
	HistoryMaxLimit       int           `env:"HISTORY_MAX_LIMIT,default=100" validate:"gtefield=HistoryDefaultLimit"`
}

var validate = validator.New()

// Load reads envFile into the environment when it exists (variables already
// set win), then binds and validates the configuration.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
