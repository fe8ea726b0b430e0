// Package config loads the server configuration from flags, the environment and an
// optional .env file.
//
// Precedence, highest first: command-line flags, process environment, .env file,
// built-in defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete server configuration.
type Config struct {
	HTTPAddr string `validate:"required"`
	GRPCAddr string `validate:"required"`

	RegistryURL      string        `validate:"required,url"`
	RegistryPageSize int           `validate:"gt=0,lte=1000"`
	RegistryTimeout  time.Duration `validate:"gt=0"`

	ChainWSURL      string `validate:"required,url"`
	ContractAddress string `validate:"required,eth_addr"`

	Decimals   int    `validate:"gte=0,lte=36"`
	QuoteAsset string `validate:"required,alphanum"`

	StreamQueueSize  int           `validate:"gt=0"`
	StreamPingPeriod time.Duration `validate:"gt=0"`

	LogLevel string `validate:"required,oneof=trace debug info warn error"`
}

// Contract returns the launchpad contract address.
func (c Config) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// Level returns the zerolog level named by LogLevel.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Load parses args (without the program name) into a validated Config. envFile
// names an optional .env file; a missing file is ignored.
func Load(args []string, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	var cfg Config
	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	fs.StringVar(&cfg.HTTPAddr, "http-addr", envString("HTTP_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", envString("GRPC_ADDR", ":50051"), "gRPC health listen address")
	fs.StringVar(&cfg.RegistryURL, "registry-url", envString("REGISTRY_URL", ""), "GraphQL endpoint of the trade registry")
	fs.IntVar(&cfg.RegistryPageSize, "registry-page-size", envInt("REGISTRY_PAGE_SIZE", 50), "Registry page limit")
	fs.DurationVar(&cfg.RegistryTimeout, "registry-timeout", envDuration("REGISTRY_TIMEOUT", 15*time.Second), "Timeout of one registry request")
	fs.StringVar(&cfg.ChainWSURL, "chain-ws-url", envString("CHAIN_WS_URL", ""), "Websocket JSON-RPC endpoint of the chain node")
	fs.StringVar(&cfg.ContractAddress, "contract", envString("LAUNCHPAD_CONTRACT", ""), "Launchpad contract address")
	fs.IntVar(&cfg.Decimals, "decimals", envInt("PRICE_DECIMALS", 6), "Fixed-point decimals of prices")
	fs.StringVar(&cfg.QuoteAsset, "quote", envString("QUOTE_ASSET", "USDC"), "Quote asset of every market")
	fs.IntVar(&cfg.StreamQueueSize, "stream-queue", envInt("STREAM_QUEUE_SIZE", 100), "Outbound messages buffered per stream connection")
	fs.DurationVar(&cfg.StreamPingPeriod, "stream-ping", envDuration("STREAM_PING_PERIOD", 30*time.Second), "Stream keepalive interval")
	fs.StringVar(&cfg.LogLevel, "log-level", envString("LOG_LEVEL", "info"), "Log level")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validateConfig checks every tagged field and reports the first failure.
func validateConfig(cfg Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%w: %s failed on %q", ErrInvalidConfig, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
