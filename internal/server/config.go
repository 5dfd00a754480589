// Package server provides configuration helpers that define runtime defaults
// and validation for the chat relay service.
package server

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

var validate = validator.New()

// Config holds the server configuration. Protocol limits (username and chat
// text length) are wire-contract constants, not configuration.
type Config struct {
	// ListenAddr is the plain TCP address the chat protocol binds to.
	ListenAddr string `envconfig:"CHAT_LISTEN_ADDR" default:":5050" validate:"required,hostname_port"`
	// HTTPAddr serves the health endpoint and the WebSocket transport.
	HTTPAddr string `envconfig:"CHAT_HTTP_ADDR" default:":8080" validate:"required,hostname_port"`
	// WriteTimeout bounds each frame write so one stalled peer cannot hold
	// a broadcast pass indefinitely. Zero disables the deadline.
	WriteTimeout time.Duration `envconfig:"CHAT_WRITE_TIMEOUT" default:"10s" validate:"min=0"`
	// ShutdownTimeout bounds the graceful stop of the HTTP server.
	ShutdownTimeout time.Duration `envconfig:"CHAT_SHUTDOWN_TIMEOUT" default:"10s" validate:"min=1s"`
	LogLevel        string        `envconfig:"CHAT_LOG_LEVEL" default:"info"`
	// AllowedOrigins restricts WebSocket upgrades; "*" allows any origin.
	AllowedOrigins []string `envconfig:"CHAT_ALLOWED_ORIGINS" default:"*"`
}

// LoadConfig reads configuration from the environment, falling back to
// defaults for anything unset, and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used when no environment overrides
// are present. Tests use it as a starting point.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":5050",
		HTTPAddr:        ":8080",
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		AllowedOrigins:  []string{"*"},
	}
}
