package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds the settings for a Server.
type Config struct {
	Host string
	Port int

	// Workers bounds the number of concurrent sessions.
	Workers int

	ReadBufferSize   int
	MaxMessageSize   int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultConfig returns the settings the view expects: 127.0.0.1:3000.
func DefaultConfig() Config {
	return Config{
		Host:             "127.0.0.1",
		Port:             3000,
		Workers:          4,
		ReadBufferSize:   512,
		MaxMessageSize:   1 << 20,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ShutdownTimeout:  5 * time.Second,
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.ReadBufferSize < 1 {
		return errors.New("read_buffer_size must be >= 1")
	}
	if c.MaxMessageSize < 1 {
		return errors.New("max_message_size must be >= 1")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	return nil
}
