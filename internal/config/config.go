package config

import "time"

// Config is the root configuration for the wsdemo binary.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	View    ViewConfig    `yaml:"view"`
	Logging LoggingConfig `yaml:"logging"`
	Journal JournalConfig `yaml:"journal"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds WebSocket server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Workers          int           `yaml:"workers"`
	ReadBufferSize   int           `yaml:"read_buffer_size"`
	MaxMessageSize   int           `yaml:"max_message_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// ViewConfig holds the view's connection client settings. The endpoint
// itself is fixed.
type ViewConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	CloseTimeout     time.Duration `yaml:"close_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"` // negative disables keepalive
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
	QueueSize        int           `yaml:"queue_size"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// JournalConfig enables persisting sink calls to PostgreSQL.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus and health endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
