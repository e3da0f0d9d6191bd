package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerHost       = "127.0.0.1"
	DefaultServerPort       = 3000
	DefaultWorkers          = 4
	DefaultReadBufferSize   = 512
	DefaultMaxMessageSize   = 1 << 20
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultShutdownTimeout  = 5 * time.Second
	DefaultCloseTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultQueueSize        = 64
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultBatchSize        = 100
	DefaultFlushInterval    = 1 * time.Second
	DefaultBufferSize       = 1000
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = DefaultWorkers
	}
	if c.Server.ReadBufferSize == 0 {
		c.Server.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// View defaults
	if c.View.HandshakeTimeout == 0 {
		c.View.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.View.WriteTimeout == 0 {
		c.View.WriteTimeout = DefaultWriteTimeout
	}
	if c.View.CloseTimeout == 0 {
		c.View.CloseTimeout = DefaultCloseTimeout
	}
	if c.View.PingInterval == 0 {
		c.View.PingInterval = DefaultPingInterval
	}
	if c.View.PingTimeout == 0 {
		c.View.PingTimeout = DefaultPingTimeout
	}
	if c.View.QueueSize == 0 {
		c.View.QueueSize = DefaultQueueSize
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Journal.Database)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
