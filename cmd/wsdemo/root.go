package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/wsdemo/internal/config"
	"github.com/rickgao/wsdemo/internal/connection"
	"github.com/rickgao/wsdemo/internal/logging"
	"github.com/rickgao/wsdemo/internal/server"
	"github.com/rickgao/wsdemo/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "wsdemo",
	Short:         "WebSocket demo server and connection view",
	Long:          `wsdemo serves a small RFC 6455 WebSocket endpoint and runs a view that connects to it and logs the connection lifecycle.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config file (defaults apply when empty)")
}

// setup loads configuration and installs the configured logger as default.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(os.Stderr, level, cfg.Logging.Format)
	slog.SetDefault(logger)

	logger.Info("starting wsdemo",
		"command", cmd.Name(),
		"build", version.LogValue(),
		"config", path,
	)
	return cfg, logger, nil
}

func serverConfig(c config.ServerConfig) server.Config {
	return server.Config{
		Host:             c.Host,
		Port:             c.Port,
		Workers:          c.Workers,
		ReadBufferSize:   c.ReadBufferSize,
		MaxMessageSize:   c.MaxMessageSize,
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		ShutdownTimeout:  c.ShutdownTimeout,
	}
}

func clientConfig(c config.ViewConfig) connection.ClientConfig {
	cfg := connection.DefaultClientConfig()
	cfg.HandshakeTimeout = c.HandshakeTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.CloseTimeout = c.CloseTimeout
	cfg.PingInterval = max(c.PingInterval, 0)
	cfg.PingTimeout = c.PingTimeout
	cfg.ReadLimit = c.ReadLimit
	cfg.QueueSize = c.QueueSize
	return cfg
}
