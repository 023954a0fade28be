package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Config holds NATS connection configuration
type Config struct {
	URL             string        `yaml:"url"`
	Name            string        `yaml:"name"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	MaxReconnects   int           `yaml:"max_reconnects"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxPingsOut     int           `yaml:"max_pings_out"`
	ReconnectBuffer int           `yaml:"reconnect_buffer"`
}

// DefaultConfig returns a default NATS configuration
func DefaultConfig() *Config {
	return &Config{
		URL:             nats.DefaultURL,
		Name:            "calendar-publisher",
		ConnectTimeout:  5 * time.Second,
		ReconnectWait:   2 * time.Second,
		MaxReconnects:   10,
		PingInterval:    2 * time.Minute,
		MaxPingsOut:     2,
		ReconnectBuffer: 5 * 1024 * 1024, // 5MB
	}
}

// Options translates the configuration into connection options
func (c *Config) Options(logger *slog.Logger) []nats.Option {
	if logger == nil {
		logger = slog.Default()
	}

	return []nats.Option{
		nats.Name(c.Name),
		nats.Timeout(c.ConnectTimeout),
		nats.ReconnectWait(c.ReconnectWait),
		nats.MaxReconnects(c.MaxReconnects),
		nats.PingInterval(c.PingInterval),
		nats.MaxPingsOutstanding(c.MaxPingsOut),
		nats.ReconnectBufSize(c.ReconnectBuffer),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS error", "error", err, "subject", subject)
		}),
	}
}

// Connect opens a NATS connection shared by the subscriber, the publisher
// and the credential bucket
func Connect(config *Config, logger *slog.Logger) (*nats.Conn, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(config.URL, config.Options(logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", config.URL, err)
	}

	logger.Info("Connected to NATS",
		"url", config.URL,
		"connected_url", conn.ConnectedUrl())

	return conn, nil
}
