package calendar

import (
	"context"
	"log/slog"
)

// Client publishes messages to one calendar service under one set of credentials.
// A client is owned by the caller that constructed it and must be released
// with Cleanup exactly once.
type Client interface {
	// Publish creates a calendar entry and returns the service's
	// representation of the created event
	Publish(ctx context.Context, calendarID string, message *Message) (map[string]any, error)

	// Cleanup releases any resources held by the client
	Cleanup() error
}

// Credentials identify the service account a client acts as.
// Key holds inline key material and takes precedence over KeyFile.
type Credentials struct {
	KeyFile             string
	Key                 string
	KeySecret           string
	ServiceAccountEmail string
}

// HasKey reports whether any key material is configured
func (c Credentials) HasKey() bool {
	return c.Key != "" || c.KeyFile != ""
}

// ClientConstructor builds a Client scoped to the given credentials
type ClientConstructor func(ctx context.Context, creds Credentials, logger *slog.Logger) (Client, error)
