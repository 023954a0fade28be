package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	calendarPkg "github.com/venkytv/calendar-publisher/pkg/calendar"
	"github.com/venkytv/calendar-publisher/pkg/retry"
)

// Client implements calendar.Client for Google Calendar
type Client struct {
	mu        sync.Mutex
	service   *calendar.Service
	transport *http.Transport
	retryer   *retry.Retryer
	logger    *slog.Logger
}

var _ calendarPkg.Client = (*Client)(nil)

// NewClient creates a Google Calendar client authenticated as the given
// service account. It matches calendar.ClientConstructor.
func NewClient(ctx context.Context, creds calendarPkg.Credentials, logger *slog.Logger) (calendarPkg.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := jwtConfig(creds)
	if err != nil {
		return nil, fmt.Errorf("unable to configure service account: %w", err)
	}

	// Token fetches and API calls share one transport so Cleanup can drop
	// every pooled connection.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: transport})
	httpClient := config.Client(ctx)

	service, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		transport.CloseIdleConnections()
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	logger.Debug("Google Calendar client created", "service_account", config.Email)

	return newClientWithService(service, transport, logger), nil
}

func newClientWithService(service *calendar.Service, transport *http.Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		service:   service,
		transport: transport,
		retryer:   retry.New(retry.InsertPolicy(), logger),
		logger:    logger,
	}
}

// Publish inserts the message as a new event and returns the created event
// with snake_case keys
func (c *Client) Publish(ctx context.Context, calendarID string, message *calendarPkg.Message) (map[string]any, error) {
	c.mu.Lock()
	service := c.service
	c.mu.Unlock()

	if service == nil {
		return nil, fmt.Errorf("calendar service not initialized")
	}
	if calendarID == "" {
		return nil, fmt.Errorf("calendar ID is required")
	}

	event := toGoogleEvent(message)

	var created *calendar.Event
	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		created, err = service.Events.Insert(calendarID, event).Context(ctx).Do()
		return classifyError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to insert event into calendar %s: %w", calendarID, err)
	}

	c.logger.Debug("Published calendar event",
		"calendar_id", calendarID,
		"event_id", created.Id,
		"status", created.Status)

	return eventToMap(created)
}

// Cleanup releases pooled connections. Calling it more than once is harmless.
func (c *Client) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != nil {
		c.transport.CloseIdleConnections()
		c.transport = nil
	}
	c.service = nil
	return nil
}

// classifyError exposes Google API status codes to the retryer
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &retry.StatusError{
			Code:       apiErr.Code,
			Message:    apiErr.Message,
			Op:         "calendar.events.insert",
			RetryAfter: retryAfter(apiErr.Header, time.Now()),
			Err:        err,
		}
	}
	return err
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date
func retryAfter(header http.Header, now time.Time) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
