package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/venkytv/calendar-publisher/internal/models"
	"github.com/venkytv/calendar-publisher/pkg/calendar"
	"github.com/venkytv/calendar-publisher/pkg/config"
	"github.com/venkytv/calendar-publisher/pkg/template"
)

// Config describes a single publish agent
type Config struct {
	ID     string
	UserID string
	Name   string
	// Options holds the raw agent options. String leaves may contain
	// templates resolved per event.
	Options     map[string]any
	Concurrency int
	// RequireCredentials makes ValidateOptions insist on a google key
	RequireCredentials bool
}

// Stats counts processed events
type Stats struct {
	Received  int
	Succeeded int
	Failed    int
}

// PublishAgent publishes inbound events as calendar entries and emits one
// result event per processed inbound event
type PublishAgent struct {
	config       Config
	interpolator template.Interpolator
	newClient    calendar.ClientConstructor
	emitter      *emitter
	logger       *slog.Logger
	now          func() time.Time
	trace        func(eventID string, stage Stage)

	mu          sync.Mutex
	lastSuccess time.Time
	lastFailure time.Time
	stats       Stats
}

// New creates a publish agent
func New(cfg Config, interpolator template.Interpolator, newClient calendar.ClientConstructor, store EventStore, logger *slog.Logger) (*PublishAgent, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("agent user id is required")
	}
	if interpolator == nil {
		return nil, fmt.Errorf("interpolator is required")
	}
	if newClient == nil {
		return nil, fmt.Errorf("client constructor is required")
	}
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	logger = logger.With("agent_id", cfg.ID)

	return &PublishAgent{
		config:       cfg,
		interpolator: interpolator,
		newClient:    newClient,
		emitter:      &emitter{agentID: cfg.ID, store: store},
		logger:       logger,
		now:          time.Now,
		trace: func(eventID string, stage Stage) {
			logger.Debug("Event stage reached", "event_id", eventID, "stage", stage.String())
		},
	}, nil
}

// ID returns the agent identifier
func (a *PublishAgent) ID() string {
	return a.config.ID
}

// ValidateOptions checks the raw options without resolving templates
func (a *PublishAgent) ValidateOptions() error {
	options, err := config.DecodeAgentOptions(a.config.Options)
	if err != nil {
		return err
	}

	var errs []error
	if strings.TrimSpace(options.CalendarID) == "" {
		errs = append(errs, fmt.Errorf("calendar_id is required"))
	}
	if _, err := options.UpdatePeriod(); err != nil {
		errs = append(errs, err)
	}
	if a.config.RequireCredentials {
		if options.Google.Key == "" && options.Google.KeyFile == "" {
			errs = append(errs, fmt.Errorf("google.key or google.key_file is required"))
		}
		if options.Google.ServiceAccountEmail == "" && !carriesServiceAccount(options.Google) {
			errs = append(errs, fmt.Errorf("google.service_account_email is required"))
		}
	}

	return errors.Join(errs...)
}

// carriesServiceAccount reports whether the configured key may be a service
// account JSON document, which names its own client email
func carriesServiceAccount(google config.GoogleOptions) bool {
	if google.Key != "" {
		return template.HasTemplate(google.Key) || strings.HasPrefix(strings.TrimSpace(google.Key), "{")
	}
	if google.KeyFile == "" {
		return false
	}
	if template.HasTemplate(google.KeyFile) || strings.EqualFold(filepath.Ext(google.KeyFile), ".json") {
		return true
	}
	data, err := os.ReadFile(google.KeyFile)
	if err != nil {
		return false
	}
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("{"))
}

// Working reports whether a successful result was emitted within the
// expected update period and nothing has failed since
func (a *PublishAgent) Working(now time.Time) bool {
	options, err := config.DecodeAgentOptions(a.config.Options)
	if err != nil {
		return false
	}
	period, err := options.UpdatePeriod()
	if err != nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lastSuccess.IsZero() {
		return false
	}
	if a.lastFailure.After(a.lastSuccess) {
		return false
	}
	return now.Sub(a.lastSuccess) <= period
}

// Stats returns a snapshot of the processing counters
func (a *PublishAgent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Receive processes every event independently and emits one result event
// for each. Publishing failures become failure results; only errors from
// the event store are returned.
func (a *PublishAgent) Receive(ctx context.Context, events []*models.Event) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(a.config.Concurrency)

	for _, event := range events {
		if event == nil {
			a.logger.Warn("Skipping nil inbound event")
			continue
		}
		g.Go(func() error {
			if err := a.process(ctx, event); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}

func (a *PublishAgent) process(ctx context.Context, event *models.Event) error {
	logger := a.logger.With("event_id", event.ID, "source_agent_id", event.AgentID)
	a.trace(event.ID, StageReceived)

	a.mu.Lock()
	a.stats.Received++
	a.mu.Unlock()

	response, publishErr := a.publish(ctx, event, logger)
	if publishErr != nil {
		logger.Warn("Failed to publish calendar event",
			"stage", FailedStage(publishErr).String(),
			"error", publishErr)
	}

	result, err := a.emitter.emit(ctx, event, response, publishErr)

	// A success counts only once its result has been stored.
	a.mu.Lock()
	if publishErr != nil || err != nil {
		a.stats.Failed++
		a.lastFailure = a.now()
	} else {
		a.stats.Succeeded++
		a.lastSuccess = a.now()
	}
	a.mu.Unlock()

	if err != nil {
		logger.Error("Failed to emit result event", "error", err)
		return err
	}

	if publishErr != nil {
		a.trace(event.ID, StageFailed)
	} else {
		a.trace(event.ID, StageResultEmitted)
		logger.Info("Published calendar event", "result_event_id", result.ID)
	}
	return nil
}

// publish runs the per-event pipeline. The client, once constructed, is
// released before publish returns.
func (a *PublishAgent) publish(ctx context.Context, event *models.Event, logger *slog.Logger) (map[string]any, error) {
	options, err := a.resolveOptions(ctx, event)
	if err != nil {
		return nil, &StageError{Stage: StageConfigResolved, EventID: event.ID, Err: err}
	}
	a.trace(event.ID, StageConfigResolved)

	message, err := calendar.NormalizePayload(event.Payload)
	if err != nil {
		return nil, &StageError{Stage: StagePayloadNormalized, EventID: event.ID, Err: err}
	}
	a.trace(event.ID, StagePayloadNormalized)

	client, err := a.newClient(ctx, credentialsFrom(options.Google), logger)
	if err != nil {
		return nil, &StageError{
			Stage:   StageClientAcquired,
			EventID: event.ID,
			Err:     &PublishError{Op: "create calendar client", Err: err},
		}
	}
	a.trace(event.ID, StageClientAcquired)

	defer func() {
		if err := client.Cleanup(); err != nil {
			logger.Warn("Failed to release calendar client", "error", err)
		}
		a.trace(event.ID, StageClientReleased)
	}()

	response, err := client.Publish(ctx, options.CalendarID, message)
	if err != nil {
		return nil, &StageError{
			Stage:   StagePublished,
			EventID: event.ID,
			Err:     &PublishError{Op: "publish event", CalendarID: options.CalendarID, Err: err},
		}
	}
	a.trace(event.ID, StagePublished)

	return response, nil
}

// resolveOptions interpolates the raw options against the event payload
// and decodes the result
func (a *PublishAgent) resolveOptions(ctx context.Context, event *models.Event) (*config.AgentOptions, error) {
	raw, err := template.InterpolateOptions(ctx, a.interpolator, a.config.UserID, a.config.Options, event.Payload)
	if err != nil {
		return nil, err
	}

	options, err := config.DecodeAgentOptions(raw)
	if err != nil {
		return nil, &template.ConfigResolutionError{Field: "options", Err: err}
	}

	options.CalendarID = strings.TrimSpace(options.CalendarID)
	if options.CalendarID == "" {
		return nil, &template.ConfigResolutionError{
			Field: "calendar_id",
			Err:   errors.New("calendar_id resolved to an empty value"),
		}
	}

	return options, nil
}

func credentialsFrom(options config.GoogleOptions) calendar.Credentials {
	return calendar.Credentials{
		KeyFile:             options.KeyFile,
		Key:                 options.Key,
		KeySecret:           options.KeySecret,
		ServiceAccountEmail: options.ServiceAccountEmail,
	}
}
