package ics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	calendarPkg "github.com/venkytv/calendar-publisher/pkg/calendar"
)

const (
	productName = "calendar-publisher"
	uidDomain   = "calendar-publisher.local"
)

// fileLocks serializes writers of the same calendar file across clients
var fileLocks sync.Map

func lockFor(path string) *sync.Mutex {
	lock, _ := fileLocks.LoadOrStore(path, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Client implements calendar.Client by appending events to local iCalendar
// files, one file per calendar ID
type Client struct {
	mu     sync.Mutex
	dir    string
	closed bool
	now    func() time.Time
	logger *slog.Logger
}

var _ calendarPkg.Client = (*Client)(nil)

// NewConstructor returns a calendar.ClientConstructor writing into dir.
// Credentials are ignored.
func NewConstructor(dir string) calendarPkg.ClientConstructor {
	return func(ctx context.Context, creds calendarPkg.Credentials, logger *slog.Logger) (calendarPkg.Client, error) {
		return NewClient(dir, logger)
	}
}

// NewClient creates a client writing into dir, creating it if needed
func NewClient(dir string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, fmt.Errorf("calendar directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create calendar directory %s: %w", dir, err)
	}

	return &Client{
		dir:    dir,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Path returns the file backing the given calendar
func (c *Client) Path(calendarID string) string {
	return filepath.Join(c.dir, sanitize(calendarID)+".ics")
}

// Publish appends the message as a VEVENT and returns a mapping shaped like
// a Google Calendar insert response
func (c *Client) Publish(ctx context.Context, calendarID string, message *calendarPkg.Message) (map[string]any, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("ics client already cleaned up")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if calendarID == "" {
		return nil, fmt.Errorf("calendar ID is required")
	}

	start, err := time.Parse(time.RFC3339, message.Start.DateTime)
	if err != nil {
		return nil, fmt.Errorf("invalid start time %q: %w", message.Start.DateTime, err)
	}
	end, err := time.Parse(time.RFC3339, message.End.DateTime)
	if err != nil {
		return nil, fmt.Errorf("invalid end time %q: %w", message.End.DateTime, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end time %s is before start time %s", message.End.DateTime, message.Start.DateTime)
	}

	path := c.Path(calendarID)
	lock := lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	cal, err := loadCalendar(path, calendarID)
	if err != nil {
		return nil, err
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	uid := id + "@" + uidDomain
	now := c.now().UTC()

	event := cal.AddEvent(uid)
	event.SetDtStampTime(now)
	event.SetCreatedTime(now)
	event.SetModifiedAt(now)
	event.SetStartAt(start)
	event.SetEndAt(end)
	event.SetStatus(ics.ObjectStatusConfirmed)
	if message.Summary != "" {
		event.SetSummary(message.Summary)
	}
	if message.Description != "" {
		event.SetDescription(message.Description)
	}
	if class, ok := classification(message.Visibility); ok {
		event.SetClass(class)
	}

	if err := writeCalendar(path, cal); err != nil {
		return nil, err
	}

	c.logger.Debug("Appended event to calendar file",
		"calendar_id", calendarID,
		"path", path,
		"uid", uid)

	return responseMap(id, uid, calendarID, path, now, message), nil
}

// Cleanup marks the client as released. Calling it more than once is harmless.
func (c *Client) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func loadCalendar(path, calendarID string) (*ics.Calendar, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		cal := ics.NewCalendarFor(productName)
		cal.SetMethod(ics.MethodPublish)
		cal.SetXWRCalName(calendarID)
		return cal, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open calendar file %s: %w", path, err)
	}
	defer file.Close()

	cal, err := ics.ParseCalendar(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar file %s: %w", path, err)
	}
	return cal, nil
}

// writeCalendar replaces the file atomically so readers never see a partial
// calendar
func writeCalendar(path string, cal *ics.Calendar) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".calendar-*.ics")
	if err != nil {
		return fmt.Errorf("failed to create temporary calendar file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := cal.SerializeTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to serialize calendar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write calendar file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace calendar file %s: %w", path, err)
	}
	return nil
}

func responseMap(id, uid, calendarID, path string, now time.Time, message *calendarPkg.Message) map[string]any {
	timestamp := now.Format("2006-01-02T15:04:05.000Z")
	response := map[string]any{
		"kind":      "calendar#event",
		"id":        id,
		"status":    "confirmed",
		"html_link": "file://" + filepath.ToSlash(path),
		"created":   timestamp,
		"updated":   timestamp,
		"i_cal_uid": uid,
		"organizer": map[string]any{"email": calendarID, "self": true},
		"start":     map[string]any{"date_time": message.Start.DateTime},
		"end":       map[string]any{"date_time": message.End.DateTime},
	}
	if message.Summary != "" {
		response["summary"] = message.Summary
	}
	if message.Description != "" {
		response["description"] = message.Description
	}
	if message.Visibility != "" {
		response["visibility"] = message.Visibility
	}
	return response
}

// classification maps Google visibility values to iCalendar CLASS
func classification(visibility string) (ics.Classification, bool) {
	switch strings.ToLower(visibility) {
	case "public":
		return ics.ClassificationPublic, true
	case "private":
		return ics.ClassificationPrivate, true
	case "confidential":
		return ics.ClassificationConfidential, true
	default:
		return "", false
	}
}

// sanitize makes a calendar ID safe to use as a file name
func sanitize(calendarID string) string {
	var b strings.Builder
	for _, r := range calendarID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		return "calendar"
	}
	return name
}
