// Package retry repeats calendar writes that failed before the server
// applied them. Inserts are not idempotent, so anything that may have
// reached the calendar (timeouts, 5xx other than 503) is returned at once.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"slices"
	"time"
)

// Policy controls how often and how long an operation is retried
type Policy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       bool          `yaml:"jitter"`
	// Statuses lists the HTTP statuses that mean the request was rejected
	// without being applied
	Statuses []int `yaml:"statuses"`
}

// InsertPolicy is the policy for creating calendar events
func InsertPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
		Statuses:     []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
	}
}

// StatusError is an HTTP failure reported by a calendar API
type StatusError struct {
	Code    int
	Message string
	Op      string
	// RetryAfter is the server's requested wait, zero when absent
	RetryAfter time.Duration
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Retryer runs operations under a Policy
type Retryer struct {
	policy Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Retryer. MaxAttempts below one runs the operation once.
func New(policy Policy, logger *slog.Logger) *Retryer {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retryer{policy: policy, logger: logger, sleep: sleepContext}
}

// Do calls op until it succeeds, fails with an error that is not safe to
// retry, or the policy runs out of attempts
func (r *Retryer) Do(ctx context.Context, op func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Calendar write succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		retriable, wait := r.Retriable(err)
		if !retriable {
			return err
		}
		if attempt >= r.policy.MaxAttempts {
			r.logger.Warn("Giving up on calendar write", "attempts", attempt, "error", err)
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		delay := max(r.backoff(attempt), min(wait, r.policy.MaxDelay))
		r.logger.Debug("Retrying calendar write",
			"attempt", attempt+1,
			"max_attempts", r.policy.MaxAttempts,
			"delay", delay,
			"error", err)

		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// Retriable reports whether err shows the request was never applied, and
// how long the server asked to wait
func (r *Retryer) Retriable(err error) (bool, time.Duration) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, 0
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return slices.Contains(r.policy.Statuses, statusErr.Code), statusErr.RetryAfter
	}

	// No connection means no request was sent.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true, 0
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true, 0
	}

	return false, 0
}

// backoff returns the delay after the given failed attempt
func (r *Retryer) backoff(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if limit := float64(r.policy.MaxDelay); r.policy.MaxDelay > 0 && delay > limit {
		delay = limit
	}
	if r.policy.Jitter {
		delay += rand.Float64() * 0.1 * delay
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
