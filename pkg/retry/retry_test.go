package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"
)

// recordedSleeps replaces real waiting and keeps the requested delays
type recordedSleeps struct {
	delays []time.Duration
	err    error
}

func (s *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

func testRetryer(policy Policy) (*Retryer, *recordedSleeps) {
	sleeps := &recordedSleeps{}
	r := New(policy, slog.Default())
	r.sleep = sleeps.sleep
	return r, sleeps
}

func insertError(code int) *StatusError {
	return &StatusError{Code: code, Message: http.StatusText(code), Op: "calendar.events.insert"}
}

func TestInsertPolicy(t *testing.T) {
	policy := InsertPolicy()
	for _, code := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		if ok, _ := New(policy, nil).Retriable(insertError(code)); !ok {
			t.Errorf("Expected HTTP %d to be retried", code)
		}
	}
	if policy.MaxAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", policy.MaxAttempts)
	}
}

func TestDoInsertOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		failures  []error
		wantCalls int
		wantErr   bool
		wantCode  int
	}{
		{name: "first try", wantCalls: 1},
		{name: "rate limited then created", failures: []error{insertError(429)}, wantCalls: 2},
		{name: "unavailable twice then created", failures: []error{insertError(503), insertError(503)}, wantCalls: 3},
		{name: "unavailable until exhausted", failures: []error{insertError(503), insertError(503), insertError(503)}, wantCalls: 3, wantErr: true, wantCode: 503},
		{name: "bad request", failures: []error{insertError(400)}, wantCalls: 1, wantErr: true, wantCode: 400},
		{name: "forbidden", failures: []error{insertError(403)}, wantCalls: 1, wantErr: true, wantCode: 403},
		{name: "conflict", failures: []error{insertError(409)}, wantCalls: 1, wantErr: true, wantCode: 409},
		{name: "server error may have applied the insert", failures: []error{insertError(500)}, wantCalls: 1, wantErr: true, wantCode: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := testRetryer(InsertPolicy())

			calls := 0
			err := r.Do(context.Background(), func(context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, calls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var statusErr *StatusError
				if !errors.As(err, &statusErr) || statusErr.Code != tt.wantCode {
					t.Errorf("Expected HTTP %d to be reported, got %v", tt.wantCode, err)
				}
			}
		})
	}
}

func TestDoBackoff(t *testing.T) {
	r, sleeps := testRetryer(Policy{
		MaxAttempts:  4,
		InitialDelay: time.Second,
		MaxDelay:     3 * time.Second,
		Multiplier:   2,
		Statuses:     []int{503},
	})

	_ = r.Do(context.Background(), func(context.Context) error { return insertError(503) })

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(sleeps.delays) != len(want) {
		t.Fatalf("Expected delays %v, got %v", want, sleeps.delays)
	}
	for i := range want {
		if sleeps.delays[i] != want[i] {
			t.Errorf("Delay %d = %v, want %v", i, sleeps.delays[i], want[i])
		}
	}
}

func TestDoHonoursRetryAfter(t *testing.T) {
	r, sleeps := testRetryer(Policy{
		MaxAttempts:  2,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
		Statuses:     []int{429},
	})

	limited := insertError(429)
	limited.RetryAfter = 20 * time.Second
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return limited
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(sleeps.delays) != 1 || sleeps.delays[0] != 20*time.Second {
		t.Errorf("Expected a single 20s wait, got %v", sleeps.delays)
	}

	limited.RetryAfter = time.Hour
	sleeps.delays = nil
	calls = 0
	_ = r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return limited
		}
		return nil
	})
	if len(sleeps.delays) != 1 || sleeps.delays[0] != time.Minute {
		t.Errorf("Expected Retry-After to be capped at MaxDelay, got %v", sleeps.delays)
	}
}

func TestDoJitter(t *testing.T) {
	r := New(Policy{InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, Jitter: true}, nil)

	for range 20 {
		delay := r.backoff(1)
		if delay < 2*time.Second || delay > 2200*time.Millisecond {
			t.Fatalf("Expected jittered delay within 10%% of 2s, got %v", delay)
		}
	}
}

func TestDoCancelledWhileWaiting(t *testing.T) {
	r, sleeps := testRetryer(InsertPolicy())
	sleeps.err = context.Canceled

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return insertError(503)
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single call before cancellation, got %d", calls)
	}
}

func TestRetriable(t *testing.T) {
	r := New(InsertPolicy(), nil)

	dialErr := &url.Error{Op: "Post", URL: "https://www.googleapis.com", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	readErr := &url.Error{Op: "Post", URL: "https://www.googleapis.com", Err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"wrapped 503", fmt.Errorf("insert: %w", insertError(503)), true},
		{"429", insertError(429), true},
		{"404 calendar", insertError(404), false},
		{"dial refused", dialErr, true},
		{"unknown host", &net.DNSError{Err: "no such host", Name: "www.googleapis.com"}, true},
		{"reset after sending", readErr, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", fmt.Errorf("insert: %w", context.DeadlineExceeded), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := r.Retriable(tt.err); got != tt.want {
				t.Errorf("Retriable(%v) = %t, want %t", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	cause := errors.New("googleapi: Error 503: backend error")
	err := &StatusError{Code: 503, Message: "backend error", Op: "calendar.events.insert", Err: cause}

	if got, want := err.Error(), "calendar.events.insert: HTTP 503: backend error"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected StatusError to unwrap to its cause")
	}
}
