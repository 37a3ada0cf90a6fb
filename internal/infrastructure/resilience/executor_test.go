package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	observer := &observerStub{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}).WithObserver(observer)

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !IsCircuitOpen(err) {
		t.Fatalf("expected IsCircuitOpen to detect %v", err)
	}
	if got := exec.State("op"); got != "open" {
		t.Fatalf("expected open breaker state, got %q", got)
	}
	if len(observer.states) == 0 || observer.states[len(observer.states)-1] != "open" {
		t.Fatalf("expected observer to see open state, got %v", observer.states)
	}
}

type observerStub struct {
	retries []string
	states  []string
}

func (o *observerStub) ObserveRetry(operation string) {
	o.retries = append(o.retries, operation)
}

func (o *observerStub) ObserveBreakerState(_ string, state string) {
	o.states = append(o.states, state)
}

func TestExecuteReportsRetriesToObserver(t *testing.T) {
	observer := &observerStub{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
	}).WithObserver(observer)

	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "ollama.embed", func(context.Context) error {
		return errTemp
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected last error after exhausting retries, got %v", err)
	}
	if len(observer.retries) != 1 || observer.retries[0] != "ollama.embed" {
		t.Fatalf("expected one observed retry, got %v", observer.retries)
	}
	if exec.State("ollama.embed") != "disabled" {
		t.Fatalf("expected disabled breaker state")
	}
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	exec := NewExecutor(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := exec.Execute(ctx, "op", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("operation must not run with a cancelled context")
	}
}

func TestExecuteBoundsEachAttempt(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
		AttemptTimeouts:     map[string]time.Duration{OpEmbed: 10 * time.Millisecond},
	})

	attempts := 0
	err := exec.Execute(context.Background(), OpEmbed, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("expected a deadline on the retried attempt")
		}
		return nil
	}, func(error) ErrorClassification {
		// Mirrors the collaborator classifiers, which treat deadlines as the caller's.
		return ErrorClassification{Retryable: false, RecordFailure: false}
	})
	if err != nil {
		t.Fatalf("expected retry after a timed-out attempt to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}

	if got := (Config{}).AttemptTimeout(OpGenerate); got != 0 {
		t.Fatalf("expected no attempt timeout without configuration, got %s", got)
	}
	if got := DefaultConfig().AttemptTimeout(OpGenerate); got != 60*time.Second {
		t.Fatalf("expected default generate attempt timeout 60s, got %s", got)
	}
}

func TestExecuteReportsExhaustedAttemptTimeouts(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
		AttemptTimeouts:     map[string]time.Duration{OpIndexSearch: 5 * time.Millisecond},
	})

	err := exec.Execute(context.Background(), OpIndexSearch, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	if !errors.Is(err, ErrAttemptTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected attempt timeout wrapping the deadline, got %v", err)
	}
}
