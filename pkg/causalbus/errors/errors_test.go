package errors_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	buserrors "github.com/randalmurphal/causalbus/pkg/causalbus/errors"
	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
)

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "connection reset" }
func (fakeNetError) Timeout() bool   { return true }
func (fakeNetError) Temporary() bool { return true }

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want buserrors.Category
	}{
		{"quota is permanent", event.ErrQuotaExceeded, buserrors.CategoryPermanent},
		{"invalid channel is permanent", event.ErrInvalidChannel, buserrors.CategoryPermanent},
		{"closed bus is permanent", event.ErrClosed, buserrors.CategoryPermanent},
		{"cancellation is permanent", context.Canceled, buserrors.CategoryPermanent},
		{"net error is transient", fakeNetError{}, buserrors.CategoryTransient},
		{"wrapped quota is permanent", &event.BusError{Channel: "ops", Message: "rejected", Err: event.ErrQuotaExceeded}, buserrors.CategoryPermanent},
		{"explicit transient", buserrors.Transient(stderrors.New("boom"), "send"), buserrors.CategoryTransient},
		{"unknown is permanent", stderrors.New("mystery"), buserrors.CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buserrors.Categorize(tt.err); got != tt.want {
				t.Errorf("Categorize() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWithRetryContextSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result := buserrors.WithRetryContext(context.Background(), buserrors.RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
	}, func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", buserrors.Transient(stderrors.New("flaky"), "send")
		}
		return "ok", nil
	})

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Value != "ok" || result.Attempts != 3 {
		t.Errorf("got value=%q attempts=%d, want ok/3", result.Value, result.Attempts)
	}
}

func TestWithRetryContextStopsOnPermanent(t *testing.T) {
	attempts := 0
	result := buserrors.WithRetryContext(context.Background(), buserrors.DefaultRetry,
		func(ctx context.Context) (struct{}, error) {
			attempts++
			return struct{}{}, event.ErrQuotaExceeded
		})

	if result.Err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("permanent error must not be retried, got %d attempts", attempts)
	}
	if !stderrors.Is(result.Err, event.ErrQuotaExceeded) {
		t.Errorf("final error must wrap the cause, got %v", result.Err)
	}
}

func TestWithRetryContextHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := buserrors.WithRetryContext(ctx, buserrors.DefaultRetry,
		func(ctx context.Context) (struct{}, error) {
			t.Fatal("fn must not run with cancelled context")
			return struct{}{}, nil
		})

	if result.Err == nil || result.Attempts != 0 {
		t.Errorf("expected immediate failure, got attempts=%d err=%v", result.Attempts, result.Err)
	}
}
