package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	p.Jitter = true
	for range 50 {
		d := p.Delay(0)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"rate limited", &APIError{StatusCode: http.StatusTooManyRequests}, true},
		{"server error", &APIError{StatusCode: http.StatusBadGateway}, true},
		{"bad request", &APIError{StatusCode: http.StatusBadRequest}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetry(t *testing.T) {
	retryable := &APIError{StatusCode: http.StatusServiceUnavailable}
	tests := []struct {
		name      string
		results   []error
		started   bool
		wantCalls int
		wantErr   bool
	}{
		{"first try", []error{nil}, false, 1, false},
		{"recovers", []error{retryable, nil}, false, 2, false},
		{"exhausted", []error{retryable, retryable, retryable, retryable}, false, 3, true},
		{"started is final", []error{retryable, nil}, true, 1, true},
		{"permanent", []error{errors.New("bad"), nil}, false, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := withRetry(context.Background(), fastRetry(), nil, func() (bool, error) {
				err := tt.results[calls]
				calls++
				return tt.started, err
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("withRetry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}

	err := withRetry(ctx, p, func(int, error, time.Duration) { cancel() }, func() (bool, error) {
		return false, &APIError{StatusCode: http.StatusBadGateway}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
