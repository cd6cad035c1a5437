package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMapErrorToStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("load edge: %w", ErrNotFound), http.StatusNotFound},
		{"invalid", Invalid("cannot befriend yourself"), http.StatusBadRequest},
		{"conflict", fmt.Errorf("commit: %w", ErrConcurrencyConflict), http.StatusConflict},
		{"transport", fmt.Errorf("dial: %w", ErrTransport), http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"forbidden", Forbidden("not the author"), http.StatusForbidden},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MapErrorToStatus(tc.err); got != tc.want {
				t.Errorf("MapErrorToStatus(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("x: %w", ErrConcurrencyConflict)) {
		t.Error("conflict should be retryable")
	}
	if !IsRetryable(fmt.Errorf("x: %w", ErrTransport)) {
		t.Error("transport failure should be retryable")
	}
	if IsRetryable(Invalid("self request")) {
		t.Error("invalid operation must not be retried")
	}
	if IsRetryable(NotFound("edge")) {
		t.Error("not found must not be retried")
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := NotFound("pending request not found")
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected AppError to unwrap to ErrNotFound")
	}
	if err.Error() != "pending request not found: resource not found" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
