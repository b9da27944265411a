package providers

import (
	"errors"
	"testing"
)

func TestAIErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewAIError(ErrTimeout, "request timed out", cause)
	if got := err.Error(); got != "request timed out: connection reset" {
		t.Fatalf("unexpected Error() text: %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to unwrap to the cause")
	}
}

func TestAIErrorMessageWithoutCause(t *testing.T) {
	err := NewAIError(ErrInvalidRequest, "missing prompt", nil)
	if got := err.Error(); got != "missing prompt" {
		t.Fatalf("unexpected Error() text: %q", got)
	}
}

func TestProviderErrorRetryability(t *testing.T) {
	retryable := []ProviderError{ErrRateLimited, ErrBudgetExceeded, ErrTimeout, ErrUpstream5xx, ErrUnavailable}
	for _, kind := range retryable {
		if !kind.Retryable() {
			t.Errorf("expected %q to be retryable", kind)
		}
	}
	if ErrInvalidRequest.Retryable() {
		t.Fatal("expected ErrInvalidRequest to not be retryable")
	}
}
