package models

import (
	"context"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"direct", NewCrawlError(ErrCodeNavBlocked, "blocked", nil), ErrCodeNavBlocked},
		{"wrapped", fmt.Errorf("attempt 2: %w", NewCrawlError(ErrCodeNavTimeout, "slow", context.DeadlineExceeded)), ErrCodeNavTimeout},
		{"plain", fmt.Errorf("boom"), ErrCodeInternal},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("%s: CodeOf() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	retryable := []string{ErrCodeNavTimeout, ErrCodeNavBlocked, ErrCodeNavNetwork, ErrCodeScript, ErrCodeExtraction}
	for _, c := range retryable {
		if !Retryable(c) {
			t.Errorf("Retryable(%q) = false, want true", c)
		}
	}
	for _, c := range []string{ErrCodeProxyExhausted, ErrCodeBrowserLaunch, ErrCodeCanceled, ErrCodeInternal} {
		if Retryable(c) {
			t.Errorf("Retryable(%q) = true, want false", c)
		}
	}
}

func TestCrawlErrorUnwrap(t *testing.T) {
	err := NewCrawlError(ErrCodeNavTimeout, "navigation timed out", context.DeadlineExceeded)
	if err.Unwrap() != context.DeadlineExceeded {
		t.Errorf("Unwrap() = %v, want context.DeadlineExceeded", err.Unwrap())
	}
	want := "NAV_TIMEOUT: navigation timed out: context deadline exceeded"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
