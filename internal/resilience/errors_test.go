package resilience

import (
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestIsRetryable_Nil(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error should not be retryable")
	}
}

func TestIsRetryable_TransientError(t *testing.T) {
	err := NewTransientError(errors.New("rate limited"), 429)
	if !IsRetryable(err) {
		t.Error("TransientError should be retryable")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !IsRetryable(wrapped) {
		t.Error("wrapped TransientError should be retryable")
	}
}

func TestIsRetryable_EmbeddedStatus(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"pagespeed: unexpected status 503: service unavailable", true},
		{"builtwith: unexpected status 500: boom", true},
		{"whois: unexpected status 502: bad gateway", true},
		{"screenshots: unexpected status 404: not found", false},
		{"seo: unexpected status 400: bad request", false},
		{"ai: unexpected status 401: unauthorized", false},
		{"got HTTP 504 from upstream", true},
		{"status code 429 too many requests", true},
	}
	for _, tt := range tests {
		if got := IsRetryable(errors.New(tt.msg)); got != tt.want {
			t.Errorf("IsRetryable(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestIsRetryable_NetworkErrors(t *testing.T) {
	dnsErr := &net.DNSError{Err: "no such host", Name: "example.invalid"}
	if !IsRetryable(dnsErr) {
		t.Error("DNS error should be retryable")
	}

	timeoutErr := &net.OpError{Op: "dial", Err: &timeoutError{}}
	if !IsRetryable(timeoutErr) {
		t.Error("timeout error should be retryable")
	}
}

func TestIsRetryable_UnclassifiedNotRetried(t *testing.T) {
	if IsRetryable(errors.New("invalid response shape")) {
		t.Error("unclassified error should not be retryable")
	}
}

func TestIsRetryable_TimeoutFlavoredMessages(t *testing.T) {
	for _, msg := range []string{
		"read tcp 10.0.0.1:443: i/o timeout",
		"context deadline exceeded",
		"net/http: TLS handshake timeout",
	} {
		if !IsRetryable(errors.New(msg)) {
			t.Errorf("expected retryable: %q", msg)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	retryable := []int{408, 429, 500, 502, 503, 504, 599}
	for _, code := range retryable {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d transient", code)
		}
	}
	permanent := []int{200, 301, 400, 401, 403, 404, 422}
	for _, code := range permanent {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d not transient", code)
		}
	}
}

// timeoutError implements net.Error with Timeout() == true.
type timeoutError struct{}

func (timeoutError) Error() string   { return "timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
