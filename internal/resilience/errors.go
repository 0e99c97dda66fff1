package resilience

import (
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// embeddedStatusRe finds an HTTP status code carried in an error message,
// e.g. "unexpected status 503: ..." or "HTTP 502 Bad Gateway".
var embeddedStatusRe = regexp.MustCompile(`(?i)(?:status(?: code)?|http)[ :]+([1-5]\d\d)\b`)

// IsRetryable reports whether an error is worth retrying: an explicit
// TransientError, a network-level failure (timeout, refused connection, DNS),
// a timeout/abort-flavored error, or a message embedding a 5xx status.
// 4xx statuses and unclassified errors are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Explicit TransientError in the chain.
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// Network-level transient errors.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())

	// An HTTP status embedded in the message decides directly: 5xx retries,
	// anything else does not.
	if m := embeddedStatusRe.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return IsTransientHTTPStatus(code)
	}

	// String heuristics for wrapped errors from HTTP clients.
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"context deadline exceeded",
		"request aborted",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429: // Too Many Requests
		return true
	default:
		return statusCode >= 500 && statusCode <= 599
	}
}
