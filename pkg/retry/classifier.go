package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"
	"syscall"
)

// transientMarkers are message fragments that indicate a temporary remote failure.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many requests",
	"rate exceeded",
	"rate limit",
	"throttl",
	"requestlimitexceeded",
	"service unavailable",
	"temporarily unavailable",
	"internal error",
}

var statusToken = regexp.MustCompile(`\b(429|5\d\d)\b`)

// DefaultClassifier treats timeouts, connection resets, rate limiting and
// 5xx/429-style responses as retryable. Everything else is fatal.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Classified errors know best; their verdict wins over message matching.
	var classified interface{ Retryable() bool }
	if errors.As(err, &classified) {
		return classified.Retryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		code := status.HTTPStatusCode()
		return code == 429 || code >= 500
	}

	return matchesTransientMessage(err.Error())
}

func matchesTransientMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return statusToken.MatchString(lower)
}

// Never classifies every error as fatal.
func Never(error) bool { return false }
