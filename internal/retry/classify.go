package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/JonMunkholm/poimport/internal/apperr"
)

// Decision is the outcome of classifying a failed attempt.
type Decision struct {
	Retry  bool
	Reason string
}

// Classify decides whether err is worth another attempt.
//
// Retried: 429, 5xx, network timeouts, refused/aborted/reset connections,
// DNS failures, unreachable networks, and anything unrecognised.
// Not retried: every other HTTP status (4xx, and 2xx/3xx surfaced as an
// error), configuration and validation errors, and caller cancellation.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Retry: false, Reason: "success"}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Retry: false, Reason: "canceled"}
	}
	if apperr.IsConfiguration(err) {
		return Decision{Retry: false, Reason: "configuration"}
	}
	if apperr.IsValidation(err) {
		return Decision{Retry: false, Reason: "validation"}
	}

	if status := apperr.StatusOf(err); status != 0 {
		return classifyStatus(status)
	}

	if reason, ok := networkReason(err); ok {
		return Decision{Retry: true, Reason: reason}
	}

	return Decision{Retry: true, Reason: "unclassified"}
}

func classifyStatus(status int) Decision {
	switch {
	case status == http.StatusTooManyRequests:
		return Decision{Retry: true, Reason: "rate limited"}
	case status >= 500 && status <= 599:
		return Decision{Retry: true, Reason: http.StatusText(status)}
	default:
		return Decision{Retry: false, Reason: "status " + http.StatusText(status)}
	}
}

func networkReason(err error) (string, bool) {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused", true
	case errors.Is(err, syscall.ECONNABORTED):
		return "connection aborted", true
	case errors.Is(err, syscall.ECONNRESET):
		return "connection reset", true
	case errors.Is(err, syscall.ENETUNREACH):
		return "network unreachable", true
	case errors.Is(err, syscall.EHOSTUNREACH):
		return "host unreachable", true
	case errors.Is(err, syscall.ETIMEDOUT), errors.Is(err, context.DeadlineExceeded):
		return "timeout", true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "host not found", true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", true
	}

	return "", false
}
