package kraken

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorKind classifies a gateway failure. Every error leaving this package
// carries exactly one kind; callers branch on the kind, never on message
// text.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindServer     ErrorKind = "server_error"
	KindRateLimit  ErrorKind = "rate_limit"
	KindUnknown    ErrorKind = "unknown"
)

// APIError is a classified transport or HTTP failure from the exchange.
type APIError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int           // set for server_error
	Timeout    time.Duration // set for timeout
	Err        error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindServer:
		return fmt.Sprintf("kraken %s: server error (status %d)", e.Op, e.StatusCode)
	case KindTimeout:
		return fmt.Sprintf("kraken %s: timed out after %v", e.Op, e.Timeout)
	default:
		return fmt.Sprintf("kraken %s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// ExchangeError is an application-level rejection reported in the Kraken
// response body ("error" array), e.g. "EOrder:Insufficient funds".
type ExchangeError struct {
	Op    string
	Codes []string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("kraken %s: %s", e.Op, strings.Join(e.Codes, "; "))
}

// Classify returns the kind of err, or KindUnknown when err carries no
// classification.
func Classify(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is worth retrying on a later cycle:
// timeouts, connection drops, 5xx responses, and rate limiting all qualify.
func IsTransient(err error) bool {
	switch Classify(err) {
	case KindTimeout, KindConnection, KindServer, KindRateLimit:
		return true
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		for _, code := range exErr.Codes {
			if strings.HasPrefix(code, "EAPI:Rate limit") || strings.HasPrefix(code, "EService:") {
				return true
			}
		}
	}
	return false
}

// IsIndexUnavailable reports whether err is the exchange telling us the
// index trigger reference has no data for the pair. The order path retries
// exactly once with the last-trade reference on this error.
func IsIndexUnavailable(err error) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		for _, code := range exErr.Codes {
			if strings.Contains(strings.ToLower(code), "index unavailable") {
				return true
			}
		}
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "index unavailable")
}

// classifyTransport maps a transport-level error onto an APIError.
func classifyTransport(op string, err error, timeout time.Duration) *APIError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Kind: KindTimeout, Op: op, Timeout: timeout, Err: err}
	}
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such host") ||
		strings.Contains(err.Error(), "connection reset") {
		return &APIError{Kind: KindConnection, Op: op, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &APIError{Kind: KindConnection, Op: op, Err: err}
	}
	return &APIError{Kind: KindUnknown, Op: op, Err: err}
}
