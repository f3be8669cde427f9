// Package errkind classifies Provider Client errors into the taxonomy
// from spec.md §7. Classification is a pure function over an error's
// message and/or an HTTP status code, matching the teacher's
// IsRateLimitError/IsContextLengthError helpers in pkg/llm/client.go
// generalized into a single enum instead of a scatter of bool checks.
package errkind

import (
	"errors"
	"net/http"
	"strings"
)

// Kind is one taxonomy entry from spec.md §7.
type Kind string

const (
	AuthMissing        Kind = "auth-missing"
	AuthFailed         Kind = "auth-failed"
	RateLimited        Kind = "rate-limited"
	TransientNetwork   Kind = "transient-network"
	BadRequest         Kind = "bad-request"
	FormatError        Kind = "format-error"
	ModelUnavailable   Kind = "model-unavailable"
	CredentialMismatch Kind = "credential-mismatch"
	Cancelled          Kind = "cancelled"
	Deadline           Kind = "deadline"
	Unknown            Kind = "unknown"
)

// Classified wraps an error with its taxonomy Kind and an optional
// human-readable message suitable for surfacing to a caller.
type Classified struct {
	Kind    Kind
	Message string
	cause   error
}

func (c *Classified) Error() string { return c.Message }
func (c *Classified) Unwrap() error { return c.cause }

// New wraps cause with an explicit kind and message.
func New(kind Kind, message string, cause error) *Classified {
	return &Classified{Kind: kind, Message: message, cause: cause}
}

// FromStatus classifies an HTTP response by status code, per the table in
// spec.md §7.
func FromStatus(statusCode int, body string) *Classified {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return New(AuthFailed, "authentication failed: check credentials", errors.New(body))
	case statusCode == http.StatusTooManyRequests:
		return New(RateLimited, "rate limited", errors.New(body))
	case statusCode == http.StatusNotFound:
		return New(ModelUnavailable, "model not found", errors.New(body))
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return New(BadRequest, "invalid request", errors.New(body))
	case statusCode >= 500 && statusCode <= 599:
		return New(TransientNetwork, "network unavailable", errors.New(body))
	default:
		return New(Unknown, body, errors.New(body))
	}
}

// Classify inspects err (which may already be a *Classified, a context
// error, or a raw transport error) and returns its Kind. Unrecognised
// errors classify as Unknown, which the Retry Driver treats as
// non-retryable.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "context canceled") || strings.Contains(s, "context.canceled"):
		return Cancelled
	case strings.Contains(s, "context deadline exceeded"):
		return Deadline
	case strings.Contains(s, "429") || strings.Contains(s, "rate_limit") || strings.Contains(s, "rate limit") || strings.Contains(s, "too many requests"):
		return RateLimited
	case strings.Contains(s, "timeout") || strings.Contains(s, "connection reset") || strings.Contains(s, "no such host") ||
		strings.Contains(s, "eof") || strings.Contains(s, "dns") || strings.Contains(s, "5xx") ||
		hasAny(s, "500", "502", "503", "504"):
		return TransientNetwork
	case strings.Contains(s, "401") || strings.Contains(s, "403") || strings.Contains(s, "unauthorized") || strings.Contains(s, "forbidden"):
		return AuthFailed
	case strings.Contains(s, "model not found") || strings.Contains(s, "404"):
		return ModelUnavailable
	case strings.Contains(s, "400") || strings.Contains(s, "422") || strings.Contains(s, "invalid request"):
		return BadRequest
	default:
		return Unknown
	}
}

func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsFatal reports whether a Kind should never be retried.
func IsFatal(k Kind) bool {
	switch k {
	case RateLimited, TransientNetwork:
		return false
	default:
		return true
	}
}
