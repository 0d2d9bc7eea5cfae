package provider

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Sentinel errors for provider and delivery operations.
var (
	// ErrRateLimit indicates the backend returned a rate limit response.
	ErrRateLimit = errors.New("rate limited")

	// ErrProviderDown indicates the backend is temporarily unavailable.
	ErrProviderDown = errors.New("provider unavailable")

	// ErrTimeout indicates a request deadline was exceeded at the transport level.
	ErrTimeout = errors.New("request timed out")

	// ErrAuth indicates authentication or authorization failed.
	ErrAuth = errors.New("authentication failed")

	// ErrBadRequest indicates the request was malformed or rejected.
	ErrBadRequest = errors.New("bad request")

	// ErrContextLength indicates the request exceeded the model's context window.
	ErrContextLength = errors.New("context length exceeded")
)

// Kind classifies an error for the top-level reporter.
type Kind string

// Error kinds.
const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
	KindTransform Kind = "transform"
	KindExhausted Kind = "exhausted"
)

// transientIndicators are substrings that mark an error message as a
// transient network or availability failure when no typed signal exists.
var transientIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
}

// IsRetryable reports whether the error is transient and the operation can
// be retried after a delay. Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown) || errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrBadRequest) || errors.Is(err, ErrContextLength) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range transientIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// Classifiable is implemented by errors that carry their own classification.
// The retry executor's ExhaustedError and the transformer's TransformError
// implement it.
type Classifiable interface {
	ErrorKind() Kind
}

// Classify maps an error to its Kind. Errors implementing Classifiable
// report their own kind; everything else is split on transience.
func Classify(err error) Kind {
	var c Classifiable
	if errors.As(err, &c) {
		return c.ErrorKind()
	}
	if IsRetryable(err) {
		return KindTransient
	}
	return KindPermanent
}
