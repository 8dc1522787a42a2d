package provider

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrProviderUnavailable is returned after transient-failure retries are
// exhausted. Retryable.
var ErrProviderUnavailable = errors.New("provider unavailable")

// ErrCredential is returned on authentication failures. Never retried:
// retrying cannot fix a bad credential.
var ErrCredential = errors.New("credential error")

// ErrUnknownTier is returned when no provider is configured for a tier.
var ErrUnknownTier = errors.New("unknown provider tier")

// transientError marks an error as retryable regardless of its
// underlying type.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// isCredentialError reports whether the error is an authentication or
// authorization failure.
func isCredentialError(err error) bool {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == 401 || apierr.StatusCode == 403
	}
	return false
}

// isTransient reports whether the error is worth retrying: connection
// failures, timeouts, and 5xx-equivalent provider responses.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == 429 || apierr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
