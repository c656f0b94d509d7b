package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable marks a transient platform failure; the caller may
	// retry with backoff.
	ErrUnavailable = errors.New("platform unavailable")

	// ErrRejected marks content the remote platform refused; never retried.
	ErrRejected = errors.New("platform rejected content")

	// ErrAuthExpired means the credential needs a refresh upstream.
	ErrAuthExpired = errors.New("platform credential expired")
)

func classifyStatus(id ID, status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", id, ErrAuthExpired)
	case status == http.StatusForbidden || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: status %d: %w", id, status, ErrRejected)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%s: status %d: %w", id, status, ErrUnavailable)
	default:
		return fmt.Errorf("%s: unexpected status %d: %w", id, status, ErrUnavailable)
	}
}

func classifyTransport(id ID, err error) error {
	// Deadline and cancellation pass through so callers can tell a
	// per-platform timeout from a platform outage.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %v: %w", id, err, ErrUnavailable)
}
