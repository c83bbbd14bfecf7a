package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrPersistenceUnavailable means the backend could not take a write right
// now. The outbox keeps the message and tries again later.
type ErrPersistenceUnavailable struct {
	Op     string
	Status int // 0 when the request never got a response
	Err    error
}

func (e *ErrPersistenceUnavailable) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("persistence unavailable: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("persistence unavailable: %s: %v", e.Op, e.Err)
}

func (e *ErrPersistenceUnavailable) Unwrap() error { return e.Err }

// ErrRejected means the backend refused the payload. Repeating the same
// request will not help.
type ErrRejected struct {
	Op     string
	Status int
	Body   string
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("%s rejected: status %d: %s", e.Op, e.Status, e.Body)
}

// Retryable reports whether err is worth another delivery attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rej *ErrRejected
	return !errors.As(err, &rej)
}

func classify(op string, status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return &ErrPersistenceUnavailable{Op: op, Status: status, Err: errors.New(body)}
	default:
		return &ErrRejected{Op: op, Status: status, Body: body}
	}
}
