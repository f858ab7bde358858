package k8s

import (
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// NotFoundError reports an absent object. It is matched by the logic
// packages through the IsNotFound marker.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

func (e *NotFoundError) IsNotFound() {}

// TooManyRequestsError reports orchestrator throttling, retried on the next run.
type TooManyRequestsError struct{}

func (e *TooManyRequestsError) Error() string {
	return "too many requests"
}

func (e *TooManyRequestsError) IsTooManyRequests() {}

var errTooManyRequests = &TooManyRequestsError{}

// UpstreamUnavailableError wraps any other orchestrator failure.
type UpstreamUnavailableError struct {
	Op  string
	Err error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("%s: upstream unavailable: %v", e.Op, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Err
}

func (e *UpstreamUnavailableError) IsUpstreamUnavailable() {}

// translate maps apimachinery status errors onto the adapter error kinds.
func translate(op, kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%s: %w", op, &NotFoundError{Kind: kind, Name: name})
	case apierrors.IsTooManyRequests(err):
		return fmt.Errorf("%s: %w", op, errTooManyRequests)
	default:
		return &UpstreamUnavailableError{Op: op, Err: err}
	}
}
