package chat

import (
	"context"
	"errors"
	"fmt"

	"marketplace-chat/internal/storage"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	// ErrUnavailable is returned when the store did not confirm an operation in time.
	// The operation may be retried by the caller.
	ErrUnavailable = errors.New("temporarily unavailable")
)

// Retryable reports whether err is worth retrying with the same input
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// storeErr translates store errors into the package taxonomy.
// Details of unavailability stay in the wrapped chain for logs only.
func storeErr(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrRoomNotExist):
		return fmt.Errorf("%w: room does not exist", ErrNotFound)
	case errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return &unavailableError{op: op, cause: err}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

type unavailableError struct {
	op    string
	cause error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, ErrUnavailable)
}

func (e *unavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *unavailableError) Unwrap() error {
	return e.cause
}
