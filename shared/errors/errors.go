package errors

import (
	"errors"
	"fmt"
)

var (
	// NotFound: the mutation target is not in the log.
	NotFound = errors.New("not found")
	// NotOwner: edit or delete of a message authored by someone else.
	NotOwner = errors.New("not the author of this message")
	// UploadFailure is reported per attachment; the rest of the send continues.
	UploadFailure = errors.New("attachment upload failed")
	// PersistFailure: an insert/update/upsert against the backend failed.
	PersistFailure = errors.New("persist failed")
	// ChannelDisruption: presence channel or change feed dropped.
	ChannelDisruption = errors.New("channel disrupted")
)

// Check if err is instance of T for custom error types
func Is[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Validation error: %s", e.Message)
}

// Persist wraps a backend error so callers can match PersistFailure.
func Persist(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", PersistFailure, op, err)
}

// Upload wraps an object store error for a single attachment.
func Upload(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", UploadFailure, name, err)
}

type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
}

func (e *ErrorWithStatusCode) Error() string {
	return e.Message
}
