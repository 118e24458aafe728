package media

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrEmptyPayload        = fmt.Errorf("%w: empty payload", ErrValidation)
	ErrInvalidPayload      = fmt.Errorf("%w: payload must be a data URI or binary image", ErrValidation)
	ErrInvalidFolder       = fmt.Errorf("%w: invalid folder", ErrValidation)
	ErrEmptyPublicID       = fmt.Errorf("%w: empty public id", ErrValidation)
	ErrInvalidResourceType = fmt.Errorf("%w: resource type must be image, video or raw", ErrValidation)
	ErrPayloadTooLarge     = errors.New("payload too large")
)

// UpstreamError is a failure reported by, or while talking to, the storage
// service. Message is safe to show to clients.
type UpstreamError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("media store %s failed: status %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("media store %s failed: %s", e.Operation, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Temporary reports whether a retry could plausibly succeed: transport
// failures, throttling and 5xx responses.
func (e *UpstreamError) Temporary() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}
