// Package apperr defines the failure kinds shared by the recording and
// playback services and how they surface over HTTP.
package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

type Kind string

const (
	KindConflict          Kind = "CONFLICT"
	KindFFmpegNotFound    Kind = "FFMPEG_NOT_FOUND"
	KindWebcamUnreachable Kind = "WEBCAM_UNREACHABLE"
	KindNotFound          Kind = "NOT_FOUND"
	KindValidation        Kind = "VALIDATION_ERROR"
	KindInternal          Kind = "INTERNAL_ERROR"
	KindUnavailable       Kind = "SERVICE_UNAVAILABLE"
)

// Error is a typed outcome returned by the services. Message is safe to show
// to API callers; Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code the API answers with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindConflict:
		return fiber.StatusConflict
	case KindFFmpegNotFound, KindWebcamUnreachable, KindUnavailable:
		return fiber.StatusServiceUnavailable
	case KindNotFound:
		return fiber.StatusNotFound
	case KindValidation:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// ValidationError describes a single malformed request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid wraps a field validation failure as a VALIDATION_ERROR.
func Invalid(field, message string) *Error {
	v := ValidationError{Field: field, Message: message}
	return &Error{Kind: KindValidation, Message: v.Error(), Err: v}
}
