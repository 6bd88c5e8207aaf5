// Package failure defines the failure taxonomy shared by every pipeline stage.
//
// Each stage wraps its errors in *Error with a Kind so the Result Sink can map
// any failure to a distinct, human-readable notice without knowing which stage
// produced it.
package failure

import (
	"errors"
	"fmt"
)

// Kind identifies a class of pipeline failure.
type Kind string

const (
	CaptureUnavailable  Kind = "CAPTURE_UNAVAILABLE"
	PreprocessingError  Kind = "PREPROCESSING_ERROR"
	UnrecognizedSegment Kind = "UNRECOGNIZED_SEGMENT"
	RecognitionError    Kind = "RECOGNITION_ERROR"
	NoContentRecognized Kind = "NO_CONTENT_RECOGNIZED"
	EndpointUnreachable Kind = "ENDPOINT_UNREACHABLE"
	EndpointRejected    Kind = "ENDPOINT_REJECTED"
	TimeoutExceeded     Kind = "TIMEOUT_EXCEEDED"
	TemplateError       Kind = "TEMPLATE_ERROR"
	Cancelled           Kind = "CANCELLED"
	Internal            Kind = "INTERNAL"
)

var notices = map[Kind]string{
	CaptureUnavailable:  "This capture mode is not available on this system.",
	PreprocessingError:  "The captured image could not be read.",
	UnrecognizedSegment: "Part of the capture could not be recognized.",
	RecognitionError:    "No text could be recognized in the capture.",
	NoContentRecognized: "Nothing that looks like text was found in the capture.",
	EndpointUnreachable: "The AI service could not be reached. Check your network and try again.",
	EndpointRejected:    "The AI service rejected the request. Check your API key and quota.",
	TimeoutExceeded:     "The AI service took too long to answer.",
	TemplateError:       "The selected prompt template could not be filled in.",
	Cancelled:           "The request was cancelled.",
	Internal:            "Something went wrong while handling the capture.",
}

// Notice returns the user-facing notification text for the kind.
func (k Kind) Notice() string {
	if n, ok := notices[k]; ok {
		return n
	}
	return notices[Internal]
}

// Retryable reports whether an operation failing with this kind may be retried.
func (k Kind) Retryable() bool {
	return k == EndpointUnreachable
}

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a failure of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap classifies err under kind. A nil err still yields a failure.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries a failure of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
