package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of error conditions the service can surface.
type Kind int

const (
	Internal Kind = iota
	BadInput
	NotFound
	TooLarge
	Unresolved
	CorruptPdf
	FevRequired
	Cancelled
	OcrDisabled
	MetaBusy
)

// Error carries a kind plus a human-readable message. Unresolved errors
// additionally carry whatever NIT/invoice values were detected, so the HTTP
// layer can ask the caller for manual input.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	NitDetected  string
	OcfeDetected string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// NewUnresolved reports missing invoice metadata with the partial detections.
func NewUnresolved(nit, ocfe string) *Error {
	return &Error{
		Kind:         Unresolved,
		Message:      "No pude detectar NIT y/o OCFE desde FEV. Ingresa NIT y OCFE manualmente para continuar.",
		NitDetected:  nit,
		OcfeDetected: ocfe,
	}
}

// KindOf extracts the kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// IsCancelled reports whether err is (or wraps) a cancellation signal.
func IsCancelled(err error) bool { return KindOf(err) == Cancelled }

// HTTPStatus maps an error kind to its wire status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case BadInput, CorruptPdf, FevRequired:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case TooLarge:
		return http.StatusRequestEntityTooLarge
	case Unresolved:
		return http.StatusUnprocessableEntity
	case OcrDisabled, MetaBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
