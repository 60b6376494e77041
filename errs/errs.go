// Package errs provides structured error types and helpers for Halyard services.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a gateway error category.
type Code string

const (
	// CodeTransport indicates a socket-level failure.
	CodeTransport Code = "transport"
	// CodeHandshake indicates a version/capability negotiation failure.
	CodeHandshake Code = "handshake"
	// CodeProtocol indicates a malformed or oversized frame.
	CodeProtocol Code = "protocol"
	// CodeTimeout indicates a bounded wait that expired.
	CodeTimeout Code = "timeout"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeDuplicate indicates a correlation id or name already in use.
	CodeDuplicate Code = "duplicate"
	// CodeNotFound indicates a missing registry entry.
	CodeNotFound Code = "not_found"
	// CodeVenue indicates a venue-side failure reported over the session.
	CodeVenue Code = "venue_error"
	// CodeUnavailable indicates the session is not ready for the operation.
	CodeUnavailable Code = "unavailable"
	// CodeFatal indicates an unrecoverable condition requiring a reset.
	CodeFatal Code = "fatal"
)

// E captures structured error information produced across the Halyard stack.
type E struct {
	Venue         string
	Code          Code
	CorrelationID int64
	VenueCode     int
	RawMsg        string
	Message       string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{
		Venue:         strings.TrimSpace(venue),
		Code:          code,
		CorrelationID: 0,
		VenueCode:     0,
		RawMsg:        "",
		Message:       "",
		cause:         nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCorrelationID records the correlation id the error refers to.
func WithCorrelationID(id int64) Option {
	return func(e *E) {
		e.CorrelationID = id
	}
}

// WithVenueCode captures the raw numeric venue error code.
func WithVenueCode(code int) Option {
	return func(e *E) {
		e.VenueCode = code
	}
}

// WithRawMessage captures the raw venue error text.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.CorrelationID != 0 {
		parts = append(parts, "correlation_id="+strconv.FormatInt(e.CorrelationID, 10))
	}
	if e.VenueCode != 0 {
		parts = append(parts, "venue_code="+strconv.Itoa(e.VenueCode))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports category equality so callers can match with errors.Is.
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok {
		return false
	}
	return other.Code == e.Code && (other.Venue == "" || other.Venue == e.Venue)
}

// Timeout returns a standardized error for expired bounded waits.
func Timeout(venue, msg string) *E {
	return New(venue, CodeTimeout, WithMessage(strings.TrimSpace(msg)))
}

// NotReady returns a standardized error for operations attempted before the session is usable.
func NotReady(venue string) *E {
	return New(venue, CodeUnavailable, WithMessage("session not ready"))
}
