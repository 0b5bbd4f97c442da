package transport

// ============================================================================
// Transport Error Definitions
// Purpose: classify outbound call failures so retry loops can decide what to do
// ============================================================================

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// TransportError is a failure below HTTP: connection refused, DNS failure,
// timeout. Always retryable within a step's budget.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Unreachable reports whether nothing is listening at the address, or the
// host name does not resolve.
func (e *TransportError) Unreachable() bool {
	if errors.Is(e.Err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(e.Err, &dnsErr)
}

// ServerError is a non-2xx response.
type ServerError struct {
	URL    string
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("transport: %s: status %d: %s", e.URL, e.Status, e.Body)
}

// ParseError means the response arrived but did not have the expected shape.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "parse: " + e.What
	}
	return fmt.Sprintf("parse: %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError wraps err as a ParseError describing what was being parsed.
func NewParseError(what string, err error) error {
	return &ParseError{What: what, Err: err}
}

// IsServerError reports whether err carries a non-2xx response.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// IsTransportError reports whether err is a connection-level failure.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsParseError reports whether err is a response-shape failure.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
