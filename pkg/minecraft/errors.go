package minecraft

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrorKind classifies a probe failure.
type ErrorKind string

const (
	// KindConnectionRefused means the host actively refused the connection.
	KindConnectionRefused ErrorKind = "connection_refused"
	// KindTimeout means no response arrived within the probe deadline.
	KindTimeout ErrorKind = "timeout"
	// KindMalformedResponse means the server answered with bytes the
	// protocol parser could not accept.
	KindMalformedResponse ErrorKind = "malformed_response"
)

// ProbeError is the failure type returned by all probe functions.
type ProbeError struct {
	Edition Edition
	Kind    ErrorKind
	Cause   error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s probe failed: %s: %v", e.Edition, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s probe failed: %s", e.Edition, e.Kind)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

func newProbeError(edition Edition, cause error) *ProbeError {
	return &ProbeError{Edition: edition, Kind: classify(cause), Cause: cause}
}

func malformed(edition Edition, format string, args ...interface{}) *ProbeError {
	return &ProbeError{
		Edition: edition,
		Kind:    KindMalformedResponse,
		Cause:   fmt.Errorf(format, args...),
	}
}

func classify(err error) ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		// Dial and I/O failures other than deadline expiry: the host is
		// not speaking to us at all.
		return KindConnectionRefused
	}
	return KindMalformedResponse
}
