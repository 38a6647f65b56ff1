package emby

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FailureKind classifies a transport failure.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureTimeout
	FailureConnection
	FailureHTTPStatus
	FailureDecode
	FailureCircuitOpen
)

// String returns the label used in logs and metrics.
func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureConnection:
		return "connection"
	case FailureHTTPStatus:
		return "http_status"
	case FailureDecode:
		return "decode"
	case FailureCircuitOpen:
		return "circuit_open"
	default:
		return "other"
	}
}

// Failure is the error value returned for every unsuccessful request.
// Non-2xx responses are failures too, carrying the status code and body
// so the caller decides how to interpret them.
type Failure struct {
	Kind       FailureKind
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (f *Failure) Error() string {
	if f.Kind == FailureHTTPStatus {
		return fmt.Sprintf("emby %s %s: status %d: %s", f.Method, f.Path, f.StatusCode, f.Body)
	}
	return fmt.Sprintf("emby %s %s: %s: %v", f.Method, f.Path, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == FailureTimeout
}

// IsStatus reports whether err is a non-2xx response with the given code.
func IsStatus(err error, code int) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == FailureHTTPStatus && f.StatusCode == code
}

// IsServerError reports whether err should count against the circuit
// breaker: timeouts, connection errors and 5xx responses.
func IsServerError(err error) bool {
	var f *Failure
	if !errors.As(err, &f) {
		return err != nil
	}
	switch f.Kind {
	case FailureTimeout, FailureConnection:
		return true
	case FailureHTTPStatus:
		return f.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// classify wraps a network-level error in a Failure of the right kind.
func classify(method, path string, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	kind := FailureOther
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = FailureTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = FailureTimeout
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		kind = FailureConnection
	}

	return &Failure{Kind: kind, Method: method, Path: path, Err: err}
}
