package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrQuotaExceeded is returned when the daily request budget is spent.
var ErrQuotaExceeded = errors.New("daily request quota exceeded")

// TransportError wraps network-level failures, including timeouts.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline or client timeout.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// RemoteAPIError is a non-200 HTTP status or an error embedded in the payload.
type RemoteAPIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *RemoteAPIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("remote api: code %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("remote api: status %d: %s", e.StatusCode, e.Message)
}

// DataError signals missing, malformed or insufficient series data.
type DataError struct {
	Reason string
}

func (e *DataError) Error() string { return "data: " + e.Reason }

// Failure classes used in logs and the recorder.
const (
	FailureTransport = "TRANSPORT"
	FailureTimeout   = "TIMEOUT"
	FailureRemoteAPI = "REMOTE_API"
	FailureData      = "DATA"
	FailureQuota     = "QUOTA_EXCEEDED"
	FailureUnknown   = "UNKNOWN"
)

// Classify maps an analysis error to its failure class.
func Classify(err error) string {
	var (
		te *TransportError
		re *RemoteAPIError
		de *DataError
	)
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return FailureQuota
	case errors.As(err, &te):
		if te.Timeout() {
			return FailureTimeout
		}
		return FailureTransport
	case errors.As(err, &re):
		return FailureRemoteAPI
	case errors.As(err, &de):
		return FailureData
	default:
		return FailureUnknown
	}
}
