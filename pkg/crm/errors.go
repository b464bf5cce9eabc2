package crm

import (
	"errors"
	"fmt"
)

const maxErrorBodyBytes = 8 << 10

// ErrUnavailable wraps network and timeout failures talking to the CRM.
// The HTTP layer maps it to a 502. Exhausted retries return the last
// attempt's error unchanged, so this sentinel (or *RequestError) is
// always what callers observe.
var ErrUnavailable = errors.New("upstream CRM unavailable")

// RequestError means the CRM responded with a non-success status. It
// carries the status and body so the HTTP layer can surface a useful
// 502 without this package interpreting the failure.
type RequestError struct {
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("CRM request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("CRM request failed with status %d: %s", e.StatusCode, e.Body)
}

// errorClass classifies a failure for retry decisions and metrics.
type errorClass string

const (
	classClient   errorClass = "client"
	classServer   errorClass = "server"
	classThrottle errorClass = "throttle"
	classNetwork  errorClass = "network"
)

// classifyStatus maps an upstream status code to an error class.
func classifyStatus(status int) errorClass {
	switch {
	case status == 429:
		return classThrottle
	case status >= 400 && status < 500:
		return classClient
	case status >= 500:
		return classServer
	default:
		return ""
	}
}

// retryable reports whether a failed attempt is worth repeating. Client
// errors are deterministic and never retried.
func retryable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		switch classifyStatus(reqErr.StatusCode) {
		case classServer, classThrottle:
			return true
		}
	}

	return false
}
