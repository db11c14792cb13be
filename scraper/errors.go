package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Status names the outcome of a single search request. Every failure is
// non-fatal at the request level; the retry wrapper absorbs them and the
// brand loop checks the final status.
type Status string

const (
	StatusSuccess         Status = "SUCCESS"
	StatusRateLimited     Status = "RATE_LIMITED"
	StatusBlocked         Status = "BLOCKED"
	StatusInvalidJSON     Status = "INVALID_JSON"
	StatusTimeout         Status = "TIMEOUT"
	StatusConnectionError Status = "CONNECTION_ERROR"
	StatusUnknown         Status = "UNKNOWN"
)

// OK reports whether the status is a success.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// Blocked reports whether the target signalled a block, which warrants a
// longer backoff than an ordinary failure.
func (s Status) Blocked() bool {
	return s == StatusBlocked
}

// httpStatus maps a non-200 response code to a Status.
func httpStatus(code int) Status {
	switch code {
	case http.StatusTooManyRequests:
		return StatusRateLimited
	case http.StatusForbidden:
		return StatusBlocked
	default:
		return Status(fmt.Sprintf("HTTP_%d", code))
	}
}

// classifyTransportError maps a transport-level error to a Status.
func classifyTransportError(err error) Status {
	if err == nil {
		return StatusUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return StatusConnectionError
	}
	return StatusUnknown
}
