package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// DialError reports a failed connection attempt. Retryable marks the class of
// failure that is allowed to advance the fallback chain; a DialError returned
// from Connect means the chain is already exhausted or the failure was fatal.
type DialError struct {
	Addr      string
	Attempts  int
	Retryable bool
	Err       error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial %s failed after %d attempt(s): %v", e.Addr, e.Attempts, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or out-of-sequence control frame. It
// fails the session, never the process.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol violation: " + e.Reason }

// retryableDialError classifies a dial failure by structured error values
// rather than message substrings. Refused, reset, unreachable and timed-out
// attempts may continue to the next fallback host; anything else, including
// caller cancellation, is fatal.
func retryableDialError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}
