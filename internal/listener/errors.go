package listener

import "fmt"

// ConnectError reports a failed attempt to reach the endpoint. The loop
// retries it after the configured retry delay.
type ConnectError struct {
	Target  string
	Attempt uint64
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (attempt %d): %v", e.Target, e.Attempt, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ReadError reports a broken stream on an open connection. The loop
// reconnects right away.
type ReadError struct {
	ConnID string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read connection %s: %v", e.ConnID, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
