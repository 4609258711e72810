package transport

import (
	"context"
	"errors"
)

var (
	ErrNotConnected = errors.New("transport is not connected")
	ErrLineTooLong  = errors.New("line exceeds maximum length")
)

// LineTransport is a reconnectable source of newline-delimited messages.
// Every successful Connect opens a fresh underlying connection.
type LineTransport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadLine(ctx context.Context) (string, error)
}

type StatusTargetResolver interface {
	StatusTarget() string
}

// ConnIDResolver exposes the identifier of the currently open connection.
type ConnIDResolver interface {
	ConnID() string
}
