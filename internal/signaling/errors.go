package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrClosed       = errors.New("signaling connection closed")
	ErrDisconnected = errors.New("disconnected from relay")
	ErrEmptyPayload = errors.New("empty payload")
	ErrNotConnected = errors.New("not connected")
)

type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
