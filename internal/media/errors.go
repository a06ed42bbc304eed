package media

import (
	"errors"
	"fmt"
)

var (
	ErrMediaUnavailable = errors.New("local media unavailable")
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// unavailable marks err as a local media failure so callers can test for
// ErrMediaUnavailable and still see the cause.
func unavailable(op, path string, err error) error {
	return &Error{Op: op, Path: path, Err: errors.Join(ErrMediaUnavailable, err)}
}
