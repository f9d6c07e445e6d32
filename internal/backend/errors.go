package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by calls on a closed connection.
	ErrClosed = errors.New("connection closed")
	// ErrNoHandler is returned when the backend has no function by that name.
	ErrNoHandler = errors.New("no such function")
)

// Error is a failure reported by the backend itself, as opposed to a
// transport failure.
type Error struct {
	Function string
	Code     int
	Message  string
	Data     any
}

func (e *Error) Error() string {
	switch {
	case e.Function != "" && e.Code != 0:
		return fmt.Sprintf("%s: %s (code %d)", e.Function, e.Message, e.Code)
	case e.Function != "":
		return fmt.Sprintf("%s: %s", e.Function, e.Message)
	default:
		return e.Message
	}
}
