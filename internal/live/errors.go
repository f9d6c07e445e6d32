package live

import (
	"errors"
	"fmt"
)

// ErrScopeDisposed is returned when a disposed scope is asked for a bridge.
var ErrScopeDisposed = errors.New("scope disposed")

// ValueError wraps a failure value that was not an error, such as a panic
// argument. Its message is the value's default formatting.
type ValueError struct {
	Value any
}

func (e *ValueError) Error() string {
	return fmt.Sprint(e.Value)
}

// NormalizeError turns any failure value into an error so that error state is
// always type-uniform. Errors pass through unchanged.
func NormalizeError(v any) error {
	switch typed := v.(type) {
	case nil:
		return nil
	case error:
		return typed
	default:
		return &ValueError{Value: v}
	}
}
