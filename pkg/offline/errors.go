package offline

import (
	"errors"
	"fmt"

	"github.com/medtrail/casesync/pkg/serrors"
)

var (
	ErrInvalidConfig = serrors.NewError("OFFLINE_INVALID_CONFIG", "invalid offline queue configuration", "")
	ErrQueueOverflow = serrors.NewError("OFFLINE_QUEUE_OVERFLOW", "local queue capacity exhausted", "")

	// errFatalDispatch marks dispatch errors that must not be retried; the
	// relay dead-letters the operation immediately.
	errFatalDispatch = errors.New("fatal dispatch")
)

func invalidConfig(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{ErrInvalidConfig}, args...)...)
}

// Fatal wraps a dispatch error so the relay dead-letters the operation
// without consuming the remaining retry budget.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", errFatalDispatch, err)
}

// IsFatal reports whether err was wrapped with Fatal.
func IsFatal(err error) bool {
	return errors.Is(err, errFatalDispatch)
}
