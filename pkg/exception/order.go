package exception

import "errors"

var (
	ErrOrderIllegalTransition = errors.New("order: illegal state transition")
	ErrOrderIntegrity         = errors.New("order: executed volume exceeds requested volume")
	ErrOrderCancelNone        = errors.New("order: cancel reported zero canceled orders")
	ErrOrderNotTracked        = errors.New("order: id not tracked by any bucket")
	ErrOrderQueueFull         = errors.New("order: queue full")
	ErrOrderQueueClosed       = errors.New("order: queue closed")
)

// IsIllegalTransition reports whether err is an illegal lifecycle transition.
func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrOrderIllegalTransition)
}

// IsIntegrity reports whether err is a fatal execution-integrity violation.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrOrderIntegrity)
}

// IsQueueClosed reports whether err came from pushing to a closed queue.
func IsQueueClosed(err error) bool {
	return errors.Is(err, ErrOrderQueueClosed)
}
