package exception

import "errors"

var (
	ErrChannelConflict = errors.New("channel: role already registered")
	ErrChannelDown     = errors.New("channel: link is down")
	ErrChannelNotUp    = errors.New("channel: link is not up")
	ErrChannelUnknown  = errors.New("channel: unknown role")
)

// IsRegistrationConflict reports whether a worker attempted to register a
// role whose channel is still up.
func IsRegistrationConflict(err error) bool {
	return errors.Is(err, ErrChannelConflict)
}
