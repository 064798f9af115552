package exception

import "errors"

var (
	ErrExchangeUnavailable       = errors.New("exchange: service unavailable")
	ErrExchangeTimeout           = errors.New("exchange: connection timeout")
	ErrExchangeMalformedResponse = errors.New("exchange: malformed response")
	ErrExchangeAuthFailed        = errors.New("exchange: authentication failed")
	ErrExchangeInvalidVolume     = errors.New("exchange: invalid order volume")
	ErrExchangeUnknownOrder      = errors.New("exchange: unknown order")
	ErrExchangeInsufficientFunds = errors.New("exchange: insufficient funds")
	ErrExchangeRetryExhausted    = errors.New("exchange: retry attempts exhausted")
)

// IsRetryExhausted reports whether a bounded retry loop gave up.
func IsRetryExhausted(err error) bool {
	return errors.Is(err, ErrExchangeRetryExhausted)
}

// IsTransient reports whether err is worth retrying after a short delay.
func IsTransient(err error) bool {
	return errors.Is(err, ErrExchangeUnavailable) ||
		errors.Is(err, ErrExchangeTimeout) ||
		errors.Is(err, ErrExchangeMalformedResponse)
}

// IsAuth reports whether err requires a credential reload before retrying.
func IsAuth(err error) bool {
	return errors.Is(err, ErrExchangeAuthFailed)
}

// IsUnknownOrder reports whether the exchange no longer tracks the order.
func IsUnknownOrder(err error) bool {
	return errors.Is(err, ErrExchangeUnknownOrder)
}

// IsInsufficientFunds reports whether a balance pre-check or submission
// failed for lack of funds.
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrExchangeInsufficientFunds)
}

// IsInvalidVolume reports whether the exchange rejected the order volume
// outright, which abandons the order.
func IsInvalidVolume(err error) bool {
	return errors.Is(err, ErrExchangeInvalidVolume)
}
