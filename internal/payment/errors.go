package payment

import "errors"

var (
	// ErrConfigInvalid means the gateway has no API key and must not call BitPay.
	ErrConfigInvalid       = errors.New("bitpay gateway is not configured")
	ErrGatewayDisabled     = errors.New("bitpay gateway is disabled")
	ErrCurrencyUnsupported = errors.New("currency not supported by bitpay")
	ErrInvalidAmount       = errors.New("order amount must be greater than zero")
	ErrProviderUnavailable = errors.New("bitpay unavailable")
	ErrInvalidResponse     = errors.New("invalid bitpay response")

	ErrMalformedPayload     = errors.New("malformed notification payload")
	ErrAuthenticationFailed = errors.New("notification authentication failed")
	ErrOrderMismatch        = errors.New("notification does not match order")
)
