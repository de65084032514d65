package feed

import "errors"

var (
	// ErrMissingCredentials is reported when live mode lacks a token or channel id.
	ErrMissingCredentials = errors.New("missing JWT token or channel ID")
	// ErrUnauthorized is reported when the provider rejects the token.
	ErrUnauthorized = errors.New("authentication failed")
	// ErrConnectionFailed wraps transport-level connection failures.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrTestModeDisabled is returned by TestDonation outside of test mode.
	ErrTestModeDisabled = errors.New("test donations are only available in test mode")
	// ErrStopped is returned when the adapter has already been stopped.
	ErrStopped = errors.New("feed adapter stopped")
	// ErrMalformedToken indicates the token is not a parseable JWT.
	ErrMalformedToken = errors.New("token is not a valid JWT")
	// ErrTokenExpired indicates the token expiry claim is in the past.
	ErrTokenExpired = errors.New("token has expired")
)
