package sso

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("missing authorization token")
	// ErrTokenRevoked is returned when a presented token has been revoked.
	ErrTokenRevoked = errors.New("token is revoked")
	// ErrForbidden is returned when decoded claims lack the required group.
	ErrForbidden = errors.New("you have no rights to access the page")
	// ErrUnknownState is returned when a callback references a login state
	// that was never issued or has already expired.
	ErrUnknownState = errors.New("unknown or expired login state")
	// ErrAlreadyRevoked is returned when revoking a token that is no longer
	// in the cache. Callers treat it as a no-op, not a failure.
	ErrAlreadyRevoked = errors.New("token already revoked")
	// ErrUnknownKey is returned when a token was expected in the cache but
	// is absent; callers must treat the token as revoked/expired.
	ErrUnknownKey = errors.New("token not found in cache")
)

// InvalidTokenError reports why JWT verification rejected a token.
type InvalidTokenError struct {
	Reason string
	Err    error
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid authorization token, %s", e.Reason)
}

func (e *InvalidTokenError) Unwrap() error {
	return e.Err
}

// ExchangeError carries the issuer's error payload when a token exchange,
// refresh or revocation is rejected upstream.
type ExchangeError struct {
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("issuer rejected request with status %d: %s", e.Status, e.Body)
}
