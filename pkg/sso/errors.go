package sso

import "errors"

var (
	// ErrRevoked is returned when a session token's jti has been revoked
	ErrRevoked = errors.New("session token revoked")

	// ErrDeviceMismatch is returned when a request's device fingerprint
	// does not match the one the session was bound to
	ErrDeviceMismatch = errors.New("device fingerprint mismatch")

	// ErrLockedOut is returned when an origin has exceeded the failed
	// login attempt limit
	ErrLockedOut = errors.New("too many failed login attempts")
)
