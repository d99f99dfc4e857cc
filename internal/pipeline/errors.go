package pipeline

import "errors"

var (
	// ErrSessionExpired wraps every refresh failure. The session is gone and the user must log in again.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoRefreshToken is returned when a 401 needs a refresh but no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token stored")
)
