package eqc

import (
	"errors"
	"fmt"
)

// AuthError marks an invalid or expired bearer token. It is distinct from a
// transient failure and from a no-match result: on detection the resolver
// stops issuing provider calls for the remainder of the run.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("eqc: authentication failed (status %d)", e.StatusCode)
}

// IsAuth reports whether err carries an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
