package xerrors

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the access-control layer. Each login failure maps
// to exactly one of these so the UI can tell "retry" apart from "correct your
// input" and "contact support".
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrRateLimited        = errors.New("too many attempts, please try again later")
	ErrNetwork            = errors.New("network error, please check your connection")
	ErrAccountIncomplete  = errors.New("account setup incomplete, please contact support")
	ErrInvalidRole        = errors.New("access denied: invalid user role")
	ErrDuplicateEntry     = errors.New("duplicate entry")
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrForbidden          = errors.New("forbidden")
	ErrAuditFailed        = errors.New("audit record could not be written")
	ErrSessionExpired     = errors.New("session expired or invalid")
	ErrUnexpected         = errors.New("an unexpected error occurred")
)

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
