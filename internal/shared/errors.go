package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
	// ErrDuplicateSlug occurs when a role slug already exists.
	ErrDuplicateSlug = errors.New("slug already in use")
	// ErrDuplicateEmail occurs when a user email already exists.
	ErrDuplicateEmail = errors.New("email already in use")
)

// UserSafeMessage maps internal errors to messages safe to show to clients.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "The requested record does not exist."
	case errors.Is(err, ErrInvalidCredentials):
		return "Email or password is not valid."
	case errors.Is(err, ErrDuplicateSlug):
		return "A role with that slug already exists."
	case errors.Is(err, ErrDuplicateEmail):
		return "A user with that email already exists."
	default:
		return "Something went wrong. Please try again."
	}
}
