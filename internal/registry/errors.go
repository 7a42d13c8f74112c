// errors.go defines sentinel error values returned by registry operations. All of them are
// expected outcomes of caller input; the HTTP layer maps them to status codes with errors.Is.
package registry

import (
	"errors"

	"github.com/mergington/activities/internal/validation"
)

var (
	// ErrInvalidEmail is returned when the address is malformed or outside the school domain.
	ErrInvalidEmail = validation.ErrInvalidEmail
	// ErrNotFound is returned when no activity matches the requested name.
	ErrNotFound = errors.New("activity not found")
	// ErrDuplicateSignup is returned when the student is already on the roster.
	ErrDuplicateSignup = errors.New("student already signed up for this activity")
	// ErrActivityFull is returned when the roster has reached max_participants.
	ErrActivityFull = errors.New("activity is full")
	// ErrNotRegistered is returned when unregistering a student who is not on the roster.
	ErrNotRegistered = errors.New("student is not registered for this activity")
)
