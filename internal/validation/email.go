// email.go validates student email addresses submitted to the signup and unregister endpoints.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// DefaultEmailDomain is the only domain accepted for student registrations.
const DefaultEmailDomain = "@mergington.edu"

// schoolEmailTag names the address rule registered on the shared validator.
const schoolEmailTag = "school_email"

// ErrInvalidEmail is returned when an address is malformed or outside the school domain.
var ErrInvalidEmail = errors.New("invalid email format")

// validate is safe for concurrent use and caches struct metadata, so one instance is shared.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation(schoolEmailTag, isSchoolEmail); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", schoolEmailTag, err))
	}
	return v
}

// isSchoolEmail accepts exactly one '@' with a non-empty local part on each side. Spaces
// inside the local part are allowed (rosters carry addresses like "testChess Club@...");
// surrounding whitespace and control characters are not.
func isSchoolEmail(fl validator.FieldLevel) bool {
	email := fl.Field().String()
	if strings.TrimSpace(email) != email {
		return false
	}
	local, host, ok := strings.Cut(email, "@")
	if !ok || local == "" || host == "" || strings.Contains(host, "@") {
		return false
	}
	return strings.IndexFunc(email, unicode.IsControl) < 0
}

// ValidateEmail checks that email is a basic syntactic address ending with the exact
// domain suffix (for example "@mergington.edu"). The suffix comparison is case-sensitive.
// An empty domain falls back to DefaultEmailDomain.
func ValidateEmail(email, domain string) error {
	if domain == "" {
		domain = DefaultEmailDomain
	}
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidEmail)
	}
	if err := validate.Var(email, schoolEmailTag); err != nil {
		return fmt.Errorf("%w: %q is not a valid address", ErrInvalidEmail, email)
	}
	if !strings.HasSuffix(email, domain) || len(email) == len(domain) {
		return fmt.Errorf("%w: email must end with %s", ErrInvalidEmail, domain)
	}
	return nil
}
