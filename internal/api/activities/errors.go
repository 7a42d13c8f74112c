package activities

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mergington/activities/internal/middleware"
	"github.com/mergington/activities/internal/registry"
)

// Outcome labels shared by roster_operations_total and the audit entry metadata.
const (
	outcomeSuccess       = "success"
	outcomeInvalidEmail  = "invalid_email"
	outcomeNotFound      = "not_found"
	outcomeDuplicate     = "duplicate"
	outcomeFull          = "full"
	outcomeNotRegistered = "not_registered"
	outcomeError         = "error"
)

// rosterError is the HTTP rendering of a registry error.
type rosterError struct {
	status  int
	detail  string
	outcome string
}

// classify maps registry sentinel errors to status codes and detail strings.
func classify(err error, emailDomain string) rosterError {
	switch {
	case errors.Is(err, registry.ErrInvalidEmail):
		return rosterError{http.StatusBadRequest, "Invalid email format. Email must end with " + emailDomain, outcomeInvalidEmail}
	case errors.Is(err, registry.ErrNotFound):
		return rosterError{http.StatusNotFound, "Activity not found", outcomeNotFound}
	case errors.Is(err, registry.ErrDuplicateSignup):
		return rosterError{http.StatusBadRequest, "Student already signed up for this activity", outcomeDuplicate}
	case errors.Is(err, registry.ErrActivityFull):
		return rosterError{http.StatusBadRequest, "Activity is full", outcomeFull}
	case errors.Is(err, registry.ErrNotRegistered):
		return rosterError{http.StatusBadRequest, "Student is not registered for this activity", outcomeNotRegistered}
	default:
		return rosterError{http.StatusInternalServerError, "Internal server error", outcomeError}
	}
}

// abortWithError writes the {"detail": ...} body for err and returns its outcome label.
// Expected roster rejections are logged at debug; anything else is an error.
func abortWithError(c *gin.Context, operation string, err error, emailDomain string) string {
	re := classify(err, emailDomain)
	c.Set(middleware.RosterOutcomeKey, re.outcome)

	attrs := []any{
		"operation", operation,
		"activity", c.Param("activity_name"),
		"outcome", re.outcome,
		"request_id", middleware.RequestID(c),
		"error", err,
	}
	if re.status >= http.StatusInternalServerError {
		slog.Error("roster operation failed", attrs...)
	} else {
		slog.Debug("roster operation rejected", attrs...)
	}

	c.AbortWithStatusJSON(re.status, gin.H{"detail": re.detail})
	return re.outcome
}
