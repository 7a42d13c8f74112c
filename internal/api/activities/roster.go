// roster.go implements signup and unregistration.
package activities

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mergington/activities/internal/middleware"
	"github.com/mergington/activities/internal/registry"
	"github.com/mergington/activities/internal/telemetry"
)

// emailQuery binds the ?email= parameter shared by both roster endpoints.
type emailQuery struct {
	Email string `form:"email" binding:"required"`
}

type rosterFunc func(ctx context.Context, activityName, email string) (*registry.Result, error)

// @Summary      Sign up for an activity
// @Description  Adds the student to the activity roster. Rejects malformed or off-domain emails, duplicate signups and full rosters.
// @Tags         Activities
// @Produce      json
// @Param        activity_name  path   string  true  "Activity name (case-insensitive)"
// @Param        email          query  string  true  "Student email, e.g. student@mergington.edu"
// @Success      200  {object}  map[string]string  "message: Signed up {email} for {activity}"
// @Failure      400  {object}  map[string]string  "detail: invalid email, already signed up, or activity full"
// @Failure      404  {object}  map[string]string  "detail: Activity not found"
// @Failure      429  {object}  map[string]string  "detail: Rate limit exceeded"
// @Router       /activities/{activity_name}/signup [post]
// SignupHandler adds a student to an activity
func SignupHandler(reg *registry.Registry) gin.HandlerFunc {
	return rosterHandler("signup", reg, reg.Signup)
}

// @Summary      Unregister from an activity
// @Description  Removes the student from the activity roster, preserving the order of the remaining participants.
// @Tags         Activities
// @Produce      json
// @Param        activity_name  path   string  true  "Activity name (case-insensitive)"
// @Param        email          query  string  true  "Student email"
// @Success      200  {object}  map[string]string  "message: Unregistered {email} from {activity}"
// @Failure      400  {object}  map[string]string  "detail: invalid email or student not registered"
// @Failure      404  {object}  map[string]string  "detail: Activity not found"
// @Failure      429  {object}  map[string]string  "detail: Rate limit exceeded"
// @Router       /activities/{activity_name}/unregister [post]
// UnregisterHandler removes a student from an activity
func UnregisterHandler(reg *registry.Registry) gin.HandlerFunc {
	return rosterHandler("unregister", reg, reg.Unregister)
}

func rosterHandler(operation string, reg *registry.Registry, op rosterFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q emailQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			outcome := abortWithError(c, operation, registry.ErrInvalidEmail, reg.EmailDomain())
			telemetry.RosterOperationsTotal.WithLabelValues(operation, outcome).Inc()
			return
		}
		c.Set(middleware.RosterEmailKey, q.Email)

		res, err := op(c.Request.Context(), c.Param("activity_name"), q.Email)
		if err != nil {
			outcome := abortWithError(c, operation, err, reg.EmailDomain())
			telemetry.RosterOperationsTotal.WithLabelValues(operation, outcome).Inc()
			return
		}

		telemetry.RosterOperationsTotal.WithLabelValues(operation, outcomeSuccess).Inc()
		c.Set(middleware.RosterActivityKey, res.Activity)
		c.Set(middleware.RosterOutcomeKey, outcomeSuccess)

		c.JSON(http.StatusOK, gin.H{"message": res.Message})
	}
}
