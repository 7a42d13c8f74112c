// Package activities implements the HTTP handlers for browsing extracurricular activities
// and managing their rosters.
package activities

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mergington/activities/internal/registry"
	"github.com/mergington/activities/pkg/checksum"
)

// @Summary      List activities
// @Description  Returns every activity keyed by its canonical name, with description, schedule, capacity and current participants. Supports If-None-Match.
// @Tags         Activities
// @Produce      json
// @Success      200  {object}  map[string]registry.Activity
// @Success      304  "Not Modified"
// @Router       /activities [get]
// ListHandler returns the full activity mapping
func ListHandler(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeSnapshot(c, "list", reg, reg.List())
	}
}

// activityResponse is one activity plus its canonical name.
type activityResponse struct {
	Name string `json:"name"`
	registry.Activity
}

// @Summary      Get activity
// @Description  Returns a single activity. The name is matched case-insensitively; the response carries the canonical name.
// @Tags         Activities
// @Produce      json
// @Param        activity_name  path  string  true  "Activity name"
// @Success      200  {object}  activityResponse
// @Success      304  "Not Modified"
// @Failure      404  {object}  map[string]string  "detail: Activity not found"
// @Router       /activities/{activity_name} [get]
// GetHandler returns one activity by name
func GetHandler(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, a, err := reg.Get(c.Param("activity_name"))
		if err != nil {
			abortWithError(c, "get", err, reg.EmailDomain())
			return
		}
		writeSnapshot(c, "get", reg, activityResponse{Name: name, Activity: a})
	}
}

// writeSnapshot renders v with a content ETag and answers 304 when the client already has it.
func writeSnapshot(c *gin.Context, operation string, reg *registry.Registry, v any) {
	data, sum, err := checksum.JSON(v)
	if err != nil {
		abortWithError(c, operation, err, reg.EmailDomain())
		return
	}
	etag := checksum.ETag(sum)
	c.Header("ETag", etag)
	c.Header("Cache-Control", "no-cache")

	if checksum.MatchesETag(c.GetHeader("If-None-Match"), etag) {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}
