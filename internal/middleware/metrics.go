// Package middleware provides the Gin middleware shared by every route of the activities
// service: request IDs, Prometheus metrics, security headers, rate limiting of roster
// mutations, and roster audit logging. Everything here is registered in
// internal/api/router.go.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mergington/activities/internal/telemetry"
)

// noRoute labels requests that matched no route (404/405, unknown static files).
const noRoute = "<no-route>"

// MetricsMiddleware records http_requests_total and http_request_duration_seconds for
// every request. The path label is the Gin route template from c.FullPath(), e.g.
// /activities/:activity_name/signup, so arbitrary activity names never become labels.
//
// Register after gin.Recovery() so the status written by recovery is the one observed.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
