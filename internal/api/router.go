// Package api wires together all HTTP routes for the Mergington High School activities
// service.
//
// Route layout:
//   - / redirects to the bundled signup page under /static.
//   - GET /activities and GET /activities/:activity_name are read-only and never throttled.
//   - POST .../signup and .../unregister mutate rosters; they sit behind the rate limiter
//     and the audit middleware.
//   - /health, /ready and /version are for orchestrators and operators.
//
// Prometheus metrics are not served here; see cmd/server.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mergington/activities/internal/api/activities"
	"github.com/mergington/activities/internal/audit"
	"github.com/mergington/activities/internal/config"
	"github.com/mergington/activities/internal/middleware"
	"github.com/mergington/activities/internal/registry"
)

// Version is the service version reported by /version and the version subcommand.
const Version = "0.1.0"

// indexPage is where / redirects.
const indexPage = "/static/index.html"

// BackgroundServices holds resources started by NewRouter that must be released during
// graceful shutdown. The caller (cmd/server) calls Shutdown after the HTTP server has
// drained in-flight requests.
type BackgroundServices struct {
	rateLimiter middleware.Limiter
	audit       *middleware.AuditRecorder
}

// auditDrainTimeout bounds how long Shutdown waits for audit entries still being shipped.
const auditDrainTimeout = 10 * time.Second

// Shutdown stops the rate limiter and drains in-flight audit entries, so the caller can
// close the audit shipper afterwards without losing records.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.rateLimiter != nil {
		bg.rateLimiter.Stop()
	}
	if bg.audit != nil && !bg.audit.Wait(auditDrainTimeout) {
		slog.Warn("audit entries still shipping after drain timeout", "timeout", auditDrainTimeout)
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. shipper may be nil when auditing is off.
func NewRouter(cfg *config.Config, reg *registry.Registry, shipper audit.Shipper) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.SecurityHeadersFor(cfg.Security)))

	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusTemporaryRedirect, indexPage)
	})
	router.GET("/health", healthCheckHandler())
	router.GET("/ready", readinessHandler(reg))
	router.GET("/version", versionHandler())

	if info, err := os.Stat(cfg.Static.Dir); err == nil && info.IsDir() {
		router.Static("/static", cfg.Static.Dir)
	} else {
		slog.Warn("static directory not found, frontend will not be served", "dir", cfg.Static.Dir)
	}

	router.GET("/activities", activities.ListHandler(reg))

	group := router.Group("/activities/:activity_name")
	group.GET("", activities.GetHandler(reg))

	var roster []gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		limiter, err := middleware.NewLimiter(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		bg.rateLimiter = limiter
		roster = append(roster, middleware.RateLimitMiddleware(limiter))
	}
	if cfg.Audit.Enabled && shipper != nil {
		bg.audit = middleware.NewAuditRecorder(shipper, &cfg.Audit)
		roster = append(roster, bg.audit.Middleware())
	}
	group.POST("/signup", append(slices.Clone(roster), activities.SignupHandler(reg))...)
	group.POST("/unregister", append(slices.Clone(roster), activities.UnregisterHandler(reg))...)

	return router, bg, nil
}

// @Summary      Health check
// @Description  Liveness probe. The registry lives in process memory, so a responding process is healthy.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Router       /health [get]
func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic, i.e. the registry holds at least one activity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, activities: n"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: registry is empty"
// @Router       /ready [get]
func readinessHandler(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := reg.Len()
		if n == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":      false,
				"activities": 0,
				"error":      "registry is empty",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":      true,
			"activities": n,
			"time":       time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the service version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware emits one slog record per request. The handler installed by
// telemetry.SetupLogger decides between JSON and text output.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := redactQuery(c.Request.URL.RawQuery)

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.RequestID(c)),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.String("service", cfg.Telemetry.ServiceName),
		)
	}
}

// redactedParams are query parameters never written to the application log. Student
// emails belong in the audit trail only.
var redactedParams = []string{"email"}

func redactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[unparsable]"
	}
	for _, p := range redactedParams {
		if values.Has(p) {
			values.Set(p, "[redacted]")
		}
	}
	return values.Encode()
}

// CORSMiddleware handles CORS for the configured origins and methods.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		wildcard := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" {
				allowed, wildcard = true, true
				break
			}
			if allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if wildcard || origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
