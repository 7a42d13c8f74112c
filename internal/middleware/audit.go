// audit.go records signups and unregistrations to the configured audit shippers.
package middleware

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mergington/activities/internal/audit"
	"github.com/mergington/activities/internal/config"
	"github.com/mergington/activities/internal/safego"
	"github.com/mergington/activities/internal/telemetry"
)

// Context keys written by the roster handlers and read by AuditMiddleware.
const (
	// RosterActivityKey holds the canonical activity name once it has been resolved.
	RosterActivityKey = "roster_activity"
	// RosterEmailKey holds the email the request acted on.
	RosterEmailKey = "roster_email"
	// RosterOutcomeKey holds the outcome label also used by roster_operations_total.
	RosterOutcomeKey = "roster_outcome"
)

const auditShipTimeout = 5 * time.Second

// AuditRecorder ships one LogEntry per roster mutation handled by the routes it wraps and
// tracks the shipping goroutines so shutdown can drain them before closing the shipper.
type AuditRecorder struct {
	shipper  audit.Shipper
	cfg      *config.AuditConfig
	inflight sync.WaitGroup
}

// NewAuditRecorder creates a recorder. shipper may be nil, in which case nothing is recorded.
func NewAuditRecorder(shipper audit.Shipper, cfg *config.AuditConfig) *AuditRecorder {
	return &AuditRecorder{shipper: shipper, cfg: cfg}
}

// AuditMiddleware is a shorthand for NewAuditRecorder(shipper, cfg).Middleware() when the
// caller never needs to drain in-flight entries.
func AuditMiddleware(shipper audit.Shipper, cfg *config.AuditConfig) gin.HandlerFunc {
	return NewAuditRecorder(shipper, cfg).Middleware()
}

// Middleware records the request after the handler has run. Rejected requests
// (status >= 400) are only recorded when cfg.LogFailedRequests is set. Shipping happens on
// a background goroutine so slow destinations never delay the response.
func (a *AuditRecorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if a.shipper == nil || c.Request.Method == "OPTIONS" {
			return
		}
		status := c.Writer.Status()
		if status >= 400 && (a.cfg == nil || !a.cfg.LogFailedRequests) {
			return
		}

		entry := &audit.LogEntry{
			Timestamp:  time.Now().UTC(),
			Action:     rosterAction(c.FullPath()),
			Activity:   c.GetString(RosterActivityKey),
			Email:      c.GetString(RosterEmailKey),
			RequestID:  RequestID(c),
			IPAddress:  c.ClientIP(),
			StatusCode: status,
		}
		// The activity may not have resolved (404); keep what the caller asked for.
		if entry.Activity == "" {
			entry.Activity = c.Param("activity_name")
		}
		if entry.Email == "" {
			entry.Email = c.Query("email")
		}
		if outcome := c.GetString(RosterOutcomeKey); outcome != "" {
			entry.Metadata = map[string]interface{}{"outcome": outcome}
		}

		a.inflight.Add(1)
		safego.Go("audit-ship", func() {
			defer a.inflight.Done()
			a.ship(entry)
		})
	}
}

func (a *AuditRecorder) ship(entry *audit.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), auditShipTimeout)
	defer cancel()

	if err := a.shipper.Ship(ctx, entry); err != nil {
		telemetry.AuditShipFailuresTotal.Inc()
		slog.Warn("failed to ship audit entry",
			"action", entry.Action,
			"activity", entry.Activity,
			"request_id", entry.RequestID,
			"error", err,
		)
	}
}

// Wait blocks until every entry handed to a shipping goroutine has been shipped or has
// failed, or until timeout elapses. It reports whether the drain completed. Call it after
// the HTTP server has stopped accepting requests and before closing the shipper.
func (a *AuditRecorder) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// rosterAction maps a route template to an audit action name.
func rosterAction(route string) string {
	switch {
	case strings.HasSuffix(route, "/signup"):
		return "activity.signup"
	case strings.HasSuffix(route, "/unregister"):
		return "activity.unregister"
	default:
		return "activity.unknown"
	}
}
