package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mergington/activities/internal/audit"
	"github.com/mergington/activities/internal/config"
	"github.com/mergington/activities/internal/middleware"
	"github.com/mergington/activities/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig mirrors the built-in defaults with a temporary static directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>Mergington High School</h1>"), 0600))

	cfg := &config.Config{}
	cfg.Server.Port = 8000
	cfg.Registry.EmailDomain = "@mergington.edu"
	cfg.Static.Dir = dir
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	cfg.Security.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.Security.RateLimiting = config.RateLimitingConfig{Enabled: false, RequestsPerMinute: 60, Burst: 10, Backend: "memory"}
	cfg.Logging = config.LoggingConfig{Level: "info", Format: "json"}
	cfg.Telemetry.ServiceName = "mergington-activities"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, shipper audit.Shipper) (*gin.Engine, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Seed())
	router, bg, err := NewRouter(cfg, reg, shipper)
	require.NoError(t, err)
	t.Cleanup(bg.Shutdown)
	return router, reg
}

func serve(r http.Handler, method, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func signupPath(activity, email string) string {
	return "/activities/" + url.PathEscape(activity) + "/signup?email=" + url.QueryEscape(email)
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

func TestRootRedirectsToFrontend(t *testing.T) {
	r, _ := newTestServer(t, testConfig(t), nil)

	w := serve(r, http.MethodGet, "/")
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/static/index.html", w.Header().Get("Location"))
}

func TestStaticFilesServed(t *testing.T) {
	r, _ := newTestServer(t, testConfig(t), nil)

	w := serve(r, http.MethodGet, "/static/index.html")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Mergington High School")

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/static/missing.js").Code)
}

func TestStaticDirMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Static.Dir = filepath.Join(t.TempDir(), "absent")
	r, _ := newTestServer(t, cfg, nil)

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/static/index.html").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/activities").Code)
}

func TestListActivities(t *testing.T) {
	r, _ := newTestServer(t, testConfig(t), nil)

	w := serve(r, http.MethodGet, "/activities")
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]registry.Activity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 9)
	for _, name := range []string{"Chess Club", "Programming Class", "Gym Class", "Soccer Team",
		"Basketball Team", "Art Club", "Drama Club", "Debate Team", "Robotics Club"} {
		assert.Contains(t, got, name)
	}
}

func TestGetActivity(t *testing.T) {
	r, _ := newTestServer(t, testConfig(t), nil)

	w := serve(r, http.MethodGet, "/activities/ROBOTICS%20CLUB")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Robotics Club", body["name"])
}

func TestSignupUnregisterRoundTrip(t *testing.T) {
	r, reg := newTestServer(t, testConfig(t), nil)
	const email = "newstudent@mergington.edu"

	w := serve(r, http.MethodPost, signupPath("Chess Club", email))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Signed up newstudent@mergington.edu for Chess Club"}`, w.Body.String())

	w = serve(r, http.MethodPost, "/activities/Chess%20Club/unregister?email="+url.QueryEscape(email))
	require.Equal(t, http.StatusOK, w.Code)

	_, a, err := reg.Get("Chess Club")
	require.NoError(t, err)
	assert.Equal(t, []string{"michael@mergington.edu", "daniel@mergington.edu"}, a.Participants)
}

func TestConcurrentSignupsNeverExceedCapacity(t *testing.T) {
	r, reg := newTestServer(t, testConfig(t), nil)

	var wg sync.WaitGroup
	codes := make(chan int, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := "student" + strconv.Itoa(i) + "@mergington.edu"
			codes <- serve(r, http.MethodPost, signupPath("Chess Club", email)).Code
		}(i)
	}
	wg.Wait()
	close(codes)

	ok := 0
	for code := range codes {
		if code == http.StatusOK {
			ok++
		}
	}
	assert.Equal(t, 10, ok)

	_, a, err := reg.Get("Chess Club")
	require.NoError(t, err)
	assert.Len(t, a.Participants, 12)
}

func TestDefaultConfigReachesCapacity(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	r, reg := newTestServer(t, cfg, nil)

	// Chess Club seats 12 and starts with 2 participants.
	for i := 0; i < 10; i++ {
		w := serve(r, http.MethodPost, signupPath("Chess Club", "test"+strconv.Itoa(i)+"@mergington.edu"))
		require.Equal(t, http.StatusOK, w.Code, "signup %d: %s", i, w.Body.String())
	}

	w := serve(r, http.MethodPost, signupPath("Chess Club", "test10@mergington.edu"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"Activity is full"}`, w.Body.String())

	_, a, err := reg.Get("Chess Club")
	require.NoError(t, err)
	assert.Len(t, a.Participants, 12)
}

// ---------------------------------------------------------------------------
// Middleware wiring
// ---------------------------------------------------------------------------

func TestRosterRoutesAreRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.RateLimiting.Enabled = true
	cfg.Security.RateLimiting.RequestsPerMinute = 1
	cfg.Security.RateLimiting.Burst = 2
	r, _ := newTestServer(t, cfg, nil)

	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, serve(r, http.MethodPost, signupPath("Art Club", "noah@mergington.edu")).Code)
	}
	// Duplicates are rejected by the registry until the bucket runs dry.
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)

	// Reads are never throttled.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/activities").Code)
	}
}

func TestUnknownRateLimitBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.RateLimiting.Enabled = true
	cfg.Security.RateLimiting.Backend = "memcached"
	_, _, err := NewRouter(cfg, registry.New(registry.Seed()), nil)
	assert.Error(t, err)
}

type chanShipper struct{ ch chan *audit.LogEntry }

func (s *chanShipper) Ship(_ context.Context, e *audit.LogEntry) error {
	s.ch <- e
	return nil
}

func (s *chanShipper) Close() error { return nil }

func TestSignupIsAudited(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Enabled = true
	shipper := &chanShipper{ch: make(chan *audit.LogEntry, 1)}
	r, _ := newTestServer(t, cfg, shipper)

	w := serve(r, http.MethodPost, signupPath("basketball team", "jordan@mergington.edu"))
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case e := <-shipper.ch:
		assert.Equal(t, "activity.signup", e.Action)
		assert.Equal(t, "Basketball Team", e.Activity)
		assert.Equal(t, "jordan@mergington.edu", e.Email)
		assert.Equal(t, w.Header().Get(middleware.RequestIDHeader), e.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit entry")
	}
}

type countingShipper struct {
	delay   time.Duration
	mu      sync.Mutex
	shipped int
}

func (s *countingShipper) Ship(_ context.Context, _ *audit.LogEntry) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.shipped++
	s.mu.Unlock()
	return nil
}

func (s *countingShipper) Close() error { return nil }

func TestShutdownDrainsAuditEntries(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Enabled = true
	shipper := &countingShipper{delay: 100 * time.Millisecond}

	router, bg, err := NewRouter(cfg, registry.New(registry.Seed()), shipper)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(router, http.MethodPost, signupPath("Art Club", "lena@mergington.edu")).Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodPost, signupPath("Art Club", "omar@mergington.edu")).Code)

	bg.Shutdown()

	shipper.mu.Lock()
	defer shipper.mu.Unlock()
	assert.Equal(t, 2, shipper.shipped)
}

func TestLoggerMiddleware_RedactsEmail(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r, _ := newTestServer(t, testConfig(t), nil)
	require.Equal(t, http.StatusOK, serve(r, http.MethodPost, signupPath("Drama Club", "private.student@mergington.edu")).Code)

	assert.NotContains(t, buf.String(), "private.student")

	var record map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		if record["msg"] == "http request" {
			break
		}
	}
	assert.Equal(t, "email=%5Bredacted%5D", record["query"])
}

func TestRedactQuery(t *testing.T) {
	assert.Equal(t, "", redactQuery(""))
	assert.Equal(t, "email=%5Bredacted%5D&page=2", redactQuery("email=a%40mergington.edu&page=2"))
	assert.Equal(t, "page=2", redactQuery("page=2"))
	assert.Equal(t, "[unparsable]", redactQuery("email=%zz"))
}

func TestSecurityAndRequestIDHeaders(t *testing.T) {
	r, _ := newTestServer(t, testConfig(t), nil)

	w := serve(r, http.MethodGet, "/activities")
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

// ---------------------------------------------------------------------------
// System endpoints
// ---------------------------------------------------------------------------

func TestHealthCheckHandler(t *testing.T) {
	r, _ := newTestServer(t, testConfig(t), nil)

	w := serve(r, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["time"])
}

func TestReadinessHandler(t *testing.T) {
	r := gin.New()
	r.GET("/ready/seeded", readinessHandler(registry.New(registry.Seed())))
	r.GET("/ready/empty", readinessHandler(registry.New(nil)))

	w := serve(r, http.MethodGet, "/ready/seeded")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
	assert.EqualValues(t, 9, body["activities"])

	w = serve(r, http.MethodGet, "/ready/empty")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestVersionHandler(t *testing.T) {
	r, _ := newTestServer(t, testConfig(t), nil)

	w := serve(r, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"version":"`+Version+`","api_version":"v1"}`, w.Body.String())
}

// ---------------------------------------------------------------------------
// CORSMiddleware
// ---------------------------------------------------------------------------

func newCORSRouter(origins ...string) *gin.Engine {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = origins
	cfg.Security.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}

	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"listed origin echoed", []string{"https://mergington.edu"}, "https://mergington.edu", "https://mergington.edu"},
		{"wildcard", []string{"*"}, "https://anything.example", "*"},
		{"wildcard without origin header", []string{"*"}, "", "*"},
		{"disallowed origin", []string{"https://mergington.edu"}, "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hdr []string
			if tt.origin != "" {
				hdr = []string{"Origin", tt.origin}
			}
			w := serve(newCORSRouter(tt.origins...), http.MethodGet, "/", hdr...)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.want != "" {
				assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	w := serve(newCORSRouter("*"), http.MethodOptions, "/", "Origin", "https://mergington.edu")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
