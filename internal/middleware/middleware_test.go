package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jogardn/poultry-market/internal/auth"
	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
})

func TestLoggingRecordsStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	rec := httptest.NewRecorder()
	Logging(logger)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, http.StatusAccepted, entry.Data["status"])
	assert.Equal(t, "/orders", entry.Data["path"])
	assert.Equal(t, http.MethodPost, entry.Data["method"])
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/orders", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestRateLimiterPerClient(t *testing.T) {
	l := NewRateLimiter(1, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	h := l.Middleware()(ok)

	send := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req = req.WithContext(auth.WithUser(req.Context(), auth.User{ID: userID, Role: models.RoleCustomer}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, send("c1"))
	assert.Equal(t, http.StatusAccepted, send("c1"))
	assert.Equal(t, http.StatusTooManyRequests, send("c1"))
	assert.Equal(t, http.StatusAccepted, send("c2"), "other clients keep their own bucket")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusAccepted, send("c1"), "bucket refills")
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("addr:10.0.0.1")
	now = now.Add(11 * time.Minute)
	l.Allow("addr:10.0.0.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.clients, 1)
	assert.Contains(t, l.clients, "addr:10.0.0.2")
}
