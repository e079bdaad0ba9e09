package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func limitedHandler(limiter *RateLimiter) http.Handler {
	return limiter.Middleware("test")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, remote string, caller *[20]byte) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	if caller != nil {
		req = req.WithContext(context.WithValue(req.Context(), contextKeyCaller, *caller))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiterPerVisitor(t *testing.T) {
	h := limitedHandler(NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 2}))

	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000", nil))
	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1001", nil))
	require.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1002", nil))
	require.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1000", nil))

	// Authenticated callers get their own bucket regardless of address.
	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1003", &ownerID))
}

func TestRateLimiterDisabled(t *testing.T) {
	h := limitedHandler(NewRateLimiter(RateLimit{}))
	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000", nil))
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	h := limitedHandler(limiter)

	hit(h, "10.0.0.1:1000", nil)
	hit(h, "10.0.0.2:1000", nil)
	require.Len(t, limiter.visitors, 2)

	now = now.Add(10 * time.Minute)
	hit(h, "10.0.0.3:1000", nil)
	require.Len(t, limiter.visitors, 1)
}
