package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// dummyHandler is a placeholder that records if it was called and the context it received.
type dummyHandler struct {
	called bool
	ctx    context.Context
}

func (d *dummyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.called = true
	d.ctx = r.Context()
	w.WriteHeader(http.StatusOK)
}

type parserFunc func(string) (string, error)

func (f parserFunc) Parse(token string) (string, error) { return f(token) }

func TestSessionAuth(t *testing.T) {
	parser := parserFunc(func(tok string) (string, error) {
		if tok == "good" {
			return "alice", nil
		}
		return "", errors.New("bad token")
	})

	tests := []struct {
		name       string
		header     string
		wantCode   int
		wantCalled bool
	}{
		{"no header", "", http.StatusUnauthorized, false},
		{"wrong scheme", "Basic good", http.StatusUnauthorized, false},
		{"invalid token", "Bearer bad", http.StatusUnauthorized, false},
		{"valid token", "Bearer good", http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dummy := &dummyHandler{}
			h := SessionAuth(parser)(dummy)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantCalled, dummy.called)
			if tt.wantCalled {
				assert.Equal(t, "alice", GetUserIDFromContext(dummy.ctx))
			}
		})
	}
}

func TestGetUserIDFromContext_Missing(t *testing.T) {
	assert.Empty(t, GetUserIDFromContext(context.Background()))
	assert.Equal(t, "bob", GetUserIDFromContext(WithUserID(context.Background(), "bob")))
}

func TestRateLimiter_Allow(t *testing.T) {
	ml := NewRateLimiter(rate.Limit(2), 2, time.Minute)
	fixed := time.Now()
	ml.now = func() time.Time { return fixed }

	assert.True(t, ml.Allow("ip"), "first allow should pass")
	assert.True(t, ml.Allow("ip"), "second allow should pass")
	assert.False(t, ml.Allow("ip"), "third allow should be rate limited")
	assert.True(t, ml.Allow("other"), "keys are independent")
}

func TestRateLimiter_ForgetsIdleKeys(t *testing.T) {
	ml := NewRateLimiter(rate.Limit(1), 1, time.Minute)
	now := time.Now()
	ml.now = func() time.Time { return now }
	ml.Allow("a")

	now = now.Add(2 * time.Minute)
	ml.Allow("b")
	ml.mu.Lock()
	_, ok := ml.entries["a"]
	ml.mu.Unlock()
	assert.False(t, ok)
}

func TestRateLimiter_Handler(t *testing.T) {
	ml := NewRateLimiter(rate.Limit(1), 1, time.Minute)
	fixed := time.Now()
	ml.now = func() time.Time { return fixed }
	h := ml.Handler(&dummyHandler{})

	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/srp/challenges", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:5001"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:5000"))
}

func TestRateLimiter_IgnoresForwardedFor(t *testing.T) {
	ml := NewRateLimiter(rate.Limit(1), 1, time.Minute)
	fixed := time.Now()
	ml.now = func() time.Time { return fixed }
	h := ml.Handler(&dummyHandler{})

	limited := 0
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/srp/challenges", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.%d.%d", i/256, i%256))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	assert.Equal(t, 99, limited)
	ml.mu.Lock()
	assert.Len(t, ml.entries, 1)
	ml.mu.Unlock()
}

func TestRateLimiter_SweepsOncePerTTL(t *testing.T) {
	ml := NewRateLimiter(rate.Limit(1), 1, time.Minute)
	now := time.Now()
	ml.now = func() time.Time { return now }
	ml.Allow("a")

	// "a" goes idle, but the sweep is not due yet when "b" arrives.
	now = now.Add(61 * time.Second)
	ml.lastSweep = now.Add(-30 * time.Second)
	ml.Allow("b")
	ml.mu.Lock()
	assert.Len(t, ml.entries, 2)
	ml.mu.Unlock()

	now = now.Add(30 * time.Second)
	ml.Allow("c")
	ml.mu.Lock()
	_, ok := ml.entries["a"]
	ml.mu.Unlock()
	assert.False(t, ok)
}

func TestWithRequestLogging(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(&buf),
		zapcore.InfoLevel,
	)
	h := WithRequestLogging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/shares/incoming", nil)
	req.Header.Set("Authorization", "Bearer top-secret")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	require.Contains(t, out, `"path":"/api/shares/incoming"`)
	assert.Contains(t, out, `"status":418`)
	assert.NotContains(t, out, "top-secret")
}
