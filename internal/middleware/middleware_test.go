package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuth struct {
	valid string
	err   error
}

func (f fakeAuth) Authenticate(_ context.Context, token string) (*model.AdminToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	if token == "" || token != f.valid {
		return nil, errs.ErrInvalidToken
	}
	return &model.AdminToken{Token: token, UserID: 42}, nil
}

func adminEngine(auth Authenticator) *gin.Engine {
	r := gin.New()
	r.GET("/admin", RequireAdmin(auth), func(c *gin.Context) {
		tok, ok := AdminFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": tok.UserID})
	})
	return r
}

func TestRequireAdmin(t *testing.T) {
	r := adminEngine(fakeAuth{valid: "good"})

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing", "/admin", "", http.StatusUnauthorized},
		{"wrong bearer", "/admin", "Bearer bad", http.StatusUnauthorized},
		{"bearer", "/admin", "Bearer good", http.StatusOK},
		{"lowercase scheme", "/admin", "bearer good", http.StatusOK},
		{"query token", "/admin?token=good", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRequireAdmin_StoreDown(t *testing.T) {
	r := adminEngine(fakeAuth{err: errors.New("connection refused")})
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(3)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "budgets are per ip")

	now = now.Add(20 * time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "one token refills every 20s")

	now = now.Add(time.Hour)
	l.Allow("10.0.0.3")
	l.mu.Lock()
	_, stale := l.visitors["10.0.0.1"]
	l.mu.Unlock()
	assert.False(t, stale, "idle visitors are swept")
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.GET("/ice", RateLimit(NewIPRateLimiter(2)), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ice", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
