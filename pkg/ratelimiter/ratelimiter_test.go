package ratelimiter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func TestAcquireBlocksWithinWindow(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()

	if err := l.Acquire(ctx, "alice", "friend_request", 10*time.Second); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	err := l.Acquire(ctx, "alice", "friend_request", 10*time.Second)
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter <= 0 || rl.RetryAfter > 10*time.Second {
		t.Fatalf("unexpected retry after %v", rl.RetryAfter)
	}

	if err := l.Acquire(ctx, "bob", "friend_request", 10*time.Second); err != nil {
		t.Fatalf("other principal should not be limited: %v", err)
	}

	mr.FastForward(11 * time.Second)
	if err := l.Acquire(ctx, "alice", "friend_request", 10*time.Second); err != nil {
		t.Fatalf("acquire after window: %v", err)
	}
}

func TestNilClientAllowsEverything(t *testing.T) {
	l := New(nil)
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background(), "alice", "x", time.Minute); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}

func TestCooldownMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newLimiter(t)

	status := http.StatusCreated
	router := gin.New()
	router.POST("/x", func(c *gin.Context) {
		c.Set("user_id", "alice")
	}, Cooldown(l, "create", time.Minute), func(c *gin.Context) {
		c.Status(status)
	})

	call := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
		return w
	}

	status = http.StatusBadRequest
	if w := call(); w.Code != http.StatusBadRequest {
		t.Fatalf("expected handler status, got %d", w.Code)
	}
	status = http.StatusCreated
	if w := call(); w.Code != http.StatusCreated {
		t.Fatalf("failed command should release the window, got %d", w.Code)
	}
	w := call()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}
