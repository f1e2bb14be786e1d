package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestAllow_BurstThenLimit(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("key") {
			t.Fatalf("Request %d within burst should be allowed", i)
		}
	}

	if l.Allow("key") {
		t.Error("Request over burst should be denied")
	}
}

func TestAllow_TokensRefill(t *testing.T) {
	// 600 rpm = 10 tokens/sec, so a short sleep refills
	l := New(Config{RequestsPerMinute: 600, BurstSize: 2, CleanupInterval: time.Minute})
	defer l.Stop()

	l.Allow("key")
	l.Allow("key")
	if l.Allow("key") {
		t.Fatal("Bucket should be empty")
	}

	time.Sleep(200 * time.Millisecond)

	if !l.Allow("key") {
		t.Error("Expected token refill after wait")
	}
}

func TestAllow_KeysIndependent(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("a") {
		t.Fatal("First request for key a should pass")
	}
	if l.Allow("a") {
		t.Fatal("Second request for key a should be denied")
	}
	if !l.Allow("b") {
		t.Error("Key b should have its own bucket")
	}
}

func TestMiddleware_KeysByIdentityHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	router := gin.New()
	router.Use(l.Middleware())
	router.POST("/v1/events", func(c *gin.Context) {
		c.String(200, "ok")
	})

	send := func(identity string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/events", nil)
		if identity != "" {
			req.Header.Set("X-Identity-Key", identity)
		}
		router.ServeHTTP(w, req)
		return w.Code
	}

	// Same identity exhausts its bucket
	if code := send("0xaaaa000000000000000000000000000000000001"); code != http.StatusOK {
		t.Fatalf("First request should pass, got %d", code)
	}
	if code := send("0xaaaa000000000000000000000000000000000001"); code != http.StatusTooManyRequests {
		t.Errorf("Second request should be limited, got %d", code)
	}

	// A different identity from the same IP is unaffected
	if code := send("0xbbbb000000000000000000000000000000000002"); code != http.StatusOK {
		t.Errorf("Different identity should have its own bucket, got %d", code)
	}
}

func TestMiddleware_RateLimitResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)

	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	router := gin.New()
	router.Use(l.Middleware())
	router.GET("/x", func(c *gin.Context) { c.String(200, "ok") })

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Identity-Key", "0xcccc000000000000000000000000000000000003")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "rate_limit_exceeded") || !strings.Contains(body, "retry_after") {
		t.Errorf("Expected structured rate limit body, got %s", body)
	}
}
