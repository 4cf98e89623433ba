package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupTestRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})
	return router
}

func get(router *gin.Engine, method, origin, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/test", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "GET")
	}
	if remote != "" {
		req.RemoteAddr = remote
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	router := setupTestRouter(CORS(DefaultCORSConfig()))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantHeader bool
	}{
		{"localhost GET", "GET", "http://localhost:3000", http.StatusOK, true},
		{"loopback preflight", "OPTIONS", "http://127.0.0.1:5173", http.StatusNoContent, true},
		{"no origin", "GET", "", http.StatusOK, false},
		{"remote origin", "GET", "https://example.com", http.StatusForbidden, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(router, tt.method, tt.origin, "")
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantHeader {
				assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORSExplicitOrigins(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://console.example.com"}
	router := setupTestRouter(CORS(cfg))

	w := get(router, "GET", "https://console.example.com", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(router, "GET", "http://localhost:3000", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit(t *testing.T) {
	router := setupTestRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	for i := 0; i < 2; i++ {
		w := get(router, "GET", "", "192.168.1.1:1234")
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
	w := get(router, "GET", "", "192.168.1.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Another client has its own bucket.
	w = get(router, "GET", "", "192.168.1.2:1234")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitDropsIdleClients(t *testing.T) {
	now := time.Unix(1000, 0)
	l := &limiter{
		cfg:     RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute},
		now:     func() time.Time { return now },
		clients: make(map[string]*client),
		swept:   now,
	}
	l.get("10.0.0.1")
	l.get("10.0.0.2")
	assert.Equal(t, 2, l.size())

	now = now.Add(30 * time.Second)
	l.get("10.0.0.2")

	now = now.Add(45 * time.Second)
	l.get("10.0.0.3")
	assert.Equal(t, 2, l.size(), "10.0.0.1 idle for 75s is dropped")
}

func TestGlobalRateLimit(t *testing.T) {
	router := setupTestRouter(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	assert.Equal(t, http.StatusOK, get(router, "GET", "", "192.168.1.1:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "GET", "", "192.168.1.2:1234").Code)
}
