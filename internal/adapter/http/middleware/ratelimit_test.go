package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"timebank-escrow/internal/adapter/http/middleware"
	redisStore "timebank-escrow/internal/adapter/storage/redis"
	"timebank-escrow/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

const testUserHeader = "X-Test-User"

func setupRateLimitRouter(store middleware.RateLimitStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	rule := middleware.RateLimitRule{Limit: 3, Window: time.Minute}
	log := zerolog.Nop()

	// Stands in for JWTAuth so requests can carry an actor.
	fakeAuth := func(c *gin.Context) {
		if id, err := uuid.Parse(c.GetHeader(testUserHeader)); err == nil {
			c.Set(middleware.CtxActor, domain.UserActor(id))
		}
		c.Next()
	}

	r.GET("/test", fakeAuth, middleware.RateLimiter(store, "test", rule, log), func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	return r
}

func doGet(router *gin.Engine, userID string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), "GET", "/test", nil)
	if userID != "" {
		req.Header.Set(testUserHeader, userID)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	router := setupRateLimitRouter(redisStore.NewRateLimitStore(client))

	for i := 0; i < 3; i++ {
		w := doGet(router, "")
		assert.Equal(t, 200, w.Code, "request %d should succeed", i+1)
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	router := setupRateLimitRouter(redisStore.NewRateLimitStore(client))

	for i := 0; i < 3; i++ {
		assert.Equal(t, 200, doGet(router, "").Code)
	}

	w := doGet(router, "")
	assert.Equal(t, 429, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimiter_CountsPerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	router := setupRateLimitRouter(redisStore.NewRateLimitStore(client))
	alice, bob := uuid.New().String(), uuid.New().String()

	for i := 0; i < 3; i++ {
		assert.Equal(t, 200, doGet(router, alice).Code)
	}
	assert.Equal(t, 429, doGet(router, alice).Code)

	// Independent counter
	assert.Equal(t, 200, doGet(router, bob).Code)

	var bobKeys int
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "ratelimit:user:"+bob+":test:") {
			bobKeys++
		}
	}
	assert.Equal(t, 1, bobKeys)
}

func TestRateLimiter_DegradedModeAllows(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	router := setupRateLimitRouter(redisStore.NewRateLimitStore(client))
	mr.Close()

	w := doGet(router, "")
	assert.Equal(t, 200, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestDefaultRateLimitRules(t *testing.T) {
	rules := middleware.DefaultRateLimitRules()
	assert.Equal(t, int64(20), rules["escrow_create"].Limit)
	assert.Equal(t, int64(60), rules["escrow_action"].Limit)
	assert.Equal(t, int64(120), rules["read"].Limit)
	assert.Equal(t, int64(60), rules["admin"].Limit)
}
