package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIdentity(t *testing.T) {
	r := gin.New()
	r.Use(Identity())
	r.GET("/open", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"org": Organisation(c), "user": User(c)})
	})
	r.GET("/scoped", RequireOrganisation(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set(HeaderOrganisationID, "org_1")
	req.Header.Set(HeaderUserID, "user_1")
	r.ServeHTTP(w, req)
	assert.JSONEq(t, `{"org":"org_1","user":"user_1"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scoped", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/scoped", nil)
	req.Header.Set(HeaderOrganisationID, "org_1")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimitPerOrganisation(t *testing.T) {
	r := gin.New()
	r.Use(Identity(), RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(org string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderOrganisationID, org)
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("org_a"))
	assert.Equal(t, http.StatusTooManyRequests, call("org_a"))
	assert.Equal(t, http.StatusOK, call("org_b"), "organisations have separate budgets")
}

func TestCORSExposesTraceHeaders(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	req.Header.Set("Access-Control-Request-Headers", HeaderOrganisationID)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
}
