package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-importer/internal/core/usage"
)

var testSecret = []byte("test-secret")

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func userClaims(sub string) Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    "recipe-importer",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
}

type tierRecorder struct {
	mu    sync.Mutex
	calls map[string]usage.Tier
}

func (r *tierRecorder) SyncTier(_ context.Context, userID string, tier usage.Tier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]usage.Tier{}
	}
	r.calls[userID] = tier
	return nil
}

func authedEngine(tiers TierSyncer) *gin.Engine {
	r := gin.New()
	r.Use(Auth(testSecret, "recipe-importer", tiers))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": UserID(c)})
	})
	return r
}

func errorType(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	s, _ := resp.Error["type"].(string)
	return s
}

func TestAuthAcceptsValidToken(t *testing.T) {
	tiers := &tierRecorder{}
	r := authedEngine(tiers)

	claims := userClaims("user-1")
	claims.Tier = "plus"
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"user-1"}`, w.Body.String())
	assert.Equal(t, usage.TierPlus, tiers.calls["user-1"])
}

func TestAuthRejects(t *testing.T) {
	expired := userClaims("user-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := userClaims("user-1")
	wrongIssuer.Issuer = "someone-else"

	cases := map[string]string{
		"missing header":  "",
		"not bearer":      "Basic abc",
		"bad signature":   "Bearer " + signToken(t, []byte("other"), userClaims("user-1")),
		"expired":         "Bearer " + signToken(t, testSecret, expired),
		"wrong issuer":    "Bearer " + signToken(t, testSecret, wrongIssuer),
		"missing subject": "Bearer " + signToken(t, testSecret, userClaims("")),
		"garbage":         "Bearer not-a-token",
	}

	r := authedEngine(nil)
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "NOT_AUTHENTICATED", errorType(t, w.Body.Bytes()))
		})
	}
}

func TestAuthSkipsTierSyncWithoutClaim(t *testing.T) {
	tiers := &tierRecorder{}
	r := authedEngine(tiers)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, userClaims("user-2")))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, tiers.calls)
}

func dedupEngine(d *Deduplicator) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserID, c.GetHeader("X-User"))
		c.Next()
	})
	r.Use(d.Handler())
	r.POST("/imports", func(c *gin.Context) {
		var body map[string]string
		_ = c.ShouldBindJSON(&body)
		c.JSON(http.StatusCreated, body)
	})
	return r
}

func postAs(r http.Handler, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/imports", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDeduplicatorRejectsRepeatWithinWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	d := NewDeduplicator(time.Second)
	d.now = func() time.Time { return now }
	r := dedupEngine(d)

	body := `{"url":"https://example.com/soup"}`
	first := postAs(r, "alice", body)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.JSONEq(t, body, first.Body.String(), "body must be restored for the handler")

	assert.Equal(t, http.StatusTooManyRequests, postAs(r, "alice", body).Code)
	assert.Equal(t, http.StatusCreated, postAs(r, "bob", body).Code, "other users are independent")
	assert.Equal(t, http.StatusCreated, postAs(r, "alice", `{"url":"https://example.com/cake"}`).Code)

	now = now.Add(2 * time.Second)
	assert.Equal(t, http.StatusCreated, postAs(r, "alice", body).Code)
}

func TestDeduplicatorExemptPaths(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	d := NewDeduplicator(time.Minute, "/imports/website")
	d.now = func() time.Time { return now }

	var reached int
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserID, "alice")
		c.Next()
	})
	r.Use(d.Handler())
	handler := func(c *gin.Context) {
		reached++
		c.Status(http.StatusOK)
	}
	r.POST("/imports/website", handler)
	r.POST("/recipes", handler)

	post := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"url":"https://example.com/soup"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, post("/imports/website"), "attempt %d", i)
	}
	assert.Equal(t, 3, reached)

	assert.Equal(t, http.StatusOK, post("/recipes"))
	assert.Equal(t, http.StatusTooManyRequests, post("/recipes"))
	assert.Equal(t, 4, reached)
}

func TestDeduplicatorIgnoresGet(t *testing.T) {
	d := NewDeduplicator(time.Minute)
	r := gin.New()
	r.Use(d.Handler())
	r.GET("/usage", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/usage", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestFloodGuardPerIP(t *testing.T) {
	g := NewFloodGuard(0.001, 2)
	r := gin.New()
	r.Use(g.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, hit("10.0.0.1"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.2"))
	assert.Equal(t, 2, g.Len())
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodySizeLimit(16))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecoveryReturnsInternalError(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
