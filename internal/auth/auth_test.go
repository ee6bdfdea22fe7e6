package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newRouter(t *testing.T, m *Manager) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Sessions("test-secret-test-secret-test-secret", false))
	r.POST("/login", m.Login)
	r.POST("/logout", m.Logout)
	r.GET("/session", m.Session)
	protected := r.Group("/config", m.RequireOperator())
	protected.GET("", func(c *gin.Context) { c.String(http.StatusOK, "read") })
	protected.POST("", func(c *gin.Context) { c.String(http.StatusOK, "saved") })
	return r
}

func enabledManager(t *testing.T) *Manager {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewManager(Credentials{Username: "admin", PasswordHash: string(hash)})
}

func do(r http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionCookie(w *httptest.ResponseRecorder) string {
	name, _, _ := strings.Cut(w.Header().Get("Set-Cookie"), ";")
	return name
}

func TestDisabledManagerPassesThrough(t *testing.T) {
	r := newRouter(t, NewManager(Credentials{}))

	w := do(r, http.MethodPost, "/config", "{}", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "saved", w.Body.String())

	w = do(r, http.MethodPost, "/login", `{"username":"a","password":"b"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoginAndCSRF(t *testing.T) {
	r := newRouter(t, enabledManager(t))

	w := do(r, http.MethodGet, "/config", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/login", `{"username":"admin","password":"s3cret"}`, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	token := w.Header().Get(csrfHeader)
	require.NotEmpty(t, token)
	cookie := sessionCookie(w)
	require.NotEmpty(t, cookie)

	withCookie := http.Header{"Cookie": {cookie}}
	w = do(r, http.MethodGet, "/config", "", withCookie)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/config", "{}", withCookie)
	assert.Equal(t, http.StatusForbidden, w.Code)

	withToken := http.Header{"Cookie": {cookie}, csrfHeader: {token}}
	w = do(r, http.MethodPost, "/config", "{}", withToken)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/session", "", withCookie)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"required":true,"authenticated":true,"user":"admin"}`, w.Body.String())
	assert.Equal(t, token, w.Header().Get(csrfHeader))
}

func TestLoginLockout(t *testing.T) {
	r := newRouter(t, enabledManager(t))

	for i := maxLoginAttempts - 1; i >= 0; i-- {
		w := do(r, http.MethodPost, "/login", `{"username":"admin","password":"wrong"}`, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"remainingAttempts":`+string(rune('0'+i)))
	}

	w := do(r, http.MethodPost, "/login", `{"username":"admin","password":"s3cret"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestSessionExpires(t *testing.T) {
	m := enabledManager(t)
	r := newRouter(t, m)

	w := do(r, http.MethodPost, "/login", `{"username":"admin","password":"s3cret"}`, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	cookie := sessionCookie(w)

	m.now = func() time.Time { return time.Now().Add(idleTimeout + time.Minute) }
	w = do(r, http.MethodGet, "/config", "", http.Header{"Cookie": {cookie}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "SESSION_IDLE_TIMEOUT")
}

func TestLimiterWindow(t *testing.T) {
	l := newLimiter()
	now := time.Now()
	for range maxLoginAttempts - 1 {
		l.fail("1.2.3.4", now)
	}
	assert.Zero(t, l.locked("1.2.3.4", now))

	// 窓を過ぎた失敗は数え直す
	assert.Equal(t, maxLoginAttempts-1, l.fail("1.2.3.4", now.Add(loginWindow+time.Second)))
}
