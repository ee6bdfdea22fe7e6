package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

// Sessions はクッキーに署名付きで保存するセッションミドルウェアを返します。
func Sessions(secret string, secure bool) gin.HandlerFunc {
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	return sessions.Sessions(SessionCookieName, store)
}

// RequireOperator はログインと CSRF トークンを検証するミドルウェアです。
// 認証情報が設定されていない場合は何もしません。
func (m *Manager) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		if !m.checkLogin(c) {
			return
		}
		if !m.checkCSRF(c) {
			return
		}
		c.Next()
	}
}

func (m *Manager) checkLogin(c *gin.Context) bool {
	session := sessions.Default(c)
	user, ok := session.Get(sessionKeyUser).(string)
	if !ok || user == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ログインが必要です",
		})
		return false
	}

	now := m.now()
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	lastActive := readUnix(session.Get(sessionKeyLastActive))

	if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
		session.Clear()
		_ = session.Save()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "SESSION_EXPIRED",
			"message": "セッションの有効期限が切れました",
		})
		return false
	}
	if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
		session.Clear()
		_ = session.Save()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "SESSION_IDLE_TIMEOUT",
			"message": "しばらく操作がなかったため再ログインしてください",
		})
		return false
	}

	session.Set(sessionKeyLastActive, now.Unix())
	_ = session.Save()
	c.Set(ContextUserKey, user)
	return true
}

func (m *Manager) checkCSRF(c *gin.Context) bool {
	if isSafeMethod(c.Request.Method) {
		return true
	}
	expected, _ := sessions.Default(c).Get(sessionKeyCSRF).(string)
	if expected == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code":    "CSRF_MISSING",
			"message": "CSRF トークンが設定されていません",
		})
		return false
	}
	received := c.GetHeader(csrfHeader)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code":    "CSRF_INVALID",
			"message": "CSRF トークンが一致しません",
		})
		return false
	}
	return true
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
