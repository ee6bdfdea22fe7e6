package auth

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は POST /api/auth/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	if !m.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "AUTH_DISABLED",
			"message": "ログインは設定されていません",
		})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username と password を JSON で送ってください",
		})
		return
	}

	ip := c.ClientIP()
	now := m.now()
	if retryAfter := m.limiter.locked(ip, now); retryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "一定時間後に再度お試しください",
		})
		return
	}

	if !m.verify(req.Username, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": m.limiter.fail(ip, now),
		})
		return
	}
	m.limiter.reset(ip)

	token, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "CSRF トークンの生成に失敗しました",
		})
		return
	}

	session := sessions.Default(c)
	session.Set(sessionKeyUser, m.creds.Username)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}

	c.Header(csrfHeader, token)
	c.Status(http.StatusNoContent)
}

// Logout は POST /api/auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// Session は GET /api/auth/session のハンドラーです。ログイン済みなら CSRF トークンも返します。
func (m *Manager) Session(c *gin.Context) {
	if !m.Enabled() {
		c.JSON(http.StatusOK, gin.H{"required": false, "authenticated": true})
		return
	}
	session := sessions.Default(c)
	user, _ := session.Get(sessionKeyUser).(string)
	if user == "" {
		c.JSON(http.StatusOK, gin.H{"required": true, "authenticated": false})
		return
	}
	if token, ok := session.Get(sessionKeyCSRF).(string); ok {
		c.Header(csrfHeader, token)
	}
	c.JSON(http.StatusOK, gin.H{"required": true, "authenticated": true, "user": user})
}
