// Package auth は設定画面を操作する運用者のログインと CSRF 対策を提供します。
// 認証情報が設定されていない場合、保護対象のエンドポイントはそのまま通します。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	SessionCookieName    = "pdft_session"
	sessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader = "X-CSRF-Token"
)

var (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// ContextUserKey はログイン済みユーザー名を gin.Context に置くキーです。
const ContextUserKey = "auth.user"

// Credentials は運用者の認証情報です。PasswordHash は bcrypt のハッシュです。
type Credentials struct {
	Username     string
	PasswordHash string
}

// Manager はログイン状態と試行回数の制限を管理します。
type Manager struct {
	creds   Credentials
	limiter *limiter
	now     func() time.Time
}

// NewManager は Manager を作成します。
func NewManager(creds Credentials) *Manager {
	return &Manager{
		creds:   creds,
		limiter: newLimiter(),
		now:     time.Now,
	}
}

// Enabled はログインが必要な構成かを返します。
func (m *Manager) Enabled() bool {
	return m.creds.Username != "" && m.creds.PasswordHash != ""
}

func (m *Manager) verify(username, password string) bool {
	if username != m.creds.Username {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.creds.PasswordHash), []byte(password)) == nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v any) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
