package auth

import (
	"sync"
	"time"
)

var (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// limiter は IP ごとのログイン失敗回数を数え、上限に達したら一定時間ロックします。
type limiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptState
}

func newLimiter() *limiter {
	return &limiter{attempts: make(map[string]*attemptState)}
}

// locked はロック中なら残り時間を返します。
func (l *limiter) locked(ip string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.attempts[ip]
	if !ok || !now.Before(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

// fail は失敗を記録し、残りの試行回数を返します。
func (l *limiter) fail(ip string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		l.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}
	return max(maxLoginAttempts-state.count, 0)
}

func (l *limiter) reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, ip)
}
