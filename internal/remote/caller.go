// Package remote は外部サービス呼び出しの再試行と通信記録を提供します。
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	applog "github.com/AbsurdMirror/PDF-Translator/internal/log"
)

// ExhaustedError は再試行の上限に達した呼び出しの最後のエラーを保持します。
type ExhaustedError struct {
	Action   string
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Action, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Policy は再試行の方針です。
type Policy struct {
	MaxAttempts int           // 1 以上
	Backoff     time.Duration // n 回目の失敗の後に Backoff*n 待つ
}

// Caller は一つの外部呼び出しを Policy に従って再試行します。
// 呼び出し自体はキャンセルされず、待機だけがキャンセルで中断されます。
type Caller struct {
	policy   Policy
	recorder Recorder
	logger   *slog.Logger
}

// Option は Caller の任意設定です。
type Option func(*Caller)

// WithRecorder は試行ごとの通信記録先を設定します。
func WithRecorder(r Recorder) Option {
	return func(c *Caller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger はロガーを設定します。
func WithLogger(l *slog.Logger) Option {
	return func(c *Caller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCaller は Caller を生成します。
func NewCaller(policy Policy, opts ...Option) *Caller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff < 0 {
		policy.Backoff = 0
	}
	c := &Caller{
		policy:   policy,
		recorder: nopRecorder{},
		logger:   applog.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Once は再試行しない同じ設定の Caller を返します。
func (c *Caller) Once() *Caller {
	cp := *c
	cp.policy.MaxAttempts = 1
	return &cp
}

// Policy は設定済みの方針を返します。
func (c *Caller) Policy() Policy {
	return c.policy
}

// Call は op を実行し、失敗したら再試行します。
// 上限に達した場合は *ExhaustedError を返します。
// 待機中に ctx がキャンセルされた場合は ctx.Err() をラップしたエラーを返します。
func Call[T any](ctx context.Context, c *Caller, action string, request any, op func(context.Context) (T, error)) (T, error) {
	callCtx := context.WithoutCancel(ctx)
	attempts := 0
	var lastErr error

	operation := func() (T, error) {
		attempts++
		started := time.Now()
		res, err := op(callCtx)
		entry := Entry{
			Time:     started,
			Action:   action,
			Attempt:  attempts,
			Duration: time.Since(started),
			Request:  request,
		}
		if err != nil {
			lastErr = err
			entry.Error = err.Error()
		} else {
			entry.Response = res
		}
		c.recorder.Record(entry)
		return res, err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "remote call failed, retrying",
			slog.String("action", action),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", c.policy.MaxAttempts),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: c.policy.Backoff}, uint64(c.policy.MaxAttempts-1)),
		ctx,
	)
	res, err := backoff.RetryNotifyWithData[T](operation, b, notify)
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return res, fmt.Errorf("%s interrupted after %d attempt(s): %w", action, attempts, ctxErr)
	}
	if lastErr == nil {
		lastErr = err
	}
	return res, &ExhaustedError{Action: action, Attempts: attempts, LastErr: lastErr}
}

// linearBackOff は n 回目の待機を base*n にします。
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.base * time.Duration(b.n)
}

func (b *linearBackOff) Reset() {
	b.n = 0
}
