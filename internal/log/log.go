// Package log は slog ロガーの生成とコンテキスト属性の受け渡しを提供します。
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler はコンテキストに積まれた属性をレコードへ付与するハンドラーです。
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler は handler をラップした ContextHandler を返します。
func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{Handler: handler}
}

// Handle はコンテキスト属性を追加してから委譲先に渡します。
func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs は属性付きの ContextHandler を返します。
func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup はグループ付きの ContextHandler を返します。
func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// ContextAttrs は ctx に属性を追加した新しいコンテキストを返します。
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev, _ := ctx.Value(slogKey).([]slog.Attr)
	a := make([]slog.Attr, 0, len(prev)+len(attrs))
	a = append(a, prev...)
	a = append(a, attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// Options はロガー生成時の設定です。
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Dir    string // 空でなければ app_<timestamp>.log も出力する
}

// New は Options に従ってロガーを生成します。
// 返される io.Closer はログファイルを閉じるために使います（ファイル出力なしでも nil ではありません）。
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log dir: %w", err)
		}
		name := fmt.Sprintf("app_%s.log", time.Now().Format("20060102_150405"))
		file, err := os.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, file)
		closer = file
	}
	return slog.New(NewContextHandler(newHandler(out, opts))), closer, nil
}

func newHandler(w io.Writer, opts Options) slog.Handler {
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if strings.EqualFold(opts.Format, "text") {
		return slog.NewTextHandler(w, hopts)
	}
	return slog.NewJSONHandler(w, hopts)
}

// ParseLevel はレベル名を slog.Level に変換します。不明な値は Info です。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard は出力を捨てるロガーです。テストや未設定時に使います。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
