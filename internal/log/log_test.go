package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandlerAddsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := ContextAttrs(context.Background(), slog.String("task_id", "t-1"))
	ctx = ContextAttrs(ctx, slog.String("stage", "parse"))
	logger.InfoContext(ctx, "hello")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "t-1", got["task_id"])
	assert.Equal(t, "parse", got["stage"])
}

func TestContextAttrsDoesNotShareBacking(t *testing.T) {
	base := ContextAttrs(context.Background(), slog.String("a", "1"))
	left := ContextAttrs(base, slog.String("b", "2"))
	right := ContextAttrs(base, slog.String("c", "3"))

	assert.Len(t, left.Value(slogKey).([]slog.Attr), 2)
	rattrs := right.Value(slogKey).([]slog.Attr)
	require.Len(t, rattrs, 2)
	assert.Equal(t, "c", rattrs[1].Key)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := New(Options{Level: "info", Format: "text", Dir: dir})
	require.NoError(t, err)
	logger.Info("written")
	require.NoError(t, closer.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^app_\d{8}_\d{6}\.log$`, entries[0].Name())
}
