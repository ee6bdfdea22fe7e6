package translate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbsurdMirror/PDF-Translator/internal/content"
	"github.com/AbsurdMirror/PDF-Translator/internal/remote"
)

// fakeTranslator は原文を大文字にして返します。fail に含まれる原文は常に失敗します。
type fakeTranslator struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
	langs [2]string
}

func (f *fakeTranslator) Translate(_ context.Context, text, source, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	f.langs = [2]string{source, target}
	if f.fail[text] {
		return "", errors.New("service unavailable")
	}
	return strings.ToUpper(text), nil
}

type itemEvent struct {
	index   int
	text    string
	skipped bool
}

func collect(events *[]itemEvent) ItemFunc {
	return func(_ context.Context, index int, text string, skipped bool) error {
		*events = append(*events, itemEvent{index, text, skipped})
		return nil
	}
}

func textItems(texts ...string) []content.Item {
	items := make([]content.Item, len(texts))
	for i, s := range texts {
		items[i] = content.Item{Index: i, Kind: "text", Source: s}
	}
	return items
}

func TestTranslateAllSkipsFiguresAndEmptyItems(t *testing.T) {
	items := []content.Item{
		{Index: 0, Kind: content.KindFigure, Source: "![f](/api/task/t1/figures/a.png)"},
		{Index: 1, Kind: "text", Source: ""},
		{Index: 2, Kind: "text", Source: "hello"},
	}
	tr := &fakeTranslator{}
	var events []itemEvent

	out := NewPipeline(tr, remote.NewCaller(remote.Policy{MaxAttempts: 3}), "English", "Chinese", nil).
		TranslateAll(context.Background(), items, collect(&events))

	assert.Equal(t, Outcome{Result: ResultSuccess, Total: 3, Translated: 1, Skipped: 2, Completed: 3, FailedIndex: -1}, out)
	assert.Equal(t, []string{"hello"}, tr.calls)
	assert.Equal(t, [2]string{"English", "Chinese"}, tr.langs)
	assert.Equal(t, []itemEvent{
		{0, "![f](/api/task/t1/figures/a.png)", true},
		{1, "", true},
		{2, "HELLO", false},
	}, events)
	assert.Equal(t, "HELLO", items[2].Translated)
	assert.Equal(t, items[0].Source, items[0].Translated)
	assert.False(t, items[1].HasTranslation())
}

func TestTranslateAllStopsAtFirstExhaustedItem(t *testing.T) {
	items := textItems("a", "b", "c", "d", "e")
	tr := &fakeTranslator{fail: map[string]bool{"c": true}}
	var events []itemEvent

	out := NewPipeline(tr, remote.NewCaller(remote.Policy{MaxAttempts: 3}), "en", "zh", nil).
		TranslateAll(context.Background(), items, collect(&events))

	assert.Equal(t, ResultFail, out.Result)
	assert.Equal(t, 2, out.FailedIndex)
	assert.Equal(t, 2, out.Completed)
	var exhausted *remote.ExhaustedError
	require.ErrorAs(t, out.Err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)

	assert.Equal(t, []string{"a", "b", "c", "c", "c"}, tr.calls)
	assert.Equal(t, "A", items[0].Translated)
	assert.Equal(t, "B", items[1].Translated)
	for _, it := range items[2:] {
		assert.False(t, it.HasTranslation(), "item %d", it.Index)
	}
	assert.Len(t, events, 2)
}

func TestTranslateAllCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &fakeTranslator{}

	out := NewPipeline(tr, remote.NewCaller(remote.Policy{MaxAttempts: 1}), "en", "zh", nil).
		TranslateAll(ctx, textItems("a", "b"), nil)

	assert.Equal(t, Outcome{Result: ResultStopped, Total: 2, FailedIndex: -1}, out)
	assert.Empty(t, tr.calls)
}

func TestTranslateAllStopsBetweenItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	items := textItems("a", "b", "c")

	out := NewPipeline(&fakeTranslator{}, remote.NewCaller(remote.Policy{MaxAttempts: 1}), "en", "zh", nil).
		TranslateAll(ctx, items, func(context.Context, int, string, bool) error {
			cancel()
			return nil
		})

	assert.Equal(t, ResultStopped, out.Result)
	assert.Equal(t, 1, out.Completed)
	assert.NoError(t, out.Err)
	assert.Equal(t, "A", items[0].Translated)
	assert.False(t, items[1].HasTranslation())
}

func TestTranslateAllCallbackErrorFails(t *testing.T) {
	boom := errors.New("disk full")
	out := NewPipeline(&fakeTranslator{}, remote.NewCaller(remote.Policy{MaxAttempts: 1}), "en", "zh", nil).
		TranslateAll(context.Background(), textItems("a", "b"), func(context.Context, int, string, bool) error {
			return boom
		})

	assert.Equal(t, ResultFail, out.Result)
	assert.Equal(t, 0, out.FailedIndex)
	assert.ErrorIs(t, out.Err, boom)
}

func TestTranslateAllEmpty(t *testing.T) {
	out := NewPipeline(&fakeTranslator{}, remote.NewCaller(remote.Policy{}), "en", "zh", nil).
		TranslateAll(context.Background(), nil, nil)
	assert.Equal(t, Outcome{Result: ResultSuccess, FailedIndex: -1}, out)
}

func TestTranslateAllEmptyCancelledIsStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewPipeline(&fakeTranslator{}, remote.NewCaller(remote.Policy{}), "en", "zh", nil).
		TranslateAll(ctx, nil, nil)
	assert.Equal(t, Outcome{Result: ResultStopped, FailedIndex: -1}, out)
}
