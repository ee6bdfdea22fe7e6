package translate

import (
	"context"
	"log/slog"

	"github.com/AbsurdMirror/PDF-Translator/internal/content"
	applog "github.com/AbsurdMirror/PDF-Translator/internal/log"
	"github.com/AbsurdMirror/PDF-Translator/internal/remote"
)

// Result は TranslateAll の終わり方です。
type Result string

const (
	ResultSuccess Result = "success"
	ResultFail    Result = "fail"
	ResultStopped Result = "stopped"
)

// Outcome は TranslateAll の結果です。
type Outcome struct {
	Result      Result
	Total       int
	Translated  int
	Skipped     int
	Completed   int // 処理を終えた項目数（翻訳とスキップの合計）
	FailedIndex int // 失敗した項目の Index。失敗していなければ -1
	Err         error
}

// ItemFunc は項目を一つ処理するたびに呼ばれます。text は訳文、スキップした場合は原文です。
// エラーを返すとその時点で失敗として終わります。
type ItemFunc func(ctx context.Context, index int, text string, skipped bool) error

// Pipeline は項目を Index 順に翻訳します。
type Pipeline struct {
	translator Translator
	caller     *remote.Caller
	source     string
	target     string
	logger     *slog.Logger
}

// NewPipeline は Pipeline を作成します。
func NewPipeline(t Translator, caller *remote.Caller, source, target string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Pipeline{translator: t, caller: caller, source: source, target: target, logger: logger}
}

// TranslateAll は items を先頭から順に翻訳し、訳文を items に書き込みます。
// 失敗や停止の時点までの訳文はそのまま残ります。
func (p *Pipeline) TranslateAll(ctx context.Context, items []content.Item, fn ItemFunc) Outcome {
	out := Outcome{Total: len(items), FailedIndex: -1}
	if ctx.Err() != nil {
		return p.stopped(ctx, out)
	}

	for i := range items {
		if ctx.Err() != nil {
			return p.stopped(ctx, out)
		}

		it := &items[i]
		if !it.Translatable() {
			if it.IsFigure() && it.Source != "" {
				it.Translated = it.Source
			}
			out.Skipped++
			out.Completed++
			if err := p.notify(ctx, fn, it.Index, it.Source, true); err != nil {
				return p.fail(ctx, out, it.Index, err)
			}
			continue
		}

		req := map[string]any{"index": it.Index, "text": it.Source, "source": p.source, "target": p.target}
		translated, err := remote.Call(ctx, p.caller, "translate", req, func(cctx context.Context) (string, error) {
			return p.translator.Translate(cctx, it.Source, p.source, p.target)
		})
		if err != nil {
			if ctx.Err() != nil {
				return p.stopped(ctx, out)
			}
			return p.fail(ctx, out, it.Index, err)
		}

		it.Translated = translated
		out.Translated++
		out.Completed++
		if err := p.notify(ctx, fn, it.Index, translated, false); err != nil {
			return p.fail(ctx, out, it.Index, err)
		}
	}

	out.Result = ResultSuccess
	return out
}

func (p *Pipeline) notify(ctx context.Context, fn ItemFunc, index int, text string, skipped bool) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, index, text, skipped)
}

func (p *Pipeline) stopped(ctx context.Context, out Outcome) Outcome {
	p.logger.InfoContext(ctx, "translation stopped", slog.Int("completed", out.Completed))
	out.Result = ResultStopped
	return out
}

func (p *Pipeline) fail(ctx context.Context, out Outcome, index int, err error) Outcome {
	p.logger.ErrorContext(ctx, "translation failed", slog.Int("index", index), slog.Any("error", err))
	out.Result = ResultFail
	out.FailedIndex = index
	out.Err = err
	return out
}
