package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/AbsurdMirror/PDF-Translator/internal/content"
	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
	"github.com/AbsurdMirror/PDF-Translator/internal/progress"
	"github.com/AbsurdMirror/PDF-Translator/internal/remote"
	"github.com/AbsurdMirror/PDF-Translator/internal/storage"
)

// StageOptions は翻訳ステージの設定です。
type StageOptions struct {
	Storage       *storage.Local
	NewTranslator Factory // 省略時は NewTranslator
	Policy        remote.Policy
	NetworkDebug  bool
	HTTPClient    *http.Client
}

// Stage は jobs.Executor の翻訳ステージ実装です。
type Stage struct {
	opts StageOptions
}

var _ jobs.Executor = (*Stage)(nil)

// NewStage は Stage を作成します。
func NewStage(opts StageOptions) *Stage {
	if opts.NewTranslator == nil {
		opts.NewTranslator = NewTranslator
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Stage{opts: opts}
}

// Stage は担当ステージを返します。
func (s *Stage) Stage() jobs.Stage {
	return jobs.StageTranslate
}

// Check は解析の完了、翻訳エンジンの認証情報、解析結果ファイルの存在を確かめます。
func (s *Stage) Check(_ context.Context, record *jobs.Record, settings jobs.Settings) error {
	if record.ParseProgress < 100 {
		return jobs.NewError(jobs.CodePreconditionFailed, "解析が完了していないため翻訳を開始できません", nil)
	}
	if err := checkEngine(settings); err != nil {
		return err
	}
	path, err := s.opts.Storage.ResultPath(record.TaskID)
	if err != nil {
		return jobs.NewError(jobs.CodePreconditionFailed, "解析結果が見つかりません", err)
	}
	if _, err := os.Stat(path); err != nil {
		return jobs.NewError(jobs.CodePreconditionFailed, "解析結果が見つかりません", err)
	}
	return nil
}

// Execute は解析結果を読み込み、項目ごとに翻訳して保存します。
func (s *Stage) Execute(ctx context.Context, run *jobs.Run) (jobs.Result, error) {
	path, err := s.opts.Storage.ResultPath(run.TaskID)
	if err != nil {
		return jobs.Result{}, err
	}
	doc, err := content.Load(path)
	if err != nil {
		if errors.Is(err, content.ErrMalformed) {
			return jobs.Result{}, jobs.NewError(jobs.CodeMalformedContent, "解析結果の形式が正しくありません", err)
		}
		return jobs.Result{}, jobs.NewError(jobs.CodeInternal, "解析結果を読み込めませんでした", err)
	}

	translator, err := s.opts.NewTranslator(run.Settings, s.opts.HTTPClient)
	if err != nil {
		return jobs.Result{}, jobs.NewError(jobs.CodeConfigurationMissing, "翻訳エンジンを初期化できませんでした", err)
	}

	callerOpts := []remote.Option{remote.WithLogger(run.Logger)}
	if s.opts.NetworkDebug {
		if p, err := s.opts.Storage.NetworkLogPath(run.TaskID); err == nil {
			callerOpts = append(callerOpts, remote.WithRecorder(remote.NewFileRecorder(p)))
		}
	}
	caller := remote.NewCaller(s.opts.Policy, callerOpts...)

	source, target := languages(run.Task)
	pipeline := NewPipeline(translator, caller, source, target, run.Logger)

	total := len(doc.Items)
	if total == 0 {
		run.Report(ctx, progress.Translation(0, 0), "翻訳する項目がありません")
	}

	var saveErr error
	n := 0
	out := pipeline.TranslateAll(ctx, doc.Items, func(ctx context.Context, index int, _ string, skipped bool) error {
		n++
		if err := doc.Save(path); err != nil {
			saveErr = err
			return fmt.Errorf("save translation: %w", err)
		}
		msg := fmt.Sprintf("翻訳中 %d/%d", n, total)
		if skipped {
			msg = fmt.Sprintf("スキップ %d/%d", n, total)
		}
		run.Report(ctx, progress.Translation(n, total), msg)
		return nil
	})

	run.Logger.InfoContext(ctx, "translation finished",
		slog.String("result", string(out.Result)),
		slog.Int("total", out.Total),
		slog.Int("translated", out.Translated),
		slog.Int("skipped", out.Skipped),
	)

	switch out.Result {
	case ResultStopped:
		return jobs.Result{Stopped: true}, nil
	case ResultSuccess:
		return jobs.Result{Message: fmt.Sprintf("翻訳が完了しました（翻訳 %d件、スキップ %d件）", out.Translated, out.Skipped)}, nil
	}

	if saveErr != nil {
		return jobs.Result{}, jobs.NewError(jobs.CodeInternal, "翻訳結果の保存に失敗しました", saveErr)
	}
	var exhausted *remote.ExhaustedError
	if errors.As(out.Err, &exhausted) {
		return jobs.Result{}, jobs.NewError(jobs.CodeRemoteExhausted,
			fmt.Sprintf("翻訳に失敗しました（%d件目、%d回試行）", out.FailedIndex+1, exhausted.Attempts), out.Err)
	}
	return jobs.Result{}, jobs.NewError(jobs.CodeRemoteExhausted,
		fmt.Sprintf("翻訳に失敗しました（%d件目）", out.FailedIndex+1), out.Err)
}

func languages(rec jobs.Record) (source, target string) {
	source, target = rec.SourceLang, rec.TargetLang
	if source == "" {
		source = jobs.DefaultSourceLang
	}
	if target == "" {
		target = jobs.DefaultTargetLang
	}
	return source, target
}
