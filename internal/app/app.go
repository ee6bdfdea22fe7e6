// Package app は設定から各コンポーネントを組み立て、サーバーと CLI の双方に提供します。
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/AbsurdMirror/PDF-Translator/internal/aliyun"
	"github.com/AbsurdMirror/PDF-Translator/internal/config"
	"github.com/AbsurdMirror/PDF-Translator/internal/docmind"
	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
	"github.com/AbsurdMirror/PDF-Translator/internal/parse"
	"github.com/AbsurdMirror/PDF-Translator/internal/pdf"
	"github.com/AbsurdMirror/PDF-Translator/internal/queue"
	"github.com/AbsurdMirror/PDF-Translator/internal/remote"
	"github.com/AbsurdMirror/PDF-Translator/internal/storage"
	"github.com/AbsurdMirror/PDF-Translator/internal/translate"
)

// App は組み立て済みのコンポーネントです。
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      jobs.Store
	Storage    *storage.Local
	Parse      *jobs.Orchestrator
	Translate  *jobs.Orchestrator
	Dispatcher jobs.Dispatcher

	queue *queue.Queue
}

// Build は cfg に従ってストア、ステージ、オーケストレーター、投入方式を組み立てます。
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	local := storage.NewLocal(cfg.TasksDir())
	if err := os.MkdirAll(local.Root(), 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	client := &http.Client{Timeout: cfg.RequestTimeout}
	policy := remote.Policy{MaxAttempts: cfg.RetryMaxAttempts, Backoff: cfg.RetryBackoff}

	parseStage := parse.NewStage(parse.StageOptions{
		Storage:      local,
		NewService:   newParseService,
		Policy:       policy,
		PollInterval: cfg.PollInterval,
		PageSize:     cfg.PageSize,
		CloudBand:    cfg.ParseCloudBand,
		NetworkDebug: cfg.NetworkDebug,
		HTTPClient:   client,
	})
	translateStage := translate.NewStage(translate.StageOptions{
		Storage:      local,
		Policy:       policy,
		NetworkDebug: cfg.NetworkDebug,
		HTTPClient:   client,
	})

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Storage:   local,
		Parse:     jobs.NewOrchestrator(parseStage, store, jobs.Options{Workers: cfg.ParseWorkers, Logger: logger}),
		Translate: jobs.NewOrchestrator(translateStage, store, jobs.Options{Workers: cfg.TranslateWorkers, Logger: logger}),
	}

	if cfg.SubmitMode == config.SubmitQueue {
		q, err := queue.New(cfg.RedisURL, logger, a.Parse, a.Translate)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.queue = q
		a.Dispatcher = q
	} else {
		a.Dispatcher = jobs.NewDirect(a.Parse, a.Translate)
	}
	return a, nil
}

var newParseService parse.ServiceFactory = newDocMind

func newDocMind(settings jobs.Settings, client *http.Client) parse.Service {
	return docmind.New(settings.AliyunEndpoint, settings.AliyunRegion, aliyun.Credentials{
		AccessKeyID:     settings.AliyunAccessKeyID,
		AccessKeySecret: settings.AliyunAccessKeySecret,
	}, client)
}

// Queued はタスクが別プロセスのワーカーで実行される構成かを返します。
func (a *App) Queued() bool {
	return a.queue != nil
}

func (a *App) orchestrator(stage jobs.Stage) *jobs.Orchestrator {
	if stage == jobs.StageTranslate {
		return a.Translate
	}
	return a.Parse
}

// Import はローカルの PDF を検査してタスクとして登録します。
func (a *App) Import(ctx context.Context, path, sourceLang, targetLang string) (*jobs.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	taskID := uuid.NewString()
	filename := filepath.Base(path)
	src, err := a.Storage.SaveSource(taskID, filename, f)
	if err != nil {
		return nil, err
	}
	limits := pdf.Limits{MaxBytes: a.Config.MaxFileSize, MaxPages: a.Config.MaxPages}
	if _, err := pdf.Inspect(src, limits); err != nil {
		_ = a.Storage.Remove(taskID)
		return nil, err
	}

	if sourceLang == "" {
		sourceLang = jobs.DefaultSourceLang
	}
	if targetLang == "" {
		targetLang = jobs.DefaultTargetLang
	}
	record := &jobs.Record{
		TaskID:     taskID,
		Filename:   filename,
		FilePath:   src,
		Status:     jobs.StatusPending,
		Message:    "アップロードしました",
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}
	if err := a.Store.Create(ctx, record); err != nil {
		_ = a.Storage.Remove(taskID)
		return nil, err
	}
	return record, nil
}

// RunTask は taskID を stage に投入し、プロセス内で実行する構成なら終わるまで待って記録を返します。
// ctx が終わった場合は実行中のタスクに停止を通知し、猶予時間だけ終了を待ちます。
func (a *App) RunTask(ctx context.Context, stage jobs.Stage, taskID string) (*jobs.Record, error) {
	if err := a.Dispatcher.Dispatch(ctx, stage, taskID); err != nil {
		return nil, err
	}
	if a.queue != nil {
		return a.Store.Get(ctx, taskID)
	}

	o := a.orchestrator(stage)
	select {
	case <-o.Done(taskID):
	case <-ctx.Done():
		o.ShutdownAll()
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.ShutdownGraceDelay)
		defer cancel()
		if err := o.Wait(waitCtx); err != nil {
			a.Logger.WarnContext(ctx, "workers did not stop in time", slog.Any("error", err))
		}
	}
	return a.Store.Get(context.WithoutCancel(ctx), taskID)
}

// Wait は両ステージのワーカーの終了を待ちます。
func (a *App) Wait(ctx context.Context) error {
	return errors.Join(a.Parse.Wait(ctx), a.Translate.Wait(ctx))
}

// Close はキューとストアを閉じます。
func (a *App) Close() error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
