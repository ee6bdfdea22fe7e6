package parse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/AbsurdMirror/PDF-Translator/internal/content"
	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
	"github.com/AbsurdMirror/PDF-Translator/internal/progress"
	"github.com/AbsurdMirror/PDF-Translator/internal/remote"
	"github.com/AbsurdMirror/PDF-Translator/internal/storage"
)

// 記録に残すメッセージ
const (
	messageSubmitted     = "解析ジョブを登録しました"
	messageCloudFailed   = "クラウド解析に失敗しました"
	messageCloudFinished = "クラウド解析が完了しました。結果を取得しています..."
	messageCompleted     = "解析が完了しました"
)

// ServiceFactory はタスク開始時点の設定から Service を作ります。
type ServiceFactory func(settings jobs.Settings, client *http.Client) Service

// StageOptions は解析ステージの設定です。
type StageOptions struct {
	Storage      *storage.Local
	NewService   ServiceFactory
	Policy       remote.Policy
	PollInterval time.Duration
	PageSize     int
	CloudBand    int
	NetworkDebug bool
	HTTPClient   *http.Client // 解析サービスと図版の取得に使う
}

// Stage は jobs.Executor の解析ステージ実装です。
type Stage struct {
	opts      StageOptions
	projector progress.Parse
}

var _ jobs.Executor = (*Stage)(nil)

// NewStage は Stage を作成します。
func NewStage(opts StageOptions) *Stage {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Stage{opts: opts, projector: progress.NewParse(opts.CloudBand)}
}

// Stage は担当ステージを返します。
func (s *Stage) Stage() jobs.Stage {
	return jobs.StageParse
}

// Check は認証情報と原本の存在を確かめます。
func (s *Stage) Check(_ context.Context, record *jobs.Record, settings jobs.Settings) error {
	if !settings.HasAliyunCredentials() {
		return jobs.NewError(jobs.CodeConfigurationMissing,
			"システム設定が不足しています。設定画面で AccessKey ID と AccessKey Secret を入力してください", nil)
	}
	if record.FilePath == "" {
		return jobs.NewError(jobs.CodePreconditionFailed, "原本ファイルが登録されていません", nil)
	}
	if _, err := os.Stat(record.FilePath); err != nil {
		return jobs.NewError(jobs.CodePreconditionFailed, "原本ファイルが見つかりません", err)
	}
	return nil
}

// Execute は解析ジョブを投入し、終端まで追跡して結果を保存します。
func (s *Stage) Execute(ctx context.Context, run *jobs.Run) (jobs.Result, error) {
	if _, err := s.opts.Storage.EnsureTaskDir(run.TaskID); err != nil {
		return jobs.Result{}, err
	}
	resultPath, err := s.opts.Storage.ResultPath(run.TaskID)
	if err != nil {
		return jobs.Result{}, err
	}
	figuresDir, err := s.opts.Storage.FiguresDir(run.TaskID)
	if err != nil {
		return jobs.Result{}, err
	}

	callerOpts := []remote.Option{remote.WithLogger(run.Logger)}
	if s.opts.NetworkDebug {
		if p, err := s.opts.Storage.NetworkLogPath(run.TaskID); err == nil {
			callerOpts = append(callerOpts, remote.WithRecorder(remote.NewFileRecorder(p)))
		}
	}
	caller := remote.NewCaller(s.opts.Policy, callerOpts...)

	obs := &observer{
		run:       run,
		projector: s.projector,
		doc:       content.NewDocument(run.TaskID),
		path:      resultPath,
		figures: &content.FigureFetcher{
			Client:    s.opts.HTTPClient,
			Dir:       figuresDir,
			URLPrefix: "/api/task/" + url.PathEscape(run.TaskID) + "/figures",
			Logger:    run.Logger,
		},
	}
	if err := obs.doc.Save(resultPath); err != nil {
		return jobs.Result{}, jobs.NewError(jobs.CodeInternal, "解析結果の保存に失敗しました", err)
	}

	poller := NewPoller(s.opts.NewService(run.Settings, s.opts.HTTPClient), caller, obs, PollerOptions{
		PageSize: s.opts.PageSize,
		Logger:   run.Logger,
	})
	obs.poller = poller

	doc := Document{
		Name: run.Task.Filename,
		Path: run.Task.FilePath,
	}
	out := poller.Start(ctx, doc, s.opts.PollInterval)

	switch out.Result {
	case ResultCancelled:
		return jobs.Result{Stopped: true}, nil
	case ResultSuccess:
		return jobs.Result{Message: messageCompleted}, nil
	}
	if obs.saveErr != nil {
		return jobs.Result{}, jobs.NewError(jobs.CodeInternal, "解析結果の保存に失敗しました", obs.saveErr)
	}
	return jobs.Result{}, failure(out.Err)
}

// failure はポーラーの失敗理由を記録用のエラーにします。
func failure(err error) error {
	var exhausted *remote.ExhaustedError
	switch {
	case errors.Is(err, ErrSubmit):
		return jobs.NewError(jobs.CodeSubmitFailed, "解析ジョブの登録に失敗しました。設定と接続を確認してください", err)
	case errors.As(err, &exhausted):
		return jobs.NewError(jobs.CodeRemoteExhausted,
			fmt.Sprintf("解析サービスとの通信に失敗しました（%d回試行）", exhausted.Attempts), err)
	default:
		return jobs.NewError(jobs.CodeRemoteJobFailed, messageCloudFailed, err)
	}
}

// observer はポーラーの通知を記録と結果ファイルに反映します。
type observer struct {
	run       *jobs.Run
	projector progress.Parse
	poller    *Poller
	doc       *content.Document
	path      string
	figures   *content.FigureFetcher
	saveErr   error
}

func (o *observer) OnStatus(ctx context.Context, old, new Status, processing float64) {
	o.run.Logger.DebugContext(ctx, "parse job status",
		slog.String("old", string(old)),
		slog.String("new", string(new)),
		slog.Float64("processing", processing),
	)
	switch new {
	case StatusInit:
		o.run.Report(ctx, o.run.Percent(), messageSubmitted)
	case StatusProcessing:
		p := o.projector.Cloud(processing, o.run.Percent())
		o.run.Report(ctx, p, fmt.Sprintf("クラウド解析中… %d%%", int(processing)))
	case StatusSuccess:
		o.run.Report(ctx, o.projector.Succeeded(o.run.Percent()), messageCloudFinished)
	case StatusFail:
		o.run.Message(ctx, messageCloudFailed)
	}
}

func (o *observer) OnData(ctx context.Context, items []content.Item) error {
	o.figures.Localize(ctx, items)
	o.doc.Append(items...)
	if err := o.doc.Save(o.path); err != nil {
		o.saveErr = err
		return fmt.Errorf("save parse result: %w", err)
	}

	processed, total := o.poller.Processed(), o.poller.Total()
	p := o.projector.Drain(processed, total, o.poller.Status() == StatusSuccess, o.run.Percent())
	o.run.Report(ctx, p, fmt.Sprintf("解析結果を保存中 %d/%d", processed, total))
	return nil
}

func (o *observer) OnFinish(ctx context.Context, out Outcome) {
	o.run.Logger.InfoContext(ctx, "parse job finished",
		slog.String("result", string(out.Result)),
		slog.String("job_id", out.JobID),
		slog.Int("processed", out.Processed),
		slog.Int("total", out.Total),
	)
}
