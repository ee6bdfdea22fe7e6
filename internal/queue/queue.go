// Package queue は Redis 上のキューを介してタスクをステージへ投入します。
// 投入側（API）と実行側（ワーカー）が別プロセスでも同じ手順で動きます。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
	applog "github.com/AbsurdMirror/PDF-Translator/internal/log"
)

const (
	queueName = "tasks"

	typePrefix = "task:"
)

// Payload はキューに積むタスクの内容です。
type Payload struct {
	TaskID string     `json:"taskId"`
	Stage  jobs.Stage `json:"stage"`
}

// Submitter はキューから取り出したタスクを受け取ります。
type Submitter interface {
	Stage() jobs.Stage
	Submit(taskID string) bool
}

// Queue は asynq のクライアントとサーバーをまとめたものです。
type Queue struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	subs   map[jobs.Stage]Submitter
	logger *slog.Logger
}

var _ jobs.Dispatcher = (*Queue)(nil)

// New は redisURL のキューを作成します。subs は取り出したタスクの投入先です。
func New(redisURL string, logger *slog.Logger, subs ...Submitter) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if logger == nil {
		logger = applog.Discard()
	}

	q := &Queue{
		client: asynq.NewClient(opt),
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: 2,
			Queues:      map[string]int{queueName: 1},
			Logger:      slogAdapter{logger.With(slog.String("component", "asynq"))},
		}),
		mux:    asynq.NewServeMux(),
		subs:   make(map[jobs.Stage]Submitter, len(subs)),
		logger: logger,
	}
	for _, s := range subs {
		q.subs[s.Stage()] = s
		q.mux.HandleFunc(typePrefix+string(s.Stage()), q.handle)
	}
	return q, nil
}

// Dispatch はタスクをキューに積みます。同じステージ・タスクがキューに残っている間は積みません。
func (q *Queue) Dispatch(ctx context.Context, stage jobs.Stage, taskID string) error {
	if taskID == "" {
		return errors.New("taskID is required")
	}
	body, err := json.Marshal(Payload{TaskID: taskID, Stage: stage})
	if err != nil {
		return err
	}
	task := asynq.NewTask(typePrefix+string(stage), body, asynq.Queue(queueName))
	info, err := q.client.EnqueueContext(ctx, task, asynq.TaskID(uniqueID(stage, taskID)), asynq.MaxRetry(1))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.logger.WarnContext(ctx, "task already queued", slog.String("task_id", taskID), slog.String("stage", string(stage)))
		return jobs.ErrRejected
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	q.logger.InfoContext(ctx, "task enqueued", slog.String("task_id", taskID), slog.String("queue_id", info.ID))
	return nil
}

// Run はキューの取り出しを開始し、ctx が終わるまで待ってから停止します。
func (q *Queue) Run(ctx context.Context) error {
	if err := q.server.Start(q.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return fmt.Errorf("asynq server: %w", err)
	}
	<-ctx.Done()
	q.server.Shutdown()
	return nil
}

// Close はクライアントを閉じます。
func (q *Queue) Close() error {
	return q.client.Close()
}

// handle は取り出したタスクを Orchestrator へ渡します。実行の完了は待ちません。
func (q *Queue) handle(ctx context.Context, task *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.TaskID == "" {
		return fmt.Errorf("missing taskId in payload: %w", asynq.SkipRetry)
	}
	sub, ok := q.subs[p.Stage]
	if !ok {
		return fmt.Errorf("unknown stage %q: %w", p.Stage, asynq.SkipRetry)
	}
	if !sub.Submit(p.TaskID) {
		q.logger.WarnContext(ctx, "queued task dropped", slog.String("task_id", p.TaskID), slog.String("stage", string(p.Stage)))
	}
	return nil
}

func uniqueID(stage jobs.Stage, taskID string) string {
	return string(stage) + ":" + taskID
}

// slogAdapter は asynq.Logger を slog へ流します。
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...)) }
