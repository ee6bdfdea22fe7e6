package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// 記録に残すメッセージ
const (
	messageStarting  = "初期化しています..."
	messageStopped   = "停止しました"
	messageCompleted = "完了しました"
)

// run は一つのタスクを終端まで進め、必ず最終状態を書き込みます。
func (o *Orchestrator) run(ctx context.Context, taskID string) {
	stage := o.exec.Stage()
	finalized := false

	defer func() {
		if p := recover(); p != nil {
			o.logger.ErrorContext(ctx, "panic in stage executor",
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			if !finalized {
				o.finalize(ctx, taskID, Result{}, NewError(CodeInternal, internalMessage, fmt.Errorf("panic: %v", p)))
			}
		}
	}()

	record, err := o.store.Get(ctx, taskID)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to load task", slog.Any("error", err))
		finalized = true
		o.finalize(ctx, taskID, Result{}, NewError(CodeInternal, internalMessage, err))
		return
	}
	if record == nil {
		o.logger.WarnContext(ctx, "task not found, nothing to do")
		return
	}
	settings, err := o.store.GetSettings(ctx)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to load settings", slog.Any("error", err))
		finalized = true
		o.finalize(ctx, taskID, Result{}, NewError(CodeInternal, internalMessage, err))
		return
	}

	if err := o.exec.Check(ctx, record, settings); err != nil {
		o.logger.WarnContext(ctx, "precondition failed", slog.Any("error", err))
		finalized = true
		o.finalize(ctx, taskID, Result{}, err)
		return
	}

	if ctx.Err() != nil {
		o.logger.InfoContext(ctx, "task cancelled before start")
		finalized = true
		o.finalize(ctx, taskID, Result{Stopped: true}, nil)
		return
	}

	run := &Run{
		TaskID:   taskID,
		Stage:    stage,
		Task:     *record,
		Settings: settings,
		Logger:   o.logger,
		store:    o.store,
	}
	if _, err := o.store.Update(ctx, taskID, func(rec *Record) {
		rec.Status = StatusProcessing
		rec.SetProgress(stage, 0)
		rec.Message = messageStarting
	}); err != nil {
		o.logger.ErrorContext(ctx, "failed to mark task processing", slog.Any("error", err))
	}

	o.logger.InfoContext(ctx, "stage started")
	res, err := o.exec.Execute(ctx, run)
	finalized = true
	o.finalize(ctx, taskID, res, err)
}

// finalize は終端の状態を書き込みます。キャンセル後でも書き込めるよう ctx のキャンセルは無視します。
func (o *Orchestrator) finalize(ctx context.Context, taskID string, res Result, runErr error) {
	stage := o.exec.Stage()
	writeCtx := context.WithoutCancel(ctx)

	var mutate func(*Record)
	switch {
	case runErr != nil:
		code, message := failureMessage(runErr)
		o.logger.ErrorContext(ctx, "stage failed", slog.String("code", code), slog.Any("error", runErr))
		mutate = func(rec *Record) {
			rec.Status = StatusFailed
			rec.Message = message
		}
	case res.Stopped:
		o.logger.InfoContext(ctx, "stage stopped")
		mutate = func(rec *Record) {
			rec.Status = StatusPending
			rec.Message = messageStopped
		}
	default:
		message := res.Message
		if message == "" {
			message = messageCompleted
		}
		o.logger.InfoContext(ctx, "stage completed")
		mutate = func(rec *Record) {
			rec.Status = StatusCompleted
			rec.SetProgress(stage, 100)
			rec.Message = message
		}
	}

	if _, err := o.store.Update(writeCtx, taskID, mutate); err != nil {
		o.logger.ErrorContext(ctx, "failed to finalize task", slog.Any("error", err))
	}
}
