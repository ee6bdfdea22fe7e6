package jobs

import (
	"context"
	"log/slog"

	"github.com/AbsurdMirror/PDF-Translator/internal/progress"
)

// Executor は一つのステージの処理内容です。
type Executor interface {
	// Stage は担当するステージです。
	Stage() Stage
	// Check は実行前の条件を検証します。失敗は *Error で返します。
	Check(ctx context.Context, record *Record, settings Settings) error
	// Execute はステージを終端まで進めます。
	// キャンセルで中断した場合は Result.Stopped を立て、エラーは返しません。
	Execute(ctx context.Context, run *Run) (Result, error)
}

// Result はステージ実行の結果です。
type Result struct {
	Stopped bool
	Message string
}

// Run は一回のステージ実行に渡される文脈です。
// 記録への書き込みはこのオブジェクトを通して行い、進捗は減少しません。
type Run struct {
	TaskID   string
	Stage    Stage
	Task     Record   // 開始時点の記録
	Settings Settings // 開始時点の設定
	Logger   *slog.Logger

	store   Store
	percent int
}

// Percent は最後に書き込んだ進捗です。
func (r *Run) Percent() int {
	return r.percent
}

// Report は進捗とメッセージを記録します。percent が現在値より小さい場合は据え置きます。
func (r *Run) Report(ctx context.Context, percent int, message string) {
	next := progress.Clamp(max(r.percent, percent))
	r.write(ctx, func(rec *Record) {
		rec.Status = StatusProcessing
		rec.SetProgress(r.Stage, next)
		if message != "" {
			rec.Message = message
		}
	})
	r.percent = next
}

// Message はメッセージだけを更新します。
func (r *Run) Message(ctx context.Context, message string) {
	r.write(ctx, func(rec *Record) {
		rec.Message = message
	})
}

func (r *Run) write(ctx context.Context, mutate func(*Record)) {
	if _, err := r.store.Update(context.WithoutCancel(ctx), r.TaskID, mutate); err != nil {
		r.Logger.WarnContext(ctx, "failed to update task record", slog.Any("error", err))
	}
}
