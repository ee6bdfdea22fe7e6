package jobs

import (
	"context"
	"log/slog"
)

// MessageRestarted は再起動時に中断されたタスクへ書き込むメッセージです。
const MessageRestarted = "再起動のため停止しました"

// RecoverInterrupted は processing のまま残った記録を pending に戻し、戻した件数を返します。
// 同じ記録を別のプロセスが実行している可能性がある構成では呼びません。
func RecoverInterrupted(ctx context.Context, store Store, logger *slog.Logger) (int, error) {
	records, err := store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range records {
		if r.Status != StatusProcessing {
			continue
		}
		if _, err := store.Update(ctx, r.TaskID, func(rec *Record) {
			if rec.Status == StatusProcessing {
				rec.Status = StatusPending
				rec.Message = MessageRestarted
			}
		}); err != nil {
			return n, err
		}
		n++
		if logger != nil {
			logger.InfoContext(ctx, "interrupted task reset", slog.String("task_id", r.TaskID))
		}
	}
	return n, nil
}
