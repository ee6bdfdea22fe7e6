// Package jobs はステージごとのワーカープールとタスク記録を管理します。
package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	applog "github.com/AbsurdMirror/PDF-Translator/internal/log"
)

// DefaultWorkers は既定のプールサイズです。
const DefaultWorkers = 2

// Orchestrator は一つのステージのワーカープールです。
// 同じタスク ID の実行は同時に一つまでです。
type Orchestrator struct {
	exec   Executor
	store  Store
	logger *slog.Logger
	slots  *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]*handle
	workers  int
	closed   bool
	drained  chan struct{} // 停止後に最後のワーカーが閉じる
}

type handle struct {
	taskID    string
	submitted time.Time
	done      chan struct{}
}

// Options は Orchestrator の設定です。
type Options struct {
	Workers int
	Logger  *slog.Logger
}

// NewOrchestrator は exec を実行する Orchestrator を作成します。
func NewOrchestrator(exec Executor, store Store, opts Options) *Orchestrator {
	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		exec:     exec,
		store:    store,
		logger:   logger.With(slog.String("stage", string(exec.Stage()))),
		slots:    semaphore.NewWeighted(int64(workers)),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]*handle),
		drained:  make(chan struct{}),
	}
}

// Stage は担当ステージです。
func (o *Orchestrator) Stage() Stage {
	return o.exec.Stage()
}

// Submit はタスクを受け付けます。同じタスクが実行中・待機中の場合や
// 停止処理に入っている場合は何もせず false を返します。
func (o *Orchestrator) Submit(taskID string) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.logger.Warn("orchestrator is shutting down, submission ignored", slog.String("task_id", taskID))
		return false
	}
	if _, ok := o.inflight[taskID]; ok {
		o.mu.Unlock()
		o.logger.Warn("task already in flight, submission ignored", slog.String("task_id", taskID))
		return false
	}
	h := &handle{taskID: taskID, submitted: time.Now(), done: make(chan struct{})}
	o.inflight[taskID] = h
	o.workers++
	o.mu.Unlock()

	go o.work(h)
	return true
}

// InFlight は taskID が待機中または実行中かを返します。
func (o *Orchestrator) InFlight(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[taskID]
	return ok
}

// Active は待機中・実行中のタスク ID を受け付け順に返します。
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	handles := make([]*handle, 0, len(o.inflight))
	for _, h := range o.inflight {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool {
		return handles[i].submitted.Before(handles[j].submitted)
	})
	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = h.taskID
	}
	return ids
}

// Done は taskID の実行が終わると閉じるチャネルを返します。
// 実行中でなければ閉じたチャネルを返します。
func (o *Orchestrator) Done(taskID string) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.inflight[taskID]; ok {
		return h.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// ShutdownAll は実行中のすべてのタスクに停止を通知し、以後の受け付けを止めます。
// 終了は待ちません。
func (o *Orchestrator) ShutdownAll() {
	o.mu.Lock()
	already := o.closed
	o.closed = true
	n := len(o.inflight)
	if !already && o.workers == 0 {
		close(o.drained)
	}
	o.mu.Unlock()

	if !already {
		o.logger.Info("shutting down orchestrator", slog.Int("in_flight", n))
	}
	o.cancel()
}

// Wait は ShutdownAll の後、すべてのワーカーの終了を ctx の期限まで待ちます。
func (o *Orchestrator) Wait(ctx context.Context) error {
	select {
	case <-o.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) work(h *handle) {
	defer o.release(h)

	if err := o.slots.Acquire(o.ctx, 1); err != nil {
		o.logger.Info("task dropped before start", slog.String("task_id", h.taskID))
		return
	}
	defer o.slots.Release(1)

	ctx := applog.ContextAttrs(o.ctx,
		slog.String("task_id", h.taskID),
		slog.String("stage", string(o.exec.Stage())),
	)
	o.run(ctx, h.taskID)
}

func (o *Orchestrator) release(h *handle) {
	o.mu.Lock()
	delete(o.inflight, h.taskID)
	o.workers--
	if o.closed && o.workers == 0 {
		close(o.drained)
	}
	o.mu.Unlock()
	close(h.done)
}
