package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeExecutor は Execute の振る舞いを関数で差し替えられる Executor です。
type fakeExecutor struct {
	stage   Stage
	check   func(*Record, Settings) error
	execute func(context.Context, *Run) (Result, error)
	calls   atomic.Int32
}

func (f *fakeExecutor) Stage() Stage { return f.stage }

func (f *fakeExecutor) Check(_ context.Context, r *Record, s Settings) error {
	if f.check != nil {
		return f.check(r, s)
	}
	return nil
}

func (f *fakeExecutor) Execute(ctx context.Context, run *Run) (Result, error) {
	f.calls.Add(1)
	return f.execute(ctx, run)
}

func seed(t *testing.T, store Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, store.Create(context.Background(), &Record{
			TaskID:     id,
			Filename:   id + ".pdf",
			Status:     StatusPending,
			SourceLang: DefaultSourceLang,
			TargetLang: DefaultTargetLang,
		}))
	}
}

func waitDone(t *testing.T, o *Orchestrator, id string) {
	t.Helper()
	select {
	case <-o.Done(id):
	case <-time.After(5 * time.Second):
		t.Fatalf("task %s did not finish", id)
	}
}

func TestSubmitCompletesTask(t *testing.T) {
	store := newMemStore()
	seed(t, store, "t1")
	exec := &fakeExecutor{stage: StageParse, execute: func(ctx context.Context, run *Run) (Result, error) {
		run.Report(ctx, 40, "cloud")
		run.Report(ctx, 20, "") // 減少はしない
		return Result{Message: "解析が完了しました"}, nil
	}}
	o := NewOrchestrator(exec, store, Options{Workers: 2})
	defer o.ShutdownAll()

	require.True(t, o.Submit("t1"))
	waitDone(t, o, "t1")

	rec := store.record("t1")
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 100, rec.ParseProgress)
	assert.Equal(t, 0, rec.TranslateProgress)
	assert.Equal(t, "解析が完了しました", rec.Message)

	var seen []int
	for _, w := range store.writes("t1") {
		seen = append(seen, w.ParseProgress)
	}
	assert.Equal(t, []int{0, 40, 40, 100}, seen)
}

func TestSubmitIsSingleFlight(t *testing.T) {
	store := newMemStore()
	seed(t, store, "t1")
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	exec := &fakeExecutor{stage: StageTranslate, execute: func(ctx context.Context, run *Run) (Result, error) {
		started <- struct{}{}
		<-release
		return Result{}, nil
	}}
	o := NewOrchestrator(exec, store, Options{Workers: 2})
	defer o.ShutdownAll()

	require.True(t, o.Submit("t1"))
	<-started
	assert.False(t, o.Submit("t1"))
	assert.True(t, o.InFlight("t1"))
	assert.Equal(t, []string{"t1"}, o.Active())

	close(release)
	waitDone(t, o, "t1")
	assert.Equal(t, int32(1), exec.calls.Load())
	assert.False(t, o.InFlight("t1"))

	// 終了後は再投入できる
	require.True(t, o.Submit("t1"))
	waitDone(t, o, "t1")
	assert.Equal(t, int32(2), exec.calls.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	store := newMemStore()
	ids := []string{"a", "b", "c", "d", "e"}
	seed(t, store, ids...)

	var running, peak atomic.Int32
	var mu sync.Mutex
	exec := &fakeExecutor{stage: StageParse, execute: func(ctx context.Context, run *Run) (Result, error) {
		n := running.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return Result{}, nil
	}}
	o := NewOrchestrator(exec, store, Options{Workers: 2})
	defer o.ShutdownAll()

	for _, id := range ids {
		require.True(t, o.Submit(id))
	}
	for _, id := range ids {
		waitDone(t, o, id)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(5), exec.calls.Load())
}

func TestPreconditionFailure(t *testing.T) {
	store := newMemStore()
	seed(t, store, "t1")
	exec := &fakeExecutor{
		stage: StageTranslate,
		check: func(r *Record, s Settings) error {
			return NewError(CodeConfigurationMissing, "LLM API Key を設定してください", nil)
		},
		execute: func(context.Context, *Run) (Result, error) {
			t.Error("must not execute")
			return Result{}, nil
		},
	}
	o := NewOrchestrator(exec, store, Options{})
	defer o.ShutdownAll()

	require.True(t, o.Submit("t1"))
	waitDone(t, o, "t1")

	rec := store.record("t1")
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "LLM API Key を設定してください", rec.Message)
}

func TestExecuteErrorAndPanicBecomeFailed(t *testing.T) {
	store := newMemStore()
	seed(t, store, "err", "panic")
	exec := &fakeExecutor{stage: StageParse, execute: func(ctx context.Context, run *Run) (Result, error) {
		if run.TaskID == "panic" {
			panic("unexpected nil map")
		}
		return Result{}, errors.New("socket closed")
	}}
	o := NewOrchestrator(exec, store, Options{})
	defer o.ShutdownAll()

	require.True(t, o.Submit("err"))
	require.True(t, o.Submit("panic"))
	waitDone(t, o, "err")
	waitDone(t, o, "panic")

	for _, id := range []string{"err", "panic"} {
		rec := store.record(id)
		assert.Equal(t, StatusFailed, rec.Status, id)
		assert.Equal(t, internalMessage, rec.Message, id)
		assert.NotContains(t, rec.Message, "socket")
	}
	assert.False(t, o.InFlight("panic"))
}

func TestShutdownAllStopsRunningTasks(t *testing.T) {
	store := newMemStore()
	seed(t, store, "t1", "t2")
	started := make(chan struct{}, 1)
	exec := &fakeExecutor{stage: StageTranslate, execute: func(ctx context.Context, run *Run) (Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return Result{Stopped: true}, nil
	}}
	o := NewOrchestrator(exec, store, Options{Workers: 1})

	require.True(t, o.Submit("t1"))
	<-started
	require.True(t, o.Submit("t2")) // スロット待ち

	o.ShutdownAll()
	assert.False(t, o.Submit("t3"), "submissions after shutdown are rejected")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx))

	rec := store.record("t1")
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, messageStopped, rec.Message)
	assert.Equal(t, StatusPending, store.record("t2").Status)
	assert.Equal(t, int32(1), exec.calls.Load())
	assert.Empty(t, o.Active())
}

func TestShutdownAllDoesNotBlock(t *testing.T) {
	store := newMemStore()
	seed(t, store, "t1")
	release := make(chan struct{})
	started := make(chan struct{})
	exec := &fakeExecutor{stage: StageParse, execute: func(ctx context.Context, run *Run) (Result, error) {
		close(started)
		<-release
		return Result{}, nil
	}}
	o := NewOrchestrator(exec, store, Options{})
	require.True(t, o.Submit("t1"))
	<-started

	returned := make(chan struct{})
	go func() {
		o.ShutdownAll()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("ShutdownAll blocked on a running worker")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, o.Wait(context.Background()))
}

func TestWaitAfterDeadlineLeavesNoWaiters(t *testing.T) {
	store := newMemStore()
	seed(t, store, "t1")
	release := make(chan struct{})
	started := make(chan struct{})
	exec := &fakeExecutor{stage: StageParse, execute: func(context.Context, *Run) (Result, error) {
		close(started)
		<-release
		return Result{}, nil
	}}
	o := NewOrchestrator(exec, store, Options{})
	require.True(t, o.Submit("t1"))
	<-started
	o.ShutdownAll()

	running := goleak.IgnoreCurrent()
	for range 3 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		assert.ErrorIs(t, o.Wait(ctx), context.DeadlineExceeded)
		cancel()
	}
	assert.NoError(t, goleak.Find(running))

	close(release)
	require.NoError(t, o.Wait(context.Background()))
	require.NoError(t, o.Wait(context.Background()))
}

func TestWaitWithNothingInFlight(t *testing.T) {
	o := NewOrchestrator(&fakeExecutor{stage: StageParse}, newMemStore(), Options{})
	o.ShutdownAll()
	o.ShutdownAll()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, o.Wait(ctx))
}

func TestDirectDispatch(t *testing.T) {
	store := newMemStore()
	seed(t, store, "t1")
	release := make(chan struct{})
	exec := &fakeExecutor{stage: StageTranslate, execute: func(context.Context, *Run) (Result, error) {
		<-release
		return Result{}, nil
	}}
	o := NewOrchestrator(exec, store, Options{})
	d := NewDirect(o)
	ctx := context.Background()

	assert.Error(t, d.Dispatch(ctx, StageParse, "t1"))
	assert.False(t, d.InFlight(StageParse, "t1"))

	require.NoError(t, d.Dispatch(ctx, StageTranslate, "t1"))
	assert.True(t, d.InFlight(StageTranslate, "t1"))
	assert.ErrorIs(t, d.Dispatch(ctx, StageTranslate, "t1"), ErrRejected)

	close(release)
	waitDone(t, o, "t1")
	assert.False(t, d.InFlight(StageTranslate, "t1"))
}

func TestUnknownTaskIsIgnored(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{stage: StageParse, execute: func(context.Context, *Run) (Result, error) {
		t.Error("must not execute")
		return Result{}, nil
	}}
	o := NewOrchestrator(exec, store, Options{})
	defer o.ShutdownAll()

	require.True(t, o.Submit("ghost"))
	waitDone(t, o, "ghost")
	assert.Equal(t, int32(0), exec.calls.Load())
}
