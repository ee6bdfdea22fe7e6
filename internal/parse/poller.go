package parse

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AbsurdMirror/PDF-Translator/internal/content"
	applog "github.com/AbsurdMirror/PDF-Translator/internal/log"
	"github.com/AbsurdMirror/PDF-Translator/internal/remote"
)

// DefaultPageSize は一回の結果取得で要求する項目数です。
const DefaultPageSize = 10

// Result は Run の終わり方です。
type Result string

const (
	ResultSuccess   Result = "success"
	ResultFail      Result = "fail"
	ResultCancelled Result = "cancelled"
)

// Outcome は Run の結果です。
type Outcome struct {
	Result    Result
	JobID     string
	Processed int
	Total     int
	Err       error
}

// Observer はポーラーの進行を受け取ります。同じポーラーからの呼び出しが並行することはありません。
type Observer interface {
	// OnStatus は状態または処理率が変わったとき、および processing の間は毎回呼ばれます。
	OnStatus(ctx context.Context, old, new Status, processing float64)
	// OnData は新しく取得した項目を受け取ります。エラーを返すとジョブは失敗扱いになります。
	OnData(ctx context.Context, items []content.Item) error
	// OnFinish は終端に達したとき一度だけ呼ばれます。
	OnFinish(ctx context.Context, out Outcome)
}

// Poller は一つの解析ジョブを投入から終端まで追跡します。
// 取得済み件数 processed は単調増加し、既知の総数 total を超えません。
type Poller struct {
	svc      Service
	caller   *remote.Caller
	obs      Observer
	pageSize int
	logger   *slog.Logger

	jobID      string
	status     Status
	processing float64
	total      int
	processed  int
	items      []content.Item
	finished   bool
}

// PollerOptions は Poller の任意設定です。
type PollerOptions struct {
	PageSize int
	Logger   *slog.Logger
}

// NewPoller は Poller を作成します。
func NewPoller(svc Service, caller *remote.Caller, obs Observer, opts PollerOptions) *Poller {
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	return &Poller{
		svc:      svc,
		caller:   caller,
		obs:      obs,
		pageSize: pageSize,
		logger:   logger,
		status:   StatusIdle,
	}
}

// Status は現在の状態です。
func (p *Poller) Status() Status { return p.status }

// JobID はリモートのジョブ ID です。
func (p *Poller) JobID() string { return p.jobID }

// Processed は取得済みの件数です。
func (p *Poller) Processed() int { return p.processed }

// Total はリモートが報告した成功件数の最大値です。
func (p *Poller) Total() int { return p.total }

// Items は取得済みの項目を取得順に返します。
func (p *Poller) Items() []content.Item { return p.items }

// Start は停止要求を確認してからジョブを投入し、Run を実行します。
func (p *Poller) Start(ctx context.Context, doc Document, interval time.Duration) Outcome {
	if ctx.Err() != nil {
		return p.finish(ctx, Outcome{Result: ResultCancelled})
	}
	if _, err := p.Submit(ctx, doc); err != nil {
		return Outcome{Result: ResultFail, Err: err}
	}
	return p.Run(ctx, interval)
}

// Submit はジョブを一度だけ投入します。失敗した場合は fail で終了し、OnFinish を呼びます。
func (p *Poller) Submit(ctx context.Context, doc Document) (string, error) {
	req := map[string]any{"name": doc.Name, "path": doc.Path}
	jobID, err := remote.Call(ctx, p.caller.Once(), "submit_job", req, func(cctx context.Context) (string, error) {
		return p.svc.SubmitJob(cctx, doc)
	})
	if err == nil && jobID == "" {
		err = errors.New("empty job id")
	}
	if err != nil {
		p.status = StatusFail
		serr := &SubmitError{Err: err}
		p.logger.ErrorContext(ctx, "failed to submit parse job", slog.Any("error", err))
		p.finish(ctx, Outcome{Result: ResultFail, Err: serr})
		return "", serr
	}
	p.jobID = jobID
	p.status = StatusInit
	p.logger.InfoContext(ctx, "parse job submitted", slog.String("job_id", jobID))
	return jobID, nil
}

// Run はジョブが終端に達するか ctx がキャンセルされるまで状態確認と結果取得を繰り返します。
func (p *Poller) Run(ctx context.Context, interval time.Duration) Outcome {
	if p.finished {
		return p.outcome(ResultFail, errors.New("poller already finished"))
	}
	if p.jobID == "" {
		return p.finish(ctx, p.outcome(ResultFail, errors.New("job not submitted")))
	}

	for {
		if ctx.Err() != nil {
			return p.finish(ctx, p.outcome(ResultCancelled, nil))
		}

		if err := p.poll(ctx); err != nil {
			if isCancel(ctx, err) {
				return p.finish(ctx, p.outcome(ResultCancelled, nil))
			}
			p.status = StatusFail
			return p.finish(ctx, p.outcome(ResultFail, err))
		}

		switch {
		case p.status == StatusSuccess && p.processed >= p.total:
			return p.finish(ctx, p.outcome(ResultSuccess, nil))
		case p.status == StatusFail:
			return p.finish(ctx, p.outcome(ResultFail, errors.New("remote job failed")))
		}

		if !wait(ctx, interval) {
			return p.finish(ctx, p.outcome(ResultCancelled, nil))
		}
	}
}

// poll は一周分の状態確認と結果取得を行います。
func (p *Poller) poll(ctx context.Context) error {
	state, err := remote.Call(ctx, p.caller, "query_status", map[string]any{"id": p.jobID}, func(cctx context.Context) (JobState, error) {
		return p.svc.QueryStatus(cctx, p.jobID)
	})
	if err != nil {
		return err
	}

	status := Normalize(state.Status)
	if state.SuccessCount > p.total {
		p.total = state.SuccessCount
	}
	old := p.status
	changed := status != old || state.ProcessingPercent != p.processing
	p.status = status
	p.processing = state.ProcessingPercent
	if changed || status == StatusProcessing {
		p.obs.OnStatus(ctx, old, status, state.ProcessingPercent)
	}

	return p.drain(ctx)
}

// drain は取得可能な結果をページ単位で取り込みます。
// 空のページ、または要求より短いページを受け取ったらこの周回は終わります。
func (p *Poller) drain(ctx context.Context) error {
	for p.processed < p.total {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		offset, limit := p.processed, p.pageSize
		page, err := remote.Call(ctx, p.caller, "fetch_page", map[string]any{"id": p.jobID, "offset": offset, "limit": limit}, func(cctx context.Context) ([]content.Item, error) {
			return p.svc.FetchPage(cctx, p.jobID, offset, limit)
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		short := len(page) < limit
		if rest := p.total - p.processed; len(page) > rest {
			page = page[:rest]
		}
		for i := range page {
			page[i].Index = offset + i
		}
		p.processed += len(page)
		p.items = append(p.items, page...)
		p.logger.DebugContext(ctx, "fetched parse results",
			slog.Int("processed", p.processed),
			slog.Int("total", p.total),
		)
		if err := p.obs.OnData(ctx, page); err != nil {
			return err
		}
		if short {
			return nil
		}
	}
	return nil
}

func (p *Poller) outcome(r Result, err error) Outcome {
	return Outcome{
		Result:    r,
		JobID:     p.jobID,
		Processed: p.processed,
		Total:     p.total,
		Err:       err,
	}
}

func (p *Poller) finish(ctx context.Context, out Outcome) Outcome {
	if p.finished {
		return out
	}
	p.finished = true
	p.obs.OnFinish(ctx, out)
	return out
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
