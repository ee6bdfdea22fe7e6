package parse

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbsurdMirror/PDF-Translator/internal/content"
	"github.com/AbsurdMirror/PDF-Translator/internal/remote"
)

// scriptedService は状態問い合わせごとに states を順に返します。
type scriptedService struct {
	submitErr error
	states    []JobState
	queryErrs []error
	all       []content.Item
	// available は n 回目の問い合わせ後に取得できる件数です（省略時は全件）。
	available []int

	queries   int
	fetches   []string
	submits   int
	submitted Document
}

func (s *scriptedService) SubmitJob(_ context.Context, doc Document) (string, error) {
	s.submits++
	s.submitted = doc
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "docmind-1", nil
}

func (s *scriptedService) QueryStatus(context.Context, string) (JobState, error) {
	i := s.queries
	s.queries++
	if i < len(s.queryErrs) && s.queryErrs[i] != nil {
		return JobState{}, s.queryErrs[i]
	}
	if i >= len(s.states) {
		i = len(s.states) - 1
	}
	return s.states[i], nil
}

func (s *scriptedService) FetchPage(_ context.Context, _ string, offset, limit int) ([]content.Item, error) {
	s.fetches = append(s.fetches, fmt.Sprintf("%d+%d", offset, limit))
	avail := len(s.all)
	if n := s.queries - 1; n < len(s.available) {
		avail = s.available[n]
	}
	if offset >= avail {
		return nil, nil
	}
	end := min(offset+limit, avail)
	return append([]content.Item(nil), s.all[offset:end]...), nil
}

type statusEvent struct {
	old, new   Status
	processing float64
}

type recordingObserver struct {
	statuses []statusEvent
	pages    [][]content.Item
	finishes []Outcome
	dataErr  error
}

func (r *recordingObserver) OnStatus(_ context.Context, old, new Status, processing float64) {
	r.statuses = append(r.statuses, statusEvent{old, new, processing})
}

func (r *recordingObserver) OnData(_ context.Context, items []content.Item) error {
	r.pages = append(r.pages, items)
	return r.dataErr
}

func (r *recordingObserver) OnFinish(_ context.Context, out Outcome) {
	r.finishes = append(r.finishes, out)
}

func items(n int) []content.Item {
	out := make([]content.Item, n)
	for i := range out {
		out[i] = content.Item{Kind: "text", Source: fmt.Sprintf("p%d", i)}
	}
	return out
}

func newPoller(svc Service, obs Observer, attempts int) *Poller {
	return NewPoller(svc, remote.NewCaller(remote.Policy{MaxAttempts: attempts}), obs, PollerOptions{PageSize: 10})
}

func TestPollerDrainsAllPagesInOrder(t *testing.T) {
	svc := &scriptedService{
		states: []JobState{
			{Status: "processing", ProcessingPercent: 50},
			{Status: "success", SuccessCount: 20, ProcessingPercent: 100},
		},
		all: items(20),
	}
	obs := &recordingObserver{}
	p := newPoller(svc, obs, 3)

	out := p.Start(context.Background(), Document{Name: "a.pdf"}, 0)

	require.Equal(t, ResultSuccess, out.Result)
	assert.Equal(t, 20, out.Processed)
	assert.Equal(t, 20, p.Processed())
	require.Len(t, p.Items(), 20)
	for i, it := range p.Items() {
		assert.Equal(t, i, it.Index)
		assert.Equal(t, fmt.Sprintf("p%d", i), it.Source)
	}
	assert.Equal(t, []string{"0+10", "10+10"}, svc.fetches)
	require.Len(t, obs.pages, 2)
	assert.Len(t, obs.pages[0], 10)
	assert.Len(t, obs.pages[1], 10)
	assert.Equal(t, []statusEvent{
		{StatusInit, StatusProcessing, 50},
		{StatusProcessing, StatusSuccess, 100},
	}, obs.statuses)
	require.Len(t, obs.finishes, 1)
	assert.Equal(t, ResultSuccess, obs.finishes[0].Result)
}

func TestPollerShortPageStopsDrainingForTheCycle(t *testing.T) {
	svc := &scriptedService{
		states: []JobState{
			{Status: "processing", SuccessCount: 15, ProcessingPercent: 40},
			{Status: "processing", SuccessCount: 15, ProcessingPercent: 70},
			{Status: "success", SuccessCount: 25, ProcessingPercent: 100},
		},
		all:       items(25),
		available: []int{13, 15, 25},
	}
	obs := &recordingObserver{}
	p := newPoller(svc, obs, 1)

	out := p.Start(context.Background(), Document{}, 0)

	require.Equal(t, ResultSuccess, out.Result)
	assert.Equal(t, 25, p.Processed())
	// 1周目: 10 件 + 短い 3 件で打ち切り / 2周目: 2 件 / 3周目: 10 件
	assert.Equal(t, []string{"0+10", "10+10", "13+10", "15+10"}, svc.fetches)
	assert.Equal(t, []int{10, 3, 2, 10}, pageLens(obs.pages))
	// processing の間は毎回通知する
	assert.Len(t, obs.statuses, 3)
}

func TestPollerEmptyPageWaitsForNextCycle(t *testing.T) {
	svc := &scriptedService{
		states: []JobState{
			{Status: "processing", SuccessCount: 5, ProcessingPercent: 10},
			{Status: "success", SuccessCount: 5, ProcessingPercent: 100},
		},
		all:       items(5),
		available: []int{0, 5},
	}
	obs := &recordingObserver{}
	p := newPoller(svc, obs, 1)

	out := p.Start(context.Background(), Document{}, 0)
	require.Equal(t, ResultSuccess, out.Result)
	assert.Equal(t, []string{"0+10", "0+10"}, svc.fetches)
	assert.Equal(t, 5, p.Processed())
}

func TestPollerUnknownStatusIsFail(t *testing.T) {
	svc := &scriptedService{states: []JobState{{Status: "exploded"}}}
	obs := &recordingObserver{}
	p := newPoller(svc, obs, 1)

	out := p.Start(context.Background(), Document{}, 0)
	assert.Equal(t, ResultFail, out.Result)
	assert.Equal(t, StatusFail, p.Status())
	require.Len(t, obs.statuses, 1)
	assert.Equal(t, StatusFail, obs.statuses[0].new)
}

func TestPollerSubmitFailureIsNotRetried(t *testing.T) {
	svc := &scriptedService{submitErr: errors.New("connection refused")}
	obs := &recordingObserver{}
	p := newPoller(svc, obs, 3)

	out := p.Start(context.Background(), Document{}, 0)

	assert.Equal(t, ResultFail, out.Result)
	assert.ErrorIs(t, out.Err, ErrSubmit)
	assert.Equal(t, 1, svc.submits)
	assert.Equal(t, 0, svc.queries)
	assert.Equal(t, StatusFail, p.Status())
	require.Len(t, obs.finishes, 1)
	assert.ErrorIs(t, obs.finishes[0].Err, ErrSubmit)
}

func TestPollerQueryRetriesThenFails(t *testing.T) {
	boom := errors.New("503")
	svc := &scriptedService{
		states:    []JobState{{Status: "processing"}},
		queryErrs: []error{boom, boom, boom},
	}
	obs := &recordingObserver{}
	p := newPoller(svc, obs, 3)

	out := p.Start(context.Background(), Document{}, 0)

	assert.Equal(t, ResultFail, out.Result)
	var exhausted *remote.ExhaustedError
	require.ErrorAs(t, out.Err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, svc.queries)
}

func TestPollerQueryRecoversWithinBudget(t *testing.T) {
	boom := errors.New("503")
	svc := &scriptedService{
		states:    []JobState{{}, {}, {Status: "success", SuccessCount: 1, ProcessingPercent: 100}},
		queryErrs: []error{boom, boom},
		all:       items(1),
	}
	p := newPoller(svc, &recordingObserver{}, 3)

	out := p.Start(context.Background(), Document{}, 0)
	assert.Equal(t, ResultSuccess, out.Result)
	assert.Equal(t, 1, p.Processed())
}

func TestPollerCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &scriptedService{states: []JobState{{Status: "success"}}}
	obs := &recordingObserver{}
	p := newPoller(svc, obs, 1)

	out := p.Start(ctx, Document{}, 0)
	assert.Equal(t, ResultCancelled, out.Result)
	assert.NoError(t, out.Err)
	assert.Equal(t, 0, out.Processed)
	assert.Equal(t, 0, svc.submits)
	assert.NotEqual(t, StatusFail, p.Status())
	require.Len(t, obs.finishes, 1)
}

func TestPollerRunCancelledBeforeFirstPoll(t *testing.T) {
	svc := &scriptedService{states: []JobState{{Status: "processing"}}}
	obs := &recordingObserver{}
	p := newPoller(svc, obs, 1)
	_, err := p.Submit(context.Background(), Document{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := p.Run(ctx, time.Hour)

	assert.Equal(t, ResultCancelled, out.Result)
	assert.Equal(t, 0, svc.queries)
	assert.Equal(t, StatusInit, p.Status())
}

func TestPollerWaitIsInterruptedByCancel(t *testing.T) {
	svc := &scriptedService{states: []JobState{{Status: "processing", ProcessingPercent: 1}}}
	obs := &recordingObserver{}
	p := newPoller(svc, obs, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() { done <- p.Start(ctx, Document{}, time.Hour) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case out := <-done:
		assert.Equal(t, ResultCancelled, out.Result)
		assert.Equal(t, 1, svc.queries)
	case <-time.After(5 * time.Second):
		t.Fatal("poll wait was not interrupted")
	}
}

func TestPollerDataErrorFailsJob(t *testing.T) {
	svc := &scriptedService{
		states: []JobState{{Status: "success", SuccessCount: 3, ProcessingPercent: 100}},
		all:    items(3),
	}
	obs := &recordingObserver{dataErr: errors.New("disk full")}
	p := newPoller(svc, obs, 1)

	out := p.Start(context.Background(), Document{}, 0)
	assert.Equal(t, ResultFail, out.Result)
	assert.EqualError(t, out.Err, "disk full")
	assert.Equal(t, 3, out.Processed, "already fetched items are kept")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, StatusInit, Normalize("init"))
	assert.Equal(t, StatusProcessing, Normalize("processing"))
	assert.Equal(t, StatusSuccess, Normalize("success"))
	assert.Equal(t, StatusFail, Normalize("fail"))
	assert.Equal(t, StatusFail, Normalize(""))
	assert.Equal(t, StatusFail, Normalize("Processing"))
}

func pageLens(pages [][]content.Item) []int {
	out := make([]int, len(pages))
	for i, p := range pages {
		out[i] = len(p)
	}
	return out
}
