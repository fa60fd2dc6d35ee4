package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"StreamPull/internal/domain/models"
	"StreamPull/pkg/metrics"
	"StreamPull/pkg/queue"
	"StreamPull/pkg/streams"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memQueue struct {
	mu    sync.Mutex
	msgs  []json.RawMessage
	types []string
	err   error
}

func (q *memQueue) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	if q.err != nil {
		return q.err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, b)
	q.types = append(q.types, msgType)
	return nil
}

func (q *memQueue) Stats(context.Context) (queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Stats{Pending: int64(len(q.msgs))}, nil
}

type batchRecorder struct {
	batches [][]*models.FeedReport
	err     error
}

func (b *batchRecorder) ProcessBatch(_ context.Context, rs []*models.FeedReport) error {
	if b.err != nil {
		return b.err
	}
	b.batches = append(b.batches, rs)
	return nil
}

func TestBackfillPlan(t *testing.T) {
	f := NewReportFetcher(newFakeSource(), nil, metrics.Nop{}, testFeeds, streams.ModeFull, nil)
	uc := NewBackfillUseCase(f, nil, 10)
	from := time.Unix(1718000000, 0)

	tasks, feeds, err := uc.Plan(BackfillParams{From: from, To: from.Add(5 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, tasks, 6)
	assert.Len(t, feeds, 2)
	assert.Equal(t, []string{ethFeedID, btcFeedID}, tasks[0].FeedIDs)
	assert.Equal(t, int64(1718000000), tasks[0].Timestamp)
	assert.Equal(t, int64(1718000300), tasks[5].Timestamp)
	assert.Equal(t, "full", tasks[0].Mode)

	tasks, feeds, err = uc.Plan(BackfillParams{Symbols: []string{"btc/usd"}, From: from, To: from.Add(10 * time.Second), Step: 4 * time.Second})
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	require.Len(t, feeds, 1)
	assert.Equal(t, []string{btcFeedID}, tasks[2].FeedIDs)
}

func TestBackfillPlanRejects(t *testing.T) {
	f := NewReportFetcher(newFakeSource(), nil, metrics.Nop{}, testFeeds, streams.ModeFull, nil)
	uc := NewBackfillUseCase(f, nil, 10)
	from := time.Unix(1718000000, 0)

	cases := map[string]BackfillParams{
		"reversed":  {From: from, To: from.Add(-time.Minute)},
		"zero":      {To: from},
		"tiny step": {From: from, To: from.Add(time.Minute), Step: time.Millisecond},
		"too many":  {From: from, To: from.Add(time.Hour)},
	}
	for name, p := range cases {
		_, _, err := uc.Plan(p)
		assert.ErrorIs(t, err, streams.ErrInvalidRequest, name)
	}

	_, _, err := uc.Plan(BackfillParams{Symbols: []string{"DOGE/USD"}, From: from, To: from.Add(time.Minute)})
	assert.ErrorIs(t, err, ErrUnknownFeed)
}

func TestBackfillScheduleEnqueuesTasks(t *testing.T) {
	f := NewReportFetcher(newFakeSource(), nil, metrics.Nop{}, testFeeds, streams.ModePriceOnly, nil)
	q := &memQueue{}
	uc := NewBackfillUseCase(f, q, 0)
	from := time.Unix(1718000000, 0)

	res, err := uc.Schedule(context.Background(), BackfillParams{
		Symbols: []string{"ETH/USD"},
		From:    from,
		To:      from.Add(2 * time.Minute),
		Mode:    streams.ModePriceOnly,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Tasks)
	assert.Equal(t, []string{"ETH/USD"}, res.Symbols)
	assert.Equal(t, "1m0s", res.Step)
	assert.Equal(t, []string{BackfillTaskType, BackfillTaskType, BackfillTaskType}, q.types)

	st, err := uc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Pending)

	q.err = errors.New("redis down")
	_, err = uc.Schedule(context.Background(), BackfillParams{From: from, To: from.Add(time.Minute)})
	assert.Error(t, err)

	_, err = NewBackfillUseCase(f, nil, 0).Schedule(context.Background(), BackfillParams{From: from, To: from.Add(time.Minute)})
	assert.ErrorIs(t, err, ErrBackfillUnavailable)
}

func TestBackfillJobHandlesQueuedPayload(t *testing.T) {
	src := newFakeSource()
	src.set(ethFeedID, 1718000005, 3456)
	src.set(btcFeedID, 1718000005, 67000)
	src.reports["0xbad"] = &models.Report{FeedID: "0xbad", FullReport: "0x1234"}
	rc := &mapCache{}
	f := NewReportFetcher(src, rc, metrics.Nop{}, testFeeds, streams.ModeFull, nil)
	sink := &batchRecorder{}
	job := NewBackfillJob(f, sink, nil)

	payload := json.RawMessage(`{"feedIDs":["` + ethFeedID + `","` + btcFeedID + `","0xbad"],"timestamp":1718000005,"mode":"full"}`)
	require.NoError(t, job.Handle(context.Background(), payload))

	require.Len(t, sink.batches, 1)
	batch := sink.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "ETH/USD", batch[0].Symbol)
	assert.Equal(t, "BTC/USD", batch[1].Symbol)
	assert.Empty(t, rc.m, "historical reports must not refresh the latest cache")

	sink.err = errors.New("clickhouse down")
	assert.Error(t, job.Handle(context.Background(), payload))

	src.errs["bulk"] = errors.New("upstream 503")
	assert.Error(t, job.Handle(context.Background(), payload))

	assert.Error(t, job.Handle(context.Background(), 42))
}
