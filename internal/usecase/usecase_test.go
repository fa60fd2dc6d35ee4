package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"StreamPull/internal/domain/models"
	mid "StreamPull/internal/middleware"
	"StreamPull/pkg/cache"
	"StreamPull/pkg/config"
	"StreamPull/pkg/metrics"
	"StreamPull/pkg/streams"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ethFeedID = "0x000359843a543ee2fe414dc14c7e7920ef10f4372990b79d6361cdc0dd1ba782"
	btcFeedID = "0x00037da06d56d083fe599397a4769a042d63aa73dc4ef57709d31e9971a5b439"
)

var testFeeds = []models.Feed{
	{Symbol: "ETH/USD", FeedID: ethFeedID, ExpectedMin: 1500, ExpectedMax: 8000},
	{Symbol: "BTC/USD", FeedID: btcFeedID, ExpectedMin: 30000, ExpectedMax: 150000},
}

func encodeReport(observed uint32, price int64) string {
	scale := func(v int64) *big.Int { return streams.ScaledInt(v, streams.FullFieldExponent) }
	return streams.EncodeFull(streams.ReportFields{
		ValidFromTimestamp:    observed - 1,
		ObservationsTimestamp: observed,
		BenchmarkPrice:        scale(price),
		Bid:                   scale(price - 1),
		Ask:                   scale(price + 1),
	})
}

type fakeSource struct {
	mu      sync.Mutex
	reports map[string]*models.Report
	errs    map[string]error
	calls   int
}

func newFakeSource() *fakeSource {
	return &fakeSource{reports: map[string]*models.Report{}, errs: map[string]error{}}
}

func (f *fakeSource) set(feedID string, observed uint32, price int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[feedID] = &models.Report{FeedID: feedID, ObservationsTimestamp: observed, FullReport: encodeReport(observed, price)}
}

func (f *fakeSource) LatestReport(_ context.Context, feedID string) (*models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[feedID]; err != nil {
		return nil, err
	}
	r, ok := f.reports[feedID]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func (f *fakeSource) ReportAt(ctx context.Context, feedID string, _ int64) (*models.Report, error) {
	return f.LatestReport(ctx, feedID)
}

func (f *fakeSource) BulkReports(_ context.Context, feedIDs []string, _ int64) ([]*models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs["bulk"]; err != nil {
		return nil, err
	}
	var out []*models.Report
	for _, id := range feedIDs {
		if r, ok := f.reports[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]*models.FeedReport
}

func (c *mapCache) Get(_ context.Context, feedID string, mode streams.Mode) (*models.FeedReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.m[feedID+mode.String()]
	return r, ok
}

func (c *mapCache) Set(_ context.Context, r *models.FeedReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]*models.FeedReport{}
	}
	c.m[r.Feed.FeedID+r.Decoded.Mode.String()] = r
	return nil
}

type recordingProc struct {
	mu  sync.Mutex
	got []*models.FeedReport
	err error
}

func (p *recordingProc) Process(_ context.Context, r *models.FeedReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, r)
	return nil
}

func (p *recordingProc) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

func TestFetcherResolve(t *testing.T) {
	f := NewReportFetcher(newFakeSource(), nil, metrics.Nop{}, testFeeds, streams.ModeFull, nil)

	feed, err := f.Resolve("eth/usd", "")
	require.NoError(t, err)
	assert.Equal(t, ethFeedID, feed.FeedID)

	feed, err = f.Resolve("", "0X00037DA06D56D083FE599397A4769A042D63AA73DC4EF57709D31E9971A5B439")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USD", feed.Symbol)

	adhoc := "0x" + "ab" + ethFeedID[4:]
	feed, err = f.Resolve("", adhoc)
	require.NoError(t, err)
	assert.Equal(t, adhoc, feed.FeedID)
	assert.False(t, feed.HasRange())

	_, err = f.Resolve("", "0x1234")
	assert.ErrorIs(t, err, streams.ErrInvalidRequest)

	_, err = f.Resolve("DOGE/USD", "")
	assert.ErrorIs(t, err, ErrUnknownFeed)
}

func TestFetcherLatestUsesCache(t *testing.T) {
	src := newFakeSource()
	src.set(ethFeedID, 1718000005, 3456)
	c := &mapCache{}
	f := NewReportFetcher(src, c, metrics.Nop{}, testFeeds, streams.ModeFull, nil)
	ctx := context.Background()

	r, err := f.Latest(ctx, testFeeds[0], streams.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 3456.0, r.Decoded.BenchmarkPrice)
	require.NotNil(t, r.RangeCheck)
	assert.True(t, *r.RangeCheck)

	_, err = f.Latest(ctx, testFeeds[0], streams.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	_, err = f.Fetch(ctx, testFeeds[0], streams.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestFetcherDecodeFailures(t *testing.T) {
	src := newFakeSource()
	src.reports[ethFeedID] = &models.Report{FeedID: ethFeedID, FullReport: "0x00"}
	src.reports[btcFeedID] = &models.Report{FeedID: btcFeedID}
	f := NewReportFetcher(src, nil, metrics.Nop{}, testFeeds, streams.ModeFull, nil)

	_, err := f.Fetch(context.Background(), testFeeds[0], streams.ModeFull)
	assert.ErrorIs(t, err, streams.ErrTruncatedBuffer)

	_, err = f.Fetch(context.Background(), testFeeds[1], streams.ModeFull)
	assert.ErrorIs(t, err, streams.ErrMalformedInput)
}

func TestFetcherLatestAllContinuesAfterFailure(t *testing.T) {
	src := newFakeSource()
	src.errs[ethFeedID] = errors.New("upstream 500")
	src.set(btcFeedID, 1718000005, 67000)
	f := NewReportFetcher(src, nil, metrics.Nop{}, testFeeds, streams.ModeFull, nil)

	res := f.LatestAll(context.Background(), streams.ModeFull)
	require.Len(t, res, 2)
	assert.Equal(t, "ETH/USD", res[0].Feed.Symbol)
	assert.Error(t, res[0].Err)
	assert.NoError(t, res[1].Err)
	assert.Equal(t, 67000.0, res[1].Report.Decoded.BenchmarkPrice)
}

type fakePublisher struct {
	got    []*models.FeedReport
	err    error
	closed bool
}

func (f *fakePublisher) Publish(ctx context.Context, r *models.FeedReport) error {
	return f.PublishBatch(ctx, []*models.FeedReport{r})
}

func (f *fakePublisher) PublishBatch(_ context.Context, rs []*models.FeedReport) error {
	f.got = append(f.got, rs...)
	return f.err
}

func (f *fakePublisher) Close() error { f.closed = true; return nil }

type fakeStorage struct {
	mu     sync.Mutex
	stored []*models.FeedReport
	query  models.HistoryQuery
	err    error
}

func (s *fakeStorage) Init(context.Context) error { return nil }

func (s *fakeStorage) Store(ctx context.Context, r *models.FeedReport) error {
	return s.StoreBatch(ctx, []*models.FeedReport{r})
}

func (s *fakeStorage) StoreBatch(_ context.Context, rs []*models.FeedReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.stored = append(s.stored, rs...)
	return nil
}

func (s *fakeStorage) Query(_ context.Context, q models.HistoryQuery) ([]*models.FeedReport, error) {
	s.query = q
	return s.stored, s.err
}

func (s *fakeStorage) Health(context.Context) error { return nil }
func (s *fakeStorage) Close() error                 { return nil }

func decodedReport(t *testing.T, feed models.Feed, observed uint32, price int64) *models.FeedReport {
	t.Helper()
	d, err := streams.Decode(encodeReport(observed, price), streams.ModeFull)
	require.NoError(t, err)
	return models.NewFeedReport(feed, d, time.Unix(int64(observed), 0))
}

func TestProcessorBackends(t *testing.T) {
	ctx := context.Background()
	r := decodedReport(t, testFeeds[0], 1718000005, 3456)

	pub := &fakePublisher{}
	require.NoError(t, NewReportProcessor(pub, nil, metrics.Nop{}, config.BackendKafka).Process(ctx, r))
	assert.Len(t, pub.got, 1)

	store := &fakeStorage{}
	require.NoError(t, NewReportProcessor(nil, store, metrics.Nop{}, config.BackendClickHouse).Process(ctx, r))
	assert.Len(t, store.stored, 1)

	require.NoError(t, NewReportProcessor(nil, nil, metrics.Nop{}, config.BackendNone).Process(ctx, r))

	assert.Error(t, NewReportProcessor(nil, nil, metrics.Nop{}, "s3").Process(ctx, r))
	assert.Error(t, NewReportProcessor(nil, nil, metrics.Nop{}, config.BackendKafka).Process(ctx, r))
	assert.Error(t, NewReportProcessor(nil, nil, metrics.Nop{}, config.BackendNone).Process(ctx, nil))

	pub.err = errors.New("broker down")
	p := NewReportProcessor(pub, nil, metrics.Nop{}, config.BackendKafka)
	assert.ErrorContains(t, p.Process(ctx, r), "broker down")
	p.Close()
	assert.True(t, pub.closed)
}

type fakeStream struct {
	mu         sync.Mutex
	batches    [][]*models.Report
	reads      int
	reconnects int
	connected  bool
	closed     bool
}

func (s *fakeStream) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *fakeStream) Read(ctx context.Context) (<-chan *models.Report, <-chan error) {
	s.mu.Lock()
	var batch []*models.Report
	if s.reads < len(s.batches) {
		batch = s.batches[s.reads]
	}
	s.reads++
	last := s.reads > len(s.batches)
	s.mu.Unlock()

	reports := make(chan *models.Report, len(batch))
	errs := make(chan error, 1)
	for _, r := range batch {
		reports <- r
	}
	if last {
		// keep the final read open until shutdown
		go func() {
			<-ctx.Done()
			close(reports)
			close(errs)
		}()
		return reports, errs
	}
	errs <- errors.New("connection reset")
	close(reports)
	close(errs)
	return reports, errs
}

func (s *fakeStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.connected = false
	return nil
}

func (s *fakeStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func TestCollectorReconnectsAndDecodes(t *testing.T) {
	stream := &fakeStream{batches: [][]*models.Report{
		{
			{FeedID: ethFeedID, FullReport: encodeReport(1718000005, 3456)},
			{FeedID: ethFeedID, FullReport: "0x00"},
		},
		{
			{FeedID: btcFeedID, FullReport: encodeReport(1718000006, 67000)},
		},
	}}
	proc := &recordingProc{}
	rc := &mapCache{}
	f := NewReportFetcher(newFakeSource(), rc, metrics.Nop{}, testFeeds, streams.ModeFull, nil)
	c := NewReportCollector(stream, f, proc, metrics.Nop{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsConnected())

	require.Eventually(t, func() bool { return proc.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, c.Shutdown(context.Background()))

	assert.Equal(t, "ETH/USD", proc.got[0].Symbol)
	assert.Equal(t, "BTC/USD", proc.got[1].Symbol)
	assert.GreaterOrEqual(t, stream.reconnects, 1)
	assert.True(t, stream.closed)

	cached, ok := rc.Get(context.Background(), btcFeedID, streams.ModeFull)
	require.True(t, ok)
	assert.Equal(t, 67000.0, cached.Decoded.BenchmarkPrice)
}

func TestPollerForwardsEveryFeed(t *testing.T) {
	src := newFakeSource()
	src.set(ethFeedID, 1718000005, 3456)
	src.set(btcFeedID, 1718000005, 67000)
	proc := &recordingProc{}
	f := NewReportFetcher(src, nil, metrics.Nop{}, testFeeds, streams.ModeFull, nil)
	p := NewPoller(f, proc, "@every 30s", nil)

	assert.Equal(t, 2, p.Poll(context.Background()))
	assert.Equal(t, 2, proc.count())

	proc.err = mid.ErrStale
	assert.Zero(t, p.Poll(context.Background()))
}

func TestPollerLockSkipsConcurrentReplica(t *testing.T) {
	src := newFakeSource()
	src.set(ethFeedID, 1718000005, 3456)
	mc := cache.NewMemoryCache()
	defer mc.Close()

	proc := &recordingProc{}
	f := NewReportFetcher(src, nil, metrics.Nop{}, testFeeds[:1], streams.ModeFull, nil)
	p := NewPoller(f, proc, "@every 30s", nil, WithPollLock(mc, time.Minute))

	ok, err := mc.TryLock(context.Background(), pollLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, p.Poll(context.Background()))

	require.NoError(t, mc.Unlock(context.Background(), pollLockKey))
	assert.Equal(t, 1, p.Poll(context.Background()))

	ok, _ = mc.TryLock(context.Background(), pollLockKey, time.Minute)
	assert.True(t, ok, "poll releases the lock")
}

func TestPollerStartRejectsBadSchedule(t *testing.T) {
	f := NewReportFetcher(newFakeSource(), nil, metrics.Nop{}, testFeeds, streams.ModeFull, nil)
	p := NewPoller(f, &recordingProc{}, "every thirty seconds", nil)
	assert.Error(t, p.Start(context.Background()))

	p = NewPoller(f, &recordingProc{}, "@every 1h", nil)
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
}

func TestHistoryDefaultsAndClamps(t *testing.T) {
	store := &fakeStorage{}
	uc := NewHistoryUseCase(store)
	now := time.Unix(1718000000, 0).UTC()
	uc.now = func() time.Time { return now }

	res, err := uc.GetHistory(context.Background(), GetHistoryParams{Symbol: "ETH/USD", Limit: 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, now, store.query.To)
	assert.Equal(t, now.Add(-24*time.Hour), store.query.From)
	assert.Equal(t, maxHistoryLimit, store.query.Limit)
	assert.Equal(t, 0, res.Count)

	_, err = uc.GetHistory(context.Background(), GetHistoryParams{Symbol: "ETH/USD"})
	require.NoError(t, err)
	assert.Equal(t, defaultHistoryLimit, store.query.Limit)

	_, err = uc.GetHistory(context.Background(), GetHistoryParams{Symbol: "ETH/USD", From: now, To: now.Add(-time.Second)})
	assert.Error(t, err)

	_, err = uc.GetHistory(context.Background(), GetHistoryParams{})
	assert.Error(t, err)

	_, err = NewHistoryUseCase(nil).GetHistory(context.Background(), GetHistoryParams{Symbol: "ETH/USD"})
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
}

func TestKafkaReportsHandler(t *testing.T) {
	store := &fakeStorage{}
	h := NewKafkaReportsHandler("streams.reports", store, metrics.Nop{})
	assert.Equal(t, "streams.reports", h.Topic())

	b, err := json.Marshal(decodedReport(t, testFeeds[0], 1718000005, 3456))
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), b))
	require.Len(t, store.stored, 1)
	assert.Equal(t, "3456", store.stored[0].Decoded.Exact.BenchmarkPrice.String())

	assert.Error(t, h.Handle(context.Background(), []byte("{")))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"symbol":"ETH/USD"}`)))

	store.err = errors.New("insert failed")
	assert.ErrorContains(t, h.Handle(context.Background(), b), "insert failed")
}
