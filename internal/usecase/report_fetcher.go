package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"StreamPull/internal/domain/models"
	drepo "StreamPull/internal/domain/repository"
	applogger "StreamPull/pkg/logger"
	"StreamPull/pkg/streams"
	"StreamPull/pkg/util"
)

// ErrUnknownFeed is returned when a symbol is not configured.
var ErrUnknownFeed = errors.New("unknown feed")

// FetchResult is the outcome of fetching one feed.
type FetchResult struct {
	Feed   models.Feed
	Report *models.FeedReport
	Err    error
}

// ReportFetcher fetches the latest report of a feed, decodes it and keeps the
// decoded form in the cache.
type ReportFetcher struct {
	source  drepo.ReportSource
	cache   drepo.ReportCache
	metrics drepo.Metrics
	feeds   []models.Feed
	byID    map[string]models.Feed
	mode    streams.Mode
	now     func() time.Time
	l       *applogger.Logger
}

// NewReportFetcher creates a fetcher. cache may be nil.
func NewReportFetcher(source drepo.ReportSource, cache drepo.ReportCache, metrics drepo.Metrics, feeds []models.Feed, mode streams.Mode, l *applogger.Logger) *ReportFetcher {
	if l == nil {
		l = applogger.Nop()
	}
	byID := make(map[string]models.Feed, len(feeds))
	for _, f := range feeds {
		byID[util.NormalizeHex(f.FeedID)] = f
	}
	return &ReportFetcher{
		source:  source,
		cache:   cache,
		metrics: metrics,
		feeds:   feeds,
		byID:    byID,
		mode:    mode,
		now:     time.Now,
		l:       l,
	}
}

// Feeds returns the configured feeds in configuration order.
func (f *ReportFetcher) Feeds() []models.Feed {
	out := make([]models.Feed, len(f.feeds))
	copy(out, f.feeds)
	return out
}

// Mode returns the default decode mode.
func (f *ReportFetcher) Mode() streams.Mode { return f.mode }

// Resolve finds a feed by symbol or feed id. Unconfigured feed ids are
// accepted as ad-hoc feeds without a price band.
func (f *ReportFetcher) Resolve(symbol, feedID string) (models.Feed, error) {
	if feedID != "" {
		if feed, ok := f.byID[util.NormalizeHex(feedID)]; ok {
			return feed, nil
		}
		if !isFeedID(feedID) {
			return models.Feed{}, fmt.Errorf("%w: feed id %q", streams.ErrInvalidRequest, feedID)
		}
		id := util.NormalizeHex(feedID)
		return models.Feed{Symbol: id, FeedID: id}, nil
	}
	for _, feed := range f.feeds {
		if strings.EqualFold(feed.Symbol, symbol) {
			return feed, nil
		}
	}
	return models.Feed{}, fmt.Errorf("%w: %s", ErrUnknownFeed, symbol)
}

// Latest returns the cached report of feed, or fetches a fresh one.
func (f *ReportFetcher) Latest(ctx context.Context, feed models.Feed, mode streams.Mode) (*models.FeedReport, error) {
	if f.cache != nil {
		if r, ok := f.cache.Get(ctx, feed.FeedID, mode); ok {
			return r, nil
		}
	}
	return f.Fetch(ctx, feed, mode)
}

// Fetch always asks the upstream for the latest report.
func (f *ReportFetcher) Fetch(ctx context.Context, feed models.Feed, mode streams.Mode) (*models.FeedReport, error) {
	start := f.now()
	rep, err := f.source.LatestReport(ctx, feed.FeedID)
	if err != nil {
		f.metrics.RecordError("fetch")
		return nil, fmt.Errorf("fetch %s: %w", feed.Symbol, err)
	}
	f.metrics.RecordLatency("fetch", f.now().Sub(start).Seconds())
	return f.Attribute(ctx, feed, rep, mode)
}

// At fetches the report of feed valid at the given unix time. Historical
// reports leave the cache and the last-price gauge alone.
func (f *ReportFetcher) At(ctx context.Context, feed models.Feed, unixSeconds int64, mode streams.Mode) (*models.FeedReport, error) {
	rep, err := f.source.ReportAt(ctx, feed.FeedID, unixSeconds)
	if err != nil {
		f.metrics.RecordError("fetch")
		return nil, fmt.Errorf("fetch %s at %d: %w", feed.Symbol, unixSeconds, err)
	}
	r, err := f.parse(feed, rep, mode)
	if err != nil {
		f.metrics.RecordError("decode")
		return nil, err
	}
	return r, nil
}

// AtMany fetches the reports of feeds valid at the given unix time in one
// bulk call. Reports that fail to decode are skipped.
func (f *ReportFetcher) AtMany(ctx context.Context, feeds []models.Feed, unixSeconds int64, mode streams.Mode) ([]*models.FeedReport, error) {
	ids := make([]string, 0, len(feeds))
	for _, feed := range feeds {
		ids = append(ids, feed.FeedID)
	}
	start := f.now()
	reps, err := f.source.BulkReports(ctx, ids, unixSeconds)
	if err != nil {
		f.metrics.RecordError("fetch")
		return nil, fmt.Errorf("bulk fetch at %d: %w", unixSeconds, err)
	}
	f.metrics.RecordLatency("bulk_fetch", f.now().Sub(start).Seconds())

	out := make([]*models.FeedReport, 0, len(reps))
	for _, rep := range reps {
		if rep == nil {
			continue
		}
		r, err := f.parse(f.FeedFor(rep.FeedID), rep, mode)
		if err != nil {
			f.metrics.RecordError("decode")
			f.l.Warn("bulk report dropped", applogger.String("feed_id", rep.FeedID), applogger.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// LatestAll fetches every configured feed one after the other. A failing
// feed does not stop the others.
func (f *ReportFetcher) LatestAll(ctx context.Context, mode streams.Mode) []FetchResult {
	out := make([]FetchResult, 0, len(f.feeds))
	for _, feed := range f.feeds {
		if ctx.Err() != nil {
			out = append(out, FetchResult{Feed: feed, Err: ctx.Err()})
			continue
		}
		r, err := f.Fetch(ctx, feed, mode)
		if err != nil {
			f.l.Warn("fetch feed failed", applogger.String("symbol", feed.Symbol), applogger.Error(err))
		}
		out = append(out, FetchResult{Feed: feed, Report: r, Err: err})
	}
	return out
}

// FeedFor maps an upstream feed id to its configured feed.
func (f *ReportFetcher) FeedFor(feedID string) models.Feed {
	if feed, ok := f.byID[util.NormalizeHex(feedID)]; ok {
		return feed
	}
	return models.Feed{Symbol: feedID, FeedID: feedID}
}

// Attribute decodes rep for feed, records metrics and refreshes the cache.
func (f *ReportFetcher) Attribute(ctx context.Context, feed models.Feed, rep *models.Report, mode streams.Mode) (*models.FeedReport, error) {
	r, err := f.decode(feed, rep, mode)
	if err != nil {
		return nil, err
	}
	if f.cache != nil {
		if err := f.cache.Set(ctx, r); err != nil {
			f.l.Warn("report cache write failed", applogger.String("symbol", feed.Symbol), applogger.Error(err))
		}
	}
	return r, nil
}

func (f *ReportFetcher) decode(feed models.Feed, rep *models.Report, mode streams.Mode) (*models.FeedReport, error) {
	r, err := f.parse(feed, rep, mode)
	if err != nil {
		f.metrics.RecordError("decode")
		return nil, err
	}
	f.metrics.RecordReport(feed.Symbol, mode, r.Decoded.ObservationsTimestamp)
	f.metrics.RecordLastPrice(feed.Symbol, r.Decoded.BenchmarkPrice)
	return r, nil
}

func (f *ReportFetcher) parse(feed models.Feed, rep *models.Report, mode streams.Mode) (*models.FeedReport, error) {
	if rep == nil || rep.FullReport == "" {
		return nil, fmt.Errorf("decode %s: %w", feed.Symbol, streams.ErrMalformedInput)
	}
	d, err := streams.Decode(rep.FullReport, mode)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", feed.Symbol, err)
	}
	return models.NewFeedReport(feed, d, f.now().UTC()), nil
}

func isFeedID(s string) bool {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
