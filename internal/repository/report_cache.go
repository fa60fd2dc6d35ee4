package repository

import (
	"context"
	"errors"
	"time"

	"StreamPull/internal/domain/models"
	"StreamPull/internal/domain/repository"
	"StreamPull/pkg/cache"
	applogger "StreamPull/pkg/logger"
	"StreamPull/pkg/streams"
)

// CachedReports implements ReportCache over a cache.Service. Only decoded
// reports are stored; signed requests are never cached.
type CachedReports struct {
	svc cache.Service
	ttl time.Duration
	l   *applogger.Logger
}

// NewCachedReports creates a report cache with the given TTL.
func NewCachedReports(svc cache.Service, ttl time.Duration, l *applogger.Logger) repository.ReportCache {
	if l == nil {
		l = applogger.Nop()
	}
	return &CachedReports{svc: svc, ttl: ttl, l: l}
}

func reportKey(feedID string, mode streams.Mode) string {
	return cache.Key("report", feedID, mode)
}

func (c *CachedReports) Get(ctx context.Context, feedID string, mode streams.Mode) (*models.FeedReport, bool) {
	var r models.FeedReport
	if err := c.svc.Get(ctx, reportKey(feedID, mode), &r); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.l.Warn("report cache read failed", applogger.String("feed_id", feedID), applogger.Error(err))
		}
		return nil, false
	}
	r.FromCache = true
	return &r, true
}

func (c *CachedReports) Set(ctx context.Context, r *models.FeedReport) error {
	if r == nil || r.Decoded == nil {
		return nil
	}
	return c.svc.Set(ctx, reportKey(r.Feed.FeedID, r.Decoded.Mode), r, c.ttl)
}
