package usecase

import (
	"context"
	"errors"
	"sync"

	"StreamPull/internal/domain/models"
	drepo "StreamPull/internal/domain/repository"
	mid "StreamPull/internal/middleware"
	applogger "StreamPull/pkg/logger"
)

// ReportCollector reads reports pushed over the stream, decodes them and
// hands them to the pipeline.
type ReportCollector struct {
	stream  drepo.ReportStream
	fetcher *ReportFetcher
	proc    mid.Proc
	metrics drepo.Metrics
	l       *applogger.Logger

	wg sync.WaitGroup
}

// NewReportCollector creates a new ReportCollector. proc is usually the
// report pipeline.
func NewReportCollector(stream drepo.ReportStream, fetcher *ReportFetcher, proc mid.Proc, metrics drepo.Metrics, l *applogger.Logger) *ReportCollector {
	if l == nil {
		l = applogger.Nop()
	}
	return &ReportCollector{stream: stream, fetcher: fetcher, proc: proc, metrics: metrics, l: l}
}

// IsConnected returns true if the report stream is connected.
func (c *ReportCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects and consumes the stream in the background until ctx ends.
func (c *ReportCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	return nil
}

func (c *ReportCollector) run(ctx context.Context) {
	for {
		reports, errs := c.stream.Read(ctx)
		err := c.consume(ctx, reports, errs)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		c.l.Warn("stream interrupted, reconnecting", applogger.Error(err))

		for {
			err := c.stream.Reconnect(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.metrics.RecordError("stream_reconnect")
			c.l.Error("stream reconnect failed", applogger.Error(err))
		}
	}
}

// consume drains both channels and returns the first read error.
func (c *ReportCollector) consume(ctx context.Context, reports <-chan *models.Report, errs <-chan error) error {
	var first error
	for reports != nil || errs != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if first == nil {
				first = err
			}
		case rep, ok := <-reports:
			if !ok {
				reports = nil
				continue
			}
			c.handle(ctx, rep)
		}
	}
	if first == nil {
		first = errors.New("stream closed")
	}
	return first
}

func (c *ReportCollector) handle(ctx context.Context, rep *models.Report) {
	if rep == nil {
		return
	}
	feed := c.fetcher.FeedFor(rep.FeedID)
	r, err := c.fetcher.Attribute(ctx, feed, rep, c.fetcher.Mode())
	if err != nil {
		c.l.Warn("stream report dropped", applogger.String("feed_id", rep.FeedID), applogger.Error(err))
		return
	}
	if err := c.proc.Process(ctx, r); err != nil && !errors.Is(err, mid.ErrStale) {
		c.l.Warn("stream report not processed", applogger.String("symbol", r.Symbol), applogger.Error(err))
	}
}

// Shutdown closes the stream and waits for the read loop to exit. The
// caller cancels the context passed to Start first.
func (c *ReportCollector) Shutdown(ctx context.Context) error {
	err := c.stream.Close()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
