package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"StreamPull/internal/domain/models"
	domrepo "StreamPull/internal/domain/repository"
)

// ErrStale marks a report whose observation time is not newer than the last accepted one.
var ErrStale = errors.New("pipeline: stale report")

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, r *models.FeedReport) error
}

// ReportPipeline sits between report sources (poller, stream) and the
// processor. It validates reports, drops stale or duplicate observations per
// feed, and buffers reports while the downstream is failing.
type ReportPipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	bufSize int
	bufCh   chan *models.FeedReport
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	mu       sync.Mutex
	lastSeen map[string]uint32 // feed id -> last accepted observations timestamp

	backoffMin time.Duration
	backoffMax time.Duration
}

type PipelineOption func(*ReportPipeline)

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *ReportPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBackoff sets the flush retry bounds.
func WithBackoff(min, max time.Duration) PipelineOption {
	return func(p *ReportPipeline) {
		if min > 0 && max >= min {
			p.backoffMin, p.backoffMax = min, max
		}
	}
}

// NewReportPipeline creates a new pipeline.
func NewReportPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *ReportPipeline {
	p := &ReportPipeline{
		proc:       proc,
		metrics:    metrics,
		bufSize:    1000,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		lastSeen:   make(map[string]uint32),
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.FeedReport, p.bufSize)
	return p
}

// Start launches background flushing of buffered reports.
func (p *ReportPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.doneCh)
		backoff := p.backoffMin
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case r := <-p.bufCh:
				if err := p.proc.Process(ctx, r); err != nil {
					p.metrics.RecordError("pipeline_flush")
					select {
					case <-time.After(backoff):
					case <-p.stopCh:
						return
					case <-ctx.Done():
						return
					}
					if backoff *= 2; backoff > p.backoffMax {
						backoff = p.backoffMax
					}
					select {
					case p.bufCh <- r:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
					continue
				}
				backoff = p.backoffMin
			}
		}
	}()
}

// Stop stops the background flushing and waits for it to exit.
func (p *ReportPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.doneCh
}

// Buffered returns the number of reports waiting for redelivery.
func (p *ReportPipeline) Buffered() int { return len(p.bufCh) }

// Process validates, deduplicates and forwards r, buffering on downstream errors.
func (p *ReportPipeline) Process(ctx context.Context, r *models.FeedReport) error {
	start := time.Now()
	if err := validateReport(r); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	prev, ok := p.accept(r)
	if !ok {
		p.metrics.RecordError("pipeline_stale")
		return ErrStale
	}

	if err := p.proc.Process(ctx, r); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- r:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
			p.release(r, prev)
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateReport(r *models.FeedReport) error {
	if r == nil || r.Decoded == nil {
		return fmt.Errorf("report nil")
	}
	if r.Feed.FeedID == "" {
		return fmt.Errorf("feed id empty")
	}
	d := r.Decoded
	if d.BenchmarkPrice < 0 || d.Bid < 0 || d.Ask < 0 {
		return fmt.Errorf("negative price")
	}
	return nil
}

// accept records the observation time and returns the one it replaced.
// Price-only reports carry no timestamp and are always accepted.
func (p *ReportPipeline) accept(r *models.FeedReport) (uint32, bool) {
	ts := r.Decoded.ObservationsTimestamp
	if ts == 0 {
		return 0, true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.lastSeen[r.Feed.FeedID]
	if ts <= prev {
		return prev, false
	}
	p.lastSeen[r.Feed.FeedID] = ts
	return prev, true
}

// release undoes accept for a report that was dropped, so the same
// observation can be delivered again. A newer accepted report is kept.
func (p *ReportPipeline) release(r *models.FeedReport, prev uint32) {
	ts := r.Decoded.ObservationsTimestamp
	if ts == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastSeen[r.Feed.FeedID] != ts {
		return
	}
	if prev == 0 {
		delete(p.lastSeen, r.Feed.FeedID)
		return
	}
	p.lastSeen[r.Feed.FeedID] = prev
}
