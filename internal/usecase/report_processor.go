package usecase

import (
	"context"
	"fmt"
	"time"

	"StreamPull/internal/domain/models"
	drepo "StreamPull/internal/domain/repository"
	"StreamPull/pkg/config"
)

// ReportProcessor routes decoded reports to the configured backend.
type ReportProcessor struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	backend string
}

// NewReportProcessor creates a new ReportProcessor. pub and store may be nil
// when their backend is not selected.
func NewReportProcessor(pub drepo.Publisher, store drepo.Storage, metrics drepo.Metrics, backend string) *ReportProcessor {
	return &ReportProcessor{pub: pub, store: store, metrics: metrics, backend: backend}
}

// Backend returns the configured backend type.
func (p *ReportProcessor) Backend() string { return p.backend }

// Process routes a single report to the configured backend.
func (p *ReportProcessor) Process(ctx context.Context, r *models.FeedReport) error {
	if r == nil {
		return fmt.Errorf("report is nil")
	}
	return p.ProcessBatch(ctx, []*models.FeedReport{r})
}

// ProcessBatch routes reports in one backend call.
func (p *ReportProcessor) ProcessBatch(ctx context.Context, reports []*models.FeedReport) error {
	if len(reports) == 0 {
		return nil
	}

	start := time.Now()
	var err error

	switch p.backend {
	case config.BackendNone, "":
	case config.BackendKafka:
		if p.pub == nil {
			return fmt.Errorf("backend kafka: publisher not configured")
		}
		err = p.pub.PublishBatch(ctx, reports)
	case config.BackendClickHouse:
		if p.store == nil {
			return fmt.Errorf("backend clickhouse: storage not configured")
		}
		err = p.store.StoreBatch(ctx, reports)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process reports: %w", err)
	}

	for _, r := range reports {
		p.metrics.RecordMessageSent(p.backendLabel(), r.Symbol)
	}
	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return nil
}

func (p *ReportProcessor) backendLabel() string {
	if p.backend == "" {
		return config.BackendNone
	}
	return p.backend
}

// Close closes underlying resources if available.
func (p *ReportProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
