package repository

import (
	"context"

	"StreamPull/internal/domain/models"
	"StreamPull/pkg/streams"
)

// ReportSource fetches signed report envelopes from the upstream REST API.
type ReportSource interface {
	LatestReport(ctx context.Context, feedID string) (*models.Report, error)
	ReportAt(ctx context.Context, feedID string, unixSeconds int64) (*models.Report, error)
	BulkReports(ctx context.Context, feedIDs []string, unixSeconds int64) ([]*models.Report, error)
}

// ReportStream delivers reports pushed over the upstream WebSocket.
type ReportStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Report, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Publisher ships decoded reports to a message broker.
type Publisher interface {
	Publish(ctx context.Context, r *models.FeedReport) error
	PublishBatch(ctx context.Context, reports []*models.FeedReport) error
	Close() error
}

// Storage persists decoded reports and serves history queries.
type Storage interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, r *models.FeedReport) error
	StoreBatch(ctx context.Context, reports []*models.FeedReport) error
	Query(ctx context.Context, q models.HistoryQuery) ([]*models.FeedReport, error)
	Health(ctx context.Context) error
	Close() error
}

// ReportCache keeps recently decoded reports per feed and mode.
type ReportCache interface {
	Get(ctx context.Context, feedID string, mode streams.Mode) (*models.FeedReport, bool)
	Set(ctx context.Context, r *models.FeedReport) error
}

type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordReport(symbol string, mode streams.Mode, observedAt uint32)
}
