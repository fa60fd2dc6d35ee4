package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StreamPull/internal/domain/models"
	applogger "StreamPull/pkg/logger"
	"StreamPull/pkg/queue"
	"StreamPull/pkg/streams"
)

// BackfillTaskType is the queue message type of one backfill timestamp.
const BackfillTaskType = "report.backfill"

const (
	defaultBackfillStep     = time.Minute
	defaultBackfillMaxTasks = 1440
)

// ErrBackfillUnavailable is returned when no backfill queue is configured.
var ErrBackfillUnavailable = errors.New("backfill not configured")

// BackfillQueue is the queue the scheduler writes to.
type BackfillQueue interface {
	queue.Publisher
	Stats(ctx context.Context) (queue.Stats, error)
}

// BatchSink receives the decoded reports of one backfill task.
type BatchSink interface {
	ProcessBatch(ctx context.Context, reports []*models.FeedReport) error
}

// BackfillTask asks for the reports of FeedIDs valid at Timestamp.
type BackfillTask struct {
	FeedIDs   []string `json:"feedIDs"`
	Timestamp int64    `json:"timestamp"`
	Mode      string   `json:"mode"`
}

type BackfillParams struct {
	Symbols []string
	From    time.Time
	To      time.Time
	Step    time.Duration
	Mode    streams.Mode
}

type BackfillResult struct {
	Symbols []string  `json:"symbols"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Step    string    `json:"step"`
	Tasks   int       `json:"tasks"`
}

// BackfillUseCase splits a time range into tasks and queues them.
type BackfillUseCase struct {
	fetcher  *ReportFetcher
	q        BackfillQueue
	maxTasks int
}

// NewBackfillUseCase creates the scheduler. With a nil q every call returns
// ErrBackfillUnavailable.
func NewBackfillUseCase(fetcher *ReportFetcher, q BackfillQueue, maxTasks int) *BackfillUseCase {
	if maxTasks <= 0 {
		maxTasks = defaultBackfillMaxTasks
	}
	return &BackfillUseCase{fetcher: fetcher, q: q, maxTasks: maxTasks}
}

// Plan resolves the symbols and returns one task per step in [From, To].
func (uc *BackfillUseCase) Plan(p BackfillParams) ([]BackfillTask, []models.Feed, error) {
	if p.Step == 0 {
		p.Step = defaultBackfillStep
	}
	if p.Step < time.Second {
		return nil, nil, fmt.Errorf("%w: step must be at least 1s", streams.ErrInvalidRequest)
	}
	if p.From.IsZero() || p.To.IsZero() || !p.From.Before(p.To) {
		return nil, nil, fmt.Errorf("%w: from must be before to", streams.ErrInvalidRequest)
	}
	n := int(p.To.Sub(p.From)/p.Step) + 1
	if n > uc.maxTasks {
		return nil, nil, fmt.Errorf("%w: %d tasks exceed the limit of %d", streams.ErrInvalidRequest, n, uc.maxTasks)
	}

	feeds := uc.fetcher.Feeds()
	if len(p.Symbols) > 0 {
		feeds = feeds[:0]
		for _, s := range p.Symbols {
			f, err := uc.fetcher.Resolve(s, "")
			if err != nil {
				return nil, nil, err
			}
			feeds = append(feeds, f)
		}
	}
	ids := make([]string, 0, len(feeds))
	for _, f := range feeds {
		ids = append(ids, f.FeedID)
	}

	tasks := make([]BackfillTask, 0, n)
	for t := p.From; !t.After(p.To); t = t.Add(p.Step) {
		tasks = append(tasks, BackfillTask{FeedIDs: ids, Timestamp: t.Unix(), Mode: p.Mode.String()})
	}
	return tasks, feeds, nil
}

// Schedule plans and enqueues a backfill. Tasks queued before a failing
// enqueue stay queued.
func (uc *BackfillUseCase) Schedule(ctx context.Context, p BackfillParams) (*BackfillResult, error) {
	if uc == nil || uc.q == nil {
		return nil, ErrBackfillUnavailable
	}
	if p.Step == 0 {
		p.Step = defaultBackfillStep
	}
	tasks, feeds, err := uc.Plan(p)
	if err != nil {
		return nil, err
	}
	for i, t := range tasks {
		if err := uc.q.Enqueue(ctx, BackfillTaskType, t); err != nil {
			return nil, fmt.Errorf("enqueue task %d of %d: %w", i+1, len(tasks), err)
		}
	}

	symbols := make([]string, 0, len(feeds))
	for _, f := range feeds {
		symbols = append(symbols, f.Symbol)
	}
	return &BackfillResult{
		Symbols: symbols,
		From:    p.From.UTC(),
		To:      p.To.UTC(),
		Step:    p.Step.String(),
		Tasks:   len(tasks),
	}, nil
}

// Stats reports the queue backlog.
func (uc *BackfillUseCase) Stats(ctx context.Context) (queue.Stats, error) {
	if uc == nil || uc.q == nil {
		return queue.Stats{}, ErrBackfillUnavailable
	}
	return uc.q.Stats(ctx)
}

// BackfillJob runs queued backfill tasks.
type BackfillJob struct {
	fetcher *ReportFetcher
	sink    BatchSink
	l       *applogger.Logger
}

func NewBackfillJob(fetcher *ReportFetcher, sink BatchSink, l *applogger.Logger) *BackfillJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &BackfillJob{fetcher: fetcher, sink: sink, l: l}
}

func (j *BackfillJob) Name() string { return "report-backfill" }
func (j *BackfillJob) Type() string { return BackfillTaskType }

// Handle fetches the task's reports in one bulk call and sends them to the sink.
func (j *BackfillJob) Handle(ctx context.Context, payload interface{}) error {
	task, err := queue.ParsePayload[BackfillTask](payload)
	if err != nil {
		return err
	}
	mode, err := streams.ParseMode(task.Mode)
	if err != nil {
		mode = j.fetcher.Mode()
	}

	feeds := make([]models.Feed, 0, len(task.FeedIDs))
	for _, id := range task.FeedIDs {
		feeds = append(feeds, j.fetcher.FeedFor(id))
	}
	reports, err := j.fetcher.AtMany(ctx, feeds, task.Timestamp, mode)
	if err != nil {
		return err
	}
	if err := j.sink.ProcessBatch(ctx, reports); err != nil {
		return err
	}
	j.l.Debug("backfill task done",
		applogger.Int64("timestamp", task.Timestamp),
		applogger.Int("reports", len(reports)),
	)
	return nil
}
