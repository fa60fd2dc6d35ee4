package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	mid "StreamPull/internal/middleware"
	applogger "StreamPull/pkg/logger"

	"github.com/robfig/cron/v3"
)

const pollLockKey = "poller:lock"

// Locker serialises polls across replicas that share a cache.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// PollerOption configures Poller.
type PollerOption func(*Poller)

// WithPollLock makes each poll take lock before fetching.
func WithPollLock(lock Locker, ttl time.Duration) PollerOption {
	return func(p *Poller) {
		p.lock = lock
		p.lockTTL = ttl
	}
}

// Poller fetches every configured feed on a cron schedule and forwards the
// reports to the pipeline.
type Poller struct {
	fetcher  *ReportFetcher
	proc     mid.Proc
	schedule string
	cron     *cron.Cron
	lock     Locker
	lockTTL  time.Duration
	l        *applogger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewPoller creates a poller for schedule, e.g. "@every 30s".
func NewPoller(fetcher *ReportFetcher, proc mid.Proc, schedule string, l *applogger.Logger, opts ...PollerOption) *Poller {
	if l == nil {
		l = applogger.Nop()
	}
	p := &Poller{
		fetcher:  fetcher,
		proc:     proc,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		lockTTL:  30 * time.Second,
		l:        l,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start registers the schedule and starts the cron runner.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	if _, err := p.cron.AddFunc(p.schedule, func() { p.Poll(p.ctx) }); err != nil {
		p.cancel()
		return fmt.Errorf("poller schedule %q: %w", p.schedule, err)
	}
	p.cron.Start()
	p.l.Info("poller started", applogger.String("schedule", p.schedule))
	return nil
}

// Stop stops the schedule and waits for a running poll to finish.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.cron.Stop().Done()
}

// Poll runs one round over all feeds and returns how many reports were
// forwarded.
func (p *Poller) Poll(ctx context.Context) int {
	if p.lock != nil {
		ok, err := p.lock.TryLock(ctx, pollLockKey, p.lockTTL)
		if err != nil {
			p.l.Warn("poll lock failed", applogger.Error(err))
			return 0
		}
		if !ok {
			p.l.Debug("poll skipped, another replica holds the lock")
			return 0
		}
		defer func() { _ = p.lock.Unlock(context.Background(), pollLockKey) }()
	}

	sent := 0
	for _, res := range p.fetcher.LatestAll(ctx, p.fetcher.Mode()) {
		if res.Err != nil {
			continue
		}
		err := p.proc.Process(ctx, res.Report)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, mid.ErrStale):
			p.l.Debug("poll report unchanged", applogger.String("symbol", res.Feed.Symbol))
		default:
			p.l.Warn("poll report not processed", applogger.String("symbol", res.Feed.Symbol), applogger.Error(err))
		}
	}
	return sent
}
