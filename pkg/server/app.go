package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StreamPull/internal/handler/console"
	mid "StreamPull/internal/middleware"
	"StreamPull/internal/service/ratelimit"
	"StreamPull/internal/usecase"
	"StreamPull/pkg/config"
	xhttp "StreamPull/pkg/http"
	pkgkafka "StreamPull/pkg/kafka"
	applogger "StreamPull/pkg/logger"
	"StreamPull/pkg/queue"
)

const (
	limiterSweepEvery = time.Minute
	limiterIdle       = 10 * time.Minute
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	fetcher    *usecase.ReportFetcher
	pipe       *mid.ReportPipeline
	proc       *usecase.ReportProcessor
	httpServer *xhttp.Server
	limiter    *ratelimit.Limiter
	collector  *usecase.ReportCollector
	poller     *usecase.Poller
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	backfill   *queue.RedisQueue
}

// New creates a new App with the components every run needs.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	fetcher *usecase.ReportFetcher,
	pipe *mid.ReportPipeline,
	proc *usecase.ReportProcessor,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, l: l, fetcher: fetcher, pipe: pipe, proc: proc}
}

func (a *App) SetHTTPServer(s *xhttp.Server) { a.httpServer = s }
func (a *App) SetLimiter(lim *ratelimit.Limiter) { a.limiter = lim }
func (a *App) SetCollector(c *usecase.ReportCollector) { a.collector = c }
func (a *App) SetPoller(p *usecase.Poller) { a.poller = p }
func (a *App) SetBackfillQueue(q *queue.RedisQueue) { a.backfill = q }
func (a *App) SetConsumer(c *pkgkafka.Consumer, kh pkgkafka.MessageHandler) {
	a.consumer, a.kh = c, kh
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve starts every configured component and blocks until ctx is done,
// then shuts them down.
func (a *App) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.pipe.Start(runCtx)

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.l.Error("kafka consumer error", applogger.Error(err))
		} else {
			a.l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
		}
	}

	if a.collector != nil {
		// the first connect may fail; the REST poller still serves reports
		if err := a.collector.Start(runCtx); err != nil {
			a.l.Error("stream connect error", applogger.Error(err))
			a.collector = nil
		} else {
			a.l.Info("stream collector started", applogger.Int("feeds", len(a.fetcher.Feeds())))
		}
	}

	if a.poller != nil {
		if err := a.poller.Start(runCtx); err != nil {
			a.l.Error("poller start error", applogger.Error(err))
			a.poller = nil
		} else {
			a.l.Info("poller started", applogger.String("schedule", a.cfg.Poller.Schedule))
		}
	}

	if a.backfill != nil {
		if err := a.backfill.Start(runCtx); err != nil {
			a.l.Error("backfill queue start error", applogger.Error(err))
			a.backfill = nil
		}
	}

	if a.limiter != nil {
		go a.sweepLimiter(runCtx)
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.l.Error("http server start error", applogger.Error(err))
			cancel()
			a.shutdown()
			return err
		}
	}

	a.l.Info("streampull running",
		applogger.String("backend", a.proc.Backend()),
		applogger.String("mode", a.fetcher.Mode().String()),
	)

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	cancel()
	a.shutdown()
	return nil
}

func (a *App) sweepLimiter(ctx context.Context) {
	t := time.NewTicker(limiterSweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.limiter.Sweep(limiterIdle); n > 0 {
				a.l.Debug("rate limiter swept", applogger.Int("buckets", n))
			}
		}
	}
}

// shutdown stops producers of reports first, then the pipeline, then sinks.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.poller != nil {
		a.poller.Stop()
	}
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.l.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.backfill != nil {
		if err := a.backfill.Stop(ctx); err != nil {
			a.l.Warn("backfill queue stop error", applogger.Error(err))
		}
	}
	a.pipe.Stop()
	if n := a.pipe.Buffered(); n > 0 {
		a.l.Warn("reports left undelivered", applogger.Int("count", n))
	}
	if a.consumer != nil && a.kh != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	a.proc.Close()

	a.l.Info("shutdown complete")
}

// OneShot fetches every configured feed once and prints a console report.
type OneShot struct {
	cfg     *config.Config
	l       *applogger.Logger
	fetcher *usecase.ReportFetcher
	now     func() time.Time
}

func NewOneShot(cfg *config.Config, l *applogger.Logger, fetcher *usecase.ReportFetcher) *OneShot {
	if l == nil {
		l = applogger.Nop()
	}
	return &OneShot{cfg: cfg, l: l, fetcher: fetcher, now: time.Now}
}

// Run writes the report to out and failures to errOut. It returns
// console.ErrFeedsFailed when any feed could not be fetched or decoded.
func (o *OneShot) Run(ctx context.Context, out, errOut io.Writer) error {
	r := console.NewRenderer(out, errOut, o.cfg.Streams.BaseURL)
	r.Header(o.now())

	start := time.Now()
	results := o.fetcher.LatestAll(ctx, o.fetcher.Mode())
	o.l.Debug("one-shot fetch finished",
		applogger.Int("feeds", len(results)),
		applogger.Duration("took_ms", time.Since(start)),
	)
	return r.Render(results)
}
