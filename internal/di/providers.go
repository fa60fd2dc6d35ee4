package di

import (
	"context"
	"fmt"
	"time"

	"StreamPull/internal/domain/models"
	"StreamPull/internal/domain/repository"
	"StreamPull/internal/handler/api"
	mid "StreamPull/internal/middleware"
	internalrepo "StreamPull/internal/repository"
	"StreamPull/internal/service/datastreams"
	"StreamPull/internal/service/ratelimit"
	"StreamPull/internal/usecase"
	"StreamPull/pkg/cache"
	pkgch "StreamPull/pkg/clickhouse"
	"StreamPull/pkg/config"
	xhttp "StreamPull/pkg/http"
	pkgkafka "StreamPull/pkg/kafka"
	applogger "StreamPull/pkg/logger"
	"StreamPull/pkg/metrics"
	"StreamPull/pkg/queue"
	"StreamPull/pkg/server"
	"StreamPull/pkg/streams"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// ProvideLogger creates the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the Prometheus registry shared by all collectors
// and the /metrics endpoint.
func ProvideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg prometheus.Registerer) repository.Metrics {
	return metrics.New(reg)
}

// ProvideSigner creates the request signer from the configured credentials.
func ProvideSigner(cfg *config.Config) (*streams.Signer, error) {
	return streams.NewSigner(cfg.Streams.APIKey, cfg.Streams.APISecret)
}

// ProvideFeeds converts the configured feeds into domain feeds.
func ProvideFeeds(cfg *config.Config) []models.Feed {
	feeds := make([]models.Feed, 0, len(cfg.Streams.Feeds))
	for _, f := range cfg.Streams.Feeds {
		feeds = append(feeds, models.Feed{
			Symbol:      f.Symbol,
			FeedID:      f.FeedID,
			ExpectedMin: f.ExpectedMin,
			ExpectedMax: f.ExpectedMax,
		})
	}
	return feeds
}

// ProvideReportSource creates the REST client.
func ProvideReportSource(cfg *config.Config, signer *streams.Signer, l *applogger.Logger) repository.ReportSource {
	return datastreams.New(cfg.Streams.BaseURL, signer,
		datastreams.WithHTTPClient(xhttp.NewClient(xhttp.WithTimeout(cfg.Streams.Timeout))),
		datastreams.WithRateLimit(cfg.Streams.RateLimit, cfg.Streams.RateBurst),
		datastreams.WithLogger(l),
	)
}

// ProvideReportStream creates the WebSocket stream, or nil when streaming is off.
func ProvideReportStream(cfg *config.Config, signer *streams.Signer, feeds []models.Feed, l *applogger.Logger) repository.ReportStream {
	if !cfg.Stream.Enabled {
		return nil
	}
	ids := make([]string, 0, len(feeds))
	for _, f := range feeds {
		ids = append(ids, f.FeedID)
	}
	return datastreams.NewStream(cfg.Streams.WebSocketURL, signer, ids,
		cfg.Stream.ReconnectDelay, cfg.Stream.PingInterval, l)
}

// ProvideCacheService creates the memory cache, layered over Redis when
// Redis is enabled. It returns nil when caching is off.
func ProvideCacheService(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	if !cfg.Cache.Enabled {
		return nil, func() {}, nil
	}

	if !cfg.Cache.Redis.Enabled {
		mc := cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize),
			cache.WithMemoryDefaultTTL(cfg.Cache.TTL),
		)
		return mc, func() { _ = mc.Close() }, nil
	}

	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Cache.Redis.Host),
		cache.WithRedisPort(cfg.Cache.Redis.Port),
		cache.WithRedisPassword(cfg.Cache.Redis.Password),
		cache.WithRedisDB(cfg.Cache.Redis.DB),
		cache.WithRedisPrefix(cfg.Cache.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	lc := cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
		cache.WithLayeredMemoryTTL(cfg.Cache.TTL),
	)
	cleanup := func() {
		if err := lc.Close(); err != nil {
			l.Warn("cache close error", applogger.Error(err))
		}
	}
	return lc, cleanup, nil
}

// ProvideReportCache wraps the cache service for decoded reports.
func ProvideReportCache(svc cache.Service, cfg *config.Config, l *applogger.Logger) repository.ReportCache {
	if svc == nil {
		return nil
	}
	return internalrepo.NewCachedReports(svc, cfg.Cache.TTL, l)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when no
// component needs one.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.NeedsClickHouse() {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideReportStorage creates the ClickHouse report storage and ensures its
// schema exists. It returns nil without a client.
func ProvideReportStorage(client *pkgch.Client, cfg *config.Config, feeds []models.Feed, l *applogger.Logger) (repository.Storage, error) {
	if client == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseStorage(client.DB(), client.Database(), cfg.ClickHouse.Table, feeds, l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when reports are not
// published to Kafka.
func ProvideKafkaProducer(cfg *config.Config, reg prometheus.Registerer) (*pkgkafka.Producer, error) {
	if !cfg.NeedsKafkaProducer() {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerMetrics(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideReportPublisher creates the Kafka publisher repository.
func ProvideReportPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideReportFetcher creates the fetch and decode use case.
func ProvideReportFetcher(
	source repository.ReportSource,
	rc repository.ReportCache,
	metrics repository.Metrics,
	feeds []models.Feed,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.ReportFetcher {
	return usecase.NewReportFetcher(source, rc, metrics, feeds, cfg.Mode(), l)
}

// ProvideReportProcessor creates the backend processor use case.
func ProvideReportProcessor(
	pub repository.Publisher,
	store repository.Storage,
	metrics repository.Metrics,
	cfg *config.Config,
) *usecase.ReportProcessor {
	return usecase.NewReportProcessor(pub, store, metrics, cfg.Backend.Type)
}

// ProvideReportPipeline puts the dedup and buffering stage in front of the processor.
func ProvideReportPipeline(proc *usecase.ReportProcessor, metrics repository.Metrics, cfg *config.Config) *mid.ReportPipeline {
	return mid.NewReportPipeline(proc, metrics,
		mid.WithBufferSize(cfg.Backend.BatchSize*10),
		mid.WithBackoff(50*time.Millisecond, 2*time.Second),
	)
}

// ProvideReportCollector creates the stream collector, or nil without a stream.
func ProvideReportCollector(
	stream repository.ReportStream,
	fetcher *usecase.ReportFetcher,
	pipe *mid.ReportPipeline,
	metrics repository.Metrics,
	l *applogger.Logger,
) *usecase.ReportCollector {
	if stream == nil {
		return nil
	}
	return usecase.NewReportCollector(stream, fetcher, pipe, metrics, l)
}

// ProvidePoller creates the scheduled poller, or nil when polling is off.
// With Redis the poll is guarded by a shared lock so one replica polls per tick.
func ProvidePoller(
	fetcher *usecase.ReportFetcher,
	pipe *mid.ReportPipeline,
	svc cache.Service,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.Poller {
	if !cfg.Poller.Enabled {
		return nil
	}
	var opts []usecase.PollerOption
	if svc != nil && cfg.Cache.Redis.Enabled {
		opts = append(opts, usecase.WithPollLock(svc, cfg.Streams.Timeout*time.Duration(len(cfg.Streams.Feeds)+1)))
	}
	return usecase.NewPoller(fetcher, pipe, cfg.Poller.Schedule, l, opts...)
}

// ProvideHistory creates the history use case.
func ProvideHistory(store repository.Storage) *usecase.HistoryUseCase {
	return usecase.NewHistoryUseCase(store)
}

// ProvideKafkaConsumer creates a Kafka consumer, or nil when ingest is off.
func ProvideKafkaConsumer(cfg *config.Config, reg prometheus.Registerer, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerMetrics(reg),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook(l))
	return consumer, nil
}

// ProvideKafkaReportsHandler creates the handler that stores reports read
// from the reports topic.
func ProvideKafkaReportsHandler(consumer *pkgkafka.Consumer, store repository.Storage, metrics repository.Metrics, cfg *config.Config) *usecase.KafkaReportsHandler {
	if consumer == nil || store == nil {
		return nil
	}
	return usecase.NewKafkaReportsHandler(cfg.Kafka.Topic, store, metrics)
}

// ProvideBackfillQueue creates the Redis job queue for backfills, or nil when
// backfill is off.
func ProvideBackfillQueue(cfg *config.Config, l *applogger.Logger) (*queue.RedisQueue, func(), error) {
	if !cfg.Backfill.Enabled {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Cache.Redis.Host, cfg.Cache.Redis.Port),
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})
	q := queue.NewRedisQueue(l.With(applogger.String("component", "backfill")), queue.Config{
		Workers:    cfg.Backfill.Workers,
		RetryLimit: cfg.Backfill.RetryLimit,
		RetryDelay: cfg.Backfill.RetryDelay,
	}, client, queue.WithKeyPrefix(cfg.Backfill.KeyPrefix))
	return q, func() { _ = client.Close() }, nil
}

// ProvideBackfillJob registers the backfill worker on the queue. Backfilled
// reports go straight to the processor.
func ProvideBackfillJob(q *queue.RedisQueue, fetcher *usecase.ReportFetcher, proc *usecase.ReportProcessor, l *applogger.Logger) *usecase.BackfillJob {
	if q == nil {
		return nil
	}
	job := usecase.NewBackfillJob(fetcher, proc, l)
	q.RegisterJob(job)
	return job
}

// ProvideBackfill creates the backfill scheduler.
func ProvideBackfill(q *queue.RedisQueue, _ *usecase.BackfillJob, fetcher *usecase.ReportFetcher, cfg *config.Config) *usecase.BackfillUseCase {
	if q == nil {
		return usecase.NewBackfillUseCase(fetcher, nil, cfg.Backfill.MaxTasks)
	}
	return usecase.NewBackfillUseCase(fetcher, q, cfg.Backfill.MaxTasks)
}

// ProvideRateLimiter creates the per-client API limiter.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSec)
}

// ProvideReportsHandler creates the REST handler.
func ProvideReportsHandler(
	l *applogger.Logger,
	fetcher *usecase.ReportFetcher,
	history *usecase.HistoryUseCase,
	backfill *usecase.BackfillUseCase,
	limiter *ratelimit.Limiter,
) *api.ReportsEchoHandler {
	return api.NewReportsEchoHandler(l, fetcher, history, backfill, limiter.Middleware())
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(h *api.ReportsEchoHandler, reg *prometheus.Registry, cfg *config.Config, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, reg, cfg.Metrics.Path))
	}
	return xhttp.NewServer(h, l, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	fetcher *usecase.ReportFetcher,
	pipe *mid.ReportPipeline,
	proc *usecase.ReportProcessor,
	collector *usecase.ReportCollector,
	poller *usecase.Poller,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaReportsHandler,
	backfillQueue *queue.RedisQueue,
	limiter *ratelimit.Limiter,
) *server.App {
	app := server.New(cfg, l, fetcher, pipe, proc)
	app.SetHTTPServer(httpServer)
	app.SetLimiter(limiter)
	if collector != nil {
		app.SetCollector(collector)
	}
	if poller != nil {
		app.SetPoller(poller)
	}
	if consumer != nil && kh != nil {
		app.SetConsumer(consumer, kh)
	}
	if backfillQueue != nil {
		app.SetBackfillQueue(backfillQueue)
	}
	return app
}

// ProvideOneShot creates the one-shot console run. It needs only the REST
// client, so no backend, cache or server is started.
func ProvideOneShot(cfg *config.Config, l *applogger.Logger, fetcher *usecase.ReportFetcher) *server.OneShot {
	return server.NewOneShot(cfg, l, fetcher)
}

// ProvideNoReportCache disables the report cache.
func ProvideNoReportCache() repository.ReportCache {
	return nil
}
