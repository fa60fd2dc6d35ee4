//go:build wireinject
// +build wireinject

package di

import (
	"StreamPull/pkg/config"
	"StreamPull/pkg/server"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
)

var baseSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
	ProvideMetrics,
	ProvideSigner,
	ProvideFeeds,
	ProvideReportSource,
	ProvideReportFetcher,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		baseSet,

		// Infrastructure clients
		ProvideCacheService,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideReportStream,

		// Repositories
		ProvideReportCache,
		ProvideReportStorage,
		ProvideReportPublisher,

		// Use cases
		ProvideReportProcessor,
		ProvideReportPipeline,
		ProvideReportCollector,
		ProvidePoller,
		ProvideHistory,
		ProvideKafkaReportsHandler,
		ProvideBackfillQueue,
		ProvideBackfillJob,
		ProvideBackfill,

		// HTTP
		ProvideRateLimiter,
		ProvideReportsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeOneShot wires the console run: REST client and decoder only.
func InitializeOneShot(cfg *config.Config) (*server.OneShot, error) {
	wire.Build(
		baseSet,
		ProvideNoReportCache,
		ProvideOneShot,
	)
	return nil, nil
}
