//go:build wireinject
// +build wireinject

package di

import (
	"SnipeFlow/pkg/config"
	"SnipeFlow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation in wire_gen.go.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideMetrics,

		// Event buses and detection
		ProvidePatternBus,
		ProvideSignalBus,
		ProvideAnalyzer,
		ProvideMarketDataManager,

		// Storage
		ProvideRedisClient,
		ProvideTargetStore,
		ProvidePositionStore,
		ProvideClickHouseClient,
		ProvideEventStore,

		// Messaging
		ProvideKafkaProducer,
		ProvideNotifier,
		ProvideKafkaConsumer,

		// Exchange access and execution
		ProvideExchangeClient,
		ProvideRiskEngine,
		ProvideExecutor,
		ProvideEventRecorder,
		ProvideTradePipeline,
		ProvideBridge,
		ProvideCoordinator,
		ProvideCollector,

		// Ops surfaces
		ProvideCommandHandler,
		ProvideOpsHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
