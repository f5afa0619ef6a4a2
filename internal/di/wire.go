//go:build wireinject
// +build wireinject

package di

import (
	"ForecastMCP/pkg/config"
	"ForecastMCP/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
// The cleanup closes the clients that own connections; call it once Run returns.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideVersion,
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideStudyStore,
		ProvideResultCache,
		ProvideEventPublisher,

		// Event fan-out
		ProvideEventPipeline,
		ProvideHub,
		ProvideEventSink,

		// Model and tuning
		ProvideObjective,
		ProvideStudyFactory,
		ProvideModel,
		ProvideScorer,

		// Use cases
		ProvideOptimizeUseCase,
		ProvideFitUseCase,
		ProvideWriteCodeUseCase,
		ProvideKafkaTuneHandler,

		ProvideToolsHandler,
		ProvideApp,
	)
	return &server.App{}, nil, nil
}
