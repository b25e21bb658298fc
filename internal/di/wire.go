//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	internalrepo "FinCast/internal/repository"
	"FinCast/internal/usecase"
	"FinCast/pkg/config"
	"FinCast/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideCaches,
		ProvideClickHouseClient,
		ProvideSQLiteClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideMarketDataSource,
		ProvideModelStore,
		wire.Bind(new(usecase.ModelStore), new(*internalrepo.FileModelStore)),
		ProvideRecordStore,
		ProvideRecordPublisher,

		// Use cases
		ProvidePredictorConfig,
		ProvideRegistry,
		ProvideQueue,
		ProvideTrainingJobs,
		ProvideRecorder,
		ProvideRecordSink,

		// HTTP
		ProvideTrainLimiter,
		ProvidePredictionHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
