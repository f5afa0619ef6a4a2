package di

import (
	"context"
	"fmt"
	"time"

	"ForecastMCP/internal/domain/models"
	"ForecastMCP/internal/domain/repository"
	"ForecastMCP/internal/domain/service"
	"ForecastMCP/internal/handler/api"
	mid "ForecastMCP/internal/middleware"
	internalrepo "ForecastMCP/internal/repository"
	svcmetrics "ForecastMCP/internal/service/metrics"
	"ForecastMCP/internal/service/stream"
	"ForecastMCP/internal/services/features"
	"ForecastMCP/internal/services/model"
	"ForecastMCP/internal/services/tuning"
	"ForecastMCP/internal/usecase"
	"ForecastMCP/pkg/cache"
	pkgch "ForecastMCP/pkg/clickhouse"
	"ForecastMCP/pkg/config"
	xhttp "ForecastMCP/pkg/http"
	pkgkafka "ForecastMCP/pkg/kafka"
	applogger "ForecastMCP/pkg/logger"
	"ForecastMCP/pkg/metrics"
	"ForecastMCP/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

// AppVersion is the banner computed once at start.
type AppVersion string

// ProvideVersion renders the version banner for today.
func ProvideVersion(cfg *config.Config) AppVersion {
	return AppVersion(cfg.App.Version(time.Now()))
}

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
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	svcmetrics.Register()
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideClickHouseClient creates a ClickHouse client; nil when disabled.
// The cleanup closes the client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
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

// ProvideStudyStore creates the trial table and returns the ClickHouse store,
// or a no-op store without a client.
func ProvideStudyStore(chClient *pkgch.Client, logger *applogger.Logger) (repository.StudyStore, error) {
	if chClient == nil {
		return internalrepo.NopStudyStore{}, nil
	}
	store := internalrepo.NewCHStudyStore(chClient)
	store.SetLogger(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideCache returns Redis behind an in-memory L1 when Redis is enabled,
// otherwise the in-memory cache alone.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(1000)), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(100),
		cache.WithLayeredMemoryTTL(time.Minute),
	), nil
}

// ProvideResultCache stores the latest study in the cache.
func ProvideResultCache(c cache.Service, cfg *config.Config) repository.ResultCache {
	return internalrepo.NewCacheResultStore(c, cfg.Tuning.ResultTTL)
}

// ProvideKafkaProducer creates a Kafka producer; nil when Kafka is disabled.
// The cleanup flushes and closes it.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
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
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideEventPublisher publishes study events to the events topic.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic)
}

// maxStudyTrials is the n_trials cap on optimize and tune requests.
const maxStudyTrials = 1000

// ProvideEventPipeline buffers events between the study and the publisher.
// The trial bucket holds a whole study so a fast study loses no events.
func ProvideEventPipeline(pub repository.EventPublisher, m repository.Metrics, logger *applogger.Logger, cfg *config.Config) *mid.EventPipeline {
	burst := maxStudyTrials
	if cfg.Tuning.Trials > burst {
		burst = cfg.Tuning.Trials
	}
	return mid.NewEventPipeline(pub, m,
		mid.WithThrottle(50, burst),
		mid.WithBufferSize(cfg.Kafka.Pipeline.BufferSize),
		mid.WithRetry(3, 50*time.Millisecond, 2*time.Second),
		mid.WithPipelineLogger(logger),
	)
}

// ProvideHub creates the websocket hub for live trial events.
func ProvideHub(logger *applogger.Logger) *stream.Hub {
	return stream.NewHub(logger)
}

// ProvideEventSink sends study events to Kafka and websocket clients.
func ProvideEventSink(pipe *mid.EventPipeline, hub *stream.Hub) service.EventSink {
	return mid.Fanout{pipe, hub}
}

// ProvideObjective picks the trial objective named in the tuning section.
func ProvideObjective(cfg *config.Config) service.Objective {
	if cfg.Tuning.Objective == "remote" {
		client := xhttp.NewClient(
			xhttp.WithTimeout(cfg.Tuning.Timeout),
			xhttp.WithRetry(cfg.Tuning.Retries, 200*time.Millisecond),
		)
		return tuning.NewRemoteObjective(client, cfg.Tuning.EvaluatorURL)
	}
	return tuning.NewRandomObjective(cfg.Tuning.Seed)
}

// ProvideStudyFactory builds a fresh study per optimize call.
func ProvideStudyFactory(cfg *config.Config, objective service.Objective, sink service.EventSink, m repository.Metrics, logger *applogger.Logger) usecase.StudyFactory {
	return func(trials int) usecase.StudyRunner {
		if trials <= 0 {
			trials = cfg.Tuning.Trials
		}
		return tuning.NewStudy(tuning.StudyConfig{
			Trials:      trials,
			Parallelism: cfg.Tuning.Parallelism,
			Seed:        cfg.Tuning.Seed,
		}, objective, logger, tuning.WithEventSink(sink), tuning.WithMetrics(m))
	}
}

// ProvideModel creates the hybrid model with the configured parameters.
func ProvideModel(cfg *config.Config, logger *applogger.Logger) *model.Hybrid {
	pipeline := model.NewPipeline(cfg.Model.VarianceThreshold, cfg.Model.CorrThreshold)
	return model.NewHybrid(logger, pipeline, models.ModelParams{
		MaxDepth:  cfg.Model.MaxDepth,
		NumLeaves: cfg.Model.NumLeaves,
		RegAlpha:  cfg.Model.RegAlpha,
		RegLambda: cfg.Model.RegLambda,
	}, nil)
}

// ProvideScorer returns the VADER scorer, or the neutral one when sentiment is off.
func ProvideScorer(cfg *config.Config) features.Scorer {
	if cfg.Model.UseSentiment {
		return features.NewVaderScorer()
	}
	return features.NeutralScorer{}
}

// ProvideOptimizeUseCase creates the optimize use case.
func ProvideOptimizeUseCase(
	cfg *config.Config,
	factory usecase.StudyFactory,
	store repository.StudyStore,
	results repository.ResultCache,
	m *model.Hybrid,
	rec repository.Metrics,
	logger *applogger.Logger,
	version AppVersion,
) *usecase.OptimizeUseCase {
	return usecase.NewOptimizeUseCase(usecase.OptimizeConfig{
		Enabled:       cfg.Tuning.Enabled,
		BestModelPath: cfg.Data.BestModelFile(),
		Version:       string(version),
	}, factory, store, results, m, rec, logger)
}

// ProvideFitUseCase creates the fit and predict use case.
func ProvideFitUseCase(cfg *config.Config, m *model.Hybrid, scorer features.Scorer, rec repository.Metrics, logger *applogger.Logger, version AppVersion) *usecase.FitUseCase {
	return usecase.NewFitUseCase(usecase.FitConfig{
		FeatureNames: cfg.Model.Features,
		Timeframe:    cfg.App.Timeframe,
		FeaturesPath: cfg.Data.SelectedFeaturesFile(),
		Version:      string(version),
	}, m, scorer, rec, logger)
}

// ProvideWriteCodeUseCase creates the write_code use case.
func ProvideWriteCodeUseCase(cfg *config.Config, rec repository.Metrics, logger *applogger.Logger) (*usecase.WriteCodeUseCase, error) {
	return usecase.NewWriteCodeUseCase(cfg.Tools.WriteRoot, int(cfg.Tools.MaxCodeBytes), rec, logger)
}

// ProvideToolsHandler creates the HTTP handler; enabled backends are pinged by /healthz.
func ProvideToolsHandler(
	cfg *config.Config,
	logger *applogger.Logger,
	version AppVersion,
	optimize *usecase.OptimizeUseCase,
	fit *usecase.FitUseCase,
	writer *usecase.WriteCodeUseCase,
	hub *stream.Hub,
	c cache.Service,
	store repository.StudyStore,
) *api.ToolsEchoHandler {
	deps := map[string]api.Pinger{}
	if cfg.Redis.Enabled {
		deps["redis"] = c.Ping
	}
	if cfg.ClickHouse.Enabled {
		deps["clickhouse"] = store.Health
	}
	return api.NewToolsEchoHandler(logger, string(version), optimize, fit, writer, hub, deps)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML; nil
// unless both Kafka and the consumer are enabled.
func ProvideKafkaConsumer(cfg *config.Config, logger *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(logger,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaTuneHandler handles tuning requests from the requests topic;
// the cache doubles as the dedupe lock.
func ProvideKafkaTuneHandler(cfg *config.Config, optimize *usecase.OptimizeUseCase, c cache.Service, rec repository.Metrics, logger *applogger.Logger) *usecase.KafkaTuneHandler {
	return usecase.NewKafkaTuneHandler(cfg.Kafka.RequestsTopic, optimize, c, cfg.Tuning.ResultTTL, rec, logger)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	logger *applogger.Logger,
	handler *api.ToolsEchoHandler,
	pipe *mid.EventPipeline,
	hub *stream.Hub,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTuneHandler,
	producer *pkgkafka.Producer,
	c cache.Service,
	store repository.StudyStore,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.TracingHook())
	}
	if producer != nil && cfg.Kafka.LogsTopic != "" {
		logger.AttachCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      producer,
		})
	}
	return server.New(cfg, logger, handler, pipe, hub, consumer, kh, producer, c, store)
}
