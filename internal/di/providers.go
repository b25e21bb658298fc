package di

import (
	"context"
	"fmt"
	"time"

	"FinCast/internal/domain/repository"
	"FinCast/internal/handler/api"
	internalrepo "FinCast/internal/repository"
	marketcache "FinCast/internal/service/cache"
	"FinCast/internal/service/ratelimit"
	"FinCast/internal/service/yahoo"
	"FinCast/internal/services/lstm"
	"FinCast/internal/usecase"
	pkgcache "FinCast/pkg/cache"
	pkgch "FinCast/pkg/clickhouse"
	"FinCast/pkg/config"
	xhttp "FinCast/pkg/http"
	pkgkafka "FinCast/pkg/kafka"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/metrics"
	"FinCast/pkg/queue"
	"FinCast/pkg/server"
	"FinCast/pkg/sqlite"
)

const recordsTable = "stock_predictions"

// Caches separates market data caching from training job state. Job state
// bypasses the in-process L1 so every instance sees the same status.
type Caches struct {
	Market pkgcache.Service
	Jobs   pkgcache.Service
}

// ProvideLogger builds the application logger. With a producer and
// log_digest.enabled, error events are also aggregated onto the digest
// topic; the digest is attached before any child logger is derived.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	base, err := applogger.New(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	l := base.With(applogger.String("env", cfg.Environment))
	if producer != nil && cfg.LogDigest.Enabled {
		l.AttachDigest(&applogger.DigestConfig{
			FlushInterval: cfg.LogDigest.FlushInterval,
			MaxEntries:    cfg.LogDigest.MaxEntries,
			Topic:         cfg.LogDigest.Topic,
			Publisher:     producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideRedisCache connects to Redis when enabled; nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, 2, 4*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCaches layers an in-process cache over Redis when it is available.
func ProvideCaches(cfg *config.Config, rc *pkgcache.RedisCache) *Caches {
	if rc == nil {
		mem := pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.MarketData.CacheSize))
		return &Caches{Market: mem, Jobs: mem}
	}
	return &Caches{
		Market: pkgcache.NewLayeredCache(rc,
			pkgcache.WithLayeredMemorySize(cfg.MarketData.CacheSize),
			pkgcache.WithLayeredL1TTL(30*time.Second),
		),
		Jobs: rc,
	}
}

func needsClickHouse(cfg *config.Config) bool {
	return cfg.MarketData.Provider == "clickhouse" || (cfg.Records.Enabled && cfg.Records.Store == "clickhouse")
}

// ProvideClickHouseClient connects only when a component reads or writes
// ClickHouse; nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !needsClickHouse(cfg) {
		return nil, nil
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
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if cfg.MarketData.Provider == "clickhouse" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		table := cfg.ClickHouse.Database + "." + cfg.MarketData.BarsTable
		if err := client.InitSchema(ctx, internalrepo.BarsSchema(table)); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return client, nil
}

// ProvideSQLiteClient opens the prediction database when it is the record
// store; nil otherwise.
func ProvideSQLiteClient(cfg *config.Config) (*sqlite.Client, error) {
	if !cfg.Records.Enabled || cfg.Records.Store != "sqlite" {
		return nil, nil
	}
	client, err := sqlite.Open(cfg.Records.SQLitePath, sqlite.WithBusyTimeout(5*time.Second), sqlite.WithWAL(true))
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return client, nil
}

// ProvideMarketDataSource picks the configured feed and puts the cache in
// front of it.
func ProvideMarketDataSource(cfg *config.Config, ch *pkgch.Client, caches *Caches, l *applogger.Logger) (repository.MarketDataSource, error) {
	var src repository.MarketDataSource
	switch cfg.MarketData.Provider {
	case "clickhouse":
		bars := internalrepo.NewCHBarSource(ch, cfg.ClickHouse.Database+"."+cfg.MarketData.BarsTable)
		bars.SetLogger(l)
		src = bars
	case "yahoo":
		hc := xhttp.NewClient(
			xhttp.WithTimeout(cfg.MarketData.Timeout),
			xhttp.WithUserAgent(cfg.MarketData.UserAgent),
		)
		src = yahoo.NewClient(hc,
			yahoo.WithBaseURL(cfg.MarketData.BaseURL),
			yahoo.WithAutoAdjust(cfg.MarketData.AutoAdjust),
			yahoo.WithLogger(l),
		)
	default:
		return nil, fmt.Errorf("unknown market data provider: %s", cfg.MarketData.Provider)
	}
	return marketcache.NewSource(src, caches.Market, cfg.MarketData.CacheTTL, l), nil
}

// ProvideModelStore roots the per-symbol model directories.
func ProvideModelStore(cfg *config.Config, l *applogger.Logger) *internalrepo.FileModelStore {
	s := internalrepo.NewFileModelStore(cfg.Model.Dir)
	s.SetLogger(l)
	return s
}

// ProvidePredictorConfig translates configuration into predictor settings.
func ProvidePredictorConfig(cfg *config.Config) (usecase.PredictorConfig, error) {
	trainPeriod, err := repository.ParsePeriod(cfg.Training.Period)
	if err != nil {
		return usecase.PredictorConfig{}, fmt.Errorf("training.period: %w", err)
	}
	predictPeriod, err := repository.ParsePeriod(cfg.Prediction.Period)
	if err != nil {
		return usecase.PredictorConfig{}, fmt.Errorf("prediction.period: %w", err)
	}
	infoPeriod, err := repository.ParsePeriod(cfg.Prediction.InfoPeriod)
	if err != nil {
		return usecase.PredictorConfig{}, fmt.Errorf("prediction.info_period: %w", err)
	}

	model := lstm.DefaultConfig(cfg.Model.SequenceLength)
	model.Units = cfg.Model.Units
	model.DenseUnits = cfg.Model.DenseUnits
	model.Dropout = cfg.Model.Dropout
	model.Seed = cfg.Model.Seed
	model.VersionPrefix = cfg.Model.VersionPrefix
	model.LearningRate = cfg.Training.LearningRate
	if err := model.Validate(); err != nil {
		return usecase.PredictorConfig{}, err
	}

	return usecase.PredictorConfig{
		Model:         model,
		TrainPeriod:   trainPeriod,
		TrainSplit:    cfg.Training.TrainSplit,
		Epochs:        cfg.Training.Epochs,
		BatchSize:     cfg.Training.BatchSize,
		Workers:       cfg.Training.Workers,
		EarlyStopping: cfg.Training.EarlyStopPatience,
		LRPatience:    cfg.Training.LRPatience,
		LRFactor:      cfg.Training.LRFactor,
		MinLR:         cfg.Training.MinLR,
		PredictPeriod: predictPeriod,
		InfoPeriod:    infoPeriod,
		Confidence:    cfg.Prediction.Confidence,
		MaxDaysAhead:  cfg.Prediction.MaxDaysAhead,
	}, nil
}

// ProvideRegistry builds the predictor registry and restores saved models.
func ProvideRegistry(pcfg usecase.PredictorConfig, src repository.MarketDataSource, store usecase.ModelStore, m repository.Metrics, l *applogger.Logger) *usecase.Registry {
	reg := usecase.NewRegistry(pcfg, src, store, m, l)
	n, err := reg.Preload()
	if err != nil {
		l.Warn("saved models not restored", applogger.Error(err))
	} else {
		l.Info("saved models restored", applogger.Int("trained", n))
	}
	return reg
}

// ProvideQueue creates the training work queue. Training runs are never
// retried.
func ProvideQueue(cfg *config.Config, rc *pkgcache.RedisCache, l *applogger.Logger) queue.Queue {
	qcfg := &queue.Config{
		Workers:    cfg.Queue.Workers,
		QueueSize:  cfg.Queue.BufferSize,
		RetryLimit: 0,
	}
	if cfg.Queue.Backend == "redis" && rc != nil {
		return queue.NewRedisQueue(l, qcfg, rc.Client(),
			queue.WithKeyPrefix(cfg.Redis.Prefix+":queue:"+cfg.Queue.Name))
	}
	return queue.NewMemoryQueue(l, qcfg)
}

// ProvideTrainingJobs creates the job manager and registers it on q.
func ProvideTrainingJobs(cfg *config.Config, reg *usecase.Registry, caches *Caches, q queue.Queue, l *applogger.Logger) *usecase.TrainingJobs {
	jobs := usecase.NewTrainingJobs(reg, caches.Jobs, q, cfg.Jobs.StatusTTL, l)
	q.RegisterJob(jobs)
	return jobs
}

// ProvideRecordStore opens the configured prediction record store; nil when
// records are disabled.
func ProvideRecordStore(cfg *config.Config, sq *sqlite.Client, ch *pkgch.Client, l *applogger.Logger) (repository.RecordStore, error) {
	if !cfg.Records.Enabled {
		return nil, nil
	}
	var store repository.RecordStore
	switch cfg.Records.Store {
	case "clickhouse":
		s := internalrepo.NewCHRecordStore(ch, cfg.ClickHouse.Database+"."+recordsTable)
		s.SetLogger(l)
		store = s
	default:
		store = internalrepo.NewSQLiteRecordStore(sq)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("record store schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a producer when records or the log digest
// go to Kafka; nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	kafkaRecords := cfg.Records.Enabled && cfg.Records.Backend == usecase.RecordBackendKafka
	if !kafkaRecords && !cfg.LogDigest.Enabled {
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
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideRecordPublisher publishes records when the kafka backend is on.
func ProvideRecordPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.RecordPublisher {
	if producer == nil || !cfg.Records.Enabled || cfg.Records.Backend != usecase.RecordBackendKafka {
		return nil
	}
	return internalrepo.NewKafkaRecordPublisher(producer, cfg.Kafka.Topic)
}

// ProvideRecorder routes served predictions; nil when records are disabled.
func ProvideRecorder(cfg *config.Config, store repository.RecordStore, pub repository.RecordPublisher, m repository.Metrics, l *applogger.Logger) *usecase.PredictionRecorder {
	if !cfg.Records.Enabled {
		return nil
	}
	return usecase.NewPredictionRecorder(cfg.Records.Backend, store, pub, m, l)
}

// ProvideKafkaConsumer creates a consumer for the record topic when the
// kafka backend is on; nil otherwise.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Records.Enabled || cfg.Records.Backend != usecase.RecordBackendKafka {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
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
	consumer.WithConsumerHook(pkgkafka.LoggingHook{L: l, Slow: time.Second})
	return consumer, nil
}

// ProvideRecordSink consumes the record topic into the store.
func ProvideRecordSink(cfg *config.Config, consumer *pkgkafka.Consumer, store repository.RecordStore, m repository.Metrics) *usecase.RecordSink {
	if consumer == nil || store == nil {
		return nil
	}
	return usecase.NewRecordSink(cfg.Kafka.Topic, store, m)
}

// ProvideTrainLimiter rate limits training submissions per client.
func ProvideTrainLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Jobs.RateLimit.Capacity, cfg.Jobs.RateLimit.RefillPerSec)
}

// ProvidePredictionHandler creates the HTTP handler.
func ProvidePredictionHandler(
	l *applogger.Logger,
	reg *usecase.Registry,
	jobs *usecase.TrainingJobs,
	recorder *usecase.PredictionRecorder,
	store repository.RecordStore,
	limiter *ratelimit.Limiter,
) *api.PredictionHandler {
	return api.NewPredictionHandler(l, reg, jobs, recorder, store, limiter)
}

// ProvideApp creates the application server and hands it every resource it
// must start or close.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler *api.PredictionHandler,
	q queue.Queue,
	consumer *pkgkafka.Consumer,
	sink *usecase.RecordSink,
	caches *Caches,
	rc *pkgcache.RedisCache,
	ch *pkgch.Client,
	store repository.RecordStore,
	pub repository.RecordPublisher,
	producer *pkgkafka.Producer,
) *server.App {
	app := server.New(cfg, l, handler, q)

	if consumer != nil && sink != nil {
		app.SetConsumer(consumer, sink)
	}

	if store != nil {
		app.AddHealthCheck("records", store.Health)
		app.AddCloser("record store", store.Close)
	}
	if pub != nil {
		app.AddCloser("record publisher", pub.Close)
	} else if producer != nil {
		app.AddCloser("kafka producer", producer.Close)
	}
	if producer != nil && cfg.LogDigest.Enabled {
		// Registered after the producer so the final flush still has it.
		app.AddCloser("log digest", func() error { l.DetachDigest(); return nil })
	}
	if ch != nil {
		app.AddHealthCheck("clickhouse", ch.Health)
		app.AddCloser("clickhouse", ch.Close)
	}
	if rc != nil {
		app.AddHealthCheck("redis", func(ctx context.Context) error { return rc.Client().Ping(ctx).Err() })
	}
	// Market owns the Redis connection when one exists.
	app.AddCloser("cache", caches.Market.Close)
	return app
}
