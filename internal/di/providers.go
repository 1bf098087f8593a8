package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"

	domrepo "LinePulse/internal/domain/repository"
	domsvc "LinePulse/internal/domain/service"
	"LinePulse/internal/handler/api"
	"LinePulse/internal/handler/ws"
	mid "LinePulse/internal/middleware"
	internalrepo "LinePulse/internal/repository"
	"LinePulse/internal/services/autotune"
	"LinePulse/internal/services/baseline"
	"LinePulse/internal/services/classifier"
	"LinePulse/internal/services/fusion"
	"LinePulse/internal/services/history"
	"LinePulse/internal/services/patterns"
	"LinePulse/internal/services/simulation"
	"LinePulse/internal/usecase"
	"LinePulse/pkg/cache"
	pkgch "LinePulse/pkg/clickhouse"
	"LinePulse/pkg/config"
	xhttp "LinePulse/pkg/http"
	pkgkafka "LinePulse/pkg/kafka"
	"LinePulse/pkg/logger"
	"LinePulse/pkg/metrics"
	"LinePulse/pkg/postgres"
	"LinePulse/pkg/server"
)

const connectTimeout = 10 * time.Second

// Storage is the selected LearningStore plus the health checks of the
// clients behind it.
type Storage struct {
	Store  domrepo.LearningStore
	Health map[string]api.HealthCheck
}

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the Prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the engine metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) domrepo.Metrics {
	return metrics.New(reg)
}

// ProvideStorage connects the configured backend and runs its migrations.
func ProvideStorage(cfg *config.Config, log *logger.Logger) (*Storage, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	log = log.With(logger.String("backend", cfg.Store.Backend))

	switch cfg.Store.Backend {
	case config.BackendMemory:
		log.Warn("learning state is kept in memory and lost on restart")
		return &Storage{
			Store:  internalrepo.NewMemoryStore(internalrepo.WithMaxLogSize(cfg.Store.MaxLogSize)),
			Health: map[string]api.HealthCheck{},
		}, func() {}, nil

	case config.BackendRedis:
		rdb, err := provideRedis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := internalrepo.NewRedisStore(rdb,
			internalrepo.WithRedisLogCaps(int64(cfg.Store.MaxLogSize), int64(cfg.Store.MaxPerKey)))
		log.Info("learning store ready", logger.String("redis", cfg.Redis.Host))
		cleanup := func() {
			if err := rdb.Close(); err != nil {
				log.Warn("redis close", logger.Error(err))
			}
		}
		return &Storage{
			Store:  store,
			Health: map[string]api.HealthCheck{"redis": store.Ping},
		}, cleanup, nil

	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store.Migrate {
			if err := postgres.Migrate(ctx, pool, internalrepo.PostgresSchema); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		store := internalrepo.NewPostgresStore(pool)
		log.Info("learning store ready", logger.String("postgres", cfg.Postgres.Host))
		return &Storage{
			Store:  store,
			Health: map[string]api.HealthCheck{"postgres": store.Ping},
		}, pool.Close, nil

	case config.BackendRedisClickHouse:
		rdb, err := provideRedis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		ch, err := provideClickHouse(ctx, cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		records := internalrepo.NewRedisStore(rdb,
			internalrepo.WithRedisLogCaps(int64(cfg.Store.MaxLogSize), int64(cfg.Store.MaxPerKey)))
		store := internalrepo.NewTieredStore(records, internalrepo.NewClickHouseLog(ch.DB()))
		log.Info("learning store ready",
			logger.String("redis", cfg.Redis.Host),
			logger.String("clickhouse", cfg.ClickHouse.Host))
		cleanup := func() {
			if err := ch.Close(); err != nil {
				log.Warn("clickhouse close", logger.Error(err))
			}
			if err := rdb.Close(); err != nil {
				log.Warn("redis close", logger.Error(err))
			}
		}
		return &Storage{
			Store: store,
			Health: map[string]api.HealthCheck{
				"redis":      records.Ping,
				"clickhouse": ch.Health,
			},
		}, cleanup, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func provideRedis(ctx context.Context, cfg *config.Config) (*cache.Redis, error) {
	return cache.NewRedis(ctx,
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		cache.WithRedisTimeouts(cfg.Redis.DialTimeout, cfg.Redis.ReadTimeout, cfg.Redis.WriteTimeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
}

func provideClickHouse(ctx context.Context, cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Migrate {
		if err := client.InitSchema(ctx, internalrepo.ClickHouseLogSchema); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return client, nil
}

// ProvideLearningStore exposes the selected store to the engine.
func ProvideLearningStore(s *Storage) domrepo.LearningStore {
	return s.Store
}

func ProvideBaselines(store domrepo.LearningStore, log *logger.Logger, m domrepo.Metrics, cfg *config.Config) *baseline.Store {
	return baseline.New(store, log.With(logger.String("component", "baseline")),
		baseline.WithConfig(cfg.Engine.Baseline),
		baseline.WithMetrics(m),
	)
}

// ProvideSimulator seeds the simulator when engine.seed is set.
func ProvideSimulator(cfg *config.Config) domsvc.OutcomeSimulator {
	opts := []simulation.Option{simulation.WithConfig(cfg.Engine.Simulator)}
	if cfg.Engine.Seed != 0 {
		opts = append(opts, simulation.WithSeed(cfg.Engine.Seed, cfg.Engine.Seed))
	}
	return simulation.New(opts...)
}

func ProvideProfiles(cfg *config.Config) (*fusion.Registry, error) {
	reg, err := fusion.NewRegistry(cfg.Engine.Profiles...)
	if err != nil {
		return nil, fmt.Errorf("scoring profiles: %w", err)
	}
	return reg, nil
}

func ProvidePatternMemory(store domrepo.LearningStore, log *logger.Logger, cfg *config.Config) *patterns.Memory {
	return patterns.New(store, log.With(logger.String("component", "patterns")),
		patterns.WithConfig(cfg.Engine.Patterns))
}

func ProvideCorrector(store domrepo.LearningStore, cfg *config.Config) *history.Corrector {
	return history.New(store, cfg.Engine.History)
}

func ProvideClassifier(cfg *config.Config) *classifier.Classifier {
	return classifier.New(cfg.Engine.Classifier)
}

func ProvideTuner(store domrepo.LearningStore, base *baseline.Store, mem *patterns.Memory, log *logger.Logger, m domrepo.Metrics, cfg *config.Config) *autotune.Tuner {
	return autotune.New(store, base, mem, log.With(logger.String("component", "autotune")),
		autotune.WithConfig(cfg.Engine.Autotune),
		autotune.WithMetrics(m),
	)
}

// ProvideHub creates the verdict stream hub. It is always built; the app
// only mounts and runs it when websocket.enabled is set.
func ProvideHub(cfg *config.Config, log *logger.Logger) *ws.Hub {
	return ws.NewHub(log.With(logger.String("component", "ws")),
		ws.WithHeartbeat(cfg.WebSocket.Heartbeat),
		ws.WithAllowedOrigins(cfg.WebSocket.AllowedOrigins),
	)
}

// ProvideCasePublisher returns nil when Kafka is disabled. Otherwise case
// events go through a buffered pipeline so a slow broker never delays an
// analysis response.
func ProvideCasePublisher(cfg *config.Config, log *logger.Logger, m domrepo.Metrics, reg *prometheus.Registry) (domrepo.CasePublisher, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}

	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithBatching(k.Producer.BatchSize, k.Producer.BatchBytes, k.Producer.Linger),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithAsync(k.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	pipe := mid.NewCasePipeline(internalrepo.NewKafkaCasePublisher(producer, k.CasesTopic),
		mid.WithBufferSize(k.Pipeline.BufferSize),
		mid.WithRetry(k.Pipeline.MaxRetries, k.Pipeline.BackoffMin, k.Pipeline.BackoffMax),
		mid.WithPipelineMetrics(m),
		mid.WithPipelineLogger(log.With(logger.String("component", "case_pipeline"))),
	)
	pipe.Start(context.Background())

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := pipe.Shutdown(ctx); err != nil {
			log.Warn("case pipeline shutdown", logger.Error(err), logger.Int("pending", pipe.Pending()))
		}
	}
	return pipe, cleanup, nil
}

func ProvideAnalyzer(
	cfg *config.Config,
	store domrepo.LearningStore,
	base *baseline.Store,
	sim domsvc.OutcomeSimulator,
	profiles *fusion.Registry,
	mem *patterns.Memory,
	corrector *history.Corrector,
	cls *classifier.Classifier,
	tuner *autotune.Tuner,
	pub domrepo.CasePublisher,
	hub *ws.Hub,
	m domrepo.Metrics,
	log *logger.Logger,
) *usecase.Analyzer {
	opts := []usecase.AnalyzerOption{
		usecase.WithAnalyzerConfig(cfg.Engine.Analyzer),
		usecase.WithAnalyzerMetrics(m),
	}
	if pub != nil {
		opts = append(opts, usecase.WithCasePublisher(pub))
	}
	if cfg.WebSocket.Enabled {
		opts = append(opts, usecase.WithVerdictBroadcaster(hub))
	}
	return usecase.NewAnalyzer(store, base, sim, profiles, mem, corrector, cls, tuner,
		log.With(logger.String("component", "analyzer")), opts...)
}

func ProvideFeedback(store domrepo.LearningStore, mem *patterns.Memory, tuner *autotune.Tuner, m domrepo.Metrics, log *logger.Logger) *usecase.FeedbackUseCase {
	return usecase.NewFeedbackUseCase(store, mem, tuner, m, log.With(logger.String("component", "feedback")))
}

func ProvideInsights(store domrepo.LearningStore, base *baseline.Store, mem *patterns.Memory, tuner *autotune.Tuner) *usecase.Insights {
	return usecase.NewInsights(store, base, mem, tuner)
}

// ProvideOutcomeConsumer subscribes the feedback entry point to the
// outcomes topic. It returns nil when Kafka is disabled.
func ProvideOutcomeConsumer(cfg *config.Config, feedback *usecase.FeedbackUseCase, m domrepo.Metrics, reg *prometheus.Registry, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}

	k := cfg.Kafka
	clog := log.With(logger.String("component", "kafka_consumer"))
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(k.Brokers),
		pkgkafka.WithConsumerGroupID(k.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(k.Consumer.Offset),
		pkgkafka.WithConsumerWorkers(k.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(k.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(k.Consumer.RetryMax, k.Consumer.BackoffMin, k.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(k.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(clog),
		pkgkafka.WithConsumerRegisterer(reg),
		pkgkafka.WithConsumerHook(pkgkafka.HookFuncs{
			Err: func(_ context.Context, topic string, km kafka.Message, err error) {
				m.RecordError("kafka_consume")
				clog.Warn("outcome message failed",
					logger.String("topic", topic),
					logger.Int("partition", km.Partition),
					logger.Int64("offset", km.Offset),
					logger.Error(err))
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewKafkaOutcomeHandler(k.OutcomesTopic, feedback, m, clog))
	return consumer, nil
}

func ProvideAPIHandler(log *logger.Logger, analyzer *usecase.Analyzer, feedback *usecase.FeedbackUseCase, insights *usecase.Insights, s *Storage) *api.AnalysisEchoHandler {
	return api.NewAnalysisEchoHandler(log.With(logger.String("component", "api")), analyzer, feedback, insights, s.Health)
}

// ProvideHTTPServer mounts the API and, when enabled, the verdict stream.
func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, reg *prometheus.Registry, h *api.AnalysisEchoHandler, hub *ws.Hub) *xhttp.Server {
	handlers := []xhttp.Handler{h}
	if cfg.WebSocket.Enabled {
		handlers = append(handlers, hub)
	}

	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS, cfg.Server.CORSOrigins...),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, cfg.Metrics.Path, cfg.Server.SlowThreshold))
	}
	return xhttp.NewServer(log.With(logger.String("component", "http")), handlers, opts...)
}

func ProvideApp(cfg *config.Config, log *logger.Logger, srv *xhttp.Server, hub *ws.Hub, consumer *pkgkafka.Consumer) *server.App {
	opts := []server.Option{}
	if cfg.WebSocket.Enabled {
		opts = append(opts, server.WithHub(hub))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer))
	}
	log.Info("linepulse configured",
		logger.String("backend", cfg.Store.Backend),
		logger.Bool("kafka", cfg.Kafka.Enabled),
		logger.Bool("websocket", cfg.WebSocket.Enabled),
		logger.Int("port", cfg.Server.Port))
	return server.New(log, srv, cfg.Server.ShutdownTimeout, opts...)
}
