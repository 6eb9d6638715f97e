package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	domsvc "SnipeFlow/internal/domain/service"
	"SnipeFlow/internal/handler/api"
	internalrepo "SnipeFlow/internal/repository"
	"SnipeFlow/internal/service/exchange"
	"SnipeFlow/internal/service/pattern"
	"SnipeFlow/internal/service/ratelimit"
	"SnipeFlow/internal/usecase"
	"SnipeFlow/pkg/bus"
	pkgch "SnipeFlow/pkg/clickhouse"
	"SnipeFlow/pkg/config"
	xhttp "SnipeFlow/pkg/http"
	pkgkafka "SnipeFlow/pkg/kafka"
	applogger "SnipeFlow/pkg/logger"
	"SnipeFlow/pkg/metrics"
	"SnipeFlow/pkg/retry"
	"SnipeFlow/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvidePatternBus creates the pattern-event bus.
func ProvidePatternBus(cfg *config.Config) *bus.Bus[*models.PatternEvent] {
	return bus.New[*models.PatternEvent](cfg.Detection.EventBuffer)
}

// ProvideSignalBus creates the buy-signal bus.
func ProvideSignalBus(cfg *config.Config) *bus.Bus[*models.BuySignal] {
	return bus.New[*models.BuySignal](cfg.Detection.EventBuffer)
}

// ProvideAnalyzer creates the pattern analyzer.
func ProvideAnalyzer(cfg *config.Config) domsvc.PatternAnalyzer {
	return pattern.NewAnalyzer(
		cfg.Detection.ActivityThresholds.Ps,
		cfg.Detection.ActivityThresholds.Qs,
		cfg.Detection.ActivityThresholds.Ca,
	)
}

// ProvideMarketDataManager creates the market data manager.
func ProvideMarketDataManager(
	cfg *config.Config,
	analyzer domsvc.PatternAnalyzer,
	patterns *bus.Bus[*models.PatternEvent],
	signals *bus.Bus[*models.BuySignal],
	m domrepo.Metrics,
	log *applogger.Logger,
) *usecase.MarketDataManager {
	return usecase.NewMarketDataManager(usecase.MarketDataConfig{
		NearReadyBar:       cfg.Detection.NearReadyBar,
		PriceMoveThreshold: cfg.Detection.PriceMoveThreshold,
		PriceCheckInterval: cfg.Detection.PriceCheckInterval,
		RetriggerIdentical: cfg.Detection.RetriggerIdentical,
		PsThreshold:        cfg.Detection.ActivityThresholds.Ps,
		QsThreshold:        cfg.Detection.ActivityThresholds.Qs,
		CaThreshold:        cfg.Detection.ActivityThresholds.Ca,
		CacheMaxSymbols:    cfg.Detection.CacheMaxSymbols,
		CacheTTL:           cfg.Detection.CacheTTL,
	}, analyzer, patterns, signals, m, log)
}

// ProvideRedisClient creates the shared Redis client.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	return internalrepo.NewRedisClient(internalrepo.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
}

// ProvideTargetStore creates the Redis-backed target store.
func ProvideTargetStore(cli *redis.Client, cfg *config.Config) domrepo.TargetStore {
	return internalrepo.NewRedisTargetStore(cli, cfg.Redis.Prefix)
}

// ProvidePositionStore creates the Redis-backed position store.
func ProvidePositionStore(cli *redis.Client, cfg *config.Config) domrepo.PositionStore {
	return internalrepo.NewRedisPositionStore(cli, cfg.Redis.Prefix)
}

// ProvideClickHouseClient creates the ClickHouse client and initializes
// the event history schema. Returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.EventStoreSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideEventStore creates the event history store. Nil when ClickHouse
// is disabled.
func ProvideEventStore(client *pkgch.Client) *internalrepo.ClickHouseEventStore {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseEventStore(client.DB())
}

// ProvideKafkaProducer creates the Kafka producer. Nil when Kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
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

// ProvideNotifier selects Kafka when available, falling back to the
// structured log.
func ProvideNotifier(producer *pkgkafka.Producer, cfg *config.Config, log *applogger.Logger) domrepo.Notifier {
	if producer != nil {
		return internalrepo.NewKafkaNotifier(producer, cfg.Kafka.PatternTopic, cfg.Kafka.AlertTopic)
	}
	return internalrepo.NewLogNotifier(log)
}

// ProvideKafkaConsumer creates the ops command consumer. Nil when Kafka
// is disabled.
func ProvideKafkaConsumer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerLogger(log),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideExchangeClient creates the rate-limited REST client.
func ProvideExchangeClient(cfg *config.Config, log *applogger.Logger) domrepo.ExchangeClient {
	return exchange.NewRESTClient(exchange.RESTConfig{
		BaseURL:   cfg.Exchange.RESTBaseURL,
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Timeout:   cfg.Exchange.RequestTimeout,
	}, ratelimit.New(), log)
}

// ProvideRiskEngine creates the risk gate.
func ProvideRiskEngine(cfg *config.Config, m domrepo.Metrics) domsvc.RiskAssessor {
	return usecase.NewRiskEngine(cfg.Risk.MaxScore, cfg.Risk.PerPositionCap, cfg.Risk.PortfolioCap, m)
}

// ProvideExecutor selects live or paper execution per config.
func ProvideExecutor(
	cfg *config.Config,
	client domrepo.ExchangeClient,
	positions domrepo.PositionStore,
	m domrepo.Metrics,
	log *applogger.Logger,
) usecase.Executor {
	if cfg.Executor.Paper.Enabled {
		return usecase.NewPaperExecutor(client, positions, m, log,
			cfg.Executor.Paper.SuccessProbability, cfg.Executor.Paper.SlippagePct, nil)
	}
	return usecase.NewOrderExecutor(client, positions, m, log,
		cfg.Executor.MaxRetries, cfg.Executor.RetryDelay,
		cfg.Executor.QuoteAsset, cfg.Executor.PriceDeviation)
}

// ProvideEventRecorder creates the match/trade recorder. Nil when no
// event store is configured.
func ProvideEventRecorder(store *internalrepo.ClickHouseEventStore, notifier domrepo.Notifier, log *applogger.Logger) *usecase.EventRecorder {
	if store == nil {
		return nil
	}
	return usecase.NewEventRecorder(store, notifier, log, 0, 0)
}

// ProvideTradePipeline creates the execution pipeline.
func ProvideTradePipeline(
	risk domsvc.RiskAssessor,
	executor usecase.Executor,
	targets domrepo.TargetStore,
	positions domrepo.PositionStore,
	market *usecase.MarketDataManager,
	recorder *usecase.EventRecorder,
	m domrepo.Metrics,
	log *applogger.Logger,
) *usecase.TradePipeline {
	return usecase.NewTradePipeline(risk, executor, targets, positions, market, recorder, m, log)
}

// ProvideBridge creates the pattern-target bridge wired into the trade
// pipeline.
func ProvideBridge(
	cfg *config.Config,
	patterns *bus.Bus[*models.PatternEvent],
	targets domrepo.TargetStore,
	pipe *usecase.TradePipeline,
	m domrepo.Metrics,
	log *applogger.Logger,
) *usecase.Bridge {
	b := usecase.NewBridge(patterns, targets, m, log, cfg.Risk.DefaultSizeUSDT)
	b.OnTarget(pipe.HandleTarget)
	return b
}

// ProvideCoordinator creates the emergency coordinator over the
// detection and execution pipelines.
func ProvideCoordinator(
	cfg *config.Config,
	notifier domrepo.Notifier,
	targets domrepo.TargetStore,
	market *usecase.MarketDataManager,
	pipe *usecase.TradePipeline,
	m domrepo.Metrics,
	log *applogger.Logger,
) *usecase.EmergencyCoordinator {
	return usecase.NewEmergencyCoordinator(
		cfg.Emergency.Protocols,
		cfg.Emergency.MaxConcurrent,
		cfg.Emergency.AutoRecovery,
		notifier, targets, m, log,
		market, pipe,
	)
}

// ProvideCollector creates the stream collector with its supervised
// websocket session.
func ProvideCollector(
	cfg *config.Config,
	market *usecase.MarketDataManager,
	m domrepo.Metrics,
	log *applogger.Logger,
) *usecase.StreamCollector {
	collector := usecase.NewStreamCollector(market, m, log)

	stream := exchange.NewStream(exchange.StreamConfig{
		URL:          cfg.Exchange.WebSocketURL,
		APIKey:       cfg.Exchange.APIKey,
		Symbols:      cfg.Exchange.Symbols,
		PingInterval: cfg.Exchange.HeartbeatInterval,
		EventBuffer:  cfg.Detection.EventBuffer,
	}, log)
	supervisor := exchange.NewSupervisor(stream, retry.Policy{
		MaxAttempts: cfg.Exchange.Reconnect.MaxAttempts,
		BaseDelay:   cfg.Exchange.Reconnect.BaseDelay,
		MaxDelay:    cfg.Exchange.Reconnect.MaxDelay,
		Jitter:      cfg.Exchange.Reconnect.Jitter,
	}, log, collector.Ingest)
	collector.Bind(supervisor)
	return collector
}

// ProvideCommandHandler creates the Kafka ops command handler.
func ProvideCommandHandler(coordinator *usecase.EmergencyCoordinator, cfg *config.Config, log *applogger.Logger) pkgkafka.MessageHandler {
	return usecase.NewCommandHandler(coordinator, cfg.Kafka.CommandTopic, log)
}

// ProvideOpsHandler creates the HTTP ops surface.
func ProvideOpsHandler(
	log *applogger.Logger,
	collector *usecase.StreamCollector,
	market *usecase.MarketDataManager,
	bridge *usecase.Bridge,
	coordinator *usecase.EmergencyCoordinator,
	targets domrepo.TargetStore,
	positions domrepo.PositionStore,
	store *internalrepo.ClickHouseEventStore,
) xhttp.Handler {
	var matches api.MatchQuerier
	if store != nil {
		matches = store
	}
	return api.NewOpsHandler(log, collector, market, bridge, coordinator, targets, positions, matches)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	patterns *bus.Bus[*models.PatternEvent],
	signals *bus.Bus[*models.BuySignal],
	market *usecase.MarketDataManager,
	collector *usecase.StreamCollector,
	bridge *usecase.Bridge,
	recorder *usecase.EventRecorder,
	coordinator *usecase.EmergencyCoordinator,
	consumer *pkgkafka.Consumer,
	cmdHandler pkgkafka.MessageHandler,
	notifier domrepo.Notifier,
	chClient *pkgch.Client,
	httpHandler xhttp.Handler,
) *server.App {
	return server.New(server.Deps{
		Config:      cfg,
		Log:         log,
		Patterns:    patterns,
		Signals:     signals,
		Market:      market,
		Collector:   collector,
		Bridge:      bridge,
		Recorder:    recorder,
		Coordinator: coordinator,
		Consumer:    consumer,
		CmdHandler:  cmdHandler,
		Notifier:    notifier,
		CHClient:    chClient,
		HTTPHandler: httpHandler,
	})
}
