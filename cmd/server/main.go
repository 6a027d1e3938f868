// Package main runs the candle service: upstream ingestion, the aggregation
// engine, persistence, live distribution and the HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pumpfun-candles/internal/aggregation"
	"pumpfun-candles/internal/config"
	"pumpfun-candles/internal/hub"
	"pumpfun-candles/internal/ingestion"
	"pumpfun-candles/internal/logging"
	"pumpfun-candles/internal/observability"
	"pumpfun-candles/internal/persist"
	"pumpfun-candles/internal/pumpfun"
	"pumpfun-candles/internal/registry"
	"pumpfun-candles/internal/server"
	"pumpfun-candles/internal/solana"
	"pumpfun-candles/internal/storage"
	chstore "pumpfun-candles/internal/storage/clickhouse"
	"pumpfun-candles/internal/storage/memory"
	pgstore "pumpfun-candles/internal/storage/postgres"
	redisstore "pumpfun-candles/internal/storage/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the environment.
	flag.StringVar(&cfg.RPCEndpoint, "rpc-endpoint", cfg.RPCEndpoint, "Solana RPC HTTP endpoint")
	flag.StringVar(&cfg.WSEndpoint, "ws-endpoint", cfg.WSEndpoint, "Solana WebSocket endpoint")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	flag.StringVar(&cfg.ClickhouseDSN, "clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string (optional mirror)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address (optional cache)")
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "Comma-separated Kafka brokers (optional feed)")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	flag.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "Directory of viewer assets")
	flag.BoolVar(&cfg.UseMemory, "use-memory", cfg.UseMemory, "Use in-memory storage instead of PostgreSQL")
	flag.DurationVar(&cfg.LateGrace, "late-grace", cfg.LateGrace, "Amend the previous bucket with trades this late (0 rejects late trades)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.Parse()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("initiating graceful shutdown")
		cancel()

		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Error("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)
	close(done)
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("server error")
	}
	logger.Info("shutdown complete")
}

// stores holds the storage backends selected by configuration.
type stores struct {
	candles storage.CandleStore
	tokens  storage.TokenStore
	cleanup func()
}

func openStores(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*stores, error) {
	if cfg.UseMemory {
		logger.Info("using in-memory storage")
		return &stores{
			candles: memory.NewCandleStore(),
			tokens:  memory.NewTokenStore(),
			cleanup: func() {},
		}, nil
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, 0)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	closers = append(closers, pool.Close)

	tiered := storage.TieredOptions{
		Primary:     pgstore.NewCandleStore(pool),
		CacheWindow: cfg.CacheWindow,
		Logger:      logger,
	}

	if cfg.RedisAddr != "" {
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		tiered.Cache = redisstore.NewCandleCache(client, cfg.CacheWindow)
		logger.WithField("addr", cfg.RedisAddr).Info("redis candle cache enabled")
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		tiered.Mirrors = append(tiered.Mirrors, chstore.NewCandleStore(conn))
		logger.Info("clickhouse candle mirror enabled")
	}

	return &stores{
		candles: storage.NewTieredCandleStore(tiered),
		tokens:  pgstore.NewTokenStore(pool),
		cleanup: cleanup,
	}, nil
}

func openSources(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) ([]ingestion.Source, func(), error) {
	var sources []ingestion.Source
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.WSEndpoint != "" {
		wsCfg := solana.DefaultWSConfig()
		wsCfg.Logger = logger
		wsCfg.OnReconnect = func() { observability.RecordSourceReconnect("solana_ws") }
		ws, err := solana.NewWSClient(ctx, cfg.WSEndpoint, &wsCfg)
		if err != nil {
			return nil, cleanup, fmt.Errorf("create websocket client: %w", err)
		}
		closers = append(closers, func() { _ = ws.Close() })
		sources = append(sources, ingestion.NewWSSource(ingestion.WSSourceOptions{
			Client:   ws,
			Programs: cfg.ProgramList(),
			Logger:   logger,
		}))
	}

	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		src := ingestion.NewKafkaSource(ingestion.KafkaSourceOptions{
			Brokers: brokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
			Logger:  logger,
		})
		closers = append(closers, func() { _ = src.Close() })
		sources = append(sources, src)
	}

	return sources, cleanup, nil
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.cleanup()

	writer := persist.NewWriter(persist.WriterOptions{
		Store:      st.candles,
		Shards:     cfg.WriterShards,
		QueueSize:  cfg.WriterQueueSize,
		MaxRetries: cfg.WriterMaxRetries,
		RetryDelay: cfg.WriterRetryDelay,
		Logger:     logger,
	})

	h := hub.New(hub.Options{
		Shards:              cfg.HubShards,
		QueueSize:           cfg.SubscriberQueueSize,
		MaxConsecutiveDrops: cfg.MaxConsecutiveDrops,
		Logger:              logger,
	})

	engine := aggregation.NewEngine(aggregation.Options{
		Shards:    cfg.EngineShards,
		LateGrace: cfg.LateGrace,
		Sink:      writer,
		Publisher: h,
		Logger:    logger,
	})

	regOpts := registry.Options{
		Store:          st.tokens,
		LookupRate:     cfg.MetadataRate,
		Burst:          cfg.MetadataBurst,
		WriteQueueSize: cfg.TokenWriteQueue,
		StoreTimeout:   cfg.TokenStoreTimeout,
		Logger:         logger,
	}
	if cfg.RPCEndpoint != "" {
		regOpts.Source = pumpfun.NewMetadataSource(solana.NewHTTPClient(cfg.RPCEndpoint))
	} else {
		logger.Warn("no RPC endpoint, token metadata will only come from create events")
	}
	reg := registry.New(regOpts)
	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}

	sources, closeSources, err := openSources(ctx, cfg, logger)
	defer closeSources()
	if err != nil {
		return err
	}

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Sources:  sources,
		Engine:   engine,
		Registry: reg,
		Workers:  cfg.IngestWorkers,
		Logger:   logger,
	})

	srv := server.New(server.Options{
		Candles:        st.candles,
		Live:           engine,
		Tokens:         reg,
		Hub:            h,
		HistoryBuckets: cfg.HistoryBuckets,
		StaticDir:      cfg.StaticDir,
		Logger:         logger,
		Status: func() any {
			return map[string]any{
				"engine":    engine.Stats(),
				"hub":       h.Stats(),
				"writer":    writer.Stats(),
				"ingestion": runner.Stats(),
			}
		},
	})

	// The writer stops only after ingestion has, so trailing commits are flushed.
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWriter()
	writerDone := make(chan error, 1)
	go func() { writerDone <- writer.Run(writerCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reg.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx, cfg.HTTPAddr) })

	logger.WithFields(logrus.Fields{
		"sources":    len(sources),
		"http_addr":  cfg.HTTPAddr,
		"late_grace": cfg.LateGrace,
	}).Info("candle service started")

	err = g.Wait()
	stopWriter()
	if werr := <-writerDone; werr != nil && err == nil {
		err = werr
	}
	return err
}
