// Package main applies the embedded PostgreSQL and ClickHouse migrations.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"pumpfun-candles/internal/config"
	"pumpfun-candles/internal/logging"
	"pumpfun-candles/internal/storage/migrations"
	pgstore "pumpfun-candles/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").WithError(err).Fatal("load config")
	}

	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	flag.StringVar(&cfg.ClickhouseDSN, "clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string (optional)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall migration timeout")
	flag.Parse()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.PostgresDSN == "" && cfg.ClickhouseDSN == "" {
		logger.Error("nothing to migrate: set --postgres-dsn and/or --clickhouse-dsn")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, 2)
		if err != nil {
			logger.WithError(err).Fatal("connect to postgres")
		}
		err = migrations.ApplyPostgres(ctx, pool, logger)
		pool.Close()
		if err != nil {
			logger.WithError(err).Fatal("postgres migrations failed")
		}
		logger.Info("postgres migrations applied")
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.ApplyClickhouse(ctx, cfg.ClickhouseDSN, logger)
		if err != nil {
			logger.WithError(err).Fatal("clickhouse migrations failed")
		}
		_ = conn.Close()
		logger.Info("clickhouse migrations applied")
	}
}
