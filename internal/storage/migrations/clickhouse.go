package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"pumpfun-candles/internal/logging"
	chstore "pumpfun-candles/internal/storage/clickhouse"
)

const candleTableEngine = "ReplacingMergeTree"

// ApplyClickhouse creates the DSN's database if needed, applies every
// ClickHouse migration statement by statement and checks the candles table
// engine. Returns a connection to the migrated database.
func ApplyClickhouse(ctx context.Context, dsn string, logger logrus.FieldLogger) (*chstore.Conn, error) {
	logger = logging.Component(logger, "migrations").WithField("backend", Clickhouse)

	plan, err := Plan(Clickhouse)
	if err != nil {
		return nil, err
	}
	db, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := createDatabase(ctx, dsn, db); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", db, err)
	}

	// The driver runs one statement per Exec.
	for _, m := range plan {
		for _, stmt := range m.Statements {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
		logger.WithFields(logrus.Fields{"file": m.Name, "statements": len(m.Statements)}).Info("migration applied")
	}

	if err := verifyClickhouse(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func createDatabase(ctx context.Context, dsn, db string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", db)); err != nil {
		return fmt.Errorf("create database %s: %w", db, err)
	}
	return nil
}

func verifyClickhouse(ctx context.Context, conn *chstore.Conn) error {
	var engine string
	err := conn.QueryRow(ctx, `
		SELECT engine FROM system.tables
		WHERE database = currentDatabase() AND name = 'candles'`).Scan(&engine)
	if err != nil {
		return fmt.Errorf("check candles table: %w", err)
	}
	if engine != candleTableEngine {
		return fmt.Errorf("candles table engine is %s, want %s", engine, candleTableEngine)
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.Trim(u.Path, "/")
	if db == "" {
		return "", errors.New("clickhouse dsn has no database")
	}
	if strings.ContainsAny(db, "`/") {
		return "", fmt.Errorf("invalid clickhouse database name %q", db)
	}
	return db, nil
}
