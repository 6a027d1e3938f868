package migrations

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"pumpfun-candles/internal/logging"
	"pumpfun-candles/internal/storage/postgres"
)

// ApplyPostgres applies every Postgres migration, each in its own transaction,
// then checks that the schema matches what the stores write.
// Migrations are idempotent and safe to apply on every start.
func ApplyPostgres(ctx context.Context, pool *postgres.Pool, logger logrus.FieldLogger) error {
	logger = logging.Component(logger, "migrations").WithField("backend", Postgres)

	plan, err := Plan(Postgres)
	if err != nil {
		return err
	}
	for _, m := range plan {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for _, stmt := range m.Statements {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		logger.WithFields(logrus.Fields{"file": m.Name, "statements": len(m.Statements)}).Info("migration applied")
	}

	return verifyPostgres(ctx, pool)
}

func verifyPostgres(ctx context.Context, pool *postgres.Pool) error {
	var labels []string
	err := pool.QueryRow(ctx, `
		SELECT array_agg(e.enumlabel::text ORDER BY e.enumsortorder)
		FROM pg_enum e JOIN pg_type t ON t.oid = e.enumtypid
		WHERE t.typname = 'resolution'`).Scan(&labels)
	if err != nil {
		return fmt.Errorf("read resolution enum: %w", err)
	}
	if want := resolutionLabels(); !slices.Equal(labels, want) {
		return fmt.Errorf("resolution enum is %v, want %v", labels, want)
	}

	for _, table := range []string{"tokens", "candles"} {
		var exists bool
		if err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("table %s missing after migration", table)
		}
	}
	return nil
}
