package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/sessiond/internal/logger"
	postgresstore "github.com/wolfeidau/sessiond/internal/store/postgres"
)

type MigrateCmd struct {
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (c *MigrateCmd) Validate() error {
	if c.Postgres.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	pool, err := postgresstore.NewPool(ctx, c.Postgres.poolConfig())
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	applied, err := postgresstore.RunMigrations(ctx, pool)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if len(applied) == 0 {
		log.Info().Msg("Database schema is up to date")
		return nil
	}
	for _, name := range applied {
		log.Info().Str("migration", name).Msg("Applied migration")
	}
	return nil
}
