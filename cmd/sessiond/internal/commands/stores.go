package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/sessiond/internal/store"
	memorystore "github.com/wolfeidau/sessiond/internal/store/memory"
	postgresstore "github.com/wolfeidau/sessiond/internal/store/postgres"
	redisstore "github.com/wolfeidau/sessiond/internal/store/redis"
)

// StoreFlags selects and configures the session and user store backends.
type StoreFlags struct {
	SessionStore string        `help:"session store backend (memory, postgres or redis)" default:"memory" env:"SESSIOND_SESSION_STORE" enum:"memory,postgres,redis"`
	UserStore    string        `help:"user store backend (memory or postgres)" default:"memory" env:"SESSIOND_USER_STORE" enum:"memory,postgres"`
	UsersFile    string        `help:"YAML seed file for the memory user store" type:"path" env:"SESSIOND_USERS_FILE"`
	QueryTimeout time.Duration `help:"timeout applied to every store operation" default:"5s" env:"SESSIOND_QUERY_TIMEOUT"`

	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
	Redis    RedisFlags    `embed:"" prefix:"redis-"`
}

func (s *StoreFlags) Validate() error {
	if s.usesPostgres() && s.Postgres.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	if s.SessionStore == "redis" && len(s.Redis.Addrs) == 0 {
		return errors.New("at least one redis address is required (--redis-addrs or SESSIOND_REDIS_ADDRS)")
	}
	if s.UsersFile != "" && s.UserStore != "memory" {
		return errors.New("--users-file only applies to the memory user store")
	}
	return nil
}

func (s *StoreFlags) usesPostgres() bool {
	return s.SessionStore == "postgres" || s.UserStore == "postgres"
}

type PostgresFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"SESSIOND_POSTGRES_AUTO_MIGRATE"`
}

func (p *PostgresFlags) poolConfig() *postgresstore.PoolConfig {
	return &postgresstore.PoolConfig{
		ConnString:      p.ConnString,
		MaxConns:        p.MaxConns,
		MinConns:        p.MinConns,
		MaxConnLifetime: p.MaxConnLifetime,
		MaxConnIdleTime: p.MaxConnIdleTime,
	}
}

type RedisFlags struct {
	Addrs     []string `help:"redis addresses, more than one selects cluster mode" env:"SESSIOND_REDIS_ADDRS"`
	Username  string   `help:"redis ACL username" env:"SESSIOND_REDIS_USERNAME"`
	Password  string   `help:"redis password" env:"SESSIOND_REDIS_PASSWORD"`
	DB        int      `help:"redis database number" default:"0" env:"SESSIOND_REDIS_DB"`
	Prefix    string   `help:"key prefix for session data" default:"sessiond" env:"SESSIOND_REDIS_PREFIX"`
	BatchSize int      `help:"expired sessions deleted per reaper script call" default:"500"`
}

// stores bundles the opened backends and their shutdown.
type stores struct {
	sessions store.SessionStore
	users    store.UserStore
	pool     *pgxpool.Pool
	closers  []func() error
}

func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, log zerolog.Logger, flags *StoreFlags) (_ *stores, err error) {
	if err := flags.Validate(); err != nil {
		return nil, err
	}

	st := &stores{}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	if flags.usesPostgres() {
		st.pool, err = postgresstore.NewPool(ctx, flags.Postgres.poolConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		st.closers = append(st.closers, func() error { st.pool.Close(); return nil })

		if flags.Postgres.AutoMigrate {
			applied, err := postgresstore.RunMigrations(ctx, st.pool)
			if err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Strs("applied", applied).Msg("Database migrations completed")
		}
	}

	pgCfg := postgresstore.StoreConfig{QueryTimeout: flags.QueryTimeout}

	var memSessions *memorystore.SessionStore

	switch flags.SessionStore {
	case "postgres":
		st.sessions = postgresstore.NewSessionStore(st.pool, pgCfg)
		log.Info().Msg("Using PostgreSQL session store")
	case "redis":
		client, err := redisstore.NewClient(ctx, redisstore.ClientConfig{
			Addrs:    flags.Redis.Addrs,
			Username: flags.Redis.Username,
			Password: flags.Redis.Password,
			DB:       flags.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		st.closers = append(st.closers, client.Close)
		st.sessions = redisstore.NewSessionStore(client, redisstore.StoreConfig{
			Prefix:        flags.Redis.Prefix,
			QueryTimeout:  flags.QueryTimeout,
			ReapBatchSize: flags.Redis.BatchSize,
		})
		log.Info().Strs("addrs", flags.Redis.Addrs).Msg("Using Redis session store")
	default:
		memSessions = memorystore.NewSessionStore()
		st.sessions = memSessions
		log.Info().Msg("Using in-memory session store")
	}

	switch flags.UserStore {
	case "postgres":
		st.users = postgresstore.NewUserStore(st.pool, pgCfg)
		log.Info().Msg("Using PostgreSQL user store")
	default:
		users := memorystore.NewUserStore(memSessions)
		if flags.UsersFile != "" {
			n, err := users.LoadUsers(flags.UsersFile)
			if err != nil {
				return nil, err
			}
			log.Info().Int("users", n).Str("file", flags.UsersFile).Msg("Loaded user seed file")
		} else {
			log.Warn().Msg("In-memory user store has no users, every login will fail")
		}
		st.users = users
	}

	return st, nil
}
