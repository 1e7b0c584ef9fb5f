// Package postgres implements store.Store on PostgreSQL. Each unit of work
// is one database transaction; aggregate rows are loaded lazily and written
// back as a single batch of upserts on Save.
package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/openmohaa/stats-aggregator/internal/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Config configures the Postgres store
type Config struct {
	URL      string
	MaxConns int32
	Logger   *zap.Logger
}

// TxBeginner is the subset of *pgxpool.Pool the store needs
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

type Store struct {
	db     TxBeginner
	logger *zap.SugaredLogger
}

// Connect opens a pool, verifies it and applies pending migrations.
func Connect(ctx context.Context, cfg Config) (*Store, *pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("error pinging database: %w", err)
	}

	if err := Migrate(ctx, pool, cfg.Logger); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return New(pool, cfg.Logger), pool, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(zap.NewStdLog(logger.Named("goose")))
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}

	logger.Info("migrations completed successfully")
	return nil
}

func New(db TxBeginner, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Sugar()}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Begin starts a transaction and wraps it in a unit of work.
func (s *Store) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	return newUnitOfWork(tx, s.logger), nil
}
