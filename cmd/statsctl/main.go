package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/openmohaa/stats-aggregator/internal/store/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "statsctl",
		Usage: "operate the match statistics aggregator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "postgres-url",
				Usage:   "PostgreSQL connection URL",
				EnvVars: []string{"POSTGRES_URL"},
			},
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "base URL of the aggregator HTTP API",
				Value:   "http://localhost:8080",
				EnvVars: []string{"API_URL"},
			},
			&cli.StringFlag{
				Name:    "ingest-token",
				Usage:   "shared secret the aggregator expects on enqueue requests",
				EnvVars: []string{"INGEST_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL holding the dead letter set",
				EnvVars: []string{"REDIS_URL"},
			},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			seedCommand(),
			requeueCommand(),
			deadLettersCommand(),
			scoresCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending database migrations",
		Action: func(c *cli.Context) error {
			pool, err := openPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Sync()
			return postgres.Migrate(c.Context, pool, logger)
		},
	}
}

func openPool(c *cli.Context) (*pgxpool.Pool, error) {
	url := c.String("postgres-url")
	if url == "" {
		return nil, fmt.Errorf("--postgres-url or POSTGRES_URL is required")
	}
	pool, err := pgxpool.New(c.Context, url)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := pool.Ping(c.Context); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}
	return pool, nil
}
