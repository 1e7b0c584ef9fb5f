package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/openmohaa/stats-aggregator/internal/store/postgres"
	"github.com/openmohaa/stats-aggregator/internal/worker"
)

func requeueCommand() *cli.Command {
	return &cli.Command{
		Name:  "requeue",
		Usage: "queue every stored match not yet processed",
		Action: func(c *cli.Context) error {
			pool, err := openPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			st := postgres.New(pool, zap.NewNop())
			uow, err := st.Begin(c.Context)
			if err != nil {
				return err
			}
			ids, err := uow.FindNotProcessedMatchIDs(c.Context)
			uow.Discard()
			if err != nil {
				return err
			}

			if len(ids) == 0 {
				fmt.Println("No pending matches")
				return nil
			}
			if err := postMatchIDs(c.Context, c.String("api-url"), c.String("ingest-token"), ids); err != nil {
				return err
			}
			fmt.Printf("Queued %d pending matches\n", len(ids))
			return nil
		},
	}
}

func deadLettersCommand() *cli.Command {
	return &cli.Command{
		Name:  "dead-letters",
		Usage: "inspect matches that exhausted their retries",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "print parked match ids and their last error",
				Action: func(c *cli.Context) error {
					rdb, err := openRedis(c)
					if err != nil {
						return err
					}
					defer rdb.Close()

					ids, err := deadLetterIDs(c, rdb)
					if err != nil {
						return err
					}
					if len(ids) == 0 {
						fmt.Println("No dead letters")
						return nil
					}

					reasons, err := rdb.HGetAll(c.Context, worker.DeadLetterErrorsKey).Result()
					if err != nil {
						return err
					}
					for _, id := range ids {
						fmt.Printf("%d\t%s\n", id, reasons[strconv.FormatInt(id, 10)])
					}
					return nil
				},
			},
			{
				Name:  "retry",
				Usage: "queue parked matches again and clear them from the set",
				Action: func(c *cli.Context) error {
					rdb, err := openRedis(c)
					if err != nil {
						return err
					}
					defer rdb.Close()

					ids, err := deadLetterIDs(c, rdb)
					if err != nil {
						return err
					}
					if len(ids) == 0 {
						fmt.Println("No dead letters")
						return nil
					}
					if err := postMatchIDs(c.Context, c.String("api-url"), c.String("ingest-token"), ids); err != nil {
						return err
					}

					members := make([]interface{}, len(ids))
					fields := make([]string, len(ids))
					for i, id := range ids {
						members[i] = strconv.FormatInt(id, 10)
						fields[i] = strconv.FormatInt(id, 10)
					}
					pipe := rdb.TxPipeline()
					pipe.SRem(c.Context, worker.DeadLetterKey, members...)
					pipe.HDel(c.Context, worker.DeadLetterErrorsKey, fields...)
					if _, err := pipe.Exec(c.Context); err != nil {
						return fmt.Errorf("queued %d matches but failed to clear them: %w", len(ids), err)
					}
					fmt.Printf("Queued %d dead lettered matches\n", len(ids))
					return nil
				},
			},
		},
	}
}

func openRedis(c *cli.Context) (*redis.Client, error) {
	url := c.String("redis-url")
	if url == "" {
		return nil, fmt.Errorf("--redis-url or REDIS_URL is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func deadLetterIDs(c *cli.Context, rdb *redis.Client) ([]int64, error) {
	members, err := rdb.SMembers(c.Context, worker.DeadLetterKey).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad dead letter member %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
