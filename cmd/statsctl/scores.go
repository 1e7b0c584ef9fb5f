package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/urfave/cli/v2"
)

func scoresCommand() *cli.Command {
	return &cli.Command{
		Name:      "scores",
		Usage:     "show a player's exported scoreboard rows from ClickHouse",
		ArgsUsage: "<player>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "clickhouse-url",
				Value:   "clickhouse://localhost:9000/default",
				EnvVars: []string{"CLICKHOUSE_URL"},
			},
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: func(c *cli.Context) error {
			player := c.Args().First()
			if player == "" {
				return fmt.Errorf("player name is required")
			}

			opts, err := clickhouse.ParseDSN(c.String("clickhouse-url"))
			if err != nil {
				return fmt.Errorf("failed to parse DSN: %w", err)
			}
			conn, err := clickhouse.Open(opts)
			if err != nil {
				return fmt.Errorf("failed to open connection: %w", err)
			}
			defer conn.Close()

			rows, err := conn.Query(c.Context, `
				SELECT match_id, server_id, map, match_time, position, population, score_percent, kills, deaths
				FROM match_scores FINAL
				WHERE player = ?
				ORDER BY match_time DESC
				LIMIT ?
			`, player, c.Int("limit"))
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}
			defer rows.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MATCH\tSERVER\tMAP\tTIME\tPOS\tPERCENT\tK/D")
			for rows.Next() {
				var (
					matchID              int64
					serverID, mapName    string
					matchTime            time.Time
					position, population uint16
					percent              float64
					kills, deaths        int32
				)
				if err := rows.Scan(&matchID, &serverID, &mapName, &matchTime, &position, &population, &percent, &kills, &deaths); err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d/%d\t%.1f\t%d/%d\n",
					matchID, serverID, mapName, matchTime.Format(time.DateTime), position+1, population, percent, kills, deaths)
			}
			if err := rows.Err(); err != nil {
				return err
			}
			return w.Flush()
		},
	}
}
