package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/openmohaa/stats-aggregator/internal/models"
)

var (
	seedServers   = []string{"10.0.0.1:12203", "10.0.0.2:12203", "10.0.0.3:12204"}
	seedGameModes = []string{"dm", "tdm", "obj", "lib"}
	seedMaps      = []string{"dm/mohdm1", "dm/mohdm2", "dm/mohdm6", "obj/obj_team1", "obj/obj_team2"}
	seedPlayers   = []string{
		"Elgan", "Sniper_Wolf", "DoubleTap", "Panzerfaust", "Kar98k", "Bazooka_Joe",
		"Garand", "Stielhandgranate", "ShotgunSally", "M1A1", "Thompson", "MP40",
	}
)

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "store random finished matches and queue them for aggregation",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "matches", Value: 20, Usage: "number of matches to create"},
			&cli.BoolFlag{Name: "no-enqueue", Usage: "only store the matches; the recovery scan picks them up"},
		},
		Action: func(c *cli.Context) error {
			pool, err := openPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			matches := randomMatches(c.Int("matches"), time.Now().UTC())
			ids, err := insertMatches(c.Context, pool, matches)
			if err != nil {
				return err
			}
			fmt.Printf("Stored %d matches (ids %d..%d)\n", len(ids), ids[0], ids[len(ids)-1])

			if c.Bool("no-enqueue") {
				return nil
			}
			if err := postMatchIDs(c.Context, c.String("api-url"), c.String("ingest-token"), ids); err != nil {
				return err
			}
			fmt.Printf("Queued %d matches for aggregation\n", len(ids))
			return nil
		},
	}
}

func randomMatches(n int, now time.Time) []models.Match {
	matches := make([]models.Match, 0, n)
	for i := 0; i < n; i++ {
		population := 1 + rand.IntN(len(seedPlayers))
		players := rand.Perm(len(seedPlayers))[:population]

		m := models.Match{
			ServerID:  seedServers[rand.IntN(len(seedServers))],
			GameMode:  seedGameModes[rand.IntN(len(seedGameModes))],
			Map:       seedMaps[rand.IntN(len(seedMaps))],
			Timestamp: now.Add(-time.Duration(rand.IntN(14*24)) * time.Hour),
		}
		for pos, idx := range players {
			m.Scoreboard = append(m.Scoreboard, models.Score{
				Player:   seedPlayers[idx],
				Position: pos,
				Kills:    max(0, 30-pos*3+rand.IntN(5)),
				Deaths:   rand.IntN(15),
			})
		}
		matches = append(matches, m)
	}
	return matches
}

// insertMatches stores matches and their scoreboards in one transaction.
func insertMatches(ctx context.Context, pool *pgxpool.Pool, matches []models.Match) ([]int64, error) {
	if len(matches) == 0 {
		return nil, fmt.Errorf("nothing to seed")
	}

	ids := make([]int64, 0, len(matches))
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, m := range matches {
			var id int64
			if err := tx.QueryRow(ctx, `
				INSERT INTO matches (server_id, game_mode, map, "timestamp")
				VALUES ($1, $2, $3, $4)
				RETURNING id
			`, m.ServerID, m.GameMode, m.Map, m.Timestamp).Scan(&id); err != nil {
				return fmt.Errorf("failed to insert match: %w", err)
			}

			rows := make([][]any, 0, len(m.Scoreboard))
			for _, s := range m.Scoreboard {
				rows = append(rows, []any{id, s.Position, s.Player, s.Kills, s.Deaths})
			}
			if _, err := tx.CopyFrom(ctx,
				pgx.Identifier{"match_scores"},
				[]string{"match_id", "position", "player", "kills", "deaths"},
				pgx.CopyFromRows(rows),
			); err != nil {
				return fmt.Errorf("failed to insert scoreboard of match %d: %w", id, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
