package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openmohaa/stats-aggregator/internal/models"
)

const (
	updateMatchSQL = `UPDATE matches SET processed = $2 WHERE id = $1`

	upsertServerStatisticsSQL = `
		INSERT INTO server_statistics (server_id, total_matches_played, maximum_population, sum_of_populations, first_match_timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (server_id) DO UPDATE SET
			total_matches_played = EXCLUDED.total_matches_played,
			maximum_population = EXCLUDED.maximum_population,
			sum_of_populations = EXCLUDED.sum_of_populations,
			first_match_timestamp = EXCLUDED.first_match_timestamp`

	upsertPlayerStatisticsSQL = `
		INSERT INTO player_statistics (player, total_matches_played, total_matches_won, sum_of_scoreboard_percents,
			kills, deaths, first_match_timestamp, last_match_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (player) DO UPDATE SET
			total_matches_played = EXCLUDED.total_matches_played,
			total_matches_won = EXCLUDED.total_matches_won,
			sum_of_scoreboard_percents = EXCLUDED.sum_of_scoreboard_percents,
			kills = EXCLUDED.kills,
			deaths = EXCLUDED.deaths,
			first_match_timestamp = EXCLUDED.first_match_timestamp,
			last_match_timestamp = EXCLUDED.last_match_timestamp`

	upsertServerGameModeSQL = `
		INSERT INTO server_game_mode_stats (server_id, game_mode, matches_played) VALUES ($1, $2, $3)
		ON CONFLICT (server_id, game_mode) DO UPDATE SET matches_played = EXCLUDED.matches_played`

	upsertServerMapSQL = `
		INSERT INTO server_map_stats (server_id, map, matches_played) VALUES ($1, $2, $3)
		ON CONFLICT (server_id, map) DO UPDATE SET matches_played = EXCLUDED.matches_played`

	upsertDateServerSQL = `
		INSERT INTO date_server_stats (year, day_of_year, server_id, matches_played) VALUES ($1, $2, $3, $4)
		ON CONFLICT (year, day_of_year, server_id) DO UPDATE SET matches_played = EXCLUDED.matches_played`

	upsertPlayerServerSQL = `
		INSERT INTO player_server_stats (player, server_id, matches_played) VALUES ($1, $2, $3)
		ON CONFLICT (player, server_id) DO UPDATE SET matches_played = EXCLUDED.matches_played`

	upsertPlayerGameModeSQL = `
		INSERT INTO player_game_mode_stats (player, game_mode, matches_played) VALUES ($1, $2, $3)
		ON CONFLICT (player, game_mode) DO UPDATE SET matches_played = EXCLUDED.matches_played`

	upsertDatePlayerSQL = `
		INSERT INTO date_player_stats (year, day_of_year, player, matches_played) VALUES ($1, $2, $3, $4)
		ON CONFLICT (year, day_of_year, player) DO UPDATE SET matches_played = EXCLUDED.matches_played`

	insertBestPlayerSQL = `
		INSERT INTO best_players (player) VALUES ($1)
		ON CONFLICT (player) DO NOTHING`
)

// queueWrite appends the statement persisting entity to batch.
func queueWrite(batch *pgx.Batch, entity any) error {
	switch e := entity.(type) {
	case *models.Match:
		batch.Queue(updateMatchSQL, e.ID, e.Processed)
	case *models.ServerStatistics:
		batch.Queue(upsertServerStatisticsSQL,
			e.ServerID, e.TotalMatchesPlayed, e.MaximumPopulation, e.SumOfPopulations, nullTime(e.FirstMatchTimestamp))
	case *models.PlayerStatistics:
		batch.Queue(upsertPlayerStatisticsSQL,
			e.Player, e.TotalMatchesPlayed, e.TotalMatchesWon, e.SumOfScoreboardPercents,
			e.Kills, e.Deaths, nullTime(e.FirstMatchTimestamp), nullTime(e.LastMatchTimestamp))
	case *models.ServerGameModeStats:
		batch.Queue(upsertServerGameModeSQL, e.ServerID, e.GameMode, e.MatchesPlayed)
	case *models.ServerMapStats:
		batch.Queue(upsertServerMapSQL, e.ServerID, e.Map, e.MatchesPlayed)
	case *models.DateServerStats:
		batch.Queue(upsertDateServerSQL, e.Year, e.DayOfYear, e.ServerID, e.MatchesPlayed)
	case *models.PlayerServerStats:
		batch.Queue(upsertPlayerServerSQL, e.Player, e.ServerID, e.MatchesPlayed)
	case *models.PlayerGameModeStats:
		batch.Queue(upsertPlayerGameModeSQL, e.Player, e.GameMode, e.MatchesPlayed)
	case *models.DatePlayerStats:
		batch.Queue(upsertDatePlayerSQL, e.Year, e.DayOfYear, e.Player, e.MatchesPlayed)
	case *models.BestPlayer:
		batch.Queue(insertBestPlayerSQL, e.Player)
	default:
		return fmt.Errorf("no write statement for %T", entity)
	}
	return nil
}
