package logic

import (
	"context"
	"fmt"

	"github.com/openmohaa/stats-aggregator/internal/models"
	"github.com/openmohaa/stats-aggregator/internal/store"
)

// ApplyMatch folds one match into every aggregate reachable from it.
// The caller owns the unit of work and decides whether to commit.
func ApplyMatch(ctx context.Context, uow store.UnitOfWork, match *models.Match) error {
	if err := UpdateServerStatistics(ctx, uow, match); err != nil {
		return fmt.Errorf("server statistics: %w", err)
	}
	if err := UpdatePlayersStatistics(ctx, uow, match); err != nil {
		return fmt.Errorf("player statistics: %w", err)
	}
	return nil
}

// UpdateServerStatistics applies a match to the server rollup and to the
// server's per game mode, per map and per day counters.
func UpdateServerStatistics(ctx context.Context, uow store.UnitOfWork, match *models.Match) error {
	stats, err := uow.ServerStatistics(ctx, match.ServerID)
	if err != nil {
		return err
	}

	population := match.Population()
	stats.TotalMatchesPlayed++
	stats.MaximumPopulation = max(stats.MaximumPopulation, population)
	stats.SumOfPopulations += population

	// First write wins, by order of arrival rather than by match time.
	if stats.FirstMatchTimestamp.IsZero() {
		stats.FirstMatchTimestamp = match.Timestamp
	}

	gameModeStats, err := uow.ServerGameModeStats(ctx, match.ServerID, match.GameMode)
	if err != nil {
		return err
	}
	gameModeStats.MatchesPlayed++
	uow.MarkModified(gameModeStats)

	mapStats, err := uow.ServerMapStats(ctx, match.ServerID, match.Map)
	if err != nil {
		return err
	}
	mapStats.MatchesPlayed++
	uow.MarkModified(mapStats)

	year, day := models.UTCYearDay(match.Timestamp)
	dateStats, err := uow.DateServerStats(ctx, year, day, match.ServerID)
	if err != nil {
		return err
	}
	dateStats.MatchesPlayed++
	uow.MarkModified(dateStats)

	uow.MarkModified(stats)
	return nil
}

// UpdatePlayersStatistics applies a match to every player on its scoreboard,
// winner first.
func UpdatePlayersStatistics(ctx context.Context, uow store.UnitOfWork, match *models.Match) error {
	scoreboard := match.RankedScoreboard()
	totalPlayers := len(scoreboard)
	year, day := models.UTCYearDay(match.Timestamp)

	for _, score := range scoreboard {
		stats, err := uow.PlayerStatistics(ctx, score.Player)
		if err != nil {
			return err
		}

		stats.TotalMatchesPlayed++
		if score.Position == 0 {
			stats.TotalMatchesWon++
		}
		stats.SumOfScoreboardPercents += ScoreboardPercent(score.Position, totalPlayers)

		if stats.FirstMatchTimestamp.IsZero() {
			stats.FirstMatchTimestamp = match.Timestamp
		}
		stats.LastMatchTimestamp = match.Timestamp

		stats.Kills += score.Kills
		stats.Deaths += score.Deaths

		if CanBeBestPlayer(stats) {
			if _, err := uow.FindOrAddBestPlayer(ctx, score.Player); err != nil {
				return err
			}
		}

		serverStats, err := uow.PlayerServerStats(ctx, score.Player, match.ServerID)
		if err != nil {
			return err
		}
		serverStats.MatchesPlayed++
		uow.MarkModified(serverStats)

		gameModeStats, err := uow.PlayerGameModeStats(ctx, score.Player, match.GameMode)
		if err != nil {
			return err
		}
		gameModeStats.MatchesPlayed++
		uow.MarkModified(gameModeStats)

		dateStats, err := uow.DatePlayerStats(ctx, year, day, score.Player)
		if err != nil {
			return err
		}
		dateStats.MatchesPlayed++
		uow.MarkModified(dateStats)

		uow.MarkModified(stats)
	}
	return nil
}

// ScoreboardPercent is the share of the scoreboard a player finished above,
// from 100 for the winner down to 0 for last place.
func ScoreboardPercent(position, totalPlayers int) float64 {
	if totalPlayers == 1 {
		return 100
	}
	return float64(totalPlayers-position-1) / float64(totalPlayers-1) * 100
}

// CanBeBestPlayer reports whether a player qualifies for the best players
// leaderboard. Deaths must be non-zero because the leaderboard ranks by
// kill/death ratio.
func CanBeBestPlayer(stats *models.PlayerStatistics) bool {
	return stats.TotalMatchesPlayed >= models.NeedTotalMatches && stats.Deaths > 0
}
