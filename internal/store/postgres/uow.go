package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/openmohaa/stats-aggregator/internal/models"
	"github.com/openmohaa/stats-aggregator/internal/store"
)

var errCompleted = errors.New("unit of work already completed")

const rollbackTimeout = 5 * time.Second

type unitOfWork struct {
	tx      pgx.Tx
	logger  *zap.SugaredLogger
	tracker *store.Tracker
	done    bool

	matches         map[int64]*models.Match
	servers         map[string]*models.ServerStatistics
	serverGameModes map[store.ServerModeKey]*models.ServerGameModeStats
	serverMaps      map[store.ServerMapKey]*models.ServerMapStats
	dateServers     map[store.DateServerKey]*models.DateServerStats
	players         map[string]*models.PlayerStatistics
	playerServers   map[store.PlayerServerKey]*models.PlayerServerStats
	playerGameModes map[store.PlayerModeKey]*models.PlayerGameModeStats
	datePlayers     map[store.DatePlayerKey]*models.DatePlayerStats
	bestPlayers     map[string]*models.BestPlayer
}

func newUnitOfWork(tx pgx.Tx, logger *zap.SugaredLogger) *unitOfWork {
	return &unitOfWork{
		tx:              tx,
		logger:          logger,
		tracker:         store.NewTracker(),
		matches:         make(map[int64]*models.Match),
		servers:         make(map[string]*models.ServerStatistics),
		serverGameModes: make(map[store.ServerModeKey]*models.ServerGameModeStats),
		serverMaps:      make(map[store.ServerMapKey]*models.ServerMapStats),
		dateServers:     make(map[store.DateServerKey]*models.DateServerStats),
		players:         make(map[string]*models.PlayerStatistics),
		playerServers:   make(map[store.PlayerServerKey]*models.PlayerServerStats),
		playerGameModes: make(map[store.PlayerModeKey]*models.PlayerGameModeStats),
		datePlayers:     make(map[store.DatePlayerKey]*models.DatePlayerStats),
		bestPlayers:     make(map[string]*models.BestPlayer),
	}
}

// findOrCreate returns the cached entity for key, or loads it with query.
// A missing row yields a new entity that will be inserted on Save.
func findOrCreate[K comparable, V any](
	ctx context.Context,
	u *unitOfWork,
	cache map[K]*V,
	key K,
	create func() V,
	scan func(row pgx.Row, v *V) error,
	query string,
	args ...any,
) (*V, error) {
	if u.done {
		return nil, errCompleted
	}
	if v, ok := cache[key]; ok {
		return v, nil
	}

	v := create()
	found := true
	if err := scan(u.tx.QueryRow(ctx, query, args...), &v); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, classify(fmt.Errorf("failed to load %T: %w", v, err))
		}
		found = false
		v = create()
	}

	p := &v
	cache[key] = p
	u.tracker.Track(p, !found)
	return p, nil
}

func (u *unitOfWork) FindMatchByID(ctx context.Context, id int64) (*models.Match, error) {
	if u.done {
		return nil, errCompleted
	}
	if m, ok := u.matches[id]; ok {
		return m, nil
	}

	// The row lock holds until Save or Discard, so a second consumer waits here
	// and then reads processed=true instead of applying the match again.
	m := &models.Match{ID: id}
	err := u.tx.QueryRow(ctx, `
		SELECT server_id, game_mode, map, "timestamp", processed
		FROM matches
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&m.ServerID, &m.GameMode, &m.Map, &m.Timestamp, &m.Processed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("match %d: %w", id, store.ErrMatchNotFound)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to load match %d: %w", id, err))
	}

	rows, err := u.tx.Query(ctx, `
		SELECT player, position, kills, deaths
		FROM match_scores
		WHERE match_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to load scoreboard of match %d: %w", id, err))
	}
	defer rows.Close()

	for rows.Next() {
		var s models.Score
		if err := rows.Scan(&s.Player, &s.Position, &s.Kills, &s.Deaths); err != nil {
			return nil, classify(fmt.Errorf("failed to scan score: %w", err))
		}
		m.Scoreboard = append(m.Scoreboard, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to read scoreboard of match %d: %w", id, err))
	}

	u.matches[id] = m
	u.tracker.Track(m, false)
	return m, nil
}

func (u *unitOfWork) FindNotProcessedMatchIDs(ctx context.Context) ([]int64, error) {
	if u.done {
		return nil, errCompleted
	}
	rows, err := u.tx.Query(ctx, `SELECT id FROM matches WHERE NOT processed ORDER BY id`)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query not processed matches: %w", err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, classify(fmt.Errorf("failed to collect not processed matches: %w", err))
	}
	return ids, nil
}

func (u *unitOfWork) ServerStatistics(ctx context.Context, serverID string) (*models.ServerStatistics, error) {
	return findOrCreate(ctx, u, u.servers, serverID,
		func() models.ServerStatistics { return models.ServerStatistics{ServerID: serverID} },
		func(row pgx.Row, v *models.ServerStatistics) error {
			var first *time.Time
			if err := row.Scan(&v.TotalMatchesPlayed, &v.MaximumPopulation, &v.SumOfPopulations, &first); err != nil {
				return err
			}
			v.FirstMatchTimestamp = fromNullTime(first)
			return nil
		},
		`SELECT total_matches_played, maximum_population, sum_of_populations, first_match_timestamp
		FROM server_statistics WHERE server_id = $1`,
		serverID,
	)
}

func (u *unitOfWork) ServerGameModeStats(ctx context.Context, serverID, gameMode string) (*models.ServerGameModeStats, error) {
	return findOrCreate(ctx, u, u.serverGameModes, store.ServerModeKey{ServerID: serverID, GameMode: gameMode},
		func() models.ServerGameModeStats {
			return models.ServerGameModeStats{ServerID: serverID, GameMode: gameMode}
		},
		func(row pgx.Row, v *models.ServerGameModeStats) error { return row.Scan(&v.MatchesPlayed) },
		`SELECT matches_played FROM server_game_mode_stats WHERE server_id = $1 AND game_mode = $2`,
		serverID, gameMode,
	)
}

func (u *unitOfWork) ServerMapStats(ctx context.Context, serverID, mapName string) (*models.ServerMapStats, error) {
	return findOrCreate(ctx, u, u.serverMaps, store.ServerMapKey{ServerID: serverID, Map: mapName},
		func() models.ServerMapStats { return models.ServerMapStats{ServerID: serverID, Map: mapName} },
		func(row pgx.Row, v *models.ServerMapStats) error { return row.Scan(&v.MatchesPlayed) },
		`SELECT matches_played FROM server_map_stats WHERE server_id = $1 AND map = $2`,
		serverID, mapName,
	)
}

func (u *unitOfWork) DateServerStats(ctx context.Context, year, dayOfYear int, serverID string) (*models.DateServerStats, error) {
	return findOrCreate(ctx, u, u.dateServers, store.DateServerKey{Year: year, DayOfYear: dayOfYear, ServerID: serverID},
		func() models.DateServerStats {
			return models.DateServerStats{Year: year, DayOfYear: dayOfYear, ServerID: serverID}
		},
		func(row pgx.Row, v *models.DateServerStats) error { return row.Scan(&v.MatchesPlayed) },
		`SELECT matches_played FROM date_server_stats WHERE year = $1 AND day_of_year = $2 AND server_id = $3`,
		year, dayOfYear, serverID,
	)
}

func (u *unitOfWork) PlayerStatistics(ctx context.Context, player string) (*models.PlayerStatistics, error) {
	return findOrCreate(ctx, u, u.players, player,
		func() models.PlayerStatistics { return models.PlayerStatistics{Player: player} },
		func(row pgx.Row, v *models.PlayerStatistics) error {
			var first, last *time.Time
			err := row.Scan(&v.TotalMatchesPlayed, &v.TotalMatchesWon, &v.SumOfScoreboardPercents,
				&v.Kills, &v.Deaths, &first, &last)
			if err != nil {
				return err
			}
			v.FirstMatchTimestamp = fromNullTime(first)
			v.LastMatchTimestamp = fromNullTime(last)
			return nil
		},
		`SELECT total_matches_played, total_matches_won, sum_of_scoreboard_percents,
			kills, deaths, first_match_timestamp, last_match_timestamp
		FROM player_statistics WHERE player = $1`,
		player,
	)
}

func (u *unitOfWork) PlayerServerStats(ctx context.Context, player, serverID string) (*models.PlayerServerStats, error) {
	return findOrCreate(ctx, u, u.playerServers, store.PlayerServerKey{Player: player, ServerID: serverID},
		func() models.PlayerServerStats { return models.PlayerServerStats{Player: player, ServerID: serverID} },
		func(row pgx.Row, v *models.PlayerServerStats) error { return row.Scan(&v.MatchesPlayed) },
		`SELECT matches_played FROM player_server_stats WHERE player = $1 AND server_id = $2`,
		player, serverID,
	)
}

func (u *unitOfWork) PlayerGameModeStats(ctx context.Context, player, gameMode string) (*models.PlayerGameModeStats, error) {
	return findOrCreate(ctx, u, u.playerGameModes, store.PlayerModeKey{Player: player, GameMode: gameMode},
		func() models.PlayerGameModeStats {
			return models.PlayerGameModeStats{Player: player, GameMode: gameMode}
		},
		func(row pgx.Row, v *models.PlayerGameModeStats) error { return row.Scan(&v.MatchesPlayed) },
		`SELECT matches_played FROM player_game_mode_stats WHERE player = $1 AND game_mode = $2`,
		player, gameMode,
	)
}

func (u *unitOfWork) DatePlayerStats(ctx context.Context, year, dayOfYear int, player string) (*models.DatePlayerStats, error) {
	return findOrCreate(ctx, u, u.datePlayers, store.DatePlayerKey{Year: year, DayOfYear: dayOfYear, Player: player},
		func() models.DatePlayerStats {
			return models.DatePlayerStats{Year: year, DayOfYear: dayOfYear, Player: player}
		},
		func(row pgx.Row, v *models.DatePlayerStats) error { return row.Scan(&v.MatchesPlayed) },
		`SELECT matches_played FROM date_player_stats WHERE year = $1 AND day_of_year = $2 AND player = $3`,
		year, dayOfYear, player,
	)
}

func (u *unitOfWork) FindOrAddBestPlayer(ctx context.Context, player string) (*models.BestPlayer, error) {
	return findOrCreate(ctx, u, u.bestPlayers, player,
		func() models.BestPlayer { return models.BestPlayer{Player: player} },
		func(row pgx.Row, v *models.BestPlayer) error {
			var one int
			return row.Scan(&one)
		},
		`SELECT 1 FROM best_players WHERE player = $1`,
		player,
	)
}

func (u *unitOfWork) MarkModified(entity any) {
	if u.done {
		return
	}
	if !u.tracker.MarkModified(entity) {
		u.logger.Errorw("MarkModified called on entity not loaded by this unit of work", "type", fmt.Sprintf("%T", entity))
	}
}

// Save writes every pending entity in one batch and commits.
func (u *unitOfWork) Save(ctx context.Context) error {
	if u.done {
		return errCompleted
	}
	u.done = true

	batch := &pgx.Batch{}
	for _, entity := range u.tracker.Pending() {
		if err := queueWrite(batch, entity); err != nil {
			u.rollback()
			return err
		}
	}

	if batch.Len() > 0 {
		br := u.tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				u.rollback()
				return classify(fmt.Errorf("failed to write aggregates: %w", err))
			}
		}
		if err := br.Close(); err != nil {
			u.rollback()
			return classify(fmt.Errorf("failed to write aggregates: %w", err))
		}
	}

	if err := u.tx.Commit(ctx); err != nil {
		u.rollback()
		return classify(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

func (u *unitOfWork) Discard() {
	if !u.done {
		u.done = true
		u.rollback()
	}
	u.tracker.Reset()
}

func (u *unitOfWork) rollback() {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		u.logger.Warnw("Failed to roll back transaction", "error", err)
	}
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
