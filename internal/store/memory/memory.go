// Package memory is an in-process implementation of store.Store. Every unit of
// work reads copies of committed state and writes them back under a single lock
// on Save, so a failed or discarded unit of work leaves no trace.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/openmohaa/stats-aggregator/internal/models"
	"github.com/openmohaa/stats-aggregator/internal/store"
)

var errCompleted = errors.New("unit of work already completed")

// Snapshot is a copy of the committed state
type Snapshot struct {
	Matches         map[int64]models.Match
	Servers         map[string]models.ServerStatistics
	ServerGameModes map[store.ServerModeKey]models.ServerGameModeStats
	ServerMaps      map[store.ServerMapKey]models.ServerMapStats
	DateServers     map[store.DateServerKey]models.DateServerStats
	Players         map[string]models.PlayerStatistics
	PlayerServers   map[store.PlayerServerKey]models.PlayerServerStats
	PlayerGameModes map[store.PlayerModeKey]models.PlayerGameModeStats
	DatePlayers     map[store.DatePlayerKey]models.DatePlayerStats
	BestPlayers     map[string]models.BestPlayer
}

func newSnapshot() Snapshot {
	return Snapshot{
		Matches:         make(map[int64]models.Match),
		Servers:         make(map[string]models.ServerStatistics),
		ServerGameModes: make(map[store.ServerModeKey]models.ServerGameModeStats),
		ServerMaps:      make(map[store.ServerMapKey]models.ServerMapStats),
		DateServers:     make(map[store.DateServerKey]models.DateServerStats),
		Players:         make(map[string]models.PlayerStatistics),
		PlayerServers:   make(map[store.PlayerServerKey]models.PlayerServerStats),
		PlayerGameModes: make(map[store.PlayerModeKey]models.PlayerGameModeStats),
		DatePlayers:     make(map[store.DatePlayerKey]models.DatePlayerStats),
		BestPlayers:     make(map[string]models.BestPlayer),
	}
}

// Store keeps all entities in maps guarded by one mutex.
type Store struct {
	mu    sync.Mutex
	data  Snapshot
	saves int

	// queued failures returned by the next calls to Save
	saveFailures []error
	beginErr     error
}

func New() *Store {
	return &Store{data: newSnapshot()}
}

// AddMatch records a match, replacing any match with the same id.
func (s *Store) AddMatch(m models.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Matches[m.ID] = cloneMatch(m)
}

// FailSaves makes the next n calls to Save fail with err. A nil err fails
// with store.ErrTransient.
func (s *Store) FailSaves(n int, err error) {
	if err == nil {
		err = fmt.Errorf("memory: injected failure: %w", store.ErrTransient)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.saveFailures = append(s.saveFailures, err)
	}
}

// FailBegin makes Begin return err until called again with nil.
func (s *Store) FailBegin(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginErr = err
}

// Saves returns the number of successful commits
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Snapshot returns a deep copy of the committed state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := newSnapshot()
	for k, v := range s.data.Matches {
		out.Matches[k] = cloneMatch(v)
	}
	copyMap(out.Servers, s.data.Servers)
	copyMap(out.ServerGameModes, s.data.ServerGameModes)
	copyMap(out.ServerMaps, s.data.ServerMaps)
	copyMap(out.DateServers, s.data.DateServers)
	copyMap(out.Players, s.data.Players)
	copyMap(out.PlayerServers, s.data.PlayerServers)
	copyMap(out.PlayerGameModes, s.data.PlayerGameModes)
	copyMap(out.DatePlayers, s.data.DatePlayers)
	copyMap(out.BestPlayers, s.data.BestPlayers)
	return out
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Begin(ctx context.Context) (store.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	err := s.beginErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return &unitOfWork{
		s:               s,
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
	}, nil
}

type unitOfWork struct {
	s       *Store
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

// findOrCreate returns the scope's copy of key, loading it from committed
// state or creating it on first use.
func findOrCreate[K comparable, V any](u *unitOfWork, cache map[K]*V, committed map[K]V, key K, create func() V) (*V, error) {
	if u.done {
		return nil, errCompleted
	}
	if v, ok := cache[key]; ok {
		return v, nil
	}

	u.s.mu.Lock()
	v, found := committed[key]
	u.s.mu.Unlock()
	if !found {
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

	u.s.mu.Lock()
	m, ok := u.s.data.Matches[id]
	u.s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("match %d: %w", id, store.ErrMatchNotFound)
	}

	m = cloneMatch(m)
	u.matches[id] = &m
	u.tracker.Track(&m, false)
	return &m, nil
}

func (u *unitOfWork) FindNotProcessedMatchIDs(ctx context.Context) ([]int64, error) {
	if u.done {
		return nil, errCompleted
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	var ids []int64
	for id, m := range u.s.data.Matches {
		if !m.Processed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (u *unitOfWork) ServerStatistics(ctx context.Context, serverID string) (*models.ServerStatistics, error) {
	return findOrCreate(u, u.servers, u.s.data.Servers, serverID, func() models.ServerStatistics {
		return models.ServerStatistics{ServerID: serverID}
	})
}

func (u *unitOfWork) ServerGameModeStats(ctx context.Context, serverID, gameMode string) (*models.ServerGameModeStats, error) {
	key := store.ServerModeKey{ServerID: serverID, GameMode: gameMode}
	return findOrCreate(u, u.serverGameModes, u.s.data.ServerGameModes, key, func() models.ServerGameModeStats {
		return models.ServerGameModeStats{ServerID: serverID, GameMode: gameMode}
	})
}

func (u *unitOfWork) ServerMapStats(ctx context.Context, serverID, mapName string) (*models.ServerMapStats, error) {
	key := store.ServerMapKey{ServerID: serverID, Map: mapName}
	return findOrCreate(u, u.serverMaps, u.s.data.ServerMaps, key, func() models.ServerMapStats {
		return models.ServerMapStats{ServerID: serverID, Map: mapName}
	})
}

func (u *unitOfWork) DateServerStats(ctx context.Context, year, dayOfYear int, serverID string) (*models.DateServerStats, error) {
	key := store.DateServerKey{Year: year, DayOfYear: dayOfYear, ServerID: serverID}
	return findOrCreate(u, u.dateServers, u.s.data.DateServers, key, func() models.DateServerStats {
		return models.DateServerStats{Year: year, DayOfYear: dayOfYear, ServerID: serverID}
	})
}

func (u *unitOfWork) PlayerStatistics(ctx context.Context, player string) (*models.PlayerStatistics, error) {
	return findOrCreate(u, u.players, u.s.data.Players, player, func() models.PlayerStatistics {
		return models.PlayerStatistics{Player: player}
	})
}

func (u *unitOfWork) PlayerServerStats(ctx context.Context, player, serverID string) (*models.PlayerServerStats, error) {
	key := store.PlayerServerKey{Player: player, ServerID: serverID}
	return findOrCreate(u, u.playerServers, u.s.data.PlayerServers, key, func() models.PlayerServerStats {
		return models.PlayerServerStats{Player: player, ServerID: serverID}
	})
}

func (u *unitOfWork) PlayerGameModeStats(ctx context.Context, player, gameMode string) (*models.PlayerGameModeStats, error) {
	key := store.PlayerModeKey{Player: player, GameMode: gameMode}
	return findOrCreate(u, u.playerGameModes, u.s.data.PlayerGameModes, key, func() models.PlayerGameModeStats {
		return models.PlayerGameModeStats{Player: player, GameMode: gameMode}
	})
}

func (u *unitOfWork) DatePlayerStats(ctx context.Context, year, dayOfYear int, player string) (*models.DatePlayerStats, error) {
	key := store.DatePlayerKey{Year: year, DayOfYear: dayOfYear, Player: player}
	return findOrCreate(u, u.datePlayers, u.s.data.DatePlayers, key, func() models.DatePlayerStats {
		return models.DatePlayerStats{Year: year, DayOfYear: dayOfYear, Player: player}
	})
}

func (u *unitOfWork) FindOrAddBestPlayer(ctx context.Context, player string) (*models.BestPlayer, error) {
	return findOrCreate(u, u.bestPlayers, u.s.data.BestPlayers, player, func() models.BestPlayer {
		return models.BestPlayer{Player: player}
	})
}

func (u *unitOfWork) MarkModified(entity any) {
	if u.done {
		return
	}
	if !u.tracker.MarkModified(entity) {
		panic(fmt.Sprintf("memory: MarkModified on untracked %T", entity))
	}
}

func (u *unitOfWork) Save(ctx context.Context) error {
	if u.done {
		return errCompleted
	}
	u.done = true
	if err := ctx.Err(); err != nil {
		return err
	}

	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if len(u.s.saveFailures) > 0 {
		err := u.s.saveFailures[0]
		u.s.saveFailures = u.s.saveFailures[1:]
		return err
	}

	d := &u.s.data
	for _, entity := range u.tracker.Pending() {
		switch e := entity.(type) {
		case *models.Match:
			d.Matches[e.ID] = cloneMatch(*e)
		case *models.ServerStatistics:
			d.Servers[e.ServerID] = *e
		case *models.ServerGameModeStats:
			d.ServerGameModes[store.ServerModeKey{ServerID: e.ServerID, GameMode: e.GameMode}] = *e
		case *models.ServerMapStats:
			d.ServerMaps[store.ServerMapKey{ServerID: e.ServerID, Map: e.Map}] = *e
		case *models.DateServerStats:
			d.DateServers[store.DateServerKey{Year: e.Year, DayOfYear: e.DayOfYear, ServerID: e.ServerID}] = *e
		case *models.PlayerStatistics:
			d.Players[e.Player] = *e
		case *models.PlayerServerStats:
			d.PlayerServers[store.PlayerServerKey{Player: e.Player, ServerID: e.ServerID}] = *e
		case *models.PlayerGameModeStats:
			d.PlayerGameModes[store.PlayerModeKey{Player: e.Player, GameMode: e.GameMode}] = *e
		case *models.DatePlayerStats:
			d.DatePlayers[store.DatePlayerKey{Year: e.Year, DayOfYear: e.DayOfYear, Player: e.Player}] = *e
		case *models.BestPlayer:
			d.BestPlayers[e.Player] = *e
		}
	}
	u.s.saves++
	return nil
}

func (u *unitOfWork) Discard() {
	u.done = true
	u.tracker.Reset()
}

func cloneMatch(m models.Match) models.Match {
	m.Scoreboard = append([]models.Score(nil), m.Scoreboard...)
	return m
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}
