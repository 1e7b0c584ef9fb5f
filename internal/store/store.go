// Package store defines the transactional gateway the aggregation pipeline
// persists through. A UnitOfWork bundles reads and writes across every
// aggregate repository and commits or discards them as one.
package store

import (
	"context"
	"errors"

	"github.com/openmohaa/stats-aggregator/internal/models"
)

var (
	// ErrMatchNotFound is returned when a match id has no stored match.
	ErrMatchNotFound = errors.New("match not found")

	// ErrTransient marks failures that may succeed on a later attempt
	// (lost connection, serialization conflict, deadlock, ...).
	ErrTransient = errors.New("transient storage failure")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Store opens units of work.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	Ping(ctx context.Context) error
}

// UnitOfWork is a single transactional scope. Find-or-create accessors are
// idempotent within one scope: asking twice for the same key returns the same
// pointer. Entities created by a find-or-create are persisted on Save; entities
// that already existed are persisted only if passed to MarkModified.
//
// A UnitOfWork is not safe for concurrent use.
type UnitOfWork interface {
	FindMatchByID(ctx context.Context, id int64) (*models.Match, error)
	FindNotProcessedMatchIDs(ctx context.Context) ([]int64, error)

	ServerStatistics(ctx context.Context, serverID string) (*models.ServerStatistics, error)
	ServerGameModeStats(ctx context.Context, serverID, gameMode string) (*models.ServerGameModeStats, error)
	ServerMapStats(ctx context.Context, serverID, mapName string) (*models.ServerMapStats, error)
	DateServerStats(ctx context.Context, year, dayOfYear int, serverID string) (*models.DateServerStats, error)

	PlayerStatistics(ctx context.Context, player string) (*models.PlayerStatistics, error)
	PlayerServerStats(ctx context.Context, player, serverID string) (*models.PlayerServerStats, error)
	PlayerGameModeStats(ctx context.Context, player, gameMode string) (*models.PlayerGameModeStats, error)
	DatePlayerStats(ctx context.Context, year, dayOfYear int, player string) (*models.DatePlayerStats, error)

	FindOrAddBestPlayer(ctx context.Context, player string) (*models.BestPlayer, error)

	// MarkModified schedules an entity loaded through this scope for writing.
	MarkModified(entity any)

	// Save atomically commits every pending change. On error nothing is
	// written and the scope must not be reused.
	Save(ctx context.Context) error

	// Discard drops all pending changes. Safe to call after Save.
	Discard()
}
