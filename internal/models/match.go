package models

import (
	"sort"
	"time"
)

// Match is a completed match as recorded by the ingestion layer.
// Everything except Processed is immutable once stored.
type Match struct {
	ID         int64     `json:"id"`
	ServerID   string    `json:"server_id"`
	GameMode   string    `json:"game_mode"`
	Map        string    `json:"map"`
	Timestamp  time.Time `json:"timestamp"`
	Scoreboard []Score   `json:"scoreboard"`

	// Processed is set in the same transaction that applies the match to the aggregates.
	Processed bool `json:"processed"`
}

// Score is one scoreboard row. Position 0 is the winner.
type Score struct {
	Player   string `json:"player"`
	Position int    `json:"position"`
	Kills    int    `json:"kills"`
	Deaths   int    `json:"deaths"`
}

// Population is the number of players on the scoreboard
func (m *Match) Population() int {
	return len(m.Scoreboard)
}

// RankedScoreboard returns a copy of the scoreboard ordered by ascending position.
func (m *Match) RankedScoreboard() []Score {
	ranked := make([]Score, len(m.Scoreboard))
	copy(ranked, m.Scoreboard)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Position < ranked[j].Position
	})
	return ranked
}

// UTCYearDay returns the UTC calendar year and 1-based day of year of t.
func UTCYearDay(t time.Time) (year, day int) {
	u := t.UTC()
	return u.Year(), u.YearDay()
}
