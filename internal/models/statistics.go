package models

import "time"

// NeedTotalMatches is the number of matches a player must have played
// before appearing on the best players leaderboard.
const NeedTotalMatches = 10

// ServerStatistics is the per-server rollup.
// A zero FirstMatchTimestamp means no match has been applied yet.
type ServerStatistics struct {
	ServerID            string    `json:"server_id"`
	TotalMatchesPlayed  int       `json:"total_matches_played"`
	MaximumPopulation   int       `json:"maximum_population"`
	SumOfPopulations    int       `json:"sum_of_populations"`
	FirstMatchTimestamp time.Time `json:"first_match_timestamp"`
}

// PlayerStatistics is the per-player rollup
type PlayerStatistics struct {
	Player                  string    `json:"player"`
	TotalMatchesPlayed      int       `json:"total_matches_played"`
	TotalMatchesWon         int       `json:"total_matches_won"`
	SumOfScoreboardPercents float64   `json:"sum_of_scoreboard_percents"`
	Kills                   int       `json:"kills"`
	Deaths                  int       `json:"deaths"`
	FirstMatchTimestamp     time.Time `json:"first_match_timestamp"`
	LastMatchTimestamp      time.Time `json:"last_match_timestamp"`
}

type ServerGameModeStats struct {
	ServerID      string `json:"server_id"`
	GameMode      string `json:"game_mode"`
	MatchesPlayed int    `json:"matches_played"`
}

type ServerMapStats struct {
	ServerID      string `json:"server_id"`
	Map           string `json:"map"`
	MatchesPlayed int    `json:"matches_played"`
}

type PlayerServerStats struct {
	Player        string `json:"player"`
	ServerID      string `json:"server_id"`
	MatchesPlayed int    `json:"matches_played"`
}

type PlayerGameModeStats struct {
	Player        string `json:"player"`
	GameMode      string `json:"game_mode"`
	MatchesPlayed int    `json:"matches_played"`
}

// DateServerStats counts matches played on a server during one UTC day
type DateServerStats struct {
	Year          int    `json:"year"`
	DayOfYear     int    `json:"day_of_year"`
	ServerID      string `json:"server_id"`
	MatchesPlayed int    `json:"matches_played"`
}

// DatePlayerStats counts matches played by a player during one UTC day
type DatePlayerStats struct {
	Year          int    `json:"year"`
	DayOfYear     int    `json:"day_of_year"`
	Player        string `json:"player"`
	MatchesPlayed int    `json:"matches_played"`
}

// BestPlayer marks a player as eligible for the best players leaderboard.
type BestPlayer struct {
	Player string `json:"player"`
}
