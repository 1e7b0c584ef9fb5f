package store

// Natural keys of the composite aggregates.

type ServerModeKey struct {
	ServerID string
	GameMode string
}

type ServerMapKey struct {
	ServerID string
	Map      string
}

type PlayerServerKey struct {
	Player   string
	ServerID string
}

type PlayerModeKey struct {
	Player   string
	GameMode string
}

type DateServerKey struct {
	Year      int
	DayOfYear int
	ServerID  string
}

type DatePlayerKey struct {
	Year      int
	DayOfYear int
	Player    string
}
