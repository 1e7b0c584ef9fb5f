package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openmohaa/stats-aggregator/internal/models"
)

const (
	// ProcessedChannel receives one message per match applied to the aggregates
	ProcessedChannel = "stats:match_processed"

	// DeadLetterKey is the set of match ids that exhausted their retries
	DeadLetterKey = "stats:dead_letter"

	// DeadLetterErrorsKey maps dead-lettered match ids to their last error
	DeadLetterErrorsKey = "stats:dead_letter:errors"
)

// Notifier is told about matches leaving the pipeline.
type Notifier interface {
	MatchProcessed(ctx context.Context, match *models.Match) error
	DeadLetter(ctx context.Context, matchID int64, cause error) error
}

// ProcessedMessage is published on ProcessedChannel
type ProcessedMessage struct {
	MatchID     int64     `json:"match_id"`
	ServerID    string    `json:"server_id"`
	GameMode    string    `json:"game_mode"`
	Map         string    `json:"map"`
	Players     []string  `json:"players"`
	Timestamp   time.Time `json:"timestamp"`
	ProcessedAt time.Time `json:"processed_at"`
	Instance    string    `json:"instance"`
}

// RedisNotifier implements Notifier using Redis pub/sub and a dead letter set.
type RedisNotifier struct {
	client   redis.Cmdable
	instance string
}

func NewRedisNotifier(client redis.Cmdable, instance string) *RedisNotifier {
	return &RedisNotifier{client: client, instance: instance}
}

func (n *RedisNotifier) MatchProcessed(ctx context.Context, match *models.Match) error {
	data, err := json.Marshal(n.processedMessage(match, time.Now().UTC()))
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, ProcessedChannel, data).Err()
}

func (n *RedisNotifier) DeadLetter(ctx context.Context, matchID int64, cause error) error {
	id := strconv.FormatInt(matchID, 10)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	pipe := n.client.TxPipeline()
	pipe.SAdd(ctx, DeadLetterKey, id)
	pipe.HSet(ctx, DeadLetterErrorsKey, id, msg)
	_, err := pipe.Exec(ctx)
	return err
}

func (n *RedisNotifier) processedMessage(match *models.Match, now time.Time) ProcessedMessage {
	players := make([]string, 0, len(match.Scoreboard))
	for _, score := range match.RankedScoreboard() {
		players = append(players, score.Player)
	}
	return ProcessedMessage{
		MatchID:     match.ID,
		ServerID:    match.ServerID,
		GameMode:    match.GameMode,
		Map:         match.Map,
		Players:     players,
		Timestamp:   match.Timestamp.UTC(),
		ProcessedAt: now,
		Instance:    n.instance,
	}
}
