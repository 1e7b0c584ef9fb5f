package handlers

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MaxBodySize limits the size of request bodies to 64KB
const MaxBodySize = 65536

// IngestQueue defines the interface for the aggregation processor
type IngestQueue interface {
	Enqueue(matchID int64)
	QueueDepth() int
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Queue  IngestQueue
	Store  Pinger
	Redis  redis.Cmdable // optional
	Logger *zap.Logger

	// IngestToken is the shared secret game servers present on enqueue requests.
	// An empty token rejects every request.
	IngestToken string
}

type Handler struct {
	queue     IngestQueue
	store     Pinger
	redis     redis.Cmdable
	logger    *zap.SugaredLogger
	validator *validator.Validate

	ingestTokenHash string
}

func New(cfg Config) *Handler {
	h := &Handler{
		queue:     cfg.Queue,
		store:     cfg.Store,
		redis:     cfg.Redis,
		logger:    cfg.Logger.Sugar(),
		validator: validator.New(),
	}
	if cfg.IngestToken != "" {
		h.ingestTokenHash = hashToken(cfg.IngestToken)
	}
	return h
}
