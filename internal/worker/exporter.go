package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/openmohaa/stats-aggregator/internal/logic"
	"github.com/openmohaa/stats-aggregator/internal/models"
)

const createMatchScoresSQL = `
	CREATE TABLE IF NOT EXISTS match_scores (
		match_id       Int64,
		server_id      String,
		game_mode      LowCardinality(String),
		map            LowCardinality(String),
		match_time     DateTime64(3, 'UTC'),
		player         String,
		position       UInt16,
		population     UInt16,
		score_percent  Float64,
		kills          Int32,
		deaths         Int32,
		won            UInt8,
		exported_at    DateTime64(3, 'UTC')
	)
	ENGINE = ReplacingMergeTree(exported_at)
	PARTITION BY toYYYYMM(match_time)
	ORDER BY (match_id, player)`

const insertMatchScoresSQL = `
	INSERT INTO match_scores (
		match_id, server_id, game_mode, map, match_time,
		player, position, population, score_percent, kills, deaths, won, exported_at
	)`

// ScoreRow is one scoreboard line of a processed match.
type ScoreRow struct {
	MatchID      int64
	ServerID     string
	GameMode     string
	Map          string
	MatchTime    time.Time
	Player       string
	Position     uint16
	Population   uint16
	ScorePercent float64
	Kills        int32
	Deaths       int32
	Won          uint8
}

// ScoreRows flattens a match into export rows, ordered by position.
func ScoreRows(match *models.Match) []ScoreRow {
	ranked := match.RankedScoreboard()
	rows := make([]ScoreRow, 0, len(ranked))
	for _, s := range ranked {
		row := ScoreRow{
			MatchID:      match.ID,
			ServerID:     match.ServerID,
			GameMode:     match.GameMode,
			Map:          match.Map,
			MatchTime:    match.Timestamp.UTC(),
			Player:       s.Player,
			Position:     uint16(s.Position),
			Population:   uint16(len(ranked)),
			ScorePercent: logic.ScoreboardPercent(s.Position, len(ranked)),
			Kills:        int32(s.Kills),
			Deaths:       int32(s.Deaths),
		}
		if s.Position == 0 {
			row.Won = 1
		}
		rows = append(rows, row)
	}
	return rows
}

// ExporterConfig configures the scoreboard exporter
type ExporterConfig struct {
	ClickHouse    driver.Conn
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *zap.Logger
}

// Exporter copies processed scoreboards to ClickHouse in batches.
// Export is best effort: the relational aggregates are the source of truth.
type Exporter struct {
	config ExporterConfig
	rows   chan ScoreRow
	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger *zap.SugaredLogger
	once   sync.Once
}

func NewExporter(cfg ExporterConfig) *Exporter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Exporter{
		config: cfg,
		rows:   make(chan ScoreRow, cfg.QueueSize),
		logger: cfg.Logger.Sugar(),
	}
}

// EnsureSchema creates the export table if it does not exist.
func (e *Exporter) EnsureSchema(ctx context.Context) error {
	return e.config.ClickHouse.Exec(ctx, createMatchScoresSQL)
}

// Start launches the flush loop. The loop drains pending rows once ctx is done or Stop is called.
func (e *Exporter) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.run(ctx)

	e.logger.Infow("Scoreboard exporter started",
		"queueSize", e.config.QueueSize,
		"batchSize", e.config.BatchSize,
		"flushInterval", e.config.FlushInterval,
	)
}

// Stop flushes pending rows and waits for the flush loop to exit.
func (e *Exporter) Stop() {
	e.once.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		e.logger.Info("Scoreboard exporter stopped")
	})
}

// Export queues the scoreboard of a processed match. Rows are shed when the queue is full.
func (e *Exporter) Export(match *models.Match) {
	for _, row := range ScoreRows(match) {
		select {
		case e.rows <- row:
		default:
			scoresLoadShed.Inc()
			e.logger.Warnw("Export queue full, dropping score row", "match_id", row.MatchID, "player", row.Player)
		}
	}
}

func (e *Exporter) run(ctx context.Context) {
	defer e.wg.Done()

	batch := make([]ScoreRow, 0, e.config.BatchSize)
	ticker := time.NewTicker(e.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		start := time.Now()
		// The flush runs on its own deadline so the final drain survives cancellation.
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := e.send(sendCtx, batch)
		cancel()
		exportBatchDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			e.logger.Errorw("Score export failed", "batchSize", len(batch), "error", err)
			scoresExportFailed.Add(float64(len(batch)))
		} else {
			scoresExported.Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case row := <-e.rows:
			batch = append(batch, row)
			if len(batch) >= e.config.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-ctx.Done():
			for {
				select {
				case row := <-e.rows:
					batch = append(batch, row)
					if len(batch) >= e.config.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (e *Exporter) send(ctx context.Context, rows []ScoreRow) error {
	chBatch, err := e.config.ClickHouse.PrepareBatch(ctx, insertMatchScoresSQL)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, r := range rows {
		if err := chBatch.Append(
			r.MatchID,
			r.ServerID,
			r.GameMode,
			r.Map,
			r.MatchTime,
			r.Player,
			r.Position,
			r.Population,
			r.ScorePercent,
			r.Kills,
			r.Deaths,
			r.Won,
			now,
		); err != nil {
			e.logger.Warnw("Failed to append score row", "match_id", r.MatchID, "player", r.Player, "error", err)
			continue
		}
	}

	return chBatch.Send()
}
