// Package worker runs the aggregation pipeline: a single consumer that folds
// queued matches into the statistics aggregates, plus the sinks told about
// each committed match.
//
// Matches are applied one at a time. The update rules read-modify-write shared
// counters, so running two matches concurrently would lose increments.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/openmohaa/stats-aggregator/internal/logic"
	"github.com/openmohaa/stats-aggregator/internal/models"
	"github.com/openmohaa/stats-aggregator/internal/queue"
	"github.com/openmohaa/stats-aggregator/internal/store"
)

var errAlreadyProcessed = errors.New("match already processed")

// ScoreExporter receives every committed match.
type ScoreExporter interface {
	Export(match *models.Match)
}

// ProcessorConfig configures the aggregation consumer
type ProcessorConfig struct {
	Store    store.Store
	Queue    *queue.MatchQueue
	Notifier Notifier      // optional
	Exporter ScoreExporter // optional

	// MaxAttempts bounds consecutive transient failures per match. Zero retries forever.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// ProcessTimeout bounds one load-apply-commit cycle.
	ProcessTimeout time.Duration
	NotifyTimeout  time.Duration
	Logger         *zap.Logger
}

type retryState struct {
	attempts int
	backoff  *backoff.ExponentialBackOff
}

// Processor owns the match queue and the consumer goroutine draining it.
type Processor struct {
	config ProcessorConfig
	queue  *queue.MatchQueue
	logger *zap.SugaredLogger

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	retries   map[int64]*retryState
	timers    map[uint64]*time.Timer
	nextTimer uint64

	wg          sync.WaitGroup
	sideEffects sync.WaitGroup
}

// NewProcessor creates a processor. Ids may be enqueued before Start.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Queue == nil {
		cfg.Queue = queue.New()
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 30 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Processor{
		config:  cfg,
		queue:   cfg.Queue,
		logger:  cfg.Logger.Sugar(),
		retries: make(map[int64]*retryState),
		timers:  make(map[uint64]*time.Timer),
	}
}

// Start queues every match not yet processed, then launches the consumer.
// Calling Start again is a no-op.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	// The scan must finish before the consumer runs, or pending matches could sit unseen.
	if err := p.loadNotProcessed(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.started = true

	p.wg.Add(2)
	go p.run(runCtx)
	go p.reportQueueDepth(runCtx)

	p.logger.Infow("Aggregation processor started",
		"queueDepth", p.queue.Len(),
		"maxAttempts", p.config.MaxAttempts,
		"initialInterval", p.config.InitialInterval,
		"maxInterval", p.config.MaxInterval,
	)
	return nil
}

// Stop cancels the consumer, drops pending retry timers and waits for the
// in-flight match and any sink calls to finish. Dropped retries are picked up
// by the recovery scan on the next start.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.cancel()
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	p.mu.Unlock()

	p.logger.Info("Stopping aggregation processor...")
	p.wg.Wait()
	p.sideEffects.Wait()
	p.logger.Info("Aggregation processor stopped")
}

// Enqueue adds a match id to the tail of the queue. It never blocks.
func (p *Processor) Enqueue(id int64) {
	p.queue.Enqueue(id)
	matchesEnqueued.Inc()
}

// QueueDepth returns current queue size
func (p *Processor) QueueDepth() int {
	return p.queue.Len()
}

func (p *Processor) loadNotProcessed(ctx context.Context) error {
	uow, err := p.config.Store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("recovery scan: %w", err)
	}
	defer uow.Discard()

	ids, err := uow.FindNotProcessedMatchIDs(ctx)
	if err != nil {
		return fmt.Errorf("recovery scan: %w", err)
	}

	for _, id := range ids {
		p.queue.Enqueue(id)
	}
	matchesRecovered.Add(float64(len(ids)))
	p.logger.Infow("Queued not processed matches", "count", len(ids))
	return nil
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		id, err := p.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		queueDepth.Set(float64(p.queue.Len()))
		p.handle(ctx, id)
	}
}

func (p *Processor) handle(ctx context.Context, id int64) {
	defer func() {
		if r := recover(); r != nil {
			matchesFailed.Inc()
			p.forgetRetries(id)
			p.logger.Errorw("Match processing panic", "match_id", id, "error", r)
		}
	}()

	// Shutdown only interrupts the wait for work; a dequeued match runs to commit or rollback.
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.ProcessTimeout)
	defer cancel()

	start := time.Now()
	match, err := p.process(workCtx, id)
	matchProcessingDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		matchesProcessed.Inc()
		p.forgetRetries(id)
		p.logger.Infow("Match processed",
			"match_id", id,
			"server_id", match.ServerID,
			"players", match.Population(),
			"duration", time.Since(start),
		)
		p.afterCommit(match)

	case errors.Is(err, errAlreadyProcessed):
		matchesSkipped.Inc()
		p.forgetRetries(id)
		p.logger.Infow("Match already processed, skipping", "match_id", id)

	case errors.Is(err, store.ErrMatchNotFound):
		matchesMissing.Inc()
		p.forgetRetries(id)
		p.logger.Errorw("Queued match does not exist, dropping", "match_id", id, "error", err)

	case store.IsTransient(err):
		p.retry(id, err)

	default:
		matchesFailed.Inc()
		p.forgetRetries(id)
		p.logger.Errorw("Match processing failed", "match_id", id, "error", err)
	}
}

// process applies one match inside a single unit of work. Nothing is written
// unless every aggregate update and the processed flag commit together.
func (p *Processor) process(ctx context.Context, id int64) (*models.Match, error) {
	uow, err := p.config.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer uow.Discard()

	match, err := uow.FindMatchByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if match.Processed {
		return match, errAlreadyProcessed
	}

	if err := logic.ApplyMatch(ctx, uow, match); err != nil {
		return nil, err
	}

	match.Processed = true
	uow.MarkModified(match)

	if err := uow.Save(ctx); err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}
	return match, nil
}

// retry schedules id back onto the tail of the queue after a backoff delay,
// or parks it once it has failed MaxAttempts times in a row.
func (p *Processor) retry(id int64, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.retries[id]
	if !ok {
		st = &retryState{backoff: p.newBackOff()}
		p.retries[id] = st
	}
	st.attempts++

	if p.config.MaxAttempts > 0 && st.attempts >= p.config.MaxAttempts {
		delete(p.retries, id)
		p.deadLetter(id, st.attempts, cause)
		return
	}

	if p.stopped {
		p.logger.Warnw("Transient failure during shutdown, leaving match for recovery",
			"match_id", id, "attempt", st.attempts, "error", cause)
		return
	}

	delay := st.backoff.NextBackOff()
	p.nextTimer++
	timerID := p.nextTimer
	p.timers[timerID] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		_, pending := p.timers[timerID]
		delete(p.timers, timerID)
		p.mu.Unlock()

		if pending {
			p.queue.Enqueue(id)
		}
	})

	matchesRetried.Inc()
	p.logger.Warnw("Transient failure, match re-queued",
		"match_id", id,
		"attempt", st.attempts,
		"delay", delay,
		"error", cause,
	)
}

// deadLetter must be called with p.mu held.
func (p *Processor) deadLetter(id int64, attempts int, cause error) {
	matchesDeadLettered.Inc()
	p.logger.Errorw("Match exhausted its retries, parking it",
		"match_id", id,
		"attempts", attempts,
		"error", cause,
	)

	if p.config.Notifier == nil {
		return
	}
	p.sideEffects.Add(1)
	go func() {
		defer p.sideEffects.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.config.NotifyTimeout)
		defer cancel()
		if err := p.config.Notifier.DeadLetter(ctx, id, cause); err != nil {
			p.logger.Warnw("Failed to record dead letter", "match_id", id, "error", err)
		}
	}()
}

func (p *Processor) forgetRetries(id int64) {
	p.mu.Lock()
	delete(p.retries, id)
	p.mu.Unlock()
}

func (p *Processor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.InitialInterval
	b.MaxInterval = p.config.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// afterCommit hands a committed match to the sinks. Sink failures never touch
// the aggregates.
func (p *Processor) afterCommit(match *models.Match) {
	if p.config.Exporter != nil {
		p.config.Exporter.Export(match)
	}
	if p.config.Notifier == nil {
		return
	}

	p.sideEffects.Add(1)
	go func() {
		defer p.sideEffects.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Errorw("Notifier panic", "match_id", match.ID, "error", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), p.config.NotifyTimeout)
		defer cancel()
		if err := p.config.Notifier.MatchProcessed(ctx, match); err != nil {
			p.logger.Warnw("Failed to publish processed match", "match_id", match.ID, "error", err)
		}
	}()
}

func (p *Processor) reportQueueDepth(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			queueDepth.Set(float64(p.queue.Len()))
		case <-ctx.Done():
			return
		}
	}
}
