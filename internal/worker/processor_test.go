package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/openmohaa/stats-aggregator/internal/models"
	"github.com/openmohaa/stats-aggregator/internal/store"
	"github.com/openmohaa/stats-aggregator/internal/store/memory"
)

var day1 = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

func testMatch(id int64, serverID string, ts time.Time, players ...string) models.Match {
	m := models.Match{ID: id, ServerID: serverID, GameMode: "dm", Map: "mohdm1", Timestamp: ts}
	for i, p := range players {
		m.Scoreboard = append(m.Scoreboard, models.Score{Player: p, Position: i, Kills: 10 - i, Deaths: i + 1})
	}
	return m
}

func newTestProcessor(t *testing.T, s store.Store, opts ...func(*ProcessorConfig)) *Processor {
	t.Helper()
	cfg := ProcessorConfig{
		Store:           s,
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	p := NewProcessor(cfg)
	t.Cleanup(p.Stop)
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *Processor) pendingRetries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// countingStore counts units of work opened
type countingStore struct {
	store.Store

	mu     sync.Mutex
	begins int
}

func (c *countingStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	c.mu.Lock()
	c.begins++
	c.mu.Unlock()
	return c.Store.Begin(ctx)
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.begins
}

func TestProcessor_AppliesMatch(t *testing.T) {
	s := memory.New()
	s.AddMatch(testMatch(1, "srv-a", day1, "alpha", "bravo", "charlie"))

	notifier := &MockNotifier{}
	exporter := &MockExporter{}
	p := newTestProcessor(t, s, func(c *ProcessorConfig) {
		c.Notifier = notifier
		c.Exporter = exporter
	})

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "commit", func() bool { return s.Saves() == 1 })
	waitFor(t, "notification", func() bool { return len(notifier.processed()) == 1 })

	snap := s.Snapshot()
	if !snap.Matches[1].Processed {
		t.Error("match not marked processed")
	}

	server := snap.Servers["srv-a"]
	want := models.ServerStatistics{
		ServerID:            "srv-a",
		TotalMatchesPlayed:  1,
		MaximumPopulation:   3,
		SumOfPopulations:    3,
		FirstMatchTimestamp: day1,
	}
	if diff := cmp.Diff(want, server); diff != "" {
		t.Errorf("server statistics mismatch (-want +got):\n%s", diff)
	}

	alpha := snap.Players["alpha"]
	if alpha.TotalMatchesWon != 1 || alpha.SumOfScoreboardPercents != 100 {
		t.Errorf("alpha = %+v, want one win at 100%%", alpha)
	}
	if got := snap.Players["charlie"].SumOfScoreboardPercents; got != 0 {
		t.Errorf("last place percent = %v, want 0", got)
	}

	if diff := cmp.Diff([]int64{1}, exporter.ids()); diff != "" {
		t.Errorf("exported ids mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessor_DuplicateIDsAreIdempotent(t *testing.T) {
	run := func(ids ...int64) memory.Snapshot {
		s := memory.New()
		s.AddMatch(testMatch(1, "srv-a", day1, "alpha", "bravo"))
		s.AddMatch(testMatch(2, "srv-b", day1, "alpha"))

		p := newTestProcessor(t, s)
		for _, id := range ids {
			p.Enqueue(id)
		}
		if err := p.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "queue drained", func() bool {
			snap := s.Snapshot()
			return snap.Matches[1].Processed && snap.Matches[2].Processed && p.QueueDepth() == 0
		})
		p.Stop()
		return s.Snapshot()
	}

	once := run(1, 2)
	repeated := run(1, 1, 2, 1, 2, 2)

	if diff := cmp.Diff(once, repeated); diff != "" {
		t.Errorf("duplicate queue entries changed the aggregates (-once +repeated):\n%s", diff)
	}
	if got := repeated.Players["alpha"].TotalMatchesPlayed; got != 2 {
		t.Errorf("alpha matches = %d, want 2", got)
	}
}

func TestProcessor_RecoversNotProcessedMatchesOnStart(t *testing.T) {
	s := memory.New()
	s.AddMatch(testMatch(1, "srv-a", day1, "alpha"))
	s.AddMatch(testMatch(2, "srv-a", day1.Add(time.Hour), "bravo"))
	done := testMatch(3, "srv-a", day1, "charlie")
	done.Processed = true
	s.AddMatch(done)

	p := newTestProcessor(t, s)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "recovered matches", func() bool { return s.Saves() == 2 })

	snap := s.Snapshot()
	if got := snap.Servers["srv-a"].TotalMatchesPlayed; got != 2 {
		t.Errorf("server matches = %d, want 2", got)
	}
	if _, ok := snap.Players["charlie"]; ok {
		t.Error("already processed match was applied again")
	}
}

func TestProcessor_StartIsIdempotent(t *testing.T) {
	cs := &countingStore{Store: memory.New()}
	p := newTestProcessor(t, cs)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if got := cs.count(); got != 1 {
		t.Errorf("recovery scans = %d, want 1", got)
	}
}

func TestProcessor_StartFailsWhenRecoveryFails(t *testing.T) {
	s := memory.New()
	s.AddMatch(testMatch(1, "srv-a", day1, "alpha"))
	s.FailBegin(errors.New("connection refused"))

	p := newTestProcessor(t, s)
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail when the recovery scan fails")
	}

	s.FailBegin(nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() after recovery error = %v", err)
	}
	waitFor(t, "commit", func() bool { return s.Saves() == 1 })
}

func TestProcessor_TransientFailureIsRetried(t *testing.T) {
	s := memory.New()
	s.AddMatch(testMatch(1, "srv-a", day1, "alpha", "bravo"))
	s.FailSaves(3, nil)

	notifier := &MockNotifier{}
	p := newTestProcessor(t, s, func(c *ProcessorConfig) {
		c.MaxAttempts = 0
		c.Notifier = notifier
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "commit after retries", func() bool { return s.Saves() == 1 })

	snap := s.Snapshot()
	if got := snap.Servers["srv-a"].TotalMatchesPlayed; got != 1 {
		t.Errorf("server matches = %d, want 1", got)
	}
	if got := snap.Players["bravo"].TotalMatchesPlayed; got != 1 {
		t.Errorf("bravo matches = %d, want 1", got)
	}
	if len(notifier.deadLetters()) != 0 {
		t.Error("unbounded retry should never dead letter")
	}
}

func TestProcessor_FailedSaveLeavesNoPartialState(t *testing.T) {
	s := memory.New()
	s.AddMatch(testMatch(1, "srv-a", day1, "alpha", "bravo"))
	s.AddMatch(testMatch(2, "srv-b", day1, "charlie"))
	s.FailSaves(1, errors.New("disk full"))

	p := newTestProcessor(t, s)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "second match", func() bool { return s.Saves() == 1 })

	snap := s.Snapshot()
	if snap.Matches[1].Processed {
		t.Error("failed match marked processed")
	}
	if _, ok := snap.Servers["srv-a"]; ok {
		t.Error("server statistics written despite failed save")
	}
	for _, player := range []string{"alpha", "bravo"} {
		if _, ok := snap.Players[player]; ok {
			t.Errorf("player %s written despite failed save", player)
		}
	}
	if len(snap.ServerGameModes) != 1 || len(snap.DatePlayers) != 1 {
		t.Errorf("only the second match should be visible, got %d game modes and %d date players",
			len(snap.ServerGameModes), len(snap.DatePlayers))
	}
}

func TestProcessor_DeadLettersAfterMaxAttempts(t *testing.T) {
	s := memory.New()
	s.AddMatch(testMatch(1, "srv-a", day1, "alpha"))
	s.FailSaves(3, nil)

	notifier := &MockNotifier{}
	p := newTestProcessor(t, s, func(c *ProcessorConfig) {
		c.MaxAttempts = 3
		c.Notifier = notifier
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "dead letter", func() bool { return len(notifier.deadLetters()) == 1 })

	if got := notifier.deadLetters()[0]; got != 1 {
		t.Errorf("dead lettered id = %d, want 1", got)
	}
	if s.Saves() != 0 {
		t.Errorf("saves = %d, want 0", s.Saves())
	}
	if p.pendingRetries() != 0 {
		t.Error("dead lettered match still has a pending retry")
	}
	if s.Snapshot().Matches[1].Processed {
		t.Error("dead lettered match must stay not processed")
	}
}

func TestProcessor_DeadLetteredMatchIsRecoveredOnRestart(t *testing.T) {
	s := memory.New()
	s.AddMatch(testMatch(1, "srv-a", day1, "alpha", "bravo"))
	s.FailSaves(2, nil)

	notifier := &MockNotifier{}
	first := newTestProcessor(t, s, func(c *ProcessorConfig) {
		c.MaxAttempts = 2
		c.Notifier = notifier
	})
	if err := first.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "dead letter", func() bool { return len(notifier.deadLetters()) == 1 })
	first.Stop()

	second := newTestProcessor(t, s)
	if err := second.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "recovered commit", func() bool { return s.Saves() == 1 })

	snap := s.Snapshot()
	if !snap.Matches[1].Processed {
		t.Error("match not processed after restart")
	}
	if got := snap.Players["alpha"].TotalMatchesPlayed; got != 1 {
		t.Errorf("alpha matches = %d, want exactly 1", got)
	}
}

func TestProcessor_MissingMatchIsDropped(t *testing.T) {
	s := memory.New()
	s.AddMatch(testMatch(1, "srv-a", day1, "alpha"))

	p := newTestProcessor(t, s)
	p.Enqueue(99)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "commit", func() bool { return s.Saves() == 1 })

	if p.pendingRetries() != 0 {
		t.Error("missing match must not be retried")
	}
	if _, ok := s.Snapshot().Matches[99]; ok {
		t.Error("missing match appeared in the store")
	}
}

func TestProcessor_SinkFailureDoesNotAffectAggregates(t *testing.T) {
	s := memory.New()
	s.AddMatch(testMatch(1, "srv-a", day1, "alpha"))

	notifier := &MockNotifier{Err: errMockSink}
	p := newTestProcessor(t, s, func(c *ProcessorConfig) { c.Notifier = notifier })
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "notification attempt", func() bool { return len(notifier.processed()) == 1 })

	if !s.Snapshot().Matches[1].Processed {
		t.Error("notifier failure rolled back the match")
	}
	if p.pendingRetries() != 0 {
		t.Error("notifier failure scheduled a retry")
	}
}

func TestProcessor_StopUnblocksIdleConsumer(t *testing.T) {
	p := newTestProcessor(t, memory.New())
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return while the consumer was idle")
	}
}

func TestProcessor_StopDropsPendingRetries(t *testing.T) {
	s := memory.New()
	s.AddMatch(testMatch(1, "srv-a", day1, "alpha"))
	s.FailSaves(1, nil)

	p := newTestProcessor(t, s, func(c *ProcessorConfig) {
		c.InitialInterval = time.Hour
		c.MaxInterval = time.Hour
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "scheduled retry", func() bool { return p.pendingRetries() == 1 })

	start := time.Now()
	p.Stop()
	if time.Since(start) > time.Second {
		t.Errorf("Stop() waited %v for a pending retry", time.Since(start))
	}
	if p.pendingRetries() != 0 {
		t.Error("retry timer survived Stop")
	}
	if s.Snapshot().Matches[1].Processed {
		t.Error("match processed after Stop")
	}
}

func TestProcessor_CountersAreConserved(t *testing.T) {
	s := memory.New()
	servers := []string{"srv-a", "srv-b", "srv-c"}
	players := []string{"alpha", "bravo", "charlie", "delta"}

	const total = 30
	population := 0
	for i := 0; i < total; i++ {
		ts := day1.Add(time.Duration(i) * 7 * time.Hour)
		n := 1 + i%len(players)
		population += n
		m := testMatch(int64(i+1), servers[i%len(servers)], ts, players[:n]...)
		if i%2 == 1 {
			m.GameMode = "tdm"
		}
		s.AddMatch(m)
	}

	p := newTestProcessor(t, s)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "all matches", func() bool { return s.Saves() == total })

	snap := s.Snapshot()

	sumServers := 0
	for id, srv := range snap.Servers {
		sumServers += srv.TotalMatchesPlayed

		byDay, byMode, byMap := 0, 0, 0
		for k, v := range snap.DateServers {
			if k.ServerID == id {
				byDay += v.MatchesPlayed
			}
		}
		for k, v := range snap.ServerGameModes {
			if k.ServerID == id {
				byMode += v.MatchesPlayed
			}
		}
		for k, v := range snap.ServerMaps {
			if k.ServerID == id {
				byMap += v.MatchesPlayed
			}
		}
		if byDay != srv.TotalMatchesPlayed || byMode != srv.TotalMatchesPlayed || byMap != srv.TotalMatchesPlayed {
			t.Errorf("%s: total %d, by day %d, by mode %d, by map %d",
				id, srv.TotalMatchesPlayed, byDay, byMode, byMap)
		}
	}
	if sumServers != total {
		t.Errorf("sum of server totals = %d, want %d", sumServers, total)
	}

	sumPlayers := 0
	for name, pl := range snap.Players {
		sumPlayers += pl.TotalMatchesPlayed

		byDay := 0
		for k, v := range snap.DatePlayers {
			if k.Player == name {
				byDay += v.MatchesPlayed
			}
		}
		if byDay != pl.TotalMatchesPlayed {
			t.Errorf("%s: total %d, by day %d", name, pl.TotalMatchesPlayed, byDay)
		}
	}
	if sumPlayers != population {
		t.Errorf("sum of player totals = %d, want %d", sumPlayers, population)
	}
}

func TestProcessor_ConcurrentProducers(t *testing.T) {
	s := memory.New()
	const total = 50
	for i := 1; i <= total; i++ {
		s.AddMatch(testMatch(int64(i), "srv-a", day1, "alpha", "bravo"))
	}

	p := newTestProcessor(t, s)

	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= total; i++ {
				p.Enqueue(int64(i))
			}
		}()
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	waitFor(t, "all matches", func() bool { return s.Saves() == total })
	waitFor(t, "queue drained", func() bool { return p.QueueDepth() == 0 })

	if got := s.Snapshot().Servers["srv-a"].TotalMatchesPlayed; got != total {
		t.Errorf("server matches = %d, want %d", got, total)
	}
}
