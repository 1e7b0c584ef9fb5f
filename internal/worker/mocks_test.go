package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/redis/go-redis/v9"

	"github.com/openmohaa/stats-aggregator/internal/models"
)

// MockNotifier records every call. Safe for concurrent use.
type MockNotifier struct {
	mu          sync.Mutex
	Processed   []int64
	DeadLetters []int64
	Err         error
}

func (m *MockNotifier) MatchProcessed(ctx context.Context, match *models.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Processed = append(m.Processed, match.ID)
	return m.Err
}

func (m *MockNotifier) DeadLetter(ctx context.Context, matchID int64, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeadLetters = append(m.DeadLetters, matchID)
	return m.Err
}

func (m *MockNotifier) deadLetters() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.DeadLetters...)
}

func (m *MockNotifier) processed() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.Processed...)
}

// MockExporter records exported match ids
type MockExporter struct {
	mu  sync.Mutex
	IDs []int64
}

func (m *MockExporter) Export(match *models.Match) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IDs = append(m.IDs, match.ID)
}

func (m *MockExporter) ids() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.IDs...)
}

// MockClickHouseConn implements driver.Conn for testing
type MockClickHouseConn struct {
	driver.Conn

	mu         sync.Mutex
	Batches    []*MockBatch
	Execs      []string
	PrepareErr error
	SendErr    error
}

func (m *MockClickHouseConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	if m.PrepareErr != nil {
		return nil, m.PrepareErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &MockBatch{Query: query, sendErr: m.SendErr}
	m.Batches = append(m.Batches, b)
	return b, nil
}

func (m *MockClickHouseConn) Exec(ctx context.Context, query string, args ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Execs = append(m.Execs, query)
	return nil
}

// sentRows counts rows across batches that were sent successfully
func (m *MockClickHouseConn) sentRows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.Batches {
		if b.IsSent() {
			n += b.Rows()
		}
	}
	return n
}

func (m *MockClickHouseConn) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Batches)
}

type MockBatch struct {
	driver.Batch

	mu       sync.Mutex
	Query    string
	Appended [][]interface{}
	sent     bool
	sendErr  error
}

func (m *MockBatch) Append(v ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Appended = append(m.Appended, v)
	return nil
}

func (m *MockBatch) Send() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = true
	return nil
}

func (m *MockBatch) IsSent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

func (m *MockBatch) Rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Appended)
}

// MockRedis implements the parts of redis.Cmdable the notifier uses
type MockRedis struct {
	redis.Cmdable

	Published map[string][]string
	Pipe      *MockPipeline
	Err       error
}

func NewMockRedis() *MockRedis {
	return &MockRedis{
		Published: make(map[string][]string),
		Pipe:      &MockPipeline{Sets: make(map[string][]string), Hashes: make(map[string]map[string]string)},
	}
}

func (m *MockRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if m.Err != nil {
		cmd.SetErr(m.Err)
		return cmd
	}
	m.Published[channel] = append(m.Published[channel], string(message.([]byte)))
	cmd.SetVal(1)
	return cmd
}

func (m *MockRedis) TxPipeline() redis.Pipeliner {
	return m.Pipe
}

// MockPipeline buffers SADD and HSET until Exec
type MockPipeline struct {
	redis.Pipeliner

	Sets    map[string][]string
	Hashes  map[string]map[string]string
	pending []func()
	ExecErr error
}

func (m *MockPipeline) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	m.pending = append(m.pending, func() {
		for _, member := range members {
			m.Sets[key] = append(m.Sets[key], member.(string))
		}
	})
	return redis.NewIntCmd(ctx)
}

func (m *MockPipeline) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	m.pending = append(m.pending, func() {
		if m.Hashes[key] == nil {
			m.Hashes[key] = make(map[string]string)
		}
		for i := 0; i+1 < len(values); i += 2 {
			m.Hashes[key][values[i].(string)] = values[i+1].(string)
		}
	})
	return redis.NewIntCmd(ctx)
}

func (m *MockPipeline) Exec(ctx context.Context) ([]redis.Cmder, error) {
	defer func() { m.pending = nil }()
	if m.ExecErr != nil {
		return nil, m.ExecErr
	}
	for _, apply := range m.pending {
		apply()
	}
	return nil, nil
}

var errMockSink = errors.New("sink unavailable")
