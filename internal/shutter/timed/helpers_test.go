package timed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var clockStart = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// movingWaiters is the number of clock waiters of a move: its ticker and its completion timer.
const movingWaiters = 2

type recordingTransmitter struct {
	mu    sync.Mutex
	sent  []string
	fails bool
}

func (r *recordingTransmitter) SendOpen(context.Context) error {
	return r.record("open")
}

func (r *recordingTransmitter) SendClose(context.Context) error {
	return r.record("close")
}

func (r *recordingTransmitter) record(cmd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, cmd)
	if r.fails {
		return errors.New("no ack")
	}
	return nil
}

func (r *recordingTransmitter) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type memoryStore struct {
	mu        sync.Mutex
	positions map[string]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{positions: map[string]int{}}
}

func (m *memoryStore) LoadPosition(name string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[name]
	return p, ok, nil
}

func (m *memoryStore) SavePosition(name string, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[name] = position
	return nil
}

func (m *memoryStore) Get(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[name]
}

// newTestController returns a controller on a fake clock whose pulse sender runs until the test ends.
func newTestController(t *testing.T, cal Calibration, tx *recordingTransmitter, opts ...Option) (*Controller, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(clockStart)
	c, err := NewController(t.Name(), cal, tx, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		c.Shutdown()
		cancel()
		<-done
	})

	return c, clock
}

func seconds(open, close int) Calibration {
	return Calibration{Open: time.Duration(open) * time.Second, Close: time.Duration(close) * time.Second}
}
