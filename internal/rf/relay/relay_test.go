package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolPress(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pool := make(chan struct{}, 4)

	t.Run("4 relays will be pressed at once on a pool of 4", func(t *testing.T) {
		start := time.Now()
		pressProxiedRelaysFor(ctx, pool, 4, time.Millisecond*5)
		assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*5)
	})

	t.Run("6 relays will be pressed in two batches on a pool of 4", func(t *testing.T) {
		start := time.Now()
		pressProxiedRelaysFor(ctx, pool, 6, time.Millisecond*5)
		assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*10)
	})

	t.Run("9 relays will be pressed in three batches on a pool of 4", func(t *testing.T) {
		start := time.Now()
		pressProxiedRelaysFor(ctx, pool, 9, time.Millisecond*5)
		assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*15)
	})
}

func pressProxiedRelaysFor(ctx context.Context, pool chan struct{}, num int, hold time.Duration) {
	var wg sync.WaitGroup

	for i := 0; i < num; i++ {
		relay := NewPoolProxy(&Dumb{}, pool)
		wg.Add(1)
		go func() {
			_ = relay.Press(ctx, hold)
			wg.Done()
		}()
	}

	wg.Wait()
}

func TestDumbPress(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	relay := Dumb{}

	t.Run("relay pressed for 5ms is held at least 5ms", func(t *testing.T) {
		hold := time.Millisecond * 5
		start := time.Now()
		assert.NoError(t, relay.Press(ctx, hold))
		assert.GreaterOrEqual(t, time.Since(start), hold)
		assert.False(t, relay.IsPressed())
	})

	t.Run("interrupted press returns context error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, relay.Press(ctx, time.Minute), context.Canceled)
	})
}

type recordingPin struct {
	mu     sync.Mutex
	levels []string
}

func (p *recordingPin) High() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, "high")
	return nil
}

func (p *recordingPin) Low() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, "low")
	return nil
}

func TestWiredPress(t *testing.T) {
	t.Run("normal open relay is active low", func(t *testing.T) {
		pin := &recordingPin{}
		w := &Wired{Pin: pin}
		assert.NoError(t, w.Press(context.Background(), time.Millisecond))
		assert.Equal(t, []string{"low", "high"}, pin.levels)
		assert.False(t, w.IsPressed())
	})

	t.Run("normal closed relay is active high", func(t *testing.T) {
		pin := &recordingPin{}
		w := &Wired{Pin: pin, NormalClosed: true}
		assert.NoError(t, w.Press(context.Background(), time.Millisecond))
		assert.Equal(t, []string{"high", "low"}, pin.levels)
	})

	t.Run("interrupted press is released and returns context error", func(t *testing.T) {
		pin := &recordingPin{}
		w := &Wired{Pin: pin}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, w.Press(ctx, time.Minute), context.Canceled)
		assert.Equal(t, []string{"low", "high"}, pin.levels)
		assert.False(t, w.IsPressed())
	})
}
