package timed

import (
	"testing"
	"time"

	"github.com/jkaflik/timedshutter2mqtt/internal/shutter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTravelTime(t *testing.T) {
	cal := seconds(20, 10)

	assert.Equal(t, 10*time.Second, TravelTime(0, 50, cal))
	assert.Equal(t, 20*time.Second, TravelTime(0, 100, cal))
	assert.Equal(t, 10*time.Second, TravelTime(100, 0, cal))
	assert.Equal(t, 6300*time.Millisecond, TravelTime(63, 0, cal))
}

func TestProject(t *testing.T) {
	t.Run("midpoint", func(t *testing.T) {
		assert.Equal(t, 50, Project(0, 100, 10*time.Second, seconds(20, 99)))
	})

	t.Run("half way to 50 with asymmetric motor", func(t *testing.T) {
		assert.Equal(t, 25, Project(0, 50, 5*time.Second, seconds(20, 10)))
	})

	t.Run("truncates instead of rounding", func(t *testing.T) {
		assert.Equal(t, 0, Project(0, 100, 999*time.Millisecond, seconds(100, 100)))
		// 63 - 31.5 = 31.5
		assert.Equal(t, 31, Project(63, 0, 31500*time.Millisecond, seconds(100, 100)))
	})

	t.Run("completion is exact", func(t *testing.T) {
		cal := seconds(7, 3)
		for _, c := range []struct{ start, target int }{{0, 100}, {100, 0}, {13, 87}, {87, 13}, {0, 1}, {99, 98}} {
			d := TravelTime(c.start, c.target, cal)
			assert.Equal(t, c.target, Project(c.start, c.target, d, cal))
			assert.Equal(t, c.target, Project(c.start, c.target, d+time.Hour, cal))
		}
	})

	t.Run("clamped before start", func(t *testing.T) {
		assert.Equal(t, 30, Project(30, 70, -time.Second, seconds(25, 25)))
		assert.Equal(t, 30, Project(30, 70, 0, seconds(25, 25)))
	})

	t.Run("no move", func(t *testing.T) {
		assert.Equal(t, 42, Project(42, 42, time.Second, seconds(25, 25)))
	})
}

func TestProjectMonotonic(t *testing.T) {
	cal := seconds(17, 23)

	for _, c := range []struct{ start, target int }{{0, 100}, {100, 0}, {21, 64}, {64, 21}} {
		duration := TravelTime(c.start, c.target, cal)
		last := c.start
		for elapsed := time.Duration(0); elapsed <= duration+time.Second; elapsed += 37 * time.Millisecond {
			p := Project(c.start, c.target, elapsed, cal)
			if c.target > c.start {
				require.GreaterOrEqual(t, p, last, "%v at %s", c, elapsed)
			} else {
				require.LessOrEqual(t, p, last, "%v at %s", c, elapsed)
			}
			last = p
		}
		assert.Equal(t, c.target, last)
	}
}

func TestDirectionOf(t *testing.T) {
	assert.Equal(t, Opening, DirectionOf(10, 20))
	assert.Equal(t, Closing, DirectionOf(20, 10))
	assert.Equal(t, Idle, DirectionOf(20, 20))
	assert.Equal(t, shutter.ShutterOpeningState, Opening.String())
}

func TestNewCalibration(t *testing.T) {
	cal, err := NewCalibration(20, 10)
	require.NoError(t, err)
	assert.Equal(t, seconds(20, 10), cal)

	for _, c := range [][2]int{{0, 10}, {10, 0}, {-5, 10}} {
		_, err := NewCalibration(c[0], c[1])
		assert.ErrorIs(t, err, shutter.ErrInvalidDuration)
	}

	assert.Equal(t, seconds(DefaultOpenSeconds, DefaultCloseSeconds), DefaultCalibration())
}
