package timed

import (
	"time"

	"github.com/jkaflik/timedshutter2mqtt/internal/shutter"
)

type Direction int

const (
	Idle Direction = iota
	Opening
	Closing
)

func (d Direction) String() string {
	switch d {
	case Opening:
		return shutter.ShutterOpeningState
	case Closing:
		return shutter.ShutterClosingState
	default:
		return "idle"
	}
}

// DirectionOf returns the direction of a move from start to target.
func DirectionOf(start, target int) Direction {
	switch {
	case target > start:
		return Opening
	case target < start:
		return Closing
	default:
		return Idle
	}
}

// TravelTime is the time needed to move from start to target.
func TravelTime(start, target int, cal Calibration) time.Duration {
	full := cal.Close
	if DirectionOf(start, target) == Opening {
		full = cal.Open
	}
	return full * time.Duration(distance(start, target)) / 100
}

// Project estimates the position after elapsed time of a move from start to target.
// The result is truncated to a whole percent and equals target once the move is due.
func Project(start, target int, elapsed time.Duration, cal Calibration) int {
	d := DirectionOf(start, target)
	if d == Idle {
		return target
	}

	duration := TravelTime(start, target, cal)
	if duration <= 0 || elapsed >= duration {
		return target
	}
	if elapsed <= 0 {
		return start
	}

	moved := float64(elapsed) / float64(duration) * float64(distance(start, target))
	if d == Opening {
		return int(float64(start) + moved)
	}
	return int(float64(start) - moved)
}

func distance(start, target int) int {
	if target > start {
		return target - start
	}
	return start - target
}
