package shutter

import (
	"context"

	"github.com/pkg/errors"
)

const (
	ShutterOpenState    = "open"
	ShutterClosedState  = "closed"
	ShutterOpeningState = "opening"
	ShutterClosingState = "closing"
)

const (
	FullOpenPosition  = 100
	FullClosePosition = 0
)

var (
	// ErrInvalidPosition is returned for a position outside of FullClosePosition..FullOpenPosition.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrInvalidDuration is returned for a non-positive traversal duration.
	ErrInvalidDuration = errors.New("invalid duration")
)

type ShutterUpdateHandler func(state string, position int)

type Shutter interface {
	Name() string
	FullOpenPosition() int
	FullClosePosition() int

	Position() int
	State() string
	IsOpening() bool
	IsClosing() bool
	IsClosed() bool

	OnUpdate(h ShutterUpdateHandler)

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Stop(ctx context.Context) error
	SetPosition(ctx context.Context, position int) error
}

// StatelessShutter has no position feedback, its position can only be restored from outside.
type StatelessShutter interface {
	Shutter

	ResetPosition(position int) error
}

// ValidatePosition checks position against the full close/open range.
func ValidatePosition(position int) error {
	if position < FullClosePosition || position > FullOpenPosition {
		return errors.Wrapf(ErrInvalidPosition, "%d is out of range open/close position (%d/%d)",
			position, FullOpenPosition, FullClosePosition)
	}
	return nil
}
