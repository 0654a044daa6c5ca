package relay

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const DefaultHold = 500 * time.Millisecond

// Transmitter sends pulses by pressing the buttons of a physical remote wired to relays.
type Transmitter struct {
	open  Relay
	close Relay
	hold  time.Duration
}

// NewTransmitter pairs the open and close relays so a single remote never has both buttons held.
func NewTransmitter(open, close Relay, hold time.Duration) *Transmitter {
	if hold <= 0 {
		hold = DefaultHold
	}
	o, c := NewRelayPair(open, close)
	return &Transmitter{open: o, close: c, hold: hold}
}

func (t *Transmitter) SendOpen(ctx context.Context) error {
	return errors.Wrap(t.open.Press(ctx, t.hold), "open button")
}

func (t *Transmitter) SendClose(ctx context.Context) error {
	return errors.Wrap(t.close.Press(ctx, t.hold), "close button")
}
