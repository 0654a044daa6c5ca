package relay

import (
	"context"
	"sync"
	"time"
)

// NewRelayPair makes sure the open and close buttons of one remote are never pressed together.
func NewRelayPair(open, close Relay) (*PairedRelay, *PairedRelay) {
	l := &sync.Mutex{}

	return &PairedRelay{l, open}, &PairedRelay{l, close}
}

type PairedRelay struct {
	l *sync.Mutex
	r Relay
}

func (r *PairedRelay) Press(ctx context.Context, hold time.Duration) error {
	r.l.Lock()
	defer r.l.Unlock()

	return r.r.Press(ctx, hold)
}

func (r *PairedRelay) IsPressed() bool {
	return r.r.IsPressed()
}
