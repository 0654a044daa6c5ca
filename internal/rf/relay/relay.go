package relay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Relay shorts a remote control button while pressed.
type Relay interface {
	Press(ctx context.Context, hold time.Duration) error
	IsPressed() bool
}

// PoolProxy limits how many relays are pressed at once, e.g. to respect a power budget.
type PoolProxy struct {
	r Relay
	c chan struct{}
}

func NewPoolProxy(r Relay, pool chan struct{}) *PoolProxy {
	return &PoolProxy{r: r, c: pool}
}

func (p *PoolProxy) Press(ctx context.Context, hold time.Duration) error {
	select {
	case p.c <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() {
		<-p.c
	}()

	return p.r.Press(ctx, hold)
}

func (p *PoolProxy) IsPressed() bool {
	return p.r.IsPressed()
}

// Dumb only logs presses. Useful for dry runs.
type Dumb struct {
	Name string

	pressed atomic.Bool
}

func (r *Dumb) Press(ctx context.Context, hold time.Duration) error {
	r.pressed.Store(true)
	defer r.pressed.Store(false)

	logrus.Warnf("%s: dumb relay press (for %s)", r.Name, hold.String())

	select {
	case <-time.After(hold):
		logrus.Warnf("%s: dumb relay released", r.Name)
		return nil
	case <-ctx.Done():
		logrus.Warnf("%s: dumb relay press interrupted", r.Name)
		return ctx.Err()
	}
}

func (r *Dumb) IsPressed() bool {
	return r.pressed.Load()
}
