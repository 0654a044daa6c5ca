package relay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/racerxdl/go-mcp23017"
	"github.com/sirupsen/logrus"
)

type Mcp23017Pin struct {
	device *mcp23017.Device
	pin    uint8
}

func NewMcp23017Pin(device *mcp23017.Device, pin uint8) (p *Mcp23017Pin, err error) {
	p = &Mcp23017Pin{device: device, pin: pin}
	err = p.device.PinMode(pin, mcp23017.OUTPUT)
	return p, err
}

func (m *Mcp23017Pin) High() error {
	return m.device.DigitalWrite(m.pin, mcp23017.HIGH)
}

func (m *Mcp23017Pin) Low() error {
	return m.device.DigitalWrite(m.pin, mcp23017.LOW)
}

type SetPin interface {
	High() error
	Low() error
}

// Wired is a relay driven by a GPIO pin, active low unless NormalClosed.
type Wired struct {
	Pin          SetPin
	NormalClosed bool

	pressed atomic.Bool
}

func (p *Wired) Press(ctx context.Context, hold time.Duration) error {
	if err := p.engage(); err != nil {
		return err
	}
	p.pressed.Store(true)
	defer func() {
		p.pressed.Store(false)
		if err := p.release(); err != nil {
			logrus.Errorf("wired relay release failed: %s", err)
		}
	}()

	select {
	case <-time.After(hold):
		return nil
	case <-ctx.Done():
		logrus.Debug("wired relay press interrupted")
		return ctx.Err()
	}
}

func (p *Wired) IsPressed() bool {
	return p.pressed.Load()
}

func (p *Wired) engage() error {
	if !p.NormalClosed {
		return p.Pin.Low()
	}

	return p.Pin.High()
}

func (p *Wired) release() error {
	if !p.NormalClosed {
		return p.Pin.High()
	}

	return p.Pin.Low()
}
