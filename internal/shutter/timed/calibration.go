package timed

import (
	"time"

	"github.com/jkaflik/timedshutter2mqtt/internal/shutter"
	"github.com/pkg/errors"
)

const (
	DefaultOpenSeconds  = 25
	DefaultCloseSeconds = 25
)

// Calibration holds the time a cover needs to travel its full range in each direction.
type Calibration struct {
	Open  time.Duration
	Close time.Duration
}

func NewCalibration(openSeconds, closeSeconds int) (Calibration, error) {
	c := Calibration{
		Open:  time.Duration(openSeconds) * time.Second,
		Close: time.Duration(closeSeconds) * time.Second,
	}
	return c, c.Validate()
}

func DefaultCalibration() Calibration {
	c, _ := NewCalibration(DefaultOpenSeconds, DefaultCloseSeconds)
	return c
}

func (c Calibration) Validate() error {
	if c.Open <= 0 {
		return errors.Wrapf(shutter.ErrInvalidDuration, "open duration %s must be positive", c.Open)
	}
	if c.Close <= 0 {
		return errors.Wrapf(shutter.ErrInvalidDuration, "close duration %s must be positive", c.Close)
	}
	return nil
}
