package timed

import (
	"context"
	"sync"
	"time"

	"github.com/jkaflik/timedshutter2mqtt/internal/metrics"
	"github.com/jkaflik/timedshutter2mqtt/internal/rf"
	"github.com/jkaflik/timedshutter2mqtt/internal/shutter"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTickInterval = time.Second

	pulseQueueSize = 8
)

// State is the observable state of a cover.
type State struct {
	Position  int
	Direction Direction
}

func (s State) IsClosed() bool  { return s.Position == shutter.FullClosePosition }
func (s State) IsOpening() bool { return s.Direction == Opening }
func (s State) IsClosing() bool { return s.Direction == Closing }

// Name maps the state onto one of the shutter.Shutter*State values.
func (s State) Name() string {
	switch {
	case s.Direction == Opening:
		return shutter.ShutterOpeningState
	case s.Direction == Closing:
		return shutter.ShutterClosingState
	case s.IsClosed():
		return shutter.ShutterClosedState
	default:
		return shutter.ShutterOpenState
	}
}

type MoveRequest struct {
	Target int
	// SkipSend suppresses the direction pulse, e.g. when a remote already sent it.
	SkipSend bool
	// Toggle stops a move already running in the requested direction instead of restarting it.
	Toggle bool
}

type UpdateHandler func(State)

type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

// Controller simulates the position of a cover without feedback. It owns at most
// one move at a time; a new request tears the previous move down before starting.
type Controller struct {
	name         string
	cal          Calibration
	tx           rf.Transmitter
	clock        clockwork.Clock
	tickInterval time.Duration

	pulses chan Direction

	mu       sync.RWMutex
	state    State
	handlers []UpdateHandler

	reqMu sync.Mutex
	move  *moveTask
}

type moveTask struct {
	start     int
	target    int
	direction Direction
	duration  time.Duration
	startedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	// reason is set before cancel, interrupted before done is closed.
	reason      string
	interrupted bool
}

func NewController(name string, cal Calibration, tx rf.Transmitter, opts ...Option) (*Controller, error) {
	if err := cal.Validate(); err != nil {
		return nil, errors.Wrap(err, name)
	}

	c := &Controller{
		name:         name,
		cal:          cal,
		tx:           tx,
		clock:        clockwork.NewRealClock(),
		tickInterval: DefaultTickInterval,
		pulses:       make(chan Direction, pulseQueueSize),
		state:        State{Position: shutter.FullClosePosition, Direction: Idle},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) OnUpdate(h UpdateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Run sends queued pulses until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-c.pulses:
			c.send(ctx, d)
		}
	}
}

func (c *Controller) RequestMove(req MoveRequest) error {
	if err := shutter.ValidatePosition(req.Target); err != nil {
		return errors.Wrap(err, c.name)
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	c.reap()

	// a closing move reports 0 for its last percent, so toggles go first
	current := c.State()
	if req.Toggle && current.Direction != Idle && current.Direction == toggleDirection(req.Target) {
		logrus.Debugf("%s: already %s, toggle to stop", c.name, current.Direction)
		c.stop(req.SkipSend)
		return nil
	}

	if DirectionOf(current.Position, req.Target) == Idle {
		logrus.Debugf("%s: already on a position %d", c.name, req.Target)
		return nil
	}

	if c.move != nil {
		previous := c.move.direction
		interrupted := c.cancelMove("superseded")

		current = c.State()
		if current.Position == req.Target {
			logrus.Debugf("%s: already on a position %d", c.name, req.Target)
			if interrupted && isIntermediate(req.Target) && !req.SkipSend {
				logrus.Debugf("%s: stopping at intermediate position", c.name)
				c.pulse(previous)
			}
			return nil
		}
	}

	c.startMove(current.Position, req.Target, req.SkipSend)
	return nil
}

func (c *Controller) Stop(skipSend bool) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	c.stop(skipSend)
}

// Restore sets a known position, abandoning any move without sending a pulse.
func (c *Controller) Restore(position int) error {
	if err := shutter.ValidatePosition(position); err != nil {
		return errors.Wrap(err, c.name)
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	c.reap()
	if c.move != nil {
		c.cancelMove("abandoned")
	}

	c.setState(State{Position: position, Direction: Idle})
	logrus.Infof("%s: position restored to %d", c.name, position)
	return nil
}

// Shutdown freezes a running move at its estimate. The motor is left alone.
func (c *Controller) Shutdown() {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	c.reap()
	if c.move != nil {
		c.cancelMove("abandoned")
	}
}

func (c *Controller) stop(skipSend bool) {
	c.reap()
	if c.move == nil {
		logrus.Debugf("%s: not moving, nothing to stop", c.name)
		return
	}

	direction := c.move.direction
	if !c.cancelMove("stopped") {
		logrus.Debugf("%s: move completed before stop", c.name)
		return
	}

	if skipSend {
		logrus.Debugf("%s: stopped (remote already sent command)", c.name)
		return
	}

	logrus.Debugf("%s: stopping by repeating last command", c.name)
	c.pulse(direction)
}

// reap forgets a move that completed on its own.
func (c *Controller) reap() {
	if c.move == nil {
		return
	}
	select {
	case <-c.move.done:
		c.move = nil
	default:
	}
}

// cancelMove waits for the move teardown and reports whether it was interrupted
// rather than completed.
func (c *Controller) cancelMove(reason string) bool {
	m := c.move
	c.move = nil

	logrus.Debugf("%s: found previous move, cancel", c.name)
	m.reason = reason
	m.cancel()
	<-m.done

	return m.interrupted
}

func (c *Controller) startMove(start, target int, skipSend bool) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &moveTask{
		start:     start,
		target:    target,
		direction: DirectionOf(start, target),
		duration:  TravelTime(start, target, c.cal),
		startedAt: c.clock.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.move = m

	logrus.Infof("%s: move from %d to %d (%s)", c.name, start, target, m.duration.String())
	c.setState(State{Position: start, Direction: m.direction})

	if !skipSend {
		c.pulse(m.direction)
	} else {
		logrus.Debugf("%s: %s pulse skipped", c.name, m.direction)
	}

	every := c.clock.NewTicker(c.tickInterval)
	due := c.clock.NewTimer(m.duration)
	go c.track(ctx, m, every, due)
}

// track publishes the projected position on every tick until the move is due or cancelled.
func (c *Controller) track(ctx context.Context, m *moveTask, every clockwork.Ticker, due clockwork.Timer) {
	defer close(m.done)
	defer m.cancel()
	defer every.Stop()
	defer due.Stop()

	for {
		select {
		case <-due.Chan():
			c.complete(m)
			return
		case <-every.Chan():
			elapsed := c.clock.Now().Sub(m.startedAt)
			if elapsed >= m.duration {
				c.complete(m)
				return
			}
			position := Project(m.start, m.target, elapsed, c.cal)
			logrus.Tracef("%s: position %d", c.name, position)
			c.setState(State{Position: position, Direction: m.direction})
		case <-ctx.Done():
			elapsed := c.clock.Now().Sub(m.startedAt)
			if elapsed >= m.duration {
				logrus.Debugf("%s: move was due, completing instead of %s", c.name, m.reason)
				c.complete(m)
				return
			}

			m.interrupted = true
			position := Project(m.start, m.target, elapsed, c.cal)
			metrics.Moves.WithLabelValues(c.name, m.reason).Inc()
			c.setState(State{Position: position, Direction: Idle})
			logrus.Infof("%s: move to %d %s at position %d", c.name, m.target, m.reason, position)
			return
		}
	}
}

func (c *Controller) complete(m *moveTask) {
	metrics.Moves.WithLabelValues(c.name, "completed").Inc()
	c.setState(State{Position: m.target, Direction: Idle})
	logrus.Infof("%s: updated state %s, position %d", c.name, c.State().Name(), m.target)

	// end stops halt the motor at 0 and 100 only
	if isIntermediate(m.target) {
		logrus.Debugf("%s: stopping at intermediate position", c.name)
		c.pulse(m.direction)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	handlers := make([]UpdateHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	metrics.Position.WithLabelValues(c.name).Set(float64(s.Position))
	switch s.Direction {
	case Opening:
		metrics.Moving.WithLabelValues(c.name).Set(1)
	case Closing:
		metrics.Moving.WithLabelValues(c.name).Set(-1)
	default:
		metrics.Moving.WithLabelValues(c.name).Set(0)
	}

	for _, h := range handlers {
		h(s)
	}
}

func (c *Controller) pulse(d Direction) {
	select {
	case c.pulses <- d:
	default:
		logrus.Warnf("%s: pulse queue full, %s pulse dropped", c.name, d)
		metrics.Pulses.WithLabelValues(c.name, commandLabel(d), "dropped").Inc()
	}
}

// send never retries: a pulse is delivered at most once.
func (c *Controller) send(ctx context.Context, d Direction) {
	var err error
	if d == Opening {
		err = c.tx.SendOpen(ctx)
	} else {
		err = c.tx.SendClose(ctx)
	}

	if err != nil {
		logrus.Warnf("%s: %s pulse unconfirmed: %s", c.name, commandLabel(d), err)
		metrics.Pulses.WithLabelValues(c.name, commandLabel(d), "unconfirmed").Inc()
		return
	}

	logrus.Debugf("%s: %s pulse sent", c.name, commandLabel(d))
	metrics.Pulses.WithLabelValues(c.name, commandLabel(d), "sent").Inc()
}

func isIntermediate(position int) bool {
	return position > shutter.FullClosePosition && position < shutter.FullOpenPosition
}

// toggleDirection is the direction an open or close request toggles.
func toggleDirection(target int) Direction {
	switch target {
	case shutter.FullOpenPosition:
		return Opening
	case shutter.FullClosePosition:
		return Closing
	}
	return Idle
}

func commandLabel(d Direction) string {
	if d == Opening {
		return "open"
	}
	return "close"
}
