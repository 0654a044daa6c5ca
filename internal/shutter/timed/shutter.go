package timed

import (
	"context"
	"sync"

	"github.com/jkaflik/timedshutter2mqtt/internal/rf"
	"github.com/jkaflik/timedshutter2mqtt/internal/shutter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const inboxSize = 16

var _ shutter.StatelessShutter = (*Shutter)(nil)

// PositionStore keeps the last known position of a shutter across restarts.
type PositionStore interface {
	LoadPosition(name string) (position int, found bool, err error)
	SavePosition(name string, position int) error
}

type Config struct {
	Name        string
	Device      rf.DeviceID
	Calibration Calibration
}

type requestKind int

const (
	requestOpen requestKind = iota
	requestClose
	requestStop
	requestSetPosition
)

type request struct {
	kind     requestKind
	position int
	skipSend bool
	reply    chan error
}

// Shutter is an RF cover with a simulated position. Commands, local or
// received over the air, are queued and handled one at a time by Run.
type Shutter struct {
	name       string
	device     rf.DeviceID
	controller *Controller
	store      PositionStore

	inbox chan request

	mu       sync.RWMutex
	handlers []shutter.ShutterUpdateHandler
}

// NewShutter builds a shutter. store may be nil, then nothing survives a restart.
func NewShutter(cfg Config, tx rf.Transmitter, store PositionStore, opts ...Option) (*Shutter, error) {
	controller, err := NewController(cfg.Name, cfg.Calibration, tx, opts...)
	if err != nil {
		return nil, err
	}

	s := &Shutter{
		name:       cfg.Name,
		device:     cfg.Device,
		controller: controller,
		store:      store,
		inbox:      make(chan request, inboxSize),
	}
	controller.OnUpdate(s.onControllerUpdate)

	return s, nil
}

// Restore loads the last known position. A move interrupted by a restart is not resumed.
func (s *Shutter) Restore() error {
	if s.store == nil {
		return nil
	}

	position, found, err := s.store.LoadPosition(s.name)
	if err != nil {
		return errors.Wrapf(err, "%s: position restore failed", s.name)
	}
	if !found {
		logrus.Infof("%s: no stored position, assuming closed", s.name)
		return nil
	}

	return s.controller.Restore(position)
}

// Run handles queued commands until ctx is done, then freezes any move at its estimate.
func (s *Shutter) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.controller.Run(ctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				s.controller.Shutdown()
				return nil
			case r := <-s.inbox:
				err := s.handle(r)
				if err != nil {
					logrus.Errorf("%s: %s", s.name, err)
				}
				if r.reply != nil {
					r.reply <- err
				}
			}
		}
	})

	return g.Wait()
}

// HandleEvent maps remote control commands of this shutter onto moves. The
// remote already sent the pulse, so only the position is simulated.
func (s *Shutter) HandleEvent(event rf.Event) {
	if event.Device != s.device {
		return
	}

	var r request
	switch event.Command {
	case rf.CommandOn:
		r = request{kind: requestOpen, skipSend: true}
	case rf.CommandOff:
		r = request{kind: requestClose, skipSend: true}
	default:
		logrus.Debugf("%s: remote command %s ignored", s.name, event.Command)
		return
	}

	logrus.Debugf("%s: remote command %s received", s.name, event.Command)
	select {
	case s.inbox <- r:
	default:
		logrus.Warnf("%s: inbox full, remote command %s dropped", s.name, event.Command)
	}
}

func (s *Shutter) handle(r request) error {
	switch r.kind {
	case requestOpen:
		logrus.Infof("%s: open", s.name)
		return s.controller.RequestMove(MoveRequest{Target: shutter.FullOpenPosition, SkipSend: r.skipSend, Toggle: true})
	case requestClose:
		logrus.Infof("%s: close", s.name)
		return s.controller.RequestMove(MoveRequest{Target: shutter.FullClosePosition, SkipSend: r.skipSend, Toggle: true})
	case requestSetPosition:
		logrus.Infof("%s: set position to %d", s.name, r.position)
		return s.controller.RequestMove(MoveRequest{Target: r.position, SkipSend: r.skipSend})
	case requestStop:
		logrus.Infof("%s: stop", s.name)
		s.controller.Stop(r.skipSend)
		return nil
	default:
		return errors.Errorf("unknown request %d", r.kind)
	}
}

func (s *Shutter) do(ctx context.Context, r request) error {
	r.reply = make(chan error, 1)

	select {
	case s.inbox <- r:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-r.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Shutter) onControllerUpdate(state State) {
	if s.store != nil {
		if err := s.store.SavePosition(s.name, state.Position); err != nil {
			logrus.Errorf("%s: position store failed: %s", s.name, err)
		}
	}

	s.mu.RLock()
	handlers := make([]shutter.ShutterUpdateHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(state.Name(), state.Position)
	}
}

func (s *Shutter) Name() string {
	return s.name
}

func (s *Shutter) Device() rf.DeviceID {
	return s.device
}

func (s *Shutter) FullOpenPosition() int {
	return shutter.FullOpenPosition
}

func (s *Shutter) FullClosePosition() int {
	return shutter.FullClosePosition
}

func (s *Shutter) Position() int {
	return s.controller.State().Position
}

func (s *Shutter) State() string {
	return s.controller.State().Name()
}

func (s *Shutter) IsOpening() bool {
	return s.controller.State().IsOpening()
}

func (s *Shutter) IsClosing() bool {
	return s.controller.State().IsClosing()
}

func (s *Shutter) IsClosed() bool {
	return s.controller.State().IsClosed()
}

func (s *Shutter) OnUpdate(h shutter.ShutterUpdateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *Shutter) Open(ctx context.Context) error {
	return s.do(ctx, request{kind: requestOpen})
}

func (s *Shutter) Close(ctx context.Context) error {
	return s.do(ctx, request{kind: requestClose})
}

func (s *Shutter) Stop(ctx context.Context) error {
	return s.do(ctx, request{kind: requestStop})
}

func (s *Shutter) SetPosition(ctx context.Context, position int) error {
	if err := shutter.ValidatePosition(position); err != nil {
		return errors.Wrap(err, s.name)
	}

	return s.do(ctx, request{kind: requestSetPosition, position: position})
}

func (s *Shutter) ResetPosition(position int) error {
	return s.controller.Restore(position)
}
