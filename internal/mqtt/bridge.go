package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/timedshutter2mqtt/internal/shutter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	mqttOpenCmd  = "open"
	mqttCloseCmd = "close"
	mqttStopCmd  = "stop"

	topicRoot = "timedshutter2mqtt"
)

// Bridge exposes a shutter over MQTT: state and position are published, commands are subscribed.
type Bridge struct {
	mqtt    paho.Client
	shutter shutter.Shutter

	StateTopic    string
	PositionTopic string
	MetadataTopic string

	CommandTopic        string
	PositionChangeTopic string
	PositionResetTopic  string

	// Metadata is published retained on every PublishMetadata, nil publishes nothing.
	Metadata interface{}

	unsubscribeOnce sync.Once
}

func NewBridge(client paho.Client, s shutter.Shutter) *Bridge {
	bridge := &Bridge{mqtt: client, shutter: s}
	bridge.StateTopic = fmt.Sprintf("%s/%s/state", topicRoot, s.Name())
	bridge.PositionTopic = fmt.Sprintf("%s/%s/position", topicRoot, s.Name())
	bridge.MetadataTopic = fmt.Sprintf("%s/%s/metadata", topicRoot, s.Name())
	bridge.CommandTopic = fmt.Sprintf("%s/%s/set", topicRoot, s.Name())
	bridge.PositionChangeTopic = fmt.Sprintf("%s/%s/position/set", topicRoot, s.Name())
	bridge.PositionResetTopic = fmt.Sprintf("%s/%s/position/reset", topicRoot, s.Name())

	s.OnUpdate(bridge.onShutterUpdateHandler())

	return bridge
}

func (b *Bridge) PublishMetadata() error {
	if b.Metadata == nil {
		return nil
	}

	payload, err := json.Marshal(b.Metadata)
	if err != nil {
		return err
	}

	if token := b.mqtt.Publish(b.MetadataTopic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT metadata publish failed", b.shutter.Name())
	}

	return nil
}

// PublishState publishes the current state, e.g. after a reconnect.
func (b *Bridge) PublishState() {
	b.publish(b.shutter.State(), b.shutter.Position())
}

// Subscribe listens on the command topics until ctx is done.
func (b *Bridge) Subscribe(ctx context.Context) error {
	if token := b.mqtt.Subscribe(b.CommandTopic, 0, b.onCommandHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT command topic subscription failed", b.shutter.Name())
	}
	logrus.Infof("%s: MQTT command topic subscribed", b.shutter.Name())

	if token := b.mqtt.Subscribe(b.PositionChangeTopic, 0, b.onPositionChangeHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position change topic subscription failed", b.shutter.Name())
	}
	logrus.Infof("%s: MQTT position change topic subscribed", b.shutter.Name())

	topics := []string{b.CommandTopic, b.PositionChangeTopic}
	if stateless, ok := b.shutter.(shutter.StatelessShutter); ok {
		if token := b.mqtt.Subscribe(b.PositionResetTopic, 0, b.onPositionResetHandler(stateless)); token.Wait() && token.Error() != nil {
			return errors.Wrapf(token.Error(), "%s: MQTT position reset topic subscription failed", b.shutter.Name())
		}
		logrus.Infof("%s: MQTT position reset topic subscribed", b.shutter.Name())
		topics = append(topics, b.PositionResetTopic)
	}

	// reconnects subscribe again, one watcher is enough
	b.unsubscribeOnce.Do(func() {
		go func() {
			<-ctx.Done()
			if token := b.mqtt.Unsubscribe(topics...); token.Wait() && token.Error() != nil {
				logrus.Errorf("%s: MQTT topics unsubscribe failed: %s", b.shutter.Name(), token.Error())
			}
		}()
	})

	return nil
}

func (b *Bridge) onShutterUpdateHandler() shutter.ShutterUpdateHandler {
	return func(state string, position int) {
		b.publish(state, position)
	}
}

func (b *Bridge) publish(state string, position int) {
	if token := b.mqtt.Publish(b.StateTopic, 0, true, state); token.Wait() && token.Error() != nil {
		logrus.Errorf("%s: MQTT state publish failed: %s", b.shutter.Name(), token.Error())
	}
	if token := b.mqtt.Publish(b.PositionTopic, 0, true, strconv.Itoa(position)); token.Wait() && token.Error() != nil {
		logrus.Errorf("%s: MQTT position publish failed: %s", b.shutter.Name(), token.Error())
	}
}

func (b *Bridge) onCommandHandler(ctx context.Context) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		var err error
		cmd := strings.ToLower(strings.TrimSpace(string(msg.Payload())))
		switch cmd {
		case mqttOpenCmd:
			err = b.shutter.Open(ctx)
		case mqttCloseCmd:
			err = b.shutter.Close(ctx)
		case mqttStopCmd:
			err = b.shutter.Stop(ctx)
		default:
			logrus.Errorf("%s: MQTT unsupported %s command received", b.shutter.Name(), cmd)
			return
		}
		if err != nil {
			logrus.Errorf("%s: MQTT %s command failed: %s", b.shutter.Name(), cmd, err)
		}
	}
}

func (b *Bridge) onPositionChangeHandler(ctx context.Context) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		pos, err := strconv.Atoi(strings.TrimSpace(string(msg.Payload())))
		if err != nil {
			logrus.Errorf("%s: MQTT invalid position %q received", b.shutter.Name(), msg.Payload())
			return
		}
		if err := b.shutter.SetPosition(ctx, pos); err != nil {
			logrus.Error(err)
		}
	}
}

// onPositionResetHandler syncs the simulated position with the real one, nothing is sent.
func (b *Bridge) onPositionResetHandler(s shutter.StatelessShutter) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		pos, err := strconv.Atoi(strings.TrimSpace(string(msg.Payload())))
		if err != nil {
			logrus.Errorf("%s: MQTT invalid position %q received", b.shutter.Name(), msg.Payload())
			return
		}
		if err := s.ResetPosition(pos); err != nil {
			logrus.Errorf("%s: MQTT position reset failed: %s", b.shutter.Name(), err)
			return
		}

		logrus.Infof("%s: MQTT position reset to %d", b.shutter.Name(), pos)
	}
}
