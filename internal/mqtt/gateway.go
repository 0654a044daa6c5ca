package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/timedshutter2mqtt/internal/rf"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultGatewayTopicPrefix = "rfxtrx2mqtt"

	gatewayPublishTimeout = 2 * time.Second
)

// gatewayMessage is the payload of both sent and received RF commands.
type gatewayMessage struct {
	Device  string `json:"device"`
	Command string `json:"command"`
}

type EventHandler func(rf.Event)

// Gateway talks to an RF transceiver bridged to MQTT. Pulses are published to
// <prefix>/send, commands the transceiver hears are read from <prefix>/event.
type Gateway struct {
	mqtt paho.Client

	SendTopic  string
	EventTopic string

	mu       sync.RWMutex
	handlers map[rf.DeviceID][]EventHandler

	unsubscribeOnce sync.Once
}

func NewGateway(client paho.Client, topicPrefix string) *Gateway {
	if topicPrefix == "" {
		topicPrefix = DefaultGatewayTopicPrefix
	}
	return &Gateway{
		mqtt:       client,
		SendTopic:  fmt.Sprintf("%s/send", topicPrefix),
		EventTopic: fmt.Sprintf("%s/event", topicPrefix),
		handlers:   map[rf.DeviceID][]EventHandler{},
	}
}

// Transmitter returns the send side for a single device.
func (g *Gateway) Transmitter(device rf.DeviceID) rf.Transmitter {
	return &gatewayTransmitter{gateway: g, device: device}
}

// OnEvent registers h for events received from device.
func (g *Gateway) OnEvent(device rf.DeviceID, h EventHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[device] = append(g.handlers[device], h)
}

func (g *Gateway) Subscribe(ctx context.Context) error {
	if token := g.mqtt.Subscribe(g.EventTopic, 0, g.onEventHandler()); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "gateway: MQTT event topic subscription failed")
	}
	logrus.Infof("gateway: MQTT event topic %s subscribed", g.EventTopic)

	g.unsubscribeOnce.Do(func() {
		go func() {
			<-ctx.Done()
			if token := g.mqtt.Unsubscribe(g.EventTopic); token.Wait() && token.Error() != nil {
				logrus.Errorf("gateway: MQTT event topic unsubscribe failed: %s", token.Error())
			}
		}()
	})

	return nil
}

func (g *Gateway) send(ctx context.Context, device rf.DeviceID, cmd rf.Command) error {
	payload, err := json.Marshal(gatewayMessage{Device: device.String(), Command: cmd.String()})
	if err != nil {
		return err
	}

	token := g.mqtt.Publish(g.SendTopic, 0, false, payload)
	select {
	case <-token.Done():
	case <-time.After(gatewayPublishTimeout):
		return errors.Errorf("gateway: %s %s publish timed out", device, cmd)
	case <-ctx.Done():
		return ctx.Err()
	}

	return errors.Wrapf(token.Error(), "gateway: %s %s publish failed", device, cmd)
}

func (g *Gateway) onEventHandler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		var m gatewayMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			logrus.Errorf("gateway: invalid event %q: %s", msg.Payload(), err)
			return
		}

		device, err := rf.ParseDeviceID(m.Device)
		if err != nil {
			logrus.Errorf("gateway: %s", err)
			return
		}

		g.mu.RLock()
		handlers := g.handlers[device]
		g.mu.RUnlock()

		if len(handlers) == 0 {
			logrus.Debugf("gateway: event from unknown device %s ignored", device)
			return
		}

		event := rf.Event{Device: device, Command: rf.ParseCommand(m.Command)}
		for _, h := range handlers {
			h(event)
		}
	}
}

type gatewayTransmitter struct {
	gateway *Gateway
	device  rf.DeviceID
}

func (t *gatewayTransmitter) SendOpen(ctx context.Context) error {
	return t.gateway.send(ctx, t.device, rf.CommandOn)
}

func (t *gatewayTransmitter) SendClose(ctx context.Context) error {
	return t.gateway.send(ctx, t.device, rf.CommandOff)
}
