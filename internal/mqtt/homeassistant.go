package mqtt

import (
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/timedshutter2mqtt/internal/shutter"
	"github.com/pkg/errors"
)

const (
	haManufacturer = "Timed Shutter"
	haModel        = "Timed Shutter Blind"
)

type haDevice struct {
	Identifiers  []string `json:"ids,omitempty"`
	Manufacturer string   `json:"mf,omitempty"`
	Model        string   `json:"mdl,omitempty"`
	Name         string   `json:"name,omitempty"`
	SWVersion    string   `json:"sw,omitempty"`
}

type haEntity struct {
	AvailabilityTopic string `json:"avty_t,omitempty"`
	UniqueID          string `json:"uniq_id,omitempty"`
	Name              string `json:"name,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`

	Device haDevice `json:"device,omitempty"`
}

type haCover struct {
	haEntity
	StateTopic       string `json:"stat_t"`
	CommandTopic     string `json:"cmd_t"`
	PositionTopic    string `json:"pos_t"`
	SetPositionTopic string `json:"set_pos_t"`
	PositionOpen     int    `json:"pos_open"`
	PositionClosed   int    `json:"pos_clsd"`
	PayloadOpen      string `json:"pl_open"`
	PayloadStop      string `json:"pl_stop"`
	PayloadClose     string `json:"pl_cls"`
	StateOpen        string `json:"stat_open"`
	StateOpening     string `json:"stat_opening"`
	StateClosed      string `json:"stat_clsd"`
	StateClosing     string `json:"stat_closing"`
	Optimistic       bool   `json:"opt"`
}

func NewHACoverFromMQTTBridge(bridge *Bridge, version string) haCover {
	return haCover{
		haEntity: haEntity{
			UniqueID:    topicRoot + "_" + bridge.shutter.Name(),
			Name:        bridge.shutter.Name(),
			DeviceClass: "shutter",

			Device: haDevice{
				Identifiers:  []string{topicRoot + "_" + bridge.shutter.Name()},
				Manufacturer: haManufacturer,
				Model:        haModel,
				Name:         bridge.shutter.Name(),
				SWVersion:    version,
			},
		},
		StateTopic:       bridge.StateTopic,
		CommandTopic:     bridge.CommandTopic,
		PositionTopic:    bridge.PositionTopic,
		SetPositionTopic: bridge.PositionChangeTopic,
		PositionOpen:     bridge.shutter.FullOpenPosition(),
		PositionClosed:   bridge.shutter.FullClosePosition(),
		PayloadOpen:      mqttOpenCmd,
		PayloadStop:      mqttStopCmd,
		PayloadClose:     mqttCloseCmd,
		StateOpen:        shutter.ShutterOpenState,
		StateOpening:     shutter.ShutterOpeningState,
		StateClosed:      shutter.ShutterClosedState,
		StateClosing:     shutter.ShutterClosingState,
	}
}

func haDiscoveryTopic(prefix, name string) string {
	return fmt.Sprintf("%s/cover/%s/%s/config", prefix, topicRoot, name)
}

func PublishHAAutoDiscovery(client paho.Client, homeAssistantDiscoveryTopicPrefix string, haCover haCover) error {
	payload, err := json.Marshal(haCover)
	if err != nil {
		return err
	}

	topic := haDiscoveryTopic(homeAssistantDiscoveryTopicPrefix, haCover.Name)
	if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: HA discovery publish failed", haCover.Name)
	}

	return nil
}
