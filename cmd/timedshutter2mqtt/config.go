package main

import (
	"context"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/timedshutter2mqtt/internal/mqtt"
	"github.com/jkaflik/timedshutter2mqtt/internal/rf"
	"github.com/jkaflik/timedshutter2mqtt/internal/rf/relay"
	"github.com/jkaflik/timedshutter2mqtt/internal/shutter/timed"
	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	transmitterGateway = "gateway"
	transmitterRelays  = "relays"
)

type cfgWiredRelaySetPin struct {
	Kind string `yaml:"kind"`

	Pin uint8 `yaml:"pin"`

	Mcp23017 int `yaml:"mcp23017"`
}

type cfgRelay struct {
	Kind string `yaml:"kind"`

	Pin          cfgWiredRelaySetPin `yaml:"pin"`
	NormalClosed bool                `yaml:"normal_closed"`
}

type cfgTransmitterRelays struct {
	Open  cfgRelay      `yaml:"open"`
	Close cfgRelay      `yaml:"close"`
	Hold  time.Duration `yaml:"hold"`
}

type cfgTransmitter struct {
	Kind string `yaml:"kind"`

	Relays cfgTransmitterRelays `yaml:"relays"`
}

type cfgShutterMQTTBridge struct {
	Metadata map[string]interface{} `yaml:"metadata"`
}

type cfgShutter struct {
	Name     string `yaml:"name"`
	DeviceID string `yaml:"device_id"`

	// nil means the default, anything else must be positive
	OpenSeconds  *int `yaml:"open_seconds"`
	CloseSeconds *int `yaml:"close_seconds"`

	Transmitter cfgTransmitter `yaml:"transmitter"`

	MQTTBridge cfgShutterMQTTBridge `yaml:"mqtt_bridge"`
}

type cfgDrivers struct {
	Relay struct {
		Pool     int `yaml:"pool" default:"0"`
		Mcp23017 map[int]struct {
			Bus          uint8 `yaml:"bus"`
			DeviceNumber uint8 `yaml:"device_number"`
		} `yaml:"mcp23017"`
	} `yaml:"relay"`
}

type cfgMQTT struct {
	ClientID string `yaml:"client_id" default:"timedshutter2mqtt" env:"CLIENT_ID"`
	Broker   string `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

type cfgGateway struct {
	TopicPrefix string `yaml:"topic_prefix" default:"rfxtrx2mqtt" env:"TOPIC_PREFIX"`
}

type cfgStore struct {
	Path string `yaml:"path" default:"timedshutter2mqtt.db" env:"PATH"`
}

type cfgMetrics struct {
	Enabled bool   `yaml:"enabled" default:"false" env:"ENABLED"`
	Addr    string `yaml:"addr" default:":9110" env:"ADDR"`
}

type config struct {
	LogLevel     string        `yaml:"log_level" default:"info" env:"LOG_LEVEL"`
	TickInterval time.Duration `yaml:"tick_interval" default:"1s" env:"TICK_INTERVAL"`

	MQTT    cfgMQTT    `yaml:"mqtt" env:"MQTT"`
	HASS    cfgHASS    `yaml:"hass" env:"HASS"`
	Gateway cfgGateway `yaml:"gateway" env:"GATEWAY"`
	Store   cfgStore   `yaml:"store" env:"STORE"`
	Metrics cfgMetrics `yaml:"metrics" env:"METRICS"`

	Shutters []cfgShutter `yaml:"shutters"`

	Drivers cfgDrivers `yaml:"drivers"`
}

var Cfg config

func newConfigLoader() *aconfig.Loader {
	return aconfig.LoaderFor(&Cfg, aconfig.Config{
		EnvPrefix: "TS2M",
		SkipFlags: true,
	})
}

var relaysPool chan struct{}

func loadConfigFromYamlFile(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&Cfg); err != nil {
		return errors.Wrapf(err, "%s: decode failed", filename)
	}

	if Cfg.Drivers.Relay.Pool > 0 {
		relaysPool = make(chan struct{}, Cfg.Drivers.Relay.Pool)
	}

	return nil
}

// validateConfig rejects anything that would fail while building the shutters.
func validateConfig() error {
	if _, err := logrus.ParseLevel(Cfg.LogLevel); err != nil {
		return err
	}
	if Cfg.TickInterval <= 0 {
		return errors.Errorf("tick_interval %s must be positive", Cfg.TickInterval)
	}

	names := map[string]bool{}
	for i, cfg := range Cfg.Shutters {
		if cfg.Name == "" {
			return errors.Errorf("shutters[%d]: name is required", i)
		}
		if names[cfg.Name] {
			return errors.Errorf("shutters[%d]: duplicated name %s", i, cfg.Name)
		}
		names[cfg.Name] = true

		if _, err := timedConfigFromCfg(cfg); err != nil {
			return err
		}

		switch cfg.Transmitter.Kind {
		case transmitterGateway:
			if cfg.DeviceID == "" {
				return errors.Errorf("%s: device_id is required for the %s transmitter", cfg.Name, transmitterGateway)
			}
		case transmitterRelays:
		default:
			return errors.Errorf("%s: %q is not supported transmitter kind", cfg.Name, cfg.Transmitter.Kind)
		}
	}

	return nil
}

func timedConfigFromCfg(cfg cfgShutter) (timed.Config, error) {
	c := timed.Config{Name: cfg.Name}

	if cfg.DeviceID != "" {
		id, err := rf.ParseDeviceID(cfg.DeviceID)
		if err != nil {
			return c, errors.Wrap(err, cfg.Name)
		}
		c.Device = id
	}

	openSeconds, closeSeconds := timed.DefaultOpenSeconds, timed.DefaultCloseSeconds
	if cfg.OpenSeconds != nil {
		openSeconds = *cfg.OpenSeconds
	}
	if cfg.CloseSeconds != nil {
		closeSeconds = *cfg.CloseSeconds
	}

	cal, err := timed.NewCalibration(openSeconds, closeSeconds)
	if err != nil {
		return c, errors.Wrap(err, cfg.Name)
	}
	c.Calibration = cal

	return c, nil
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(Cfg.MQTT.ClientID).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(time.Second).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}

func shuttersFromConfig(ctx context.Context, client paho.Client, gateway *mqtt.Gateway, store timed.PositionStore) (shutters []*timed.Shutter, bridges []*mqtt.Bridge, err error) {
	for _, cfg := range Cfg.Shutters {
		s, err := shutterFromConfig(ctx, cfg, gateway, store)
		if err != nil {
			return nil, nil, err
		}

		bridge := mqtt.NewBridge(client, s)
		if cfg.MQTTBridge.Metadata != nil {
			bridge.Metadata = cfg.MQTTBridge.Metadata
		}

		shutters = append(shutters, s)
		bridges = append(bridges, bridge)
	}

	return shutters, bridges, nil
}

func shutterFromConfig(ctx context.Context, cfg cfgShutter, gateway *mqtt.Gateway, store timed.PositionStore) (*timed.Shutter, error) {
	tc, err := timedConfigFromCfg(cfg)
	if err != nil {
		return nil, err
	}

	tx, err := transmitterFromConfig(ctx, cfg, gateway, tc.Device)
	if err != nil {
		return nil, errors.Wrap(err, cfg.Name)
	}

	s, err := timed.NewShutter(tc, tx, store, timed.WithTickInterval(Cfg.TickInterval))
	if err != nil {
		return nil, err
	}

	if err := s.Restore(); err != nil {
		logrus.Error(err)
	}

	// remotes are heard through the gateway whatever sends our own pulses
	if cfg.DeviceID != "" {
		gateway.OnEvent(tc.Device, s.HandleEvent)
	}

	return s, nil
}

func transmitterFromConfig(ctx context.Context, cfg cfgShutter, gateway *mqtt.Gateway, device rf.DeviceID) (rf.Transmitter, error) {
	switch cfg.Transmitter.Kind {
	case transmitterGateway:
		return gateway.Transmitter(device), nil
	case transmitterRelays:
		open, err := relayFromConfig(ctx, cfg.Transmitter.Relays.Open)
		if err != nil {
			return nil, err
		}
		close, err := relayFromConfig(ctx, cfg.Transmitter.Relays.Close)
		if err != nil {
			return nil, err
		}
		return relay.NewTransmitter(open, close, cfg.Transmitter.Relays.Hold), nil
	}

	return nil, errors.Errorf("%s is not supported transmitter kind", cfg.Transmitter.Kind)
}

func relayFromConfig(ctx context.Context, cfg cfgRelay) (relay.Relay, error) {
	switch cfg.Kind {
	case "wired":
		pin, err := wiredRelaySetPinFromConfig(ctx, cfg.Pin)
		if err != nil {
			return nil, err
		}
		return wrapRelayWithPoolProxy(&relay.Wired{
			Pin:          pin,
			NormalClosed: cfg.NormalClosed,
		}), nil
	case "dumb":
		return wrapRelayWithPoolProxy(&relay.Dumb{Name: cfg.Kind}), nil
	}

	return nil, errors.Errorf("%s is not supported relay kind", cfg.Kind)
}

func wrapRelayWithPoolProxy(r relay.Relay) relay.Relay {
	if relaysPool == nil {
		return r
	}

	return relay.NewPoolProxy(r, relaysPool)
}

func wiredRelaySetPinFromConfig(ctx context.Context, cfg cfgWiredRelaySetPin) (relay.SetPin, error) {
	if cfg.Kind != "mcp23017" {
		return nil, errors.Errorf("%s is not supported wired relay set pin kind", cfg.Kind)
	}

	device, err := mcp23017DeviceFromConfigByID(ctx, cfg.Mcp23017)
	if err != nil {
		return nil, err
	}

	return relay.NewMcp23017Pin(device, cfg.Pin)
}

var mcpDevices = map[int]*mcp23017.Device{}

func mcp23017DeviceFromConfigByID(ctx context.Context, id int) (*mcp23017.Device, error) {
	cfg, found := Cfg.Drivers.Relay.Mcp23017[id]
	if !found {
		return nil, errors.Errorf("%d is not valid defined drivers.relay.mcp23017", id)
	}

	if dev := mcpDevices[id]; dev != nil {
		return dev, nil
	}

	dev, err := mcp23017.Open(cfg.Bus, cfg.DeviceNumber)
	if err != nil {
		return nil, errors.Wrapf(err, "mcp23017 %d", id)
	}
	if err := dev.Reset(); err != nil {
		return nil, errors.Wrapf(err, "mcp23017 %d: reset", id)
	}
	go func() {
		<-ctx.Done()
		if err := dev.Close(); err != nil {
			logrus.Errorf("mcp23017: close failed %s", err)
			return
		}

		logrus.Infof("mcp23017: close")
	}()

	mcpDevices[id] = dev
	return dev, nil
}
