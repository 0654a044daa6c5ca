// Package rf describes the radio side of a cover: a send-only transmitter and
// the coarse events a gateway receives from remote controls.
package rf

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Transmitter sends single pulses. A pulse starts the motor, or stops it when
// it is already moving in that direction. Delivery is never acknowledged.
type Transmitter interface {
	SendOpen(ctx context.Context) error
	SendClose(ctx context.Context) error
}

type Command int

const (
	CommandOther Command = iota
	CommandOn
	CommandOff
)

func ParseCommand(s string) Command {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return CommandOn
	case "off":
		return CommandOff
	default:
		return CommandOther
	}
}

func (c Command) String() string {
	switch c {
	case CommandOn:
		return "On"
	case CommandOff:
		return "Off"
	default:
		return "Other"
	}
}

// DeviceID routes events to a cover, e.g. "11:00:0a1b2c01".
type DeviceID struct {
	PacketType uint8
	SubType    uint8
	Address    string
}

func ParseDeviceID(s string) (DeviceID, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 || parts[2] == "" {
		return DeviceID{}, errors.Errorf("%q is not a valid device id, expected <packet type>:<sub type>:<address>", s)
	}

	packetType, err := strconv.ParseUint(parts[0], 16, 8)
	if err != nil {
		return DeviceID{}, errors.Wrapf(err, "device id %q: packet type", s)
	}
	subType, err := strconv.ParseUint(parts[1], 16, 8)
	if err != nil {
		return DeviceID{}, errors.Wrapf(err, "device id %q: sub type", s)
	}

	return DeviceID{
		PacketType: uint8(packetType),
		SubType:    uint8(subType),
		Address:    strings.ToLower(parts[2]),
	}, nil
}

func (id DeviceID) String() string {
	return fmt.Sprintf("%02x:%02x:%s", id.PacketType, id.SubType, id.Address)
}

// Event is a command received over the air from a remote control.
type Event struct {
	Device  DeviceID
	Command Command
}
