package xbee

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Pin is a digital I/O line of the radio, DIO0 to DIO7
type Pin byte

const (
	Pin0 Pin = iota
	Pin1
	Pin2
	Pin3
	Pin4
	Pin5
	Pin6
	Pin7
)

// PinConfig is the parameter of a Dn command
type PinConfig byte

const (
	ADC          PinConfig = 0x02
	DigitalInput PinConfig = 0x03
	DigitalLow   PinConfig = 0x04
	DigitalHigh  PinConfig = 0x05
)

// PinState is the output level of a digital output, a subset of PinConfig
type PinState byte

const (
	PinOff PinState = PinState(DigitalLow)
	PinOn  PinState = PinState(DigitalHigh)
)

var (
	// ErrPin is returned for pins the Dn commands do not address
	ErrPin = errors.New("invalid pin")
	// ErrPinConfig is returned for unknown pin configurations
	ErrPinConfig = errors.New("invalid pin config")
)

var pinConfigNames = map[PinConfig]string{
	ADC:          "adc",
	DigitalInput: "digital_input",
	DigitalLow:   "digital_low",
	DigitalHigh:  "digital_high",
}

func (c PinConfig) String() string {
	if s, ok := pinConfigNames[c]; ok {
		return s
	}
	return fmt.Sprintf("PinConfig(0x%02x)", byte(c))
}

// ParsePinConfig accepts the names returned by PinConfig.String
func ParsePinConfig(s string) (PinConfig, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range pinConfigNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrPinConfig, s)
}

func (s PinState) String() string {
	switch s {
	case PinOn:
		return "on"
	case PinOff:
		return "off"
	}
	return fmt.Sprintf("PinState(0x%02x)", byte(s))
}

// Command returns the AT command configuring the pin, "D0" to "D7"
func (p Pin) Command() (string, error) {
	if p > Pin7 {
		return "", fmt.Errorf("%w: %d", ErrPin, p)
	}
	return string([]byte{'D', '0' + byte(p)}), nil
}

// PinConfigFrame builds a request configuring pin on all devices, changes are applied immediately
func PinConfigFrame(pin Pin, config PinConfig, opts ...ComposeOption) (RemoteATCommandRequest, error) {
	if _, ok := pinConfigNames[config]; !ok {
		return RemoteATCommandRequest{}, fmt.Errorf("%w: 0x%02x", ErrPinConfig, byte(config))
	}
	cmd, err := pin.Command()
	if err != nil {
		return RemoteATCommandRequest{}, err
	}
	return Compose(ApplyChanges, cmd, byte(config), opts...)
}

// DigitalOutputFrame builds a request switching pin on or off
func DigitalOutputFrame(pin Pin, state PinState, opts ...ComposeOption) (RemoteATCommandRequest, error) {
	if state != PinOn && state != PinOff {
		return RemoteATCommandRequest{}, fmt.Errorf("%w: state 0x%02x", ErrPinConfig, byte(state))
	}
	return PinConfigFrame(pin, PinConfig(state), opts...)
}

// DigitalOutput switches pin on or off
func (o *Device) DigitalOutput(ctx context.Context, pin Pin, state PinState, opts ...ComposeOption) error {
	r, err := DigitalOutputFrame(pin, state, opts...)
	if err != nil {
		return err
	}
	return o.Send(ctx, r)
}

// PinConfig configures pin
func (o *Device) PinConfig(ctx context.Context, pin Pin, config PinConfig, opts ...ComposeOption) error {
	r, err := PinConfigFrame(pin, config, opts...)
	if err != nil {
		return err
	}
	return o.Send(ctx, r)
}
