package actuator

import (
	"fmt"

	"github.com/spencerhhubert/go-firmata"
)

// DefaultBaudRate is the StandardFirmata sketch speed.
const DefaultBaudRate = 57600

// firmataClient is the part of *firmata.FirmataClient the servos use.
type firmataClient interface {
	SetPinMode(pin uint8, mode firmata.PinMode) error
	AnalogWrite(pin uint, pinData byte) error
	Close()
}

type firmataBoard struct {
	client firmataClient
}

// OpenFirmata connects to a microcontroller running StandardFirmata.
func OpenFirmata(port string, baud int) (Board, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	client, err := firmata.NewClient(port, baud)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to firmata board on %s: %w", port, err)
	}
	return &firmataBoard{client: client}, nil
}

// ServoMode fails when the board reports that pin cannot drive a servo.
func (b *firmataBoard) ServoMode(pin uint8) error {
	return b.client.SetPinMode(pin, firmata.Servo)
}

// ServoWrite sends the angle as an analog message, which StandardFirmata
// forwards to the servo attached to pin.
func (b *firmataBoard) ServoWrite(pin uint8, angle uint8) error {
	return b.client.AnalogWrite(uint(pin), angle)
}

func (b *firmataBoard) Close() error {
	b.client.Close()
	return nil
}
