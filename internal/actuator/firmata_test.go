package actuator

import (
	"errors"
	"testing"

	"github.com/spencerhhubert/go-firmata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	modes    map[uint8]firmata.PinMode
	writes   []write
	modeErr  error
	writeErr error
	closed   bool
}

func (c *fakeClient) SetPinMode(pin uint8, mode firmata.PinMode) error {
	if c.modeErr != nil {
		return c.modeErr
	}
	if c.modes == nil {
		c.modes = map[uint8]firmata.PinMode{}
	}
	c.modes[pin] = mode
	return nil
}

func (c *fakeClient) AnalogWrite(pin uint, pinData byte) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, write{uint8(pin), pinData})
	return nil
}

func (c *fakeClient) Close() { c.closed = true }

func TestFirmataBoardDrivesServos(t *testing.T) {
	c := &fakeClient{}
	s, err := NewServos(&firmataBoard{client: c}, testConfig())
	require.NoError(t, err)

	assert.Equal(t, map[uint8]firmata.PinMode{9: firmata.Servo, 10: firmata.Servo, 11: firmata.Servo}, c.modes)
	require.NoError(t, s.RouteTo("dry"))
	assert.Contains(t, c.writes, write{9, 90})

	require.NoError(t, s.Cleanup())
	assert.True(t, c.closed)
}

func TestFirmataBoardReportsUnsupportedPin(t *testing.T) {
	unsupported := errors.New("Pin mode 4 not supported by pin 9")
	_, err := NewServos(&firmataBoard{client: &fakeClient{modeErr: unsupported}}, testConfig())
	assert.ErrorIs(t, err, unsupported)
	assert.ErrorContains(t, err, "pin 9 (dry)")
}

func TestFirmataBoardReportsWriteFailure(t *testing.T) {
	c := &fakeClient{}
	s, err := NewServos(&firmataBoard{client: c}, testConfig())
	require.NoError(t, err)

	c.writeErr = errors.New("Invalid pin number 10")
	assert.ErrorIs(t, s.RouteTo("wet"), c.writeErr)
}
