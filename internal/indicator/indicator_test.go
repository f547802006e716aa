package indicator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/smartbin/internal/pins"
	"github.com/banshee-data/smartbin/internal/timeutil"
)

type brokenPin struct{}

func (brokenPin) Name() string         { return "broken" }
func (brokenPin) Out(gpio.Level) error { return errors.New("short circuit") }

func TestBlink(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	status := pins.NewSimPin("GPIO23", gpio.Low)
	i := New(status, nil, clock)

	i.Blink(ReadyBlink)

	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High, gpio.Low}, status.Outs())
	assert.Equal(t, []time.Duration{ReadyBlink}, clock.Sleeps())
	on, _ := i.State()
	assert.False(t, on)
}

func TestFlashError(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	errLED := pins.NewSimPin("GPIO24", gpio.Low)
	i := New(nil, errLED, clock)

	i.FlashError(ErrorHold)

	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High, gpio.Low}, errLED.Outs())
	assert.Equal(t, []time.Duration{ErrorHold}, clock.Sleeps())
}

func TestStateTracksCommandsWithoutPins(t *testing.T) {
	i := New(nil, nil, timeutil.NewMockClock(time.Unix(0, 0)))
	i.Status(true)
	i.Error(true)
	status, errLED := i.State()
	assert.True(t, status)
	assert.True(t, errLED)

	assert.NoError(t, i.Cleanup())
	status, errLED = i.State()
	assert.False(t, status)
	assert.False(t, errLED)
}

func TestBrokenLEDIsNotFatal(t *testing.T) {
	i := New(brokenPin{}, pins.NewSimPin("GPIO24", gpio.Low), timeutil.NewMockClock(time.Unix(0, 0)))
	i.Status(true)
	assert.Error(t, i.Cleanup())
}
