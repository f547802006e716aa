package serialmux

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// NewRealSerialMux opens the serial port at path with the given options and
// wraps it in a SerialMux named after the path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	return NewSerialMux[serial.Port](path, port), nil
}

// SimulatedPort is a SerialPorter whose reads are fed by a generator
// goroutine. Writes are discarded.
type SimulatedPort struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	done chan struct{}
}

func (p *SimulatedPort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *SimulatedPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *SimulatedPort) Close() error {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	p.w.Close()
	return p.r.Close()
}

// NewSimulatedSerialMux returns a mux over a port that emits line() every
// interval, terminated with '\r' like a MaxBotix ranger.
func NewSimulatedSerialMux(name string, interval time.Duration, line func() string) *SerialMux[*SimulatedPort] {
	r, w := io.Pipe()
	port := &SimulatedPort{r: r, w: w, done: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-port.done:
				return
			case <-ticker.C:
				if _, err := io.WriteString(w, line()+"\r"); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(name, port)
}
