package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.BaudRate != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want %d", got.BaudRate, DefaultBaudRate)
	}
	if got.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", got.DataBits)
	}
	if got.StopBits != 1 {
		t.Errorf("StopBits = %d, want 1", got.StopBits)
	}
	if got.Parity != "N" {
		t.Errorf("Parity = %q, want %q", got.Parity, "N")
	}
}

func TestPortOptions_Normalize_Invalid(t *testing.T) {
	for _, opts := range []PortOptions{
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "mark"},
	} {
		if _, err := opts.Normalize(); err == nil {
			t.Errorf("Normalize(%+v): expected error", opts)
		}
	}
}

func TestPortOptions_Normalize_ParityNames(t *testing.T) {
	for in, want := range map[string]string{"none": "N", " even ": "E", "O": "O"} {
		got, err := PortOptions{Parity: in}.Normalize()
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if got.Parity != want {
			t.Errorf("Normalize(%q).Parity = %q, want %q", in, got.Parity, want)
		}
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{Parity: "E", StopBits: 2}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode: %v", err)
	}
	if mode.BaudRate != DefaultBaudRate {
		t.Errorf("BaudRate = %d", mode.BaudRate)
	}
	if mode.Parity != serial.EvenParity {
		t.Errorf("Parity = %v, want EvenParity", mode.Parity)
	}
	if mode.StopBits != serial.TwoStopBits {
		t.Errorf("StopBits = %v", mode.StopBits)
	}
}
