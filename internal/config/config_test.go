package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/smartbin/internal/serialmux"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() is invalid: %v", err)
	}
	if cfg.GetDetector() != "heuristic" {
		t.Errorf("GetDetector() = %q, want heuristic", cfg.GetDetector())
	}
	if cfg.GetConfidenceThreshold() != 0.4 {
		t.Errorf("GetConfidenceThreshold() = %f, want 0.4", cfg.GetConfidenceThreshold())
	}
	if cfg.GetDebounce() != 2*time.Second {
		t.Errorf("GetDebounce() = %v, want 2s", cfg.GetDebounce())
	}
	if cfg.GetBinStatusInterval() != 60*time.Second {
		t.Errorf("GetBinStatusInterval() = %v, want 60s", cfg.GetBinStatusInterval())
	}
	if len(cfg.GetBins()) != 3 {
		t.Errorf("GetBins() has %d bins, want 3", len(cfg.GetBins()))
	}
}

func TestGetterDefaults(t *testing.T) {
	cfg := EmptyConfig()

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"detector", cfg.GetDetector(), "heuristic"},
		{"confidence_threshold", cfg.GetConfidenceThreshold(), 0.4},
		{"safe_label", cfg.GetSafeLabel(), "dry"},
		{"model_input_size", cfg.GetModelInputSize(), 224},
		{"enable_preprocessing", cfg.GetEnablePreprocessing(), false},
		{"camera_index", cfg.GetCameraIndex(), 0},
		{"camera_width", cfg.GetCameraWidth(), 320},
		{"camera_height", cfg.GetCameraHeight(), 240},
		{"camera_scan_max", cfg.GetCameraScanMax(), 20},
		{"ir_sensor_pin", cfg.GetIRSensorPin(), "GPIO17"},
		{"debounce", cfg.GetDebounce(), 2 * time.Second},
		{"poll_interval", cfg.GetPollInterval(), 100 * time.Millisecond},
		{"echo_timeout", cfg.GetEchoTimeout(), 100 * time.Millisecond},
		{"ranging_samples", cfg.GetRangingSamples(), 3},
		{"bin_status_interval", cfg.GetBinStatusInterval(), 60 * time.Second},
		{"bin_full_threshold", cfg.GetBinFullThreshold(), 80.0},
		{"monitor_error_backoff", cfg.GetMonitorErrorBackoff(), 10 * time.Second},
		{"dwell_time", cfg.GetDwellTime(), 2 * time.Second},
		{"servo.port", cfg.GetServoPort(), ""},
		{"servo.baud", cfg.GetServoBaud(), 57600},
		{"status_led_pin", cfg.GetStatusLEDPin(), "GPIO23"},
		{"error_led_pin", cfg.GetErrorLEDPin(), "GPIO24"},
		{"mqtt.broker", cfg.GetMQTTBroker(), ""},
		{"mqtt.client_id", cfg.GetMQTTClientID(), "smartbin"},
		{"mqtt.topic_prefix", cfg.GetMQTTTopicPrefix(), "smartbin"},
		{"mqtt.qos", cfg.GetMQTTQoS(), byte(1)},
		{"listen", cfg.GetListen(), ":8080"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s default = %v, want %v", c.name, c.got, c.want)
		}
	}

	open, closed := cfg.GetServoAngles()
	if open != 90 || closed != 0 {
		t.Errorf("GetServoAngles() = %d, %d, want 90, 0", open, closed)
	}
	if diff := cmp.Diff(DefaultBins(), cfg.GetBins()); diff != "" {
		t.Errorf("GetBins() mismatch (-want +got):\n%s", diff)
	}
	if cfg.GetServoPins()["unknown"] != 6 {
		t.Errorf("GetServoPins() = %v, want unknown door on pin 6", cfg.GetServoPins())
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "smartbin.json")

	testJSON := `{
  "detector": "ONNX",
  "model_path": "/opt/models/waste.onnx",
  "labels_path": "/opt/models/labels.txt",
  "confidence_threshold": 0.8,
  "debounce": "500ms",
  "bins": [
    {"name": "dry", "depth_cm": 50, "serial_port": "/dev/ttyUSB0", "serial_units": "mm",
     "serial": {"baud_rate": 57600, "parity": "even"}}
  ],
  "servo": {"port": "/dev/ttyACM1", "pins": {"dry": 3}, "open_angle": 120},
  "mqtt": {"broker": "mqtt.local:1883", "qos": 0}
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetDetector() != "onnx" {
		t.Errorf("GetDetector() = %q, want onnx", cfg.GetDetector())
	}
	if cfg.GetConfidenceThreshold() != 0.8 {
		t.Errorf("GetConfidenceThreshold() = %f, want 0.8", cfg.GetConfidenceThreshold())
	}
	if cfg.GetDebounce() != 500*time.Millisecond {
		t.Errorf("GetDebounce() = %v, want 500ms", cfg.GetDebounce())
	}
	wantSerial := serialmux.PortOptions{BaudRate: 57600, Parity: "even"}
	wantBins := []BinConfig{{Name: "dry", DepthCm: 50, SerialPort: "/dev/ttyUSB0", SerialUnits: "mm", Serial: &wantSerial}}
	if diff := cmp.Diff(wantBins, cfg.GetBins()); diff != "" {
		t.Errorf("GetBins() mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.GetBins()[0].SerialOptions(); got != wantSerial {
		t.Errorf("SerialOptions() = %+v, want %+v", got, wantSerial)
	}
	if cfg.GetServoPort() != "/dev/ttyACM1" {
		t.Errorf("GetServoPort() = %q", cfg.GetServoPort())
	}
	open, closed := cfg.GetServoAngles()
	if open != 120 || closed != 0 {
		t.Errorf("GetServoAngles() = %d, %d, want 120, 0", open, closed)
	}
	if cfg.GetMQTTQoS() != 0 {
		t.Errorf("GetMQTTQoS() = %d, want 0", cfg.GetMQTTQoS())
	}

	// Omitted fields keep defaults.
	if cfg.GetBinStatusInterval() != 60*time.Second {
		t.Errorf("GetBinStatusInterval() = %v, want default 60s", cfg.GetBinStatusInterval())
	}
	if cfg.GetIRSensorPin() != "GPIO17" {
		t.Errorf("GetIRSensorPin() = %q, want default", cfg.GetIRSensorPin())
	}
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.json")
	if err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()

	badJSON := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(badJSON, []byte(`{"detector": `), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadConfig(badJSON); err == nil {
		t.Error("Expected error for malformed JSON, got nil")
	}

	badValue := filepath.Join(tmpDir, "bad_value.json")
	if err := os.WriteFile(badValue, []byte(`{"confidence_threshold": 1.5}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadConfig(badValue); err == nil {
		t.Error("Expected validation error, got nil")
	}
}

func TestLoadConfigRejectsNonJSON(t *testing.T) {
	_, err := LoadConfig("/some/path/config.yaml")
	if err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadConfigRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "large.json")

	largeData := make([]byte, 2*1024*1024) // 2MB
	if err := os.WriteFile(configPath, largeData, 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}

	_, err := LoadConfig(configPath)
	if err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetMQTTBroker() != "localhost:1883" {
		t.Errorf("GetMQTTBroker() = %q, want localhost:1883", cfg.GetMQTTBroker())
	}
	if diff := cmp.Diff(DefaultBins(), cfg.GetBins()); diff != "" {
		t.Errorf("defaults file bins differ from DefaultBins (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "valid config", cfg: DefaultConfig()},
		{name: "empty config is valid", cfg: &Config{}},
		{name: "threshold too high", cfg: &Config{ConfidenceThreshold: ptrFloat64(1.5)}, wantErr: true},
		{name: "threshold negative", cfg: &Config{ConfidenceThreshold: ptrFloat64(-0.1)}, wantErr: true},
		{name: "full threshold above 100", cfg: &Config{BinFullThreshold: ptrFloat64(101)}, wantErr: true},
		{name: "invalid debounce", cfg: &Config{Debounce: ptrString("soon")}, wantErr: true},
		{name: "negative dwell", cfg: &Config{DwellTime: ptrString("-1s")}, wantErr: true},
		{name: "zero samples", cfg: &Config{RangingSamples: ptrInt(0)}, wantErr: true},
		{name: "unknown detector", cfg: &Config{Detector: ptrString("yolo")}, wantErr: true},
		{name: "onnx without model", cfg: &Config{Detector: ptrString("onnx")}, wantErr: true},
		{name: "bad qos", cfg: &Config{MQTT: &MQTTConfig{QoS: ptrInt(3)}}, wantErr: true},
		{name: "bad servo angle", cfg: &Config{Servo: &ServoConfig{OpenAngle: ptrInt(200)}}, wantErr: true},
		{
			name:    "bin without name",
			cfg:     &Config{Bins: []BinConfig{{DepthCm: 30, SerialPort: "/dev/ttyUSB0"}}},
			wantErr: true,
		},
		{
			name: "duplicate bin",
			cfg: &Config{Bins: []BinConfig{
				{Name: "dry", DepthCm: 30, SerialPort: "/dev/ttyUSB0"},
				{Name: "dry", DepthCm: 30, SerialPort: "/dev/ttyUSB1"},
			}},
			wantErr: true,
		},
		{
			name:    "zero depth",
			cfg:     &Config{Bins: []BinConfig{{Name: "dry", SerialPort: "/dev/ttyUSB0"}}},
			wantErr: true,
		},
		{
			name:    "half a pin pair",
			cfg:     &Config{Bins: []BinConfig{{Name: "dry", DepthCm: 30, TriggerPin: "GPIO5"}}},
			wantErr: true,
		},
		{
			name:    "pins and serial",
			cfg:     &Config{Bins: []BinConfig{{Name: "dry", DepthCm: 30, TriggerPin: "GPIO5", EchoPin: "GPIO6", SerialPort: "/dev/ttyUSB0"}}},
			wantErr: true,
		},
		{
			name: "serial settings",
			cfg: &Config{Bins: []BinConfig{{Name: "dry", DepthCm: 30, SerialPort: "/dev/ttyUSB0",
				Serial: &serialmux.PortOptions{BaudRate: 19200, StopBits: 2}}}},
		},
		{
			name: "bad serial parity",
			cfg: &Config{Bins: []BinConfig{{Name: "dry", DepthCm: 30, SerialPort: "/dev/ttyUSB0",
				Serial: &serialmux.PortOptions{Parity: "mark"}}}},
			wantErr: true,
		},
		{
			name: "serial settings on a gpio bin",
			cfg: &Config{Bins: []BinConfig{{Name: "dry", DepthCm: 30, TriggerPin: "GPIO5", EchoPin: "GPIO6",
				Serial: &serialmux.PortOptions{}}}},
			wantErr: true,
		},
		{
			name:    "no sensor",
			cfg:     &Config{Bins: []BinConfig{{Name: "dry", DepthCm: 30}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationGetterFallbacks(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want time.Duration
	}{
		{name: "set", cfg: &Config{DwellTime: ptrString("3s")}, want: 3 * time.Second},
		{name: "nil pointer returns default", cfg: &Config{}, want: 2 * time.Second},
		{name: "empty string returns default", cfg: &Config{DwellTime: ptrString("")}, want: 2 * time.Second},
		{name: "invalid duration returns default", cfg: &Config{DwellTime: ptrString("invalid")}, want: 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDwellTime(); got != tt.want {
				t.Errorf("GetDwellTime() = %v, want %v", got, tt.want)
			}
		})
	}
}
