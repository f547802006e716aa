package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/smartbin/internal/serialmux"
)

// DefaultConfigPath is the canonical defaults file shipped with the repo.
const DefaultConfigPath = "config/smartbin.defaults.json"

// BinConfig describes one bin and its fill sensor. A bin uses either a
// trigger/echo GPIO pair or a serial rangefinder.
type BinConfig struct {
	Name        string  `json:"name"`
	DepthCm     float64 `json:"depth_cm"`
	TriggerPin  string  `json:"trigger_pin,omitempty"`
	EchoPin     string  `json:"echo_pin,omitempty"`
	SerialPort  string  `json:"serial_port,omitempty"`
	SerialUnits string  `json:"serial_units,omitempty"`

	Serial *serialmux.PortOptions `json:"serial,omitempty"`
}

// SerialOptions returns the bin's serial line settings, or zero options
// for the ranger defaults.
func (b BinConfig) SerialOptions() serialmux.PortOptions {
	if b.Serial == nil {
		return serialmux.PortOptions{}
	}
	return *b.Serial
}

// ServoConfig describes the Firmata board driving the bin doors.
type ServoConfig struct {
	Port        *string          `json:"port,omitempty"`
	Baud        *int             `json:"baud,omitempty"`
	Pins        map[string]uint8 `json:"pins,omitempty"`
	OpenAngle   *int             `json:"open_angle,omitempty"`
	ClosedAngle *int             `json:"closed_angle,omitempty"`
}

// MQTTConfig describes the telemetry broker. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      *string `json:"broker,omitempty"`
	ClientID    *string `json:"client_id,omitempty"`
	TopicPrefix *string `json:"topic_prefix,omitempty"`
	QoS         *int    `json:"qos,omitempty"`
}

// Config is the root configuration. Every scalar is a pointer so that a
// partial file only overrides what it names; the Get* accessors supply the
// defaults.
type Config struct {
	// Detection
	Detector            *string  `json:"detector,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	SafeLabel           *string  `json:"safe_label,omitempty"`
	ModelPath           *string  `json:"model_path,omitempty"`
	LabelsPath          *string  `json:"labels_path,omitempty"`
	ModelInputSize      *int     `json:"model_input_size,omitempty"`
	EnablePreprocessing *bool    `json:"enable_preprocessing,omitempty"`

	// Camera
	CameraIndex   *int `json:"camera_index,omitempty"`
	CameraWidth   *int `json:"camera_width,omitempty"`
	CameraHeight  *int `json:"camera_height,omitempty"`
	CameraScanMax *int `json:"camera_scan_max,omitempty"`

	// Trigger and ranging
	IRSensorPin    *string `json:"ir_sensor_pin,omitempty"`
	Debounce       *string `json:"debounce,omitempty"`      // duration string like "2s"
	PollInterval   *string `json:"poll_interval,omitempty"` // duration string like "100ms"
	EchoTimeout    *string `json:"echo_timeout,omitempty"`
	RangingSamples *int    `json:"ranging_samples,omitempty"`

	// Bins
	Bins                []BinConfig `json:"bins,omitempty"`
	BinStatusInterval   *string     `json:"bin_status_interval,omitempty"`
	BinFullThreshold    *float64    `json:"bin_full_threshold,omitempty"`
	MonitorErrorBackoff *string     `json:"monitor_error_backoff,omitempty"`

	// Actuation and indicators
	DwellTime    *string      `json:"dwell_time,omitempty"`
	Servo        *ServoConfig `json:"servo,omitempty"`
	StatusLEDPin *string      `json:"status_led_pin,omitempty"`
	ErrorLEDPin  *string      `json:"error_led_pin,omitempty"`

	MQTT   *MQTTConfig `json:"mqtt,omitempty"`
	Listen *string     `json:"listen,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a Config with all fields unset.
func EmptyConfig() *Config {
	return &Config{}
}

// DefaultBins is the stock three-bin layout.
func DefaultBins() []BinConfig {
	return []BinConfig{
		{Name: "dry", DepthCm: 30, TriggerPin: "GPIO5", EchoPin: "GPIO6"},
		{Name: "wet", DepthCm: 30, TriggerPin: "GPIO13", EchoPin: "GPIO19"},
		{Name: "electronic", DepthCm: 30, TriggerPin: "GPIO20", EchoPin: "GPIO21"},
	}
}

// DefaultConfig returns a fully populated configuration.
func DefaultConfig() *Config {
	return &Config{
		Detector:            ptrString("heuristic"),
		ConfidenceThreshold: ptrFloat64(0.4),
		SafeLabel:           ptrString("dry"),
		ModelInputSize:      ptrInt(224),
		EnablePreprocessing: ptrBool(false),
		CameraIndex:         ptrInt(0),
		CameraWidth:         ptrInt(320),
		CameraHeight:        ptrInt(240),
		CameraScanMax:       ptrInt(20),
		IRSensorPin:         ptrString("GPIO17"),
		Debounce:            ptrString("2s"),
		PollInterval:        ptrString("100ms"),
		EchoTimeout:         ptrString("100ms"),
		RangingSamples:      ptrInt(3),
		Bins:                DefaultBins(),
		BinStatusInterval:   ptrString("60s"),
		BinFullThreshold:    ptrFloat64(80),
		MonitorErrorBackoff: ptrString("10s"),
		DwellTime:           ptrString("2s"),
		StatusLEDPin:        ptrString("GPIO23"),
		ErrorLEDPin:         ptrString("GPIO24"),
		Listen:              ptrString(":8080"),
	}
}

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file fall back to defaults through the Get* accessors.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func validateDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	durations := []struct {
		name string
		v    *string
	}{
		{"debounce", c.Debounce},
		{"poll_interval", c.PollInterval},
		{"echo_timeout", c.EchoTimeout},
		{"bin_status_interval", c.BinStatusInterval},
		{"monitor_error_backoff", c.MonitorErrorBackoff},
		{"dwell_time", c.DwellTime},
	}
	for _, d := range durations {
		if err := validateDuration(d.name, d.v); err != nil {
			return err
		}
	}

	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}
	if c.BinFullThreshold != nil {
		if *c.BinFullThreshold < 0 || *c.BinFullThreshold > 100 {
			return fmt.Errorf("bin_full_threshold must be between 0 and 100, got %f", *c.BinFullThreshold)
		}
	}
	if c.RangingSamples != nil && *c.RangingSamples < 1 {
		return fmt.Errorf("ranging_samples must be at least 1, got %d", *c.RangingSamples)
	}
	if c.Detector != nil {
		switch strings.ToLower(*c.Detector) {
		case "", "heuristic":
		case "onnx":
			if c.ModelPath == nil || c.LabelsPath == nil {
				return fmt.Errorf("detector onnx requires model_path and labels_path")
			}
		default:
			return fmt.Errorf("unknown detector %q", *c.Detector)
		}
	}
	if c.MQTT != nil && c.MQTT.QoS != nil && (*c.MQTT.QoS < 0 || *c.MQTT.QoS > 2) {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", *c.MQTT.QoS)
	}
	if c.Servo != nil {
		for _, a := range []*int{c.Servo.OpenAngle, c.Servo.ClosedAngle} {
			if a != nil && (*a < 0 || *a > 180) {
				return fmt.Errorf("servo angles must be between 0 and 180, got %d", *a)
			}
		}
	}

	seen := make(map[string]bool, len(c.Bins))
	for i, b := range c.Bins {
		if b.Name == "" {
			return fmt.Errorf("bins[%d]: name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("bins[%d]: duplicate bin %q", i, b.Name)
		}
		seen[b.Name] = true
		if b.DepthCm <= 0 {
			return fmt.Errorf("bin %s: depth_cm must be positive, got %f", b.Name, b.DepthCm)
		}
		gpio := b.TriggerPin != "" || b.EchoPin != ""
		switch {
		case gpio && b.SerialPort != "":
			return fmt.Errorf("bin %s: use either trigger/echo pins or serial_port, not both", b.Name)
		case gpio && (b.TriggerPin == "" || b.EchoPin == ""):
			return fmt.Errorf("bin %s: trigger_pin and echo_pin must both be set", b.Name)
		case !gpio && b.SerialPort == "":
			return fmt.Errorf("bin %s: no sensor configured", b.Name)
		}
		if b.Serial != nil {
			if b.SerialPort == "" {
				return fmt.Errorf("bin %s: serial settings require serial_port", b.Name)
			}
			if _, err := b.Serial.Normalize(); err != nil {
				return fmt.Errorf("bin %s: serial: %w", b.Name, err)
			}
		}
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetDetector returns the detector kind or the default.
func (c *Config) GetDetector() string {
	if c.Detector == nil || *c.Detector == "" {
		return "heuristic"
	}
	return strings.ToLower(*c.Detector)
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *Config) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.4
	}
	return *c.ConfidenceThreshold
}

// GetSafeLabel returns the safe_label value or the default.
func (c *Config) GetSafeLabel() string {
	if c.SafeLabel == nil || *c.SafeLabel == "" {
		return "dry"
	}
	return *c.SafeLabel
}

func (c *Config) GetModelPath() string {
	if c.ModelPath == nil {
		return ""
	}
	return *c.ModelPath
}

func (c *Config) GetLabelsPath() string {
	if c.LabelsPath == nil {
		return ""
	}
	return *c.LabelsPath
}

// GetModelInputSize returns the model_input_size value or the default.
func (c *Config) GetModelInputSize() int {
	if c.ModelInputSize == nil || *c.ModelInputSize <= 0 {
		return 224
	}
	return *c.ModelInputSize
}

// GetEnablePreprocessing returns the enable_preprocessing value or the default.
func (c *Config) GetEnablePreprocessing() bool {
	if c.EnablePreprocessing == nil {
		return false
	}
	return *c.EnablePreprocessing
}

// GetCameraIndex returns the camera_index value or the default.
func (c *Config) GetCameraIndex() int {
	if c.CameraIndex == nil {
		return 0
	}
	return *c.CameraIndex
}

// GetCameraWidth returns the camera_width value or the default.
func (c *Config) GetCameraWidth() int {
	if c.CameraWidth == nil || *c.CameraWidth <= 0 {
		return 320
	}
	return *c.CameraWidth
}

// GetCameraHeight returns the camera_height value or the default.
func (c *Config) GetCameraHeight() int {
	if c.CameraHeight == nil || *c.CameraHeight <= 0 {
		return 240
	}
	return *c.CameraHeight
}

// GetCameraScanMax returns the camera_scan_max value or the default.
func (c *Config) GetCameraScanMax() int {
	if c.CameraScanMax == nil {
		return 20
	}
	return *c.CameraScanMax
}

// GetIRSensorPin returns the ir_sensor_pin value or the default.
func (c *Config) GetIRSensorPin() string {
	if c.IRSensorPin == nil || *c.IRSensorPin == "" {
		return "GPIO17"
	}
	return *c.IRSensorPin
}

// GetDebounce parses and returns the debounce window.
func (c *Config) GetDebounce() time.Duration {
	return durationOr(c.Debounce, 2*time.Second)
}

// GetPollInterval parses and returns the trigger poll interval.
func (c *Config) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, 100*time.Millisecond)
}

// GetEchoTimeout parses and returns the per-pulse echo timeout.
func (c *Config) GetEchoTimeout() time.Duration {
	return durationOr(c.EchoTimeout, 100*time.Millisecond)
}

// GetRangingSamples returns the ranging_samples value or the default.
func (c *Config) GetRangingSamples() int {
	if c.RangingSamples == nil || *c.RangingSamples < 1 {
		return 3
	}
	return *c.RangingSamples
}

// GetBins returns the configured bins or the stock layout.
func (c *Config) GetBins() []BinConfig {
	if len(c.Bins) == 0 {
		return DefaultBins()
	}
	return c.Bins
}

// GetBinStatusInterval parses and returns the monitor interval.
func (c *Config) GetBinStatusInterval() time.Duration {
	return durationOr(c.BinStatusInterval, 60*time.Second)
}

// GetBinFullThreshold returns the bin_full_threshold value or the default.
func (c *Config) GetBinFullThreshold() float64 {
	if c.BinFullThreshold == nil {
		return 80
	}
	return *c.BinFullThreshold
}

// GetMonitorErrorBackoff parses and returns the monitor back-off.
func (c *Config) GetMonitorErrorBackoff() time.Duration {
	return durationOr(c.MonitorErrorBackoff, 10*time.Second)
}

// GetDwellTime parses and returns how long a door stays open.
func (c *Config) GetDwellTime() time.Duration {
	return durationOr(c.DwellTime, 2*time.Second)
}

// GetServoPort returns the Firmata serial port, or "" when servos are not
// configured.
func (c *Config) GetServoPort() string {
	if c.Servo == nil || c.Servo.Port == nil {
		return ""
	}
	return *c.Servo.Port
}

// GetServoBaud returns the Firmata baud rate or the default.
func (c *Config) GetServoBaud() int {
	if c.Servo == nil || c.Servo.Baud == nil || *c.Servo.Baud <= 0 {
		return 57600
	}
	return *c.Servo.Baud
}

// GetServoPins returns the label to pin map or the stock wiring.
func (c *Config) GetServoPins() map[string]uint8 {
	if c.Servo == nil || len(c.Servo.Pins) == 0 {
		return map[string]uint8{"dry": 9, "wet": 10, "electronic": 11, "unknown": 6}
	}
	return c.Servo.Pins
}

// GetServoAngles returns the open and closed door angles.
func (c *Config) GetServoAngles() (open, closed uint8) {
	open, closed = 90, 0
	if c.Servo != nil && c.Servo.OpenAngle != nil {
		open = uint8(*c.Servo.OpenAngle)
	}
	if c.Servo != nil && c.Servo.ClosedAngle != nil {
		closed = uint8(*c.Servo.ClosedAngle)
	}
	return open, closed
}

// GetStatusLEDPin returns the status_led_pin value or the default.
func (c *Config) GetStatusLEDPin() string {
	if c.StatusLEDPin == nil {
		return "GPIO23"
	}
	return *c.StatusLEDPin
}

// GetErrorLEDPin returns the error_led_pin value or the default.
func (c *Config) GetErrorLEDPin() string {
	if c.ErrorLEDPin == nil {
		return "GPIO24"
	}
	return *c.ErrorLEDPin
}

// GetMQTTBroker returns the broker address, or "" when MQTT is disabled.
func (c *Config) GetMQTTBroker() string {
	if c.MQTT == nil || c.MQTT.Broker == nil {
		return ""
	}
	return *c.MQTT.Broker
}

// GetMQTTClientID returns the client id or the default.
func (c *Config) GetMQTTClientID() string {
	if c.MQTT == nil || c.MQTT.ClientID == nil || *c.MQTT.ClientID == "" {
		return "smartbin"
	}
	return *c.MQTT.ClientID
}

// GetMQTTTopicPrefix returns the topic prefix or the default.
func (c *Config) GetMQTTTopicPrefix() string {
	if c.MQTT == nil || c.MQTT.TopicPrefix == nil || *c.MQTT.TopicPrefix == "" {
		return "smartbin"
	}
	return *c.MQTT.TopicPrefix
}

// GetMQTTQoS returns the QoS level or the default.
func (c *Config) GetMQTTQoS() byte {
	if c.MQTT == nil || c.MQTT.QoS == nil {
		return 1
	}
	return byte(*c.MQTT.QoS)
}

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}
