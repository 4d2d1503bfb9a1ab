package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

type Config struct {
	ConfigFile     string        `json:"-"`
	LogLevel       zerolog.Level `json:"-"`
	InstallService bool          `json:"-"`
	LogFile        string        `json:"log_file"`

	DeploymentType model.DeploymentType `json:"deployment_type"`
	Mode           model.HardwareMode   `json:"mode"`

	// serial backends
	ArduinoComPort string `json:"arduino_com_port"`
	RelayComPort   string `json:"relay_com_port"`
	BaudRate       int    `json:"baud_rate"`
	ComTimeoutMs   int    `json:"com_timeout_ms"`

	// FTDI backend
	EnableFTDIRelay  bool   `json:"enable_ftdi_relay"`
	FTDISerialNumber string `json:"ftdi_serial_number"`

	// GPIO backend
	RelayPins      []int `json:"relay_pins"`
	RelayActiveLow bool  `json:"relay_active_low"`
	DHTSensorPin   *int  `json:"dht_sensor_pin"`

	RelayCommands RelayCommandsConfig `json:"relay_commands"`

	TemperatureUnit                string  `json:"temperature_unit"`
	CoolingOffset                  float64 `json:"cooling_offset"`
	HeatingOffset                  float64 `json:"heating_offset"`
	TemperatureDifferenceThreshold float64 `json:"temperature_difference_threshold"`
	MinimumHeatingRatePer10Min     float64 `json:"minimum_heating_rate_per_10min"` // reserved
	CompressorMinOffMinutes        float64 `json:"compressor_min_off_minutes"`

	SensorPollIntervalSeconds int `json:"sensor_poll_interval_seconds"`
	DataSendIntervalSeconds   int `json:"data_send_interval_seconds"`
	ControlLoopIntervalMs     int `json:"control_loop_interval_ms"`

	HTTPRetryCount         int `json:"http_retry_count"`
	SensorFailureThreshold int `json:"sensor_failure_threshold"`

	APIHost string `json:"api_host"`
	APIPort int    `json:"api_port"`

	VMServer                  string  `json:"vm_server"`
	DeviceID                  string  `json:"device_id"`
	DefaultUserSetTemperature float64 `json:"default_user_set_temperature"`

	EventDBPath string `json:"event_db_path"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`

	NtfyTopic string `json:"ntfy_topic"`

	ServicePath string `json:"service_path"`

	// Parsed is populated by Load from RelayCommands and is the only relay
	// command representation downstream code sees.
	Parsed RelayCommands `json:"-"`
}

// Load reads flags and the JSON config file, applies defaults, parses relay
// commands, and validates. Invalid configuration refuses startup.
func Load() *Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to thermostat config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&cfg.InstallService, "install-service", false, "Write the systemd unit and exit")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	cfg.applyDefaults()

	parsed, err := cfg.RelayCommands.Parse()
	if err != nil {
		panic("Failed to parse relay commands: " + err.Error())
	}
	cfg.Parsed = parsed

	if err := cfg.Validate(); err != nil {
		panic("Invalid configuration: " + err.Error())
	}

	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.DeploymentType == "" {
		cfg.DeploymentType = model.DeployThermostat
	}
	if cfg.Mode == "" {
		cfg.Mode = model.HardwareAuto
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.ComTimeoutMs == 0 {
		cfg.ComTimeoutMs = 2000
	}
	if cfg.TemperatureUnit == "" {
		cfg.TemperatureUnit = "F"
	}
	if cfg.CoolingOffset == 0 {
		cfg.CoolingOffset = 0.5
	}
	if cfg.HeatingOffset == 0 {
		cfg.HeatingOffset = 0.5
	}
	if cfg.TemperatureDifferenceThreshold == 0 {
		cfg.TemperatureDifferenceThreshold = 1.3
	}
	if cfg.CompressorMinOffMinutes == 0 {
		cfg.CompressorMinOffMinutes = 5
	}
	if cfg.SensorPollIntervalSeconds == 0 {
		cfg.SensorPollIntervalSeconds = 10
	}
	if cfg.DataSendIntervalSeconds == 0 {
		cfg.DataSendIntervalSeconds = 120
	}
	if cfg.ControlLoopIntervalMs == 0 {
		cfg.ControlLoopIntervalMs = 5000
	}
	if cfg.HTTPRetryCount == 0 {
		cfg.HTTPRetryCount = 3
	}
	if cfg.SensorFailureThreshold == 0 {
		cfg.SensorFailureThreshold = 5
	}
	if cfg.APIHost == "" {
		cfg.APIHost = "0.0.0.0"
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 5001
	}
	if cfg.DefaultUserSetTemperature == 0 {
		cfg.DefaultUserSetTemperature = 70
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Validate checks cross-field constraints. It is exported so the API layer
// can re-validate a patched config before persisting it.
func (cfg *Config) Validate() error {
	var problems []string

	switch cfg.DeploymentType {
	case model.DeployThermostat, model.DeployProbe, model.DeployServer,
		model.DeployHybridProbe, model.DeployHybridThermo:
	default:
		problems = append(problems, fmt.Sprintf("unknown deployment_type %q", cfg.DeploymentType))
	}

	switch cfg.Mode {
	case model.HardwareAuto, model.HardwareWindows, model.HardwareLinux:
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %q", cfg.Mode))
	}

	if cfg.TemperatureUnit != "F" && cfg.TemperatureUnit != "C" {
		problems = append(problems, fmt.Sprintf("temperature_unit must be F or C, got %q", cfg.TemperatureUnit))
	}
	if cfg.CoolingOffset < 0 || cfg.HeatingOffset < 0 {
		problems = append(problems, "cooling_offset and heating_offset must not be negative")
	}
	if cfg.TemperatureDifferenceThreshold <= 0 {
		problems = append(problems, "temperature_difference_threshold must be positive")
	}
	if cfg.CompressorMinOffMinutes < 0 {
		problems = append(problems, "compressor_min_off_minutes must not be negative")
	}

	if cfg.DeploymentType.RunsControlLoop() {
		if err := cfg.Parsed.Complete(); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(cfg.RelayPins) > 0 {
		if cfg.DeploymentType.RunsControlLoop() && len(cfg.RelayPins) < 4 {
			problems = append(problems, fmt.Sprintf("relay_pins needs at least 4 pins for thermostat control, got %d", len(cfg.RelayPins)))
		}
		seen := map[int]bool{}
		for _, pin := range cfg.RelayPins {
			if seen[pin] {
				problems = append(problems, fmt.Sprintf("relay pin %d assigned more than once", pin))
			}
			seen[pin] = true
		}
		if cfg.DHTSensorPin != nil && seen[*cfg.DHTSensorPin] {
			problems = append(problems, fmt.Sprintf("dht_sensor_pin %d overlaps a relay pin", *cfg.DHTSensorPin))
		}
	}

	if cfg.EnableFTDIRelay && cfg.FTDISerialNumber == "" {
		problems = append(problems, "enable_ftdi_relay requires ftdi_serial_number")
	}

	if cfg.DeviceID == "" && cfg.VMServer != "" {
		problems = append(problems, "device_id is required when vm_server is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Save writes the config back to its JSON file atomically. Used by the
// config-update API operation.
func (cfg *Config) Save() error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	tmp := cfg.ConfigFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, cfg.ConfigFile); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
