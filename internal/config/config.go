// Package config loads the TOML configuration file describing callsign,
// serial ports, APRS-IS uplink, digipeater, telemetry, filters, GPS
// source, and beacon settings.
package config

import (
	"errors"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// SerialProtocol selects the wire protocol spoken on a serial port.
type SerialProtocol string

const (
	ProtocolKiss SerialProtocol = "kiss"
	ProtocolTnc2 SerialProtocol = "tnc2"
)

// FilterAction is the outcome of a matching filter rule.
type FilterAction string

const (
	ActionDrop FilterAction = "drop"
	ActionPass FilterAction = "pass"
)

// GpsType selects the GPS position source.
type GpsType string

const (
	GpsNone   GpsType = "none"
	GpsSerial GpsType = "serial"
	GpsGpsd   GpsType = "gpsd"
	GpsFixed  GpsType = "fixed"
)

type SerialPortConfig struct {
	Name      string         `toml:"name"`
	Device    string         `toml:"device"`
	BaudRate  uint32         `toml:"baud_rate"`
	Protocol  SerialProtocol `toml:"protocol"`
	TxEnable  bool           `toml:"tx_enable"`
	RxEnable  bool           `toml:"rx_enable"`
}

type AprsIsConfig struct {
	Server   string  `toml:"server"`
	Port     uint16  `toml:"port"`
	Callsign string  `toml:"callsign"`
	Passcode string  `toml:"passcode"`
	Filter   *string `toml:"filter"`
	TxEnable bool    `toml:"tx_enable"`
	RxEnable bool    `toml:"rx_enable"`
}

type DigipeaterConfig struct {
	Enabled      bool     `toml:"enabled"`
	MyCall       string   `toml:"mycall"`
	Aliases      []string `toml:"aliases"`
	ViscousDelay uint32   `toml:"viscous_delay"`
	MaxHops      uint8    `toml:"max_hops"`
}

type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval uint32 `toml:"interval"`
	Comment  string `toml:"comment"`
}

type FilterConfig struct {
	Name    string       `toml:"name"`
	Action  FilterAction `toml:"action"`
	Pattern string       `toml:"pattern"`
}

type GpsConfig struct {
	Type     GpsType `toml:"type"`
	Device   *string `toml:"device"`
	BaudRate *uint32 `toml:"baud_rate"`
	Host     *string `toml:"host"`
	Port     *uint16 `toml:"port"`
	Position *string `toml:"position"`
}

type SmartBeaconConfig struct {
	Enabled             bool   `toml:"enabled"`
	CheckInterval       uint32 `toml:"check_interval"`
	MinInterval         uint32 `toml:"min_interval"`
	StationaryInterval  uint32 `toml:"stationary_interval"`
	LowSpeed            uint32 `toml:"low_speed"`
	LowSpeedInterval    uint32 `toml:"low_speed_interval"`
	HighSpeed           uint32 `toml:"high_speed"`
	HighSpeedInterval   uint32 `toml:"high_speed_interval"`
	TurnAngle           uint32 `toml:"turn_angle"`
	TurnSpeed           uint32 `toml:"turn_speed"`
}

// DefaultSmartBeaconConfig mirrors original_source/src/config.rs's
// SmartBeaconConfig::default() impl.
func DefaultSmartBeaconConfig() SmartBeaconConfig {
	return SmartBeaconConfig{
		Enabled:            true,
		CheckInterval:      5,
		MinInterval:        30,
		StationaryInterval: 600,
		LowSpeed:           5,
		LowSpeedInterval:   300,
		HighSpeed:          60,
		HighSpeedInterval:  60,
		TurnAngle:          20,
		TurnSpeed:          5,
	}
}

type BeaconConfig struct {
	Enabled      bool              `toml:"enabled"`
	Callsign     string            `toml:"callsign"`
	Interval     uint32            `toml:"interval"`
	Path         string            `toml:"path"`
	SymbolTable  string            `toml:"symbol_table"`
	Symbol       string            `toml:"symbol"`
	Comment      string            `toml:"comment"`
	Timestamp    bool              `toml:"timestamp"`
	SmartBeacon  SmartBeaconConfig `toml:"smart_beacon"`
}

type Config struct {
	MyCall      string             `toml:"mycall"`
	SerialPorts []SerialPortConfig `toml:"serial_ports"`
	AprsIs      *AprsIsConfig      `toml:"aprs_is"`
	Digipeater  DigipeaterConfig   `toml:"digipeater"`
	Telemetry   TelemetryConfig    `toml:"telemetry"`
	Filters     []FilterConfig     `toml:"filters"`
	Gps         *GpsConfig         `toml:"gps"`
	Beacon      *BeaconConfig      `toml:"beacon"`
}

// Load reads and parses the TOML configuration file at path, applying
// SmartBeaconConfig defaults for any beacon table present without one.
// A missing file and a syntax error are distinguished with separate,
// operator-friendly hints, mirroring config.rs::Config::load.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf(
				"configuration file not found: %s: %w\nHint: copy aprstx.conf.example to %s and edit it with your settings.\nOr use --config to specify a different path.",
				path, err, path)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}

	if err := toml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf(
			"failed to parse configuration file %s: %w\nHint: check the TOML syntax. Common issues:\n- Missing quotes around strings\n- Incorrect array syntax (use [[section]] for arrays)\n- Invalid data types for fields",
			path, err)
	}

	if cfg.Beacon != nil && cfg.Beacon.SmartBeacon.CheckInterval == 0 {
		cfg.Beacon.SmartBeacon = mergeSmartBeaconDefaults(cfg.Beacon.SmartBeacon)
	}

	return cfg, nil
}

// mergeSmartBeaconDefaults fills zero-valued fields of a parsed
// SmartBeaconConfig with the documented defaults, since TOML leaves an
// absent [beacon.smart_beacon] table (or a partially-specified one) at Go
// zero values rather than running a per-field Default the way serde does.
func mergeSmartBeaconDefaults(c SmartBeaconConfig) SmartBeaconConfig {
	d := DefaultSmartBeaconConfig()
	if !c.Enabled {
		c.Enabled = d.Enabled
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.MinInterval == 0 {
		c.MinInterval = d.MinInterval
	}
	if c.StationaryInterval == 0 {
		c.StationaryInterval = d.StationaryInterval
	}
	if c.LowSpeed == 0 {
		c.LowSpeed = d.LowSpeed
	}
	if c.LowSpeedInterval == 0 {
		c.LowSpeedInterval = d.LowSpeedInterval
	}
	if c.HighSpeed == 0 {
		c.HighSpeed = d.HighSpeed
	}
	if c.HighSpeedInterval == 0 {
		c.HighSpeedInterval = d.HighSpeedInterval
	}
	if c.TurnAngle == 0 {
		c.TurnAngle = d.TurnAngle
	}
	if c.TurnSpeed == 0 {
		c.TurnSpeed = d.TurnSpeed
	}
	return c
}
