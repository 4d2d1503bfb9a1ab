package model

import "time"

// Mode is the wire-level operating mode reported to the coordinating server
// and the mobile app.
type Mode string

const (
	ModeOff       Mode = "off"
	ModeFan       Mode = "fan"
	ModeCool      Mode = "cool"
	ModeHeat      Mode = "heat"
	ModeEmergency Mode = "emergency"
)

// Reading is a single validated sensor sample. Invalid samples are dropped
// at the source and never constructed.
type Reading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	ObservedAt  time.Time `json:"observed_at"`
}

// SetPointSource identifies who last wrote the target temperature.
type SetPointSource string

const (
	SourceDefault SetPointSource = "default"
	SourceServer  SetPointSource = "server"
	SourceUser    SetPointSource = "user"
)

type DeploymentType string

const (
	DeployThermostat   DeploymentType = "Thermostat"
	DeployProbe        DeploymentType = "Probe"
	DeployServer       DeploymentType = "Server"
	DeployHybridProbe  DeploymentType = "HybridProbe"
	DeployHybridThermo DeploymentType = "HybridThermo"
)

// RunsControlLoop reports whether the deployment drives relays.
func (d DeploymentType) RunsControlLoop() bool {
	return d == DeployThermostat || d == DeployHybridThermo
}

// RunsSensor reports whether the deployment reads a sensor at all.
func (d DeploymentType) RunsSensor() bool {
	return d != DeployServer
}

type HardwareMode string

const (
	HardwareAuto    HardwareMode = "Auto"
	HardwareWindows HardwareMode = "Windows"
	HardwareLinux   HardwareMode = "Linux"
)
