// Package config holds the SessionConfig and Geometry types that describe
// how a peakdrv Session connects to an instrument and what physical
// metadata it stamps onto outgoing frames.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Geometry carries physical-configuration metadata that peakdrv never
// interprets: wedge angles, element pitch, sound velocities, and the
// like. It is copied verbatim into every Frame produced during a session.
type Geometry struct {
	NElements            int     `mapstructure:"n_elements" yaml:"n_elements"`
	ElementPitchMM       float64 `mapstructure:"element_pitch_mm" yaml:"element_pitch_mm"`
	InterElementSpaceMM  float64 `mapstructure:"inter_element_spacing_mm" yaml:"inter_element_spacing_mm"`
	ElementWidthMM       float64 `mapstructure:"element_width_mm" yaml:"element_width_mm"`
	VelWedgeMPS          float64 `mapstructure:"vel_wedge_mps" yaml:"vel_wedge_mps"`
	VelCouplantMPS       float64 `mapstructure:"vel_couplant_mps" yaml:"vel_couplant_mps"`
	VelMaterialMPS       float64 `mapstructure:"vel_material_mps" yaml:"vel_material_mps"`
	WedgeAngleDeg        float64 `mapstructure:"wedge_angle_deg" yaml:"wedge_angle_deg"`
	WedgeDepthMM         float64 `mapstructure:"wedge_depth_mm" yaml:"wedge_depth_mm"`
	CouplantDepthMM      float64 `mapstructure:"couplant_depth_mm" yaml:"couplant_depth_mm"`
	SpecimenDepthMM      float64 `mapstructure:"specimen_depth_mm" yaml:"specimen_depth_mm"`
}

// SessionConfig holds everything needed to drive one Session through its
// lifecycle: the instrument endpoint, the MPS configuration file, the
// requested digitisation rate, and a handful of timing knobs that the
// teacher's equivalents (RST retry count, settle delay) hardcoded as
// constants but which peakdrv exposes for testability.
type SessionConfig struct {
	Host             string        `mapstructure:"host" yaml:"host"`
	Port             int           `mapstructure:"port" yaml:"port"`
	MPSPath          string        `mapstructure:"mps_path" yaml:"mps_path"`
	RequestedRateMHz int           `mapstructure:"requested_rate_mhz" yaml:"requested_rate_mhz"`
	ResetAttempts    int           `mapstructure:"reset_attempts" yaml:"reset_attempts"`
	ResetSettle      time.Duration `mapstructure:"reset_settle" yaml:"reset_settle"`
	AsyncRateHz      float64       `mapstructure:"async_rate_hz" yaml:"async_rate_hz"`
	ColorLogs        bool          `mapstructure:"color_logs" yaml:"color_logs"`
	Geometry         Geometry      `mapstructure:"geometry" yaml:"geometry"`
}

// validRates lists the digitisation rates the instrument accepts, with 0
// meaning "instrument default".
var validRates = map[int]bool{0: true, 10: true, 25: true, 50: true, 100: true}

// Validate checks fields that cannot be reasonably defaulted.
func (c SessionConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("config: host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.MPSPath == "" {
		return fmt.Errorf("config: mps_path must not be empty")
	}
	if !validRates[c.RequestedRateMHz] {
		return fmt.Errorf("config: requested_rate_mhz %d must be one of 0,10,25,50,100", c.RequestedRateMHz)
	}
	if c.ResetAttempts <= 0 {
		return fmt.Errorf("config: reset_attempts must be positive")
	}
	return nil
}

// Default returns a SessionConfig with every timing knob set to the value
// the original instrument driver hardcoded, so callers only need to
// override the fields that matter to them.
func Default() SessionConfig {
	return SessionConfig{
		Port:          0,
		ResetAttempts: 3,
		ResetSettle:   10 * time.Second,
		AsyncRateHz:   0, // 0 = back-to-back restart, no pacing timer
	}
}

// SetDefaults installs peakdrv's defaults into the given viper instance,
// the same way cmd/dastard/dastard.go calls viper.SetDefault before
// reading a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("mps_path", d.MPSPath)
	v.SetDefault("requested_rate_mhz", d.RequestedRateMHz)
	v.SetDefault("reset_attempts", d.ResetAttempts)
	v.SetDefault("reset_settle", d.ResetSettle)
	v.SetDefault("async_rate_hz", d.AsyncRateHz)
	v.SetDefault("color_logs", d.ColorLogs)
}

// FromViper unmarshals a SessionConfig out of an already-loaded viper
// instance.
func FromViper(v *viper.Viper) (SessionConfig, error) {
	var c SessionConfig
	SetDefaults(v)
	if err := v.Unmarshal(&c); err != nil {
		return SessionConfig{}, fmt.Errorf("config: unmarshal viper config: %w", err)
	}
	return c, nil
}

// FromYAMLFile reads a SessionConfig directly from a YAML file, for
// embedders that don't run a full viper-managed process (see SPEC_FULL.md
// §3, domain stack: yaml.v3 wiring).
func FromYAMLFile(path string) (SessionConfig, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return SessionConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}
