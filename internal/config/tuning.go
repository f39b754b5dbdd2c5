package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pursuit/internal/planner"
	"github.com/banshee-data/pursuit/internal/targeting"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/pursuit.defaults.json"

// TuningConfig holds the engagement policy and loop timing. Every field is
// optional: unset fields fall back to the values the rover was tuned with.
type TuningConfig struct {
	// Targeting
	CenterColumn       *float64 `json:"center_column,omitempty"`
	AreaThreshold      *int     `json:"area_threshold,omitempty"`
	MaxHorizontalDelta *float64 `json:"max_horizontal_delta,omitempty"`

	// Action magnitudes
	AdvanceUnits    *float64 `json:"advance_units,omitempty"`
	RotateUnits     *float64 `json:"rotate_units,omitempty"`
	FireSeconds     *float64 `json:"fire_seconds,omitempty"`
	ScanRotateUnits *float64 `json:"scan_rotate_units,omitempty"`
	ScanDirection   *string  `json:"scan_direction,omitempty"` // "cw" or "ccw"

	// Loop timing, duration strings like "500ms"
	AckTimeout   *string `json:"ack_timeout,omitempty"`
	PollInterval *string `json:"poll_interval,omitempty"`
	SettleDelay  *string `json:"settle_delay,omitempty"`

	// Time between frames when replaying fixtures.
	FrameInterval *string `json:"frame_interval,omitempty"`

	// Simulated actuator speed in units per second.
	SimStepRate *float64 `json:"sim_step_rate,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
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

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
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
		return fmt.Errorf("%s must be non-negative, got %s", name, d)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.CenterColumn != nil && *c.CenterColumn < 0 {
		return fmt.Errorf("center_column must be non-negative, got %f", *c.CenterColumn)
	}
	if c.AreaThreshold != nil && *c.AreaThreshold < 0 {
		return fmt.Errorf("area_threshold must be non-negative, got %d", *c.AreaThreshold)
	}
	if c.MaxHorizontalDelta != nil && *c.MaxHorizontalDelta < 0 {
		return fmt.Errorf("max_horizontal_delta must be non-negative, got %f", *c.MaxHorizontalDelta)
	}

	// Magnitudes of zero are allowed; such actions encode to no command.
	if c.FireSeconds != nil && *c.FireSeconds < 0 {
		return fmt.Errorf("fire_seconds must be non-negative, got %f", *c.FireSeconds)
	}

	if c.ScanDirection != nil {
		if _, err := planner.ParseDirection(*c.ScanDirection); err != nil {
			return fmt.Errorf("invalid scan_direction: %w", err)
		}
	}

	for _, d := range []struct {
		name string
		v    *string
	}{
		{"ack_timeout", c.AckTimeout},
		{"poll_interval", c.PollInterval},
		{"settle_delay", c.SettleDelay},
		{"frame_interval", c.FrameInterval},
	} {
		if err := validateDuration(d.name, d.v); err != nil {
			return err
		}
	}

	if c.SimStepRate != nil && *c.SimStepRate <= 0 {
		return fmt.Errorf("sim_step_rate must be positive, got %f", *c.SimStepRate)
	}

	return nil
}

// GetCenterColumn returns the center_column value or the default.
func (c *TuningConfig) GetCenterColumn() float64 {
	if c.CenterColumn == nil {
		return 320
	}
	return *c.CenterColumn
}

// GetAreaThreshold returns the area_threshold value or the default.
func (c *TuningConfig) GetAreaThreshold() int {
	if c.AreaThreshold == nil {
		return 3600
	}
	return *c.AreaThreshold
}

// GetMaxHorizontalDelta returns the max_horizontal_delta value or the default.
func (c *TuningConfig) GetMaxHorizontalDelta() float64 {
	if c.MaxHorizontalDelta == nil {
		return 80
	}
	return *c.MaxHorizontalDelta
}

// GetAdvanceUnits returns the advance_units value or the default.
func (c *TuningConfig) GetAdvanceUnits() float64 {
	if c.AdvanceUnits == nil {
		return 170
	}
	return *c.AdvanceUnits
}

// GetRotateUnits returns the rotate_units value or the default.
func (c *TuningConfig) GetRotateUnits() float64 {
	if c.RotateUnits == nil {
		return 40
	}
	return *c.RotateUnits
}

// GetFireSeconds returns the fire_seconds value or the default.
func (c *TuningConfig) GetFireSeconds() float64 {
	if c.FireSeconds == nil {
		return 3
	}
	return *c.FireSeconds
}

// GetScanRotateUnits returns the scan_rotate_units value or the default.
func (c *TuningConfig) GetScanRotateUnits() float64 {
	if c.ScanRotateUnits == nil {
		return 50
	}
	return *c.ScanRotateUnits
}

// GetScanDirection returns the scan rotation direction, clockwise by default.
func (c *TuningConfig) GetScanDirection() planner.Kind {
	if c.ScanDirection == nil {
		return planner.RotateCW
	}
	k, err := planner.ParseDirection(*c.ScanDirection)
	if err != nil {
		return planner.RotateCW // default on parse error
	}
	return k
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetAckTimeout returns the ack_timeout as a time.Duration. Zero, the
// default, waits for an acknowledgement indefinitely.
func (c *TuningConfig) GetAckTimeout() time.Duration {
	return parseDurationOr(c.AckTimeout, 0)
}

// GetPollInterval returns the poll_interval as a time.Duration.
func (c *TuningConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, 0)
}

// GetSettleDelay returns the settle_delay as a time.Duration.
func (c *TuningConfig) GetSettleDelay() time.Duration {
	return parseDurationOr(c.SettleDelay, 3*time.Second)
}

// GetFrameInterval returns the replay frame_interval as a time.Duration,
// 33ms (30fps) by default.
func (c *TuningConfig) GetFrameInterval() time.Duration {
	return parseDurationOr(c.FrameInterval, 33*time.Millisecond)
}

// GetSimStepRate returns the sim_step_rate value or the default.
func (c *TuningConfig) GetSimStepRate() float64 {
	if c.SimStepRate == nil {
		return 40
	}
	return *c.SimStepRate
}

// Policy builds the immutable decision policy from the config.
func (c *TuningConfig) Policy() planner.Policy {
	return planner.Policy{
		Targeting: targeting.Policy{
			CenterColumn:       c.GetCenterColumn(),
			AreaThreshold:      c.GetAreaThreshold(),
			MaxHorizontalDelta: c.GetMaxHorizontalDelta(),
		},
		AdvanceUnits:    c.GetAdvanceUnits(),
		RotateUnits:     c.GetRotateUnits(),
		FireSeconds:     c.GetFireSeconds(),
		ScanRotateUnits: c.GetScanRotateUnits(),
		ScanDirection:   c.GetScanDirection(),
	}
}
