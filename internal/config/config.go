package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: Load creates a default config on first run; Save writes atomically
// with 0600 permissions.

// ContrastStep is one entry of the contrast schedule.
type ContrastStep struct {
	// Cron is a standard 5-field cron expression (e.g. "0 22 * * *").
	Cron string `yaml:"cron" json:"cron"`
	// Contrast is the register value applied when Cron fires.
	Contrast uint8 `yaml:"contrast" json:"contrast"`
}

// DisplayConfig describes the SH1106 wiring.
type DisplayConfig struct {
	// SPI is the periph spireg name; empty selects the first port.
	SPI string `yaml:"spi" json:"spi"`
	// CS, DC and Reset are periph gpioreg pin names. Reset may be empty.
	CS    string `yaml:"cs" json:"cs"`
	DC    string `yaml:"dc" json:"dc"`
	Reset string `yaml:"reset" json:"reset"`
	// ManualCS drives CS as a GPIO and opens the port with spi.NoCS.
	// When false the port's own chip-select is used and CS is ignored.
	ManualCS *bool `yaml:"manual_cs,omitempty" json:"manual_cs,omitempty"`
	// Contrast is applied after reset.
	Contrast *uint8 `yaml:"contrast,omitempty" json:"contrast,omitempty"`
	// ContrastSchedule changes the contrast at fixed times of day.
	ContrastSchedule []ContrastStep `yaml:"contrast_schedule" json:"contrast_schedule"`
}

// PinsConfig names the six button pins.
type PinsConfig struct {
	A     string `yaml:"a" json:"a"`
	B     string `yaml:"b" json:"b"`
	Up    string `yaml:"up" json:"up"`
	Down  string `yaml:"down" json:"down"`
	Left  string `yaml:"left" json:"left"`
	Right string `yaml:"right" json:"right"`
}

// InputConfig controls button sampling.
type InputConfig struct {
	Pins PinsConfig `yaml:"pins" json:"pins"`
	// TickMs is the Update period.
	TickMs int `yaml:"tick_ms" json:"tick_ms"`
	// RepeatMs is the auto-repeat cadence.
	RepeatMs int `yaml:"repeat_ms" json:"repeat_ms"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the debug server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level daemon configuration.
type Config struct {
	// Listen is the HTTP listen address of the debug server. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Simulate replaces the display and buttons with in-process emulations.
	Simulate bool `yaml:"simulate" json:"simulate"`

	// Splash is an optional PNG drawn after the display resets.
	Splash string `yaml:"splash" json:"splash"`

	Display DisplayConfig `yaml:"display" json:"display"`
	Input   InputConfig   `yaml:"input" json:"input"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen   = "127.0.0.1:8080"
	defaultLogLevel = "info"
	defaultTickMs   = 10
	defaultRepeatMs = 300
	defaultContrast = 0xFF
)

func boolPtr(b bool) *bool    { return &b }
func uint8Ptr(v uint8) *uint8 { return &v }

// DefaultConfig returns an in-memory default configuration for a Raspberry
// Pi wiring.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		LogLevel: defaultLogLevel,
		Display: DisplayConfig{
			SPI:              "",
			CS:               "GPIO8",
			DC:               "GPIO25",
			Reset:            "GPIO24",
			ManualCS:         boolPtr(true),
			Contrast:         uint8Ptr(defaultContrast),
			ContrastSchedule: []ContrastStep{},
		},
		Input: InputConfig{
			Pins: PinsConfig{
				A:     "GPIO5",
				B:     "GPIO6",
				Up:    "GPIO13",
				Down:  "GPIO19",
				Left:  "GPIO26",
				Right: "GPIO21",
			},
			TickMs:   defaultTickMs,
			RepeatMs: defaultRepeatMs,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Display.ManualCS == nil {
		c.Display.ManualCS = boolPtr(true)
	}
	if c.Display.Contrast == nil {
		c.Display.Contrast = uint8Ptr(defaultContrast)
	}
	if c.Display.ContrastSchedule == nil {
		c.Display.ContrastSchedule = []ContrastStep{}
	}
	if c.Input.TickMs <= 0 {
		c.Input.TickMs = defaultTickMs
	}
	// Negative values are left to the input package's clamp.
	if c.Input.RepeatMs == 0 {
		c.Input.RepeatMs = defaultRepeatMs
	}
}

// Tick returns the input polling period.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Input.TickMs) * time.Millisecond
}

// RepeatInterval returns the auto-repeat cadence.
func (c *Config) RepeatInterval() time.Duration {
	return time.Duration(c.Input.RepeatMs) * time.Millisecond
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".midiboy-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
