// Package config handles anvil-loop configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	werrors "github.com/ldd69/anvil/pkg/errors"
)

// Config is the root configuration structure.
type Config struct {
	Training TrainingConfig `yaml:"training"`
	Sampling SamplingConfig `yaml:"sampling"`
	Loop     LoopConfig     `yaml:"loop"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// TrainingConfig describes how the trainer is invoked.
type TrainingConfig struct {
	Executable string `yaml:"executable"`
	Runcard    string `yaml:"runcard"`
	// Resume is passed verbatim after -r when continuing a run.
	Resume string `yaml:"resume"`
	// EpochsPerIteration overrides the runcard's epochs when nonzero.
	EpochsPerIteration int `yaml:"epochs_per_iteration"`
}

// SamplingConfig describes how the sampler is invoked.
type SamplingConfig struct {
	Executable string `yaml:"executable"`
	Runcard    string `yaml:"runcard"`
	// Output overrides the runcard's training_output when set.
	Output string `yaml:"output"`
}

// LoopConfig holds the convergence parameters.
type LoopConfig struct {
	TargetAcceptance float64 `yaml:"target_acceptance"`
	NSample          int     `yaml:"n_sample"`
	// MaxIterations stops the loop after this many non-bootstrap
	// iterations. Zero means unbounded.
	MaxIterations int `yaml:"max_iterations"`
}

// MonitorConfig holds live monitor settings.
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LedgerConfig holds the iteration ledger settings. An empty path disables
// the ledger.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Training: TrainingConfig{
			Executable: "anvil-train",
			Runcard:    "training.yml",
			Resume:     "all",
		},
		Sampling: SamplingConfig{
			Executable: "anvil-sample",
			Runcard:    "sampling.yml",
		},
		Loop: LoopConfig{
			TargetAcceptance: 0.99,
			NSample:          5,
		},
		Monitor: MonitorConfig{
			Addr: "localhost:8082",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a file, layering it over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, werrors.Config(werrors.ErrConfigNotFound,
				fmt.Sprintf("config file %s does not exist", path)).
				WithContext("path", path)
		}
		return nil, werrors.ConfigWrap(err, werrors.ErrConfigNotFound, "failed to read config").
			WithContext("path", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, parseError(path, err)
	}
	if err := cfg.Validate(); err != nil {
		if ae, ok := werrors.AsAnvilError(err); ok {
			ae.WithContext("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

func parseError(path string, err error) *werrors.AnvilError {
	e := werrors.ConfigWrap(err, werrors.ErrConfigParseFailed, "failed to parse config").
		WithContext("path", path)
	line, col := extractYAMLErrorLocation(err.Error())
	if line > 0 {
		e.WithContext("line", strconv.Itoa(line))
	}
	if col > 0 {
		e.WithContext("column", strconv.Itoa(col))
	}
	if typ := extractExpectedType(err.Error()); typ != "" {
		e.WithContext("expected_type", typ)
	}
	return e
}

// LoadOrDefault loads config from path, or returns default if not found.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks value ranges and required fields.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Training.Executable) == "":
		return required("training.executable")
	case strings.TrimSpace(c.Training.Runcard) == "":
		return required("training.runcard")
	case strings.TrimSpace(c.Training.Resume) == "":
		return required("training.resume")
	case strings.TrimSpace(c.Sampling.Executable) == "":
		return required("sampling.executable")
	case strings.TrimSpace(c.Sampling.Runcard) == "":
		return required("sampling.runcard")
	}

	if c.Training.EpochsPerIteration < 0 {
		return outOfRange("training.epochs_per_iteration", c.Training.EpochsPerIteration, "must be >= 0")
	}
	if c.Loop.TargetAcceptance <= 0 || c.Loop.TargetAcceptance > 1 {
		return outOfRange("loop.target_acceptance", c.Loop.TargetAcceptance, "must be in (0, 1]")
	}
	if c.Loop.NSample < 2 {
		return outOfRange("loop.n_sample", c.Loop.NSample, "must be >= 2")
	}
	if c.Loop.MaxIterations < 0 {
		return outOfRange("loop.max_iterations", c.Loop.MaxIterations, "must be >= 0")
	}
	if c.Monitor.Enabled && strings.TrimSpace(c.Monitor.Addr) == "" {
		return required("monitor.addr")
	}
	if !isValidOption(c.Logging.Level, validLogLevels) {
		return werrors.Configf(werrors.ErrConfigInvalid, "logging.level %q is not one of %s",
			c.Logging.Level, strings.Join(validLogLevels, ", ")).
			WithContext("field", "logging.level")
	}
	if !isValidOption(c.Logging.Format, validLogFormats) {
		return werrors.Configf(werrors.ErrConfigInvalid, "logging.format %q is not one of %s",
			c.Logging.Format, strings.Join(validLogFormats, ", ")).
			WithContext("field", "logging.format")
	}
	return nil
}

func required(field string) error {
	return werrors.Validationf(werrors.ErrValidationRequired, "%s is required", field).
		WithContext("field", field)
}

func outOfRange(field string, value interface{}, rule string) error {
	return werrors.Validationf(werrors.ErrValidationOutOfRange, "%s %s, got %v", field, rule, value).
		WithContext("field", field).
		WithContext("value", fmt.Sprint(value))
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return werrors.ConfigWrap(err, werrors.ErrConfigWriteFailed, "failed to create config directory").
			WithContext("path", dir)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return werrors.ConfigWrap(err, werrors.ErrConfigWriteFailed, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return werrors.ConfigWrap(err, werrors.ErrConfigWriteFailed, "failed to write config file").
			WithContext("path", path)
	}
	return nil
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	if _, err := os.Stat("anvil-loop.yaml"); err == nil {
		return "anvil-loop.yaml"
	}
	if _, err := os.Stat("config/anvil-loop.yaml"); err == nil {
		return "config/anvil-loop.yaml"
	}
	return "anvil-loop.yaml"
}

// InitConfig creates a default config file if it doesn't exist.
// It reports whether a file was written.
func InitConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := Default().Save(path); err != nil {
		return false, err
	}
	return true, nil
}

// -----------------------------------------------------------------------------
// Error Helpers
// -----------------------------------------------------------------------------

var (
	yamlLineCol = regexp.MustCompile(`line (\d+)(?::(\d+))?`)
	yamlIntoTyp = regexp.MustCompile(`into \*?([A-Za-z0-9_.\[\]]+)`)
)

// extractYAMLErrorLocation pulls the first line (and column, when present)
// out of a yaml.v3 error string.
func extractYAMLErrorLocation(errStr string) (line, col int) {
	m := yamlLineCol.FindStringSubmatch(errStr)
	if m == nil {
		return 0, 0
	}
	line, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		col, _ = strconv.Atoi(m[2])
	}
	return line, col
}

// extractExpectedType returns the Go type a yaml unmarshal error wanted.
func extractExpectedType(errStr string) string {
	if !strings.Contains(errStr, "cannot unmarshal") {
		return ""
	}
	m := yamlIntoTyp.FindStringSubmatch(errStr)
	if m == nil {
		return ""
	}
	return m[1]
}

func isValidOption(value string, validOptions []string) bool {
	for _, opt := range validOptions {
		if value == opt {
			return true
		}
	}
	return false
}
