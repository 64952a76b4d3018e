// Package config tests for configuration loading and structured error handling.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	werrors "github.com/ldd69/anvil/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func asAnvil(t *testing.T, err error) *werrors.AnvilError {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	ae, ok := werrors.AsAnvilError(err)
	if !ok {
		t.Fatalf("expected *werrors.AnvilError, got %T", err)
	}
	return ae
}

// -----------------------------------------------------------------------------
// Load Tests with Structured Errors
// -----------------------------------------------------------------------------

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/to/anvil-loop.yaml")
	ae := asAnvil(t, err)

	if ae.Code != werrors.ErrConfigNotFound {
		t.Errorf("expected code %q, got %q", werrors.ErrConfigNotFound, ae.Code)
	}
	if ae.Category != werrors.CategoryConfig {
		t.Errorf("expected category %v, got %v", werrors.CategoryConfig, ae.Category)
	}

	foundInit := false
	for _, s := range ae.Suggestions {
		if strings.Contains(s, "anvil-loop init") {
			foundInit = true
			break
		}
	}
	if !foundInit {
		t.Error("expected suggestion to mention 'anvil-loop init'")
	}
}

func TestLoad_YAMLParseError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", `training:
  executable: anvil-train
    runcard: broken
`)

	_, err := Load(path)
	ae := asAnvil(t, err)
	if ae.Code != werrors.ErrConfigParseFailed {
		t.Errorf("expected code %q, got %q", werrors.ErrConfigParseFailed, ae.Code)
	}
	if ae.Context["line"] == "" {
		t.Error("expected line number in context")
	}
	if ae.Context["path"] != path {
		t.Errorf("expected path %q in context, got %q", path, ae.Context["path"])
	}
}

func TestLoad_WrongType(t *testing.T) {
	path := writeFile(t, t.TempDir(), "type.yaml", `loop:
  n_sample: five
`)

	_, err := Load(path)
	ae := asAnvil(t, err)
	if ae.Code != werrors.ErrConfigParseFailed {
		t.Errorf("expected code %q, got %q", werrors.ErrConfigParseFailed, ae.Code)
	}
	if ae.Context["expected_type"] != "int" {
		t.Errorf("expected_type = %q, want int", ae.Context["expected_type"])
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantCode  string
		wantField string
	}{
		{
			name:      "n_sample below two",
			yaml:      "loop:\n  n_sample: 1\n",
			wantCode:  werrors.ErrValidationOutOfRange,
			wantField: "loop.n_sample",
		},
		{
			name:      "target above one",
			yaml:      "loop:\n  target_acceptance: 1.5\n",
			wantCode:  werrors.ErrValidationOutOfRange,
			wantField: "loop.target_acceptance",
		},
		{
			name:      "target zero",
			yaml:      "loop:\n  target_acceptance: 0\n",
			wantCode:  werrors.ErrValidationOutOfRange,
			wantField: "loop.target_acceptance",
		},
		{
			name:      "negative max iterations",
			yaml:      "loop:\n  max_iterations: -1\n",
			wantCode:  werrors.ErrValidationOutOfRange,
			wantField: "loop.max_iterations",
		},
		{
			name:      "negative epochs override",
			yaml:      "training:\n  epochs_per_iteration: -10\n",
			wantCode:  werrors.ErrValidationOutOfRange,
			wantField: "training.epochs_per_iteration",
		},
		{
			name:      "empty trainer executable",
			yaml:      "training:\n  executable: \"\"\n",
			wantCode:  werrors.ErrValidationRequired,
			wantField: "training.executable",
		},
		{
			name:      "empty resume sentinel",
			yaml:      "training:\n  resume: \" \"\n",
			wantCode:  werrors.ErrValidationRequired,
			wantField: "training.resume",
		},
		{
			name:      "monitor enabled without address",
			yaml:      "monitor:\n  enabled: true\n  addr: \"\"\n",
			wantCode:  werrors.ErrValidationRequired,
			wantField: "monitor.addr",
		},
		{
			name:      "unknown log level",
			yaml:      "logging:\n  level: loud\n",
			wantCode:  werrors.ErrConfigInvalid,
			wantField: "logging.level",
		},
		{
			name:      "unknown log format",
			yaml:      "logging:\n  format: xml\n",
			wantCode:  werrors.ErrConfigInvalid,
			wantField: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "anvil-loop.yaml", tt.yaml)
			_, err := Load(path)
			ae := asAnvil(t, err)
			if ae.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, ae.Code)
			}
			if ae.Context["field"] != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, ae.Context["field"])
			}
			if ae.Context["path"] != path {
				t.Errorf("expected path in context, got %q", ae.Context["path"])
			}
		})
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "anvil-loop.yaml", `training:
  executable: /opt/anvil/bin/anvil-train
  runcard: train.yml
  resume: "-1"
sampling:
  runcard: sample.yml
loop:
  target_acceptance: 0.9
  n_sample: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Training.Executable != "/opt/anvil/bin/anvil-train" {
		t.Errorf("executable = %q", cfg.Training.Executable)
	}
	if cfg.Training.Resume != "-1" {
		t.Errorf("resume = %q, want -1", cfg.Training.Resume)
	}
	if cfg.Loop.TargetAcceptance != 0.9 || cfg.Loop.NSample != 3 {
		t.Errorf("loop = %+v", cfg.Loop)
	}
	// Unset keys keep their defaults.
	if cfg.Sampling.Executable != "anvil-sample" {
		t.Errorf("sampling executable = %q, want default", cfg.Sampling.Executable)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging level = %q, want default", cfg.Logging.Level)
	}
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Loop.NSample != 5 {
		t.Errorf("expected default n_sample 5, got %d", cfg.Loop.NSample)
	}
}

func TestLoadOrDefault_FileNotFound(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Loop.TargetAcceptance != 0.99 {
		t.Errorf("expected default target 0.99, got %v", cfg.Loop.TargetAcceptance)
	}
}

// -----------------------------------------------------------------------------
// Error Helper Tests
// -----------------------------------------------------------------------------

func TestExtractYAMLErrorLocation(t *testing.T) {
	tests := []struct {
		name        string
		errStr      string
		expectedLn  int
		expectedCol int
	}{
		{
			name:       "yaml v3 line only",
			errStr:     "yaml: line 5: mapping values are not allowed here",
			expectedLn: 5,
		},
		{
			name:        "yaml with line and column",
			errStr:      "yaml: line 10:5: found character that cannot start any token",
			expectedLn:  10,
			expectedCol: 5,
		},
		{
			name:       "unmarshal error with line",
			errStr:     "yaml: unmarshal errors:\n  line 3: cannot unmarshal !!str into int",
			expectedLn: 3,
		},
		{
			name:       "no line number",
			errStr:     "yaml: some generic error",
			expectedLn: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, col := extractYAMLErrorLocation(tt.errStr)
			if line != tt.expectedLn {
				t.Errorf("expected line %d, got %d", tt.expectedLn, line)
			}
			if col != tt.expectedCol {
				t.Errorf("expected col %d, got %d", tt.expectedCol, col)
			}
		})
	}
}

func TestExtractExpectedType(t *testing.T) {
	tests := []struct {
		name     string
		errStr   string
		expected string
	}{
		{
			name:     "float64 pointer",
			errStr:   "cannot unmarshal !!str into *float64",
			expected: "float64",
		},
		{
			name:     "int type",
			errStr:   "cannot unmarshal !!str into int",
			expected: "int",
		},
		{
			name:     "no type",
			errStr:   "some other error",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractExpectedType(tt.errStr)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestIsValidOption(t *testing.T) {
	if !isValidOption("debug", validLogLevels) {
		t.Error("expected 'debug' to be valid")
	}
	if isValidOption("trace", validLogLevels) {
		t.Error("expected 'trace' to be invalid")
	}
	if isValidOption("", validLogFormats) {
		t.Error("expected empty string to be invalid")
	}
}

// -----------------------------------------------------------------------------
// Default Config Tests
// -----------------------------------------------------------------------------

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Loop.TargetAcceptance != 0.99 {
		t.Errorf("expected target 0.99, got %v", cfg.Loop.TargetAcceptance)
	}
	if cfg.Loop.NSample != 5 {
		t.Errorf("expected n_sample 5, got %d", cfg.Loop.NSample)
	}
	if cfg.Loop.MaxIterations != 0 {
		t.Errorf("expected unbounded iterations, got %d", cfg.Loop.MaxIterations)
	}
	if cfg.Training.Resume != "all" {
		t.Errorf("expected resume sentinel 'all', got %q", cfg.Training.Resume)
	}
	if cfg.Monitor.Enabled {
		t.Error("expected monitor disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

// -----------------------------------------------------------------------------
// Save and Init Tests
// -----------------------------------------------------------------------------

func TestSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "anvil-loop.yaml")

	cfg := Default()
	cfg.Loop.NSample = 8
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Loop.NSample != 8 {
		t.Errorf("loaded n_sample = %d, want 8", loaded.Loop.NSample)
	}
}

func TestInitConfig_CreatesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "anvil-loop.yaml")

	created, err := InitConfig(configPath)
	if err != nil {
		t.Fatalf("failed to init config: %v", err)
	}
	if !created {
		t.Error("expected file to be created")
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
}

func TestInitConfig_SkipsExisting(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "existing.yaml", "# Custom config\n")

	created, err := InitConfig(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected existing file to be kept")
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != "# Custom config\n" {
		t.Error("InitConfig overwrote existing file")
	}
}

// -----------------------------------------------------------------------------
// Runcard Tests
// -----------------------------------------------------------------------------

func TestResolvePlan_FromRuncards(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Training.Runcard = writeFile(t, dir, "training.yml", "epochs: 1000\nsave_interval: 500\n")
	cfg.Sampling.Runcard = writeFile(t, dir, "sampling.yml", "training_output: runs/phi4\nsample_size: 10000\n")

	plan, err := cfg.ResolvePlan()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.EpochsIter != 1000 {
		t.Errorf("EpochsIter = %d, want 1000", plan.EpochsIter)
	}
	if plan.RunDir != "runs/phi4" {
		t.Errorf("RunDir = %q, want runs/phi4", plan.RunDir)
	}
}

func TestResolvePlan_Overrides(t *testing.T) {
	cfg := Default()
	cfg.Training.Runcard = "/does/not/exist.yml"
	cfg.Sampling.Runcard = "/does/not/exist.yml"
	cfg.Training.EpochsPerIteration = 250
	cfg.Sampling.Output = "out"

	plan, err := cfg.ResolvePlan()
	if err != nil {
		t.Fatalf("overrides must not read runcards: %v", err)
	}
	if plan.EpochsIter != 250 || plan.RunDir != "out" {
		t.Errorf("plan = %+v", plan)
	}
}

func TestResolvePlan_RuncardErrors(t *testing.T) {
	tests := []struct {
		name     string
		training string
		sampling string
	}{
		{"missing epochs", "learning_rate: 0.01\n", "training_output: out\n"},
		{"zero epochs", "epochs: 0\n", "training_output: out\n"},
		{"fractional epochs", "epochs: 10.5\n", "training_output: out\n"},
		{"missing training_output", "epochs: 10\n", "sample_size: 100\n"},
		{"unparsable runcard", "epochs: [1\n", "training_output: out\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := Default()
			cfg.Training.Runcard = writeFile(t, dir, "training.yml", tt.training)
			cfg.Sampling.Runcard = writeFile(t, dir, "sampling.yml", tt.sampling)

			_, err := cfg.ResolvePlan()
			if !werrors.IsCode(err, werrors.ErrRuncardInvalid) {
				t.Errorf("expected %s, got %v", werrors.ErrRuncardInvalid, err)
			}
		})
	}
}
