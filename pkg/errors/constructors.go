// Package errors provides smart error constructors that auto-attach suggestions.
package errors

import (
	"fmt"
	"strconv"
)

// Config creates a configuration error with auto-attached suggestions.
func Config(code, message string) *AnvilError {
	return AttachSuggestions(New(code, CategoryConfig, message))
}

// Configf creates a configuration error with a formatted message.
func Configf(code, format string, args ...interface{}) *AnvilError {
	return Config(code, fmt.Sprintf(format, args...))
}

// ConfigWrap wraps an error as a configuration error with auto-attached suggestions.
func ConfigWrap(cause error, code, message string) *AnvilError {
	return AttachSuggestions(Wrap(cause, code, CategoryConfig, message))
}

// IOWrap wraps an error as an IO error.
func IOWrap(cause error, code, message string) *AnvilError {
	return AttachSuggestions(Wrap(cause, code, CategoryIO, message))
}

// Validation creates a validation error.
func Validation(code, message string) *AnvilError {
	return AttachSuggestions(New(code, CategoryValidation, message))
}

// Validationf creates a validation error with a formatted message.
func Validationf(code, format string, args ...interface{}) *AnvilError {
	return Validation(code, fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------
// Domain Constructors
// -----------------------------------------------------------------------------

// ProcessFailed reports a nonzero exit of an external tool.
func ProcessFailed(executable string, exitCode int, cause error) *AnvilError {
	err := New(ErrProcessFailed, CategoryProcess,
		fmt.Sprintf("%s exited with status %d", executable, exitCode)).
		WithContext("executable", executable).
		WithContext("exit_code", strconv.Itoa(exitCode)).
		WithCause(cause)
	return AttachSuggestions(err)
}

// ProcessStartFailed reports an executable that could not be launched.
func ProcessStartFailed(executable string, cause error) *AnvilError {
	err := New(ErrProcessStartFailed, CategoryProcess,
		fmt.Sprintf("cannot start %s", executable)).
		WithContext("executable", executable).
		WithCause(cause)
	return AttachSuggestions(err)
}

// CorruptRunDirectory reports a run directory that exists without a data file.
func CorruptRunDirectory(dir, reason string) *AnvilError {
	err := New(ErrRunCorruptDirectory, CategoryRun,
		fmt.Sprintf("run directory %s cannot be resumed: %s", dir, reason)).
		WithContext("run_dir", dir)
	return AttachSuggestions(err)
}

// MissingMetric reports an expected marker absent from captured output.
func MissingMetric(marker string) *AnvilError {
	err := New(ErrMetricMissing, CategoryMetric,
		fmt.Sprintf("no %q line in captured output", marker)).
		WithContext("marker", marker)
	return AttachSuggestions(err)
}

// SampleCountMismatch reports a sample vector whose length differs from n_sample.
func SampleCountMismatch(got, want int) *AnvilError {
	err := New(ErrMetricSampleCountMismatch, CategoryMetric,
		fmt.Sprintf("got %d sampled values, expected %d", got, want)).
		WithContext("got", strconv.Itoa(got)).
		WithContext("want", strconv.Itoa(want))
	return AttachSuggestions(err)
}

// InsufficientSamples reports a sample count too small for a standard deviation.
func InsufficientSamples(n int) *AnvilError {
	err := New(ErrMetricInsufficientSamples, CategoryMetric,
		fmt.Sprintf("need at least 2 samples for a standard deviation, got n=%d", n)).
		WithContext("n", strconv.Itoa(n))
	return AttachSuggestions(err)
}
