// Package errors provides error code constants for anvil-loop.
// Error codes are organized by category for consistent handling and lookup.
package errors

// -----------------------------------------------------------------------------
// Configuration Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = "CONFIG_NOT_FOUND"

	// ErrConfigParseFailed indicates the configuration file could not be parsed.
	ErrConfigParseFailed = "CONFIG_PARSE_FAILED"

	// ErrConfigInvalid indicates configuration values are invalid.
	ErrConfigInvalid = "CONFIG_INVALID"

	// ErrConfigWriteFailed indicates the config file could not be written.
	ErrConfigWriteFailed = "CONFIG_WRITE_FAILED"

	// ErrRuncardInvalid indicates a trainer or sampler runcard lacks a field
	// the loop depends on (epochs, training_output).
	ErrRuncardInvalid = "CONFIG_RUNCARD_INVALID"
)

// -----------------------------------------------------------------------------
// External Process Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrProcessFailed indicates the trainer or sampler exited nonzero.
	// Always fatal: the failure is assumed non-transient.
	ErrProcessFailed = "PROCESS_FAILED"

	// ErrProcessStartFailed indicates the executable could not be started.
	ErrProcessStartFailed = "PROCESS_START_FAILED"
)

// -----------------------------------------------------------------------------
// Run Directory Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrRunCorruptDirectory indicates the run directory exists without a
	// usable data file. Requires the user to delete or rename it.
	ErrRunCorruptDirectory = "RUN_CORRUPT_DIRECTORY"

	// ErrRunDataMalformed indicates a row of the data file could not be parsed.
	ErrRunDataMalformed = "RUN_DATA_MALFORMED"

	// ErrRunBootstrapDeclined indicates the user declined to start a new run.
	ErrRunBootstrapDeclined = "RUN_BOOTSTRAP_DECLINED"
)

// -----------------------------------------------------------------------------
// Metric Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrMetricMissing indicates an expected marker was absent from the output.
	ErrMetricMissing = "METRIC_MISSING"

	// ErrMetricSampleCountMismatch indicates the number of sampled values
	// differs from n_sample.
	ErrMetricSampleCountMismatch = "METRIC_SAMPLE_COUNT_MISMATCH"

	// ErrMetricInsufficientSamples indicates fewer than two samples were
	// requested, so no sample standard deviation exists.
	ErrMetricInsufficientSamples = "METRIC_INSUFFICIENT_SAMPLES"
)

// -----------------------------------------------------------------------------
// Validation Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrValidationRequired indicates a required field is missing.
	ErrValidationRequired = "VALIDATION_REQUIRED"

	// ErrValidationOutOfRange indicates a value is outside allowed range.
	ErrValidationOutOfRange = "VALIDATION_OUT_OF_RANGE"
)

// -----------------------------------------------------------------------------
// I/O Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrIOReadFailed indicates a file read operation failed.
	ErrIOReadFailed = "IO_READ_FAILED"

	// ErrIOWriteFailed indicates a file write operation failed.
	ErrIOWriteFailed = "IO_WRITE_FAILED"
)

// -----------------------------------------------------------------------------
// Internal Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrInternal indicates an unexpected condition.
	ErrInternal = "INTERNAL_ERROR"
)

// AllCodes returns every error code defined by this package.
func AllCodes() []string {
	return []string{
		ErrConfigNotFound, ErrConfigParseFailed, ErrConfigInvalid, ErrConfigWriteFailed, ErrRuncardInvalid,
		ErrProcessFailed, ErrProcessStartFailed,
		ErrRunCorruptDirectory, ErrRunDataMalformed, ErrRunBootstrapDeclined,
		ErrMetricMissing, ErrMetricSampleCountMismatch, ErrMetricInsufficientSamples,
		ErrValidationRequired, ErrValidationOutOfRange,
		ErrIOReadFailed, ErrIOWriteFailed,
		ErrInternal,
	}
}

// CategoryForCode returns the category a code belongs to.
func CategoryForCode(code string) Category {
	switch code {
	case ErrConfigNotFound, ErrConfigParseFailed, ErrConfigInvalid, ErrConfigWriteFailed, ErrRuncardInvalid:
		return CategoryConfig
	case ErrProcessFailed, ErrProcessStartFailed:
		return CategoryProcess
	case ErrRunCorruptDirectory, ErrRunDataMalformed, ErrRunBootstrapDeclined:
		return CategoryRun
	case ErrMetricMissing, ErrMetricSampleCountMismatch, ErrMetricInsufficientSamples:
		return CategoryMetric
	case ErrValidationRequired, ErrValidationOutOfRange:
		return CategoryValidation
	case ErrIOReadFailed, ErrIOWriteFailed:
		return CategoryIO
	default:
		return CategoryInternal
	}
}
