// Package errors provides structured error types for anvil-loop.
// Errors include context, causes, and actionable suggestions.
package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Category classifies errors for consistent handling and display.
type Category string

const (
	CategoryConfig     Category = "config"     // Loop config and runcard errors
	CategoryProcess    Category = "process"    // External trainer/sampler failures
	CategoryRun        Category = "run"        // Run directory state errors
	CategoryMetric     Category = "metric"     // Output extraction and aggregation errors
	CategoryValidation Category = "validation" // Input validation errors
	CategoryIO         Category = "io"         // File/IO errors
	CategoryInternal   Category = "internal"   // Internal/unexpected errors
)

// AnvilError is a structured error with context and suggestions.
// It implements the error interface and supports error wrapping.
type AnvilError struct {
	// Code is a unique identifier for this error type (e.g., "PROCESS_FAILED")
	Code string

	// Category classifies this error for consistent handling
	Category Category

	// Message is the primary error message describing what went wrong
	Message string

	// Context provides additional key-value details about the error
	Context map[string]string

	// Cause is the underlying error that triggered this error (for wrapping)
	Cause error

	// Suggestions are actionable remediation steps for the user
	Suggestions []string
}

// Error implements the error interface.
func (e *AnvilError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *AnvilError) Unwrap() error {
	return e.Cause
}

// Is reports whether e matches target for errors.Is() checks.
// Two AnvilErrors match if they have the same Code.
func (e *AnvilError) Is(target error) bool {
	if t, ok := target.(*AnvilError); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new AnvilError with the given code, category, and message.
func New(code string, category Category, message string) *AnvilError {
	return &AnvilError{
		Code:     code,
		Category: category,
		Message:  message,
		Context:  make(map[string]string),
	}
}

// WithContext adds a context key-value pair and returns the error for chaining.
func (e *AnvilError) WithContext(key, value string) *AnvilError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithCause wraps an underlying error and returns the error for chaining.
func (e *AnvilError) WithCause(cause error) *AnvilError {
	e.Cause = cause
	return e
}

// WithSuggestion adds a remediation suggestion and returns the error for chaining.
func (e *AnvilError) WithSuggestion(suggestion string) *AnvilError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple remediation suggestions.
func (e *AnvilError) WithSuggestions(suggestions ...string) *AnvilError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// HasContext returns true if the error has context information.
func (e *AnvilError) HasContext() bool {
	return len(e.Context) > 0
}

// HasSuggestions returns true if the error has suggestions.
func (e *AnvilError) HasSuggestions() bool {
	return len(e.Suggestions) > 0
}

// ContextString returns the context entries as sorted key="value" pairs.
func (e *AnvilError) ContextString() string {
	if len(e.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, e.Context[k]))
	}
	return strings.Join(parts, ", ")
}

// Wrap wraps an existing error with an AnvilError.
func Wrap(err error, code string, category Category, message string) *AnvilError {
	return New(code, category, message).WithCause(err)
}

// AsAnvilError walks the error chain looking for an AnvilError.
func AsAnvilError(err error) (*AnvilError, bool) {
	for err != nil {
		if ae, ok := err.(*AnvilError); ok {
			return ae, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// IsCategory checks if an error is an AnvilError with the given category.
func IsCategory(err error, category Category) bool {
	if ae, ok := AsAnvilError(err); ok {
		return ae.Category == category
	}
	return false
}

// IsCode checks if an error is an AnvilError with the given code.
func IsCode(err error, code string) bool {
	if ae, ok := AsAnvilError(err); ok {
		return ae.Code == code
	}
	return false
}
