// Package errors provides a suggestions registry for error remediation.
// Maps error codes to suggestions that help users fix issues.
package errors

import "strings"

// Registry maps error codes to their remediation suggestions.
type Registry struct {
	suggestions map[string][]Suggestion
}

// Suggestion is a remediation hint. Higher priority is shown first.
type Suggestion struct {
	Text     string
	Priority int
}

// NewRegistry creates a new suggestion registry.
func NewRegistry() *Registry {
	return &Registry{
		suggestions: make(map[string][]Suggestion),
	}
}

// Register adds a suggestion for an error code.
func (r *Registry) Register(code, text string) *Registry {
	r.suggestions[code] = append(r.suggestions[code], Suggestion{Text: text})
	return r
}

// RegisterWithPriority adds a suggestion with explicit priority.
func (r *Registry) RegisterWithPriority(code, text string, priority int) *Registry {
	r.suggestions[code] = append(r.suggestions[code], Suggestion{Text: text, Priority: priority})
	return r
}

// Get returns the suggestions for an error code sorted by priority (highest first).
func (r *Registry) Get(code string) []string {
	all, ok := r.suggestions[code]
	if !ok {
		return nil
	}
	sorted := make([]Suggestion, len(all))
	copy(sorted, all)
	sortByPriority(sorted)

	result := make([]string, len(sorted))
	for i, s := range sorted {
		result[i] = s.Text
	}
	return result
}

// HasSuggestions returns true if any suggestions exist for the error code.
func (r *Registry) HasSuggestions(code string) bool {
	return len(r.suggestions[code]) > 0
}

// sortByPriority is a stable insertion sort on descending priority.
func sortByPriority(suggestions []Suggestion) {
	for i := 1; i < len(suggestions); i++ {
		for j := i; j > 0 && suggestions[j].Priority > suggestions[j-1].Priority; j-- {
			suggestions[j], suggestions[j-1] = suggestions[j-1], suggestions[j]
		}
	}
}

// -----------------------------------------------------------------------------
// Global Default Registry
// -----------------------------------------------------------------------------

var defaultRegistry = NewRegistry()

// GetSuggestions returns suggestions for an error code using the default registry.
func GetSuggestions(code string) []string {
	return defaultRegistry.Get(code)
}

// DefaultRegistry returns the global default registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

func init() {
	defaultRegistry.
		Register(ErrConfigNotFound, "Run 'anvil-loop init' to create a default anvil-loop.yaml").
		Register(ErrConfigNotFound, "Pass an explicit path with --config")
	defaultRegistry.
		Register(ErrConfigParseFailed, "Check the YAML syntax (indentation uses spaces, not tabs)")
	defaultRegistry.
		Register(ErrConfigInvalid, "Compare your file against the output of 'anvil-loop init'")
	defaultRegistry.
		Register(ErrRuncardInvalid, "The training runcard must set 'epochs'; the sampling runcard must set 'training_output'").
		Register(ErrRuncardInvalid, "Alternatively set training.epochs_per_iteration or sampling.output in anvil-loop.yaml")

	defaultRegistry.
		RegisterWithPriority(ErrProcessFailed, "Inspect training_log.out in the run directory for the tool's own error output", 10).
		Register(ErrProcessFailed, "Fix the underlying problem (bad runcard, out of memory) and rerun; the loop resumes from the last recorded iteration")
	defaultRegistry.
		Register(ErrProcessStartFailed, "Check that the executable is installed and on PATH").
		Register(ErrProcessStartFailed, "Set training.executable / sampling.executable to an absolute path")

	defaultRegistry.
		RegisterWithPriority(ErrRunCorruptDirectory, "Delete or rename the run directory, then rerun to start a fresh run", 10).
		Register(ErrRunCorruptDirectory, "The directory exists but has no training_data.out, so the run cannot be resumed safely")
	defaultRegistry.
		Register(ErrRunDataMalformed, "Each row of training_data.out must hold seven whitespace-separated numbers")

	defaultRegistry.
		Register(ErrMetricMissing, "Check that the trainer prints a 'Final loss: <value>' line").
		Register(ErrMetricMissing, "The raw output of the failing iteration is in training_log.out")
	defaultRegistry.
		Register(ErrMetricSampleCountMismatch, "Each sampler invocation must print exactly one 'Acceptance' and one 'Integrated autocorrelation time' line")
	defaultRegistry.
		Register(ErrMetricInsufficientSamples, "Set loop.n_sample to 2 or more")
}

// AttachSuggestions adds registry suggestions to an error that has none.
func AttachSuggestions(err *AnvilError) *AnvilError {
	if err == nil || err.HasSuggestions() {
		return err
	}
	if s := GetSuggestions(err.Code); len(s) > 0 {
		err.Suggestions = append(err.Suggestions, s...)
	}
	return err
}

// FormatSuggestionList renders suggestions as an arrow-prefixed list.
func FormatSuggestionList(suggestions []string) string {
	if len(suggestions) == 0 {
		return ""
	}
	lines := make([]string, len(suggestions))
	for i, s := range suggestions {
		lines[i] = "  → " + s
	}
	return strings.Join(lines, "\n")
}
