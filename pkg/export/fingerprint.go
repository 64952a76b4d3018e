package export

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ldd69/anvil/pkg/runstate"
)

// HashAlgorithm identifies the hashing algorithm used for fingerprints.
const HashAlgorithm = "SHA-256"

// RunConfig holds what identifies a run's results: the loop parameters and
// the recorded iterations.
type RunConfig struct {
	ToolVersion string                     `json:"tool_version"`
	Target      float64                    `json:"target"`
	NSample     int                        `json:"n_sample"`
	EpochsIter  int                        `json:"epochs_iter"`
	Records     []runstate.IterationRecord `json:"records"`

	// Parameters are sorted by key during hashing.
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Fingerprint is a computed hash and what it covers.
type Fingerprint struct {
	Hash       string     `json:"hash"`
	Algorithm  string     `json:"algorithm"`
	ComputedAt time.Time  `json:"computed_at"`
	Config     *RunConfig `json:"config"`
}

// FingerprintBuilder constructs run fingerprints.
type FingerprintBuilder struct {
	config *RunConfig
}

// NewFingerprintBuilder creates a new FingerprintBuilder.
func NewFingerprintBuilder() *FingerprintBuilder {
	return &FingerprintBuilder{
		config: &RunConfig{Parameters: make(map[string]string)},
	}
}

// WithToolVersion sets the tool version.
func (fb *FingerprintBuilder) WithToolVersion(version string) *FingerprintBuilder {
	fb.config.ToolVersion = version
	return fb
}

// WithLoop sets the loop parameters.
func (fb *FingerprintBuilder) WithLoop(target float64, nSample, epochsIter int) *FingerprintBuilder {
	fb.config.Target = target
	fb.config.NSample = nSample
	fb.config.EpochsIter = epochsIter
	return fb
}

// WithRecords sets the recorded iterations.
func (fb *FingerprintBuilder) WithRecords(records []runstate.IterationRecord) *FingerprintBuilder {
	fb.config.Records = records
	return fb
}

// WithParameter adds a parameter such as an executable name.
func (fb *FingerprintBuilder) WithParameter(key, value string) *FingerprintBuilder {
	fb.config.Parameters[key] = value
	return fb
}

// Build computes the fingerprint. Identical configurations produce
// identical hashes.
func (fb *FingerprintBuilder) Build() *Fingerprint {
	return &Fingerprint{
		Hash:       computeHash(fb.config),
		Algorithm:  HashAlgorithm,
		ComputedAt: time.Now(),
		Config:     fb.config,
	}
}

// computeHash hashes a canonical rendering of config. Field order is fixed.
func computeHash(config *RunConfig) string {
	var sb strings.Builder
	ff := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

	fmt.Fprintf(&sb, "version:%s|", config.ToolVersion)
	fmt.Fprintf(&sb, "target:%s|n_sample:%d|epochs_iter:%d|", ff(config.Target), config.NSample, config.EpochsIter)

	sb.WriteString("records:")
	for _, r := range config.Records {
		fmt.Fprintf(&sb, "%d %d %s %s %s %s %s;", r.Epochs, r.TrainTime, ff(r.FinalLoss),
			ff(r.AcceptanceMean), ff(r.AcceptanceStd), ff(r.TauintMean), ff(r.TauintStd))
	}
	sb.WriteString("|")

	if len(config.Parameters) > 0 {
		keys := make([]string, 0, len(config.Parameters))
		for k := range config.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("params:")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(k + "=" + config.Parameters[k])
		}
		sb.WriteString("|")
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first 8 characters of the hash.
func (f *Fingerprint) ShortHash() string {
	if len(f.Hash) >= 8 {
		return f.Hash[:8]
	}
	return f.Hash
}

// Verify recomputes the hash and reports whether it still matches.
func (f *Fingerprint) Verify() bool {
	if f.Config == nil {
		return false
	}
	return computeHash(f.Config) == f.Hash
}

// ToJSON returns the fingerprint as indented JSON.
func (f *Fingerprint) ToJSON() (string, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal fingerprint: %w", err)
	}
	return string(data), nil
}
