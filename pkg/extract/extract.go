// Package extract parses the captured output of the external trainer and
// sampler into typed metrics.
//
// The output is treated as a versioned line grammar (see Grammar). Each
// marker is matched case-insensitively against the start of a trimmed line.
package extract

import (
	"bufio"
	"bytes"
	"math"
	"strconv"
	"strings"

	werrors "github.com/ldd69/anvil/pkg/errors"
)

// Grammar names the line markers the extractor understands.
type Grammar struct {
	Version     int
	FinalLoss   string // "Final loss: <value>"
	Acceptance  string // "Acceptance: <value>"
	Fraction    string // "Accepted: <n>, Rejected: <m>, Fraction: <value>"
	Tauint      string // "Integrated autocorrelation time: <value>"
	Epoch       string // "Epoch <fraction>: ... <learning rate>"
	FractionKey string
}

// GrammarV1 is the output format of the anvil trainer and sampler.
var GrammarV1 = Grammar{
	Version:     1,
	FinalLoss:   "final loss",
	Acceptance:  "acceptance",
	Fraction:    "accepted",
	Tauint:      "integrated autocorrelation time",
	Epoch:       "epoch",
	FractionKey: "fraction",
}

// LREntry is one learning-rate report relative to a single training call.
type LREntry struct {
	EpochFraction float64
	LearningRate  float64
}

// Metrics is everything extracted from one iteration's output.
type Metrics struct {
	FinalLoss  float64
	Acceptance []float64
	Tauint     []float64
	LR         []LREntry
	// Skipped counts Epoch lines that did not match the expected layout.
	Skipped int
}

// Parse extracts metrics using GrammarV1.
func Parse(blob []byte) (*Metrics, error) {
	return GrammarV1.Parse(blob)
}

// Parse extracts metrics from blob. It fails only when the final loss is
// absent; malformed learning-rate lines are counted and skipped.
func (g Grammar) Parse(blob []byte) (*Metrics, error) {
	m := &Metrics{}
	haveLoss := false

	scanner := bufio.NewScanner(bytes.NewReader(blob))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(lower, g.FinalLoss):
			if v, ok := valueAfterColon(line); ok {
				m.FinalLoss = v
				haveLoss = true
			}
		case strings.HasPrefix(lower, g.Tauint):
			if v, ok := valueAfterColon(line); ok {
				m.Tauint = append(m.Tauint, v)
			}
		case strings.HasPrefix(lower, g.Acceptance):
			if v, ok := valueAfterColon(line); ok {
				m.Acceptance = append(m.Acceptance, v)
			}
		case strings.HasPrefix(lower, g.Fraction):
			if v, ok := g.fractionField(line); ok {
				m.Acceptance = append(m.Acceptance, v)
			}
		case strings.HasPrefix(lower, g.Epoch):
			if e, ok := parseEpochLine(line); ok {
				m.LR = append(m.LR, e)
			} else {
				m.Skipped++
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, werrors.IOWrap(err, werrors.ErrIOReadFailed, "cannot scan captured output")
	}

	if !haveLoss {
		return nil, werrors.MissingMetric("Final loss")
	}
	return m, nil
}

// valueAfterColon parses the first token after the first colon. Non-finite
// values are rejected so that a "nan" report counts as a missing sample.
func valueAfterColon(line string) (float64, bool) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return 0, false
	}
	fields := strings.Fields(line[i+1:])
	if len(fields) == 0 {
		return 0, false
	}
	return parseNumber(fields[0])
}

// fractionField reads the value of "Fraction: <v>" from a comma-separated
// accept/reject summary line.
func (g Grammar) fractionField(line string) (float64, bool) {
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), g.FractionKey) {
			return valueAfterColon(part)
		}
	}
	return 0, false
}

// parseEpochLine reads "Epoch <fraction>: ... <lr>". The fraction is a
// decimal in [0,1] or a k/N ratio. The learning rate is the value after an
// "lr" label when the line has one, otherwise an unlabelled last column.
func parseEpochLine(line string) (LREntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return LREntry{}, false
	}
	frac, ok := parseFraction(strings.TrimSuffix(fields[1], ":"))
	if !ok {
		return LREntry{}, false
	}
	lr, ok := learningRate(fields[2:])
	if !ok {
		return LREntry{}, false
	}
	return LREntry{EpochFraction: frac, LearningRate: lr}, true
}

// learningRate picks the learning rate out of the fields following the
// epoch fraction. An unlabelled value must not directly follow another
// label, so a line cut off after "loss <v>," is rejected.
func learningRate(fields []string) (float64, bool) {
	for i, f := range fields {
		key, val, _ := strings.Cut(strings.ToLower(strings.TrimRight(f, ",;")), "=")
		if key != "lr" && key != "lr:" {
			continue
		}
		if val == "" {
			if i+1 >= len(fields) {
				return 0, false
			}
			val = fields[i+1]
		}
		return parseNumber(val)
	}

	last := fields[len(fields)-1]
	if strings.HasSuffix(last, ",") {
		return 0, false
	}
	if len(fields) > 1 {
		if _, ok := parseNumber(fields[len(fields)-2]); !ok {
			return 0, false
		}
	}
	return parseNumber(last)
}

// parseNumber parses a finite float, ignoring trailing separators.
func parseNumber(tok string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimRight(tok, ",;"), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseFraction(tok string) (float64, bool) {
	var v float64
	if num, den, found := strings.Cut(tok, "/"); found {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		v = n / d
	} else {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return 0, false
		}
		v = f
	}
	if v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}
