package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	werrors "github.com/ldd69/anvil/pkg/errors"
)

// RunCard is a trainer or sampler runcard. Only the keys the loop depends
// on are interpreted; everything else is passed through to the tools.
type RunCard map[string]interface{}

// ReadRunCard parses a YAML runcard.
func ReadRunCard(path string) (RunCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, werrors.ConfigWrap(err, werrors.ErrRuncardInvalid, "failed to read runcard").
			WithContext("path", path)
	}
	card := RunCard{}
	if err := yaml.Unmarshal(data, &card); err != nil {
		e := werrors.ConfigWrap(err, werrors.ErrRuncardInvalid, "failed to parse runcard").
			WithContext("path", path)
		if line, _ := extractYAMLErrorLocation(err.Error()); line > 0 {
			e.WithContext("line", fmt.Sprint(line))
		}
		return nil, e
	}
	return card, nil
}

// Int returns a positive integer field.
func (r RunCard) Int(key string) (int, bool) {
	switch v := r[key].(type) {
	case int:
		return v, v > 0
	case float64:
		if v == float64(int(v)) {
			return int(v), v > 0
		}
	}
	return 0, false
}

// String returns a non-empty string field.
func (r RunCard) String(key string) (string, bool) {
	s, ok := r[key].(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

// Plan is what the loop needs from the configuration and both runcards.
type Plan struct {
	EpochsIter int
	RunDir     string
}

// ResolvePlan determines the epochs advanced per training call and the run
// directory, preferring explicit config values over runcard fields.
func (c *Config) ResolvePlan() (Plan, error) {
	p := Plan{EpochsIter: c.Training.EpochsPerIteration, RunDir: c.Sampling.Output}

	if p.EpochsIter == 0 {
		card, err := ReadRunCard(c.Training.Runcard)
		if err != nil {
			return Plan{}, err
		}
		n, ok := card.Int("epochs")
		if !ok {
			return Plan{}, werrors.Config(werrors.ErrRuncardInvalid,
				"training runcard has no positive integer 'epochs'").
				WithContext("path", c.Training.Runcard)
		}
		p.EpochsIter = n
	}

	if p.RunDir == "" {
		card, err := ReadRunCard(c.Sampling.Runcard)
		if err != nil {
			return Plan{}, err
		}
		dir, ok := card.String("training_output")
		if !ok {
			return Plan{}, werrors.Config(werrors.ErrRuncardInvalid,
				"sampling runcard has no 'training_output'").
				WithContext("path", c.Sampling.Runcard)
		}
		p.RunDir = dir
	}
	return p, nil
}
