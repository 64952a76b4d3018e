package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/ldd69/anvil/pkg/errors"
)

const trainOutput = `Loading checkpoint from runs/phi4
Epoch 0.25: loss 12.5, lr 0.01
Epoch 0.5: loss 10.1, lr 0.005
Epoch 1/1: loss 9.8, lr 0.0025
Final loss: 9.8
`

func TestParse_TrainingOutput(t *testing.T) {
	m, err := Parse([]byte(trainOutput))
	require.NoError(t, err)

	assert.Equal(t, 9.8, m.FinalLoss)
	assert.Empty(t, m.Acceptance)
	assert.Empty(t, m.Tauint)
	require.Len(t, m.LR, 3)
	assert.Equal(t, LREntry{EpochFraction: 0.25, LearningRate: 0.01}, m.LR[0])
	assert.Equal(t, LREntry{EpochFraction: 0.5, LearningRate: 0.005}, m.LR[1])
	assert.Equal(t, LREntry{EpochFraction: 1, LearningRate: 0.0025}, m.LR[2])
}

func TestParse_LastFinalLossWins(t *testing.T) {
	m, err := Parse([]byte("Final loss: 3.0\nFinal loss: 2.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 2.5, m.FinalLoss)
}

func TestParse_MissingFinalLoss(t *testing.T) {
	_, err := Parse([]byte("Epoch 0.5: loss 1.0 0.001\nAcceptance: 0.9\n"))
	require.Error(t, err)
	assert.True(t, werrors.IsCode(err, werrors.ErrMetricMissing))
}

func TestParse_SamplingOutputInOrder(t *testing.T) {
	blob := "Final loss: 1.0\n" +
		"Thermalisation: discarded 10000 configurations.\n" +
		"Integrated autocorrelation time: 1.7\n" +
		"Acceptance: 0.90\n" +
		"Integrated autocorrelation time: 1.6\n" +
		"acceptance: 0.91\n"

	m, err := Parse([]byte(blob))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.90, 0.91}, m.Acceptance)
	assert.Equal(t, []float64{1.7, 1.6}, m.Tauint)
}

func TestParse_AcceptRejectSummaryLine(t *testing.T) {
	blob := "Final loss: 1.0\nAccepted: 8712, Rejected: 1288, Fraction: 0.87\n"

	m, err := Parse([]byte(blob))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.87}, m.Acceptance)
}

func TestParse_NonFiniteValuesAreIgnored(t *testing.T) {
	blob := "Final loss: 1.0\n" +
		"Acceptance: nan\n" +
		"Integrated autocorrelation time: +Inf\n" +
		"Acceptance: 0.92\n" +
		"Integrated autocorrelation time: 1.4\n"

	m, err := Parse([]byte(blob))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.92}, m.Acceptance)
	assert.Equal(t, []float64{1.4}, m.Tauint)

	_, err = Parse([]byte("Final loss: NaN\n"))
	assert.True(t, werrors.IsCode(err, werrors.ErrMetricMissing))
}

func TestParse_MalformedLRLineIsSkipped(t *testing.T) {
	blob := "Epoch 0.5: loss 1.0 lr 0.001\n" +
		"Epoch 0.75:\n" +
		"Final loss: 1.0\n"

	m, err := Parse([]byte(blob))
	require.NoError(t, err)
	require.Len(t, m.LR, 1)
	assert.Equal(t, 0.5, m.LR[0].EpochFraction)
	assert.Equal(t, 0.001, m.LR[0].LearningRate)
	assert.Equal(t, 1, m.Skipped)
}

func TestParseEpochLine(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
		want LREntry
	}{
		{"Epoch 0.5: loss 1.0 0.001", true, LREntry{0.5, 0.001}},
		{"Epoch 250/1000: loss 2.0 1e-4", true, LREntry{0.25, 1e-4}},
		{"Epoch 0.5:", false, LREntry{}},
		{"Epoch 0.5: loss", false, LREntry{}},
		{"Epoch 1.5: loss 1.0 0.001", false, LREntry{}},
		{"Epoch 3/0: loss 1.0 0.001", false, LREntry{}},
		{"Epoch abc: loss 1.0 0.001", false, LREntry{}},
		{"Epoch 0.5: loss 1.5, lr 0.01", true, LREntry{0.5, 0.01}},
		{"Epoch 0.5: lr=0.02 loss 1.5", true, LREntry{0.5, 0.02}},
		{"Epoch 0.5: 0.003", true, LREntry{0.5, 0.003}},
		{"Epoch 0.5: loss 1.5,", false, LREntry{}},
		{"Epoch 0.5: loss 1.5", false, LREntry{}},
		{"Epoch 0.5: loss 1.5, lr", false, LREntry{}},
		{"Epoch 0.5: loss 1.5, lr nan", false, LREntry{}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseEpochLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want.EpochFraction, got.EpochFraction, 1e-12)
				assert.InDelta(t, tt.want.LearningRate, got.LearningRate, 1e-15)
			}
		})
	}
}
