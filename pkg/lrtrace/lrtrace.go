// Package lrtrace places the learning-rate entries reported by one training
// call on the run's global epoch and train-time axes.
package lrtrace

import "github.com/ldd69/anvil/pkg/extract"

// Span describes where one training call sits in the run.
type Span struct {
	EpochsBefore    int
	TrainTimeBefore int     // seconds
	EpochsIter      int     // epochs advanced by the call
	Duration        float64 // seconds the call took
}

// Row is a learning-rate entry on absolute axes.
type Row struct {
	Epoch        float64
	TrainTime    float64
	LearningRate float64
}

// Rebase converts iteration-relative entries into absolute rows, one per
// entry, in input order.
func Rebase(span Span, entries []extract.LREntry) []Row {
	if len(entries) == 0 {
		return nil
	}
	epochsIter := float64(span.EpochsIter)
	rows := make([]Row, len(entries))
	for i, e := range entries {
		remaining := 1 - e.EpochFraction
		rows[i] = Row{
			Epoch:        float64(span.EpochsBefore) + epochsIter - remaining*epochsIter,
			TrainTime:    float64(span.TrainTimeBefore) + span.Duration - remaining*span.Duration,
			LearningRate: e.LearningRate,
		}
	}
	return rows
}
