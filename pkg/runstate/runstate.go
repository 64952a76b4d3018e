// Package runstate persists the resumable state of a training run.
//
// A run directory holds three append-only files:
//
//	training_log.out    raw tool output, one delimited block per iteration
//	training_data.out   one whitespace-separated row per iteration
//	learning_rate.out   absolute learning-rate trace
//
// The last row of training_data.out is the authoritative RunState. A single
// controller is assumed per run directory; there is no file locking.
package runstate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	werrors "github.com/ldd69/anvil/pkg/errors"
	"github.com/ldd69/anvil/pkg/lrtrace"
)

// File names inside a run directory.
const (
	LogFile          = "training_log.out"
	DataFile         = "training_data.out"
	LearningRateFile = "learning_rate.out"
)

const (
	dataHeader = "# epoch train_time loss acceptance_mean acceptance_std tauint_mean tauint_std\n"
	lrHeader   = "# absolute_epoch absolute_train_time learning_rate\n"
)

// RunState is the cumulative progress of a run.
type RunState struct {
	Epochs         int     `json:"epochs"`
	TrainTime      int     `json:"train_time_seconds"`
	LastAcceptance float64 `json:"last_acceptance"`
}

// IterationRecord is one row of the data file.
type IterationRecord struct {
	Epochs         int     `json:"epochs"`
	TrainTime      int     `json:"train_time_seconds"`
	FinalLoss      float64 `json:"final_loss"`
	AcceptanceMean float64 `json:"acceptance_mean"`
	AcceptanceStd  float64 `json:"acceptance_std"`
	TauintMean     float64 `json:"tauint_mean"`
	TauintStd      float64 `json:"tauint_std"`
}

// State returns the RunState this record leaves behind.
func (r IterationRecord) State() RunState {
	return RunState{Epochs: r.Epochs, TrainTime: r.TrainTime, LastAcceptance: r.AcceptanceMean}
}

// Store reads and appends the files of one run directory.
type Store struct {
	dir string
}

// NewStore returns a store for the run directory dir.
func NewStore(dir string) *Store {
	return &Store{dir: filepath.Clean(dir)}
}

// Dir returns the run directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the path of a file inside the run directory.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// Load returns the persisted RunState. found is false when the run
// directory does not exist. A directory without a data file, or whose data
// file holds no rows, is reported as RUN_CORRUPT_DIRECTORY.
func (s *Store) Load() (state RunState, found bool, err error) {
	info, err := os.Stat(s.dir)
	if os.IsNotExist(err) {
		return RunState{}, false, nil
	}
	if err != nil {
		return RunState{}, false, werrors.IOWrap(err, werrors.ErrIOReadFailed, "cannot stat run directory").
			WithContext("run_dir", s.dir)
	}
	if !info.IsDir() {
		return RunState{}, false, werrors.CorruptRunDirectory(s.dir, "path exists but is not a directory")
	}

	records, err := s.Records()
	if errors.Is(err, fs.ErrNotExist) {
		return RunState{}, false, werrors.CorruptRunDirectory(s.dir, DataFile+" is missing")
	}
	if err != nil {
		return RunState{}, false, err
	}
	if len(records) == 0 {
		return RunState{}, false, werrors.CorruptRunDirectory(s.dir, DataFile+" has no rows")
	}
	return records[len(records)-1].State(), true, nil
}

// Records reads every row of the data file in order.
func (s *Store) Records() ([]IterationRecord, error) {
	var records []IterationRecord
	err := s.scanRows(DataFile, func(lineNo int, f []string) error {
		rec, err := parseRecord(f)
		if err != nil {
			return werrors.New(werrors.ErrRunDataMalformed, werrors.CategoryRun,
				fmt.Sprintf("%s line %d: %v", DataFile, lineNo, err)).
				WithContext("run_dir", s.dir).
				WithSuggestions(werrors.GetSuggestions(werrors.ErrRunDataMalformed)...)
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

// LearningRates reads every row of the learning-rate file in order. A
// missing file yields no rows.
func (s *Store) LearningRates() ([]lrtrace.Row, error) {
	var rows []lrtrace.Row
	err := s.scanRows(LearningRateFile, func(lineNo int, f []string) error {
		if len(f) < 3 {
			return werrors.New(werrors.ErrRunDataMalformed, werrors.CategoryRun,
				fmt.Sprintf("%s line %d: expected 3 columns, got %d", LearningRateFile, lineNo, len(f)))
		}
		v, err := parseFloats(f[:3])
		if err != nil {
			return werrors.New(werrors.ErrRunDataMalformed, werrors.CategoryRun,
				fmt.Sprintf("%s line %d: %v", LearningRateFile, lineNo, err))
		}
		rows = append(rows, lrtrace.Row{Epoch: v[0], TrainTime: v[1], LearningRate: v[2]})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return rows, err
}

func (s *Store) scanRows(name string, fn func(lineNo int, fields []string) error) error {
	f, err := os.Open(s.Path(name))
	if err != nil {
		return werrors.IOWrap(err, werrors.ErrIOReadFailed, "cannot open "+name).
			WithContext("run_dir", s.dir)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(lineNo, strings.Fields(line)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return werrors.IOWrap(err, werrors.ErrIOReadFailed, "cannot read "+name)
	}
	return nil
}

func parseRecord(f []string) (IterationRecord, error) {
	if len(f) < 7 {
		return IterationRecord{}, fmt.Errorf("expected 7 columns, got %d", len(f))
	}
	v, err := parseFloats(f[:7])
	if err != nil {
		return IterationRecord{}, err
	}
	return IterationRecord{
		Epochs:         int(v[0]),
		TrainTime:      int(v[1]),
		FinalLoss:      v[2],
		AcceptanceMean: v[3],
		AcceptanceStd:  v[4],
		TauintMean:     v[5],
		TauintStd:      v[6],
	}, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %q is not a number", i+1, s)
		}
		out[i] = v
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Appends
// -----------------------------------------------------------------------------

// Append writes one record as a single line at the end of the data file.
func (s *Store) Append(rec IterationRecord) error {
	line := fmt.Sprintf("%d %d %s %s %s %s %s\n",
		rec.Epochs, rec.TrainTime,
		formatFloat(rec.FinalLoss),
		formatFloat(rec.AcceptanceMean), formatFloat(rec.AcceptanceStd),
		formatFloat(rec.TauintMean), formatFloat(rec.TauintStd))
	return s.appendFile(DataFile, dataHeader, []byte(line))
}

// AppendLog appends raw output after a delimiter naming the epoch range.
func (s *Store) AppendLog(epochsBefore, epochsAfter int, blob []byte) error {
	return s.appendFile(LogFile, "", logBlock(epochsBefore, epochsAfter, blob))
}

// AppendLearningRates appends rebased rows. An empty slice is a no-op.
func (s *Store) AppendLearningRates(rows []lrtrace.Row) error {
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&sb, "%s %s %s\n", formatFloat(r.Epoch), formatFloat(r.TrainTime), formatFloat(r.LearningRate))
	}
	return s.appendFile(LearningRateFile, lrHeader, []byte(sb.String()))
}

// appendFile writes data with one O_APPEND write and syncs it. header is
// written first when the file is new.
func (s *Store) appendFile(name, header string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return werrors.IOWrap(err, werrors.ErrIOWriteFailed, "cannot create run directory").
			WithContext("run_dir", s.dir)
	}
	f, err := os.OpenFile(s.Path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return werrors.IOWrap(err, werrors.ErrIOWriteFailed, "cannot open "+name).
			WithContext("run_dir", s.dir)
	}
	defer f.Close()

	if header != "" {
		if info, err := f.Stat(); err == nil && info.Size() == 0 {
			data = append([]byte(header), data...)
		}
	}
	if _, err := f.Write(data); err != nil {
		return werrors.IOWrap(err, werrors.ErrIOWriteFailed, "cannot append to "+name)
	}
	if err := f.Sync(); err != nil {
		return werrors.IOWrap(err, werrors.ErrIOWriteFailed, "cannot sync "+name)
	}
	return nil
}

func logBlock(before, after int, blob []byte) []byte {
	out := make([]byte, 0, len(blob)+64)
	out = append(out, Delimiter(before, after)...)
	out = append(out, '\n')
	out = append(out, blob...)
	if len(blob) > 0 && blob[len(blob)-1] != '\n' {
		out = append(out, '\n')
	}
	return out
}

// Delimiter is the log line that opens the block for an epoch range.
func Delimiter(before, after int) string {
	return fmt.Sprintf("========== epochs %d-%d ==========", before, after)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// -----------------------------------------------------------------------------
// Bootstrap staging
// -----------------------------------------------------------------------------

// BootstrapLogPath is where bootstrap output is staged before the run
// directory exists: a hidden file beside the run directory.
func (s *Store) BootstrapLogPath() string {
	return filepath.Join(filepath.Dir(s.dir), "."+filepath.Base(s.dir)+".bootstrap.log.tmp")
}

// StageBootstrapLog writes bootstrap output to the temporary log file and
// returns its path.
func (s *Store) StageBootstrapLog(blob []byte) (string, error) {
	path := s.BootstrapLogPath()
	if err := os.WriteFile(path, blob, 0644); err != nil {
		return "", werrors.IOWrap(err, werrors.ErrIOWriteFailed, "cannot stage bootstrap log").
			WithContext("path", path)
	}
	return path, nil
}

// PromoteBootstrapLog moves a staged bootstrap log into the permanent log
// under the delimiter for its epoch range and removes the staged file.
func (s *Store) PromoteBootstrapLog(path string, epochsBefore, epochsAfter int) error {
	f, err := os.Open(path)
	if err != nil {
		return werrors.IOWrap(err, werrors.ErrIOReadFailed, "cannot open staged bootstrap log").
			WithContext("path", path)
	}
	blob, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return werrors.IOWrap(err, werrors.ErrIOReadFailed, "cannot read staged bootstrap log")
	}
	if err := s.AppendLog(epochsBefore, epochsAfter, blob); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return werrors.IOWrap(err, werrors.ErrIOWriteFailed, "cannot remove staged bootstrap log").
			WithContext("path", path)
	}
	return nil
}
