// Package export renders a run's data and learning-rate files as CSV tables
// and SVG figures.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/ldd69/anvil/pkg/lrtrace"
	"github.com/ldd69/anvil/pkg/runstate"
)

// CSVDialect specifies the CSV format variant.
type CSVDialect string

const (
	// DialectStandard uses RFC 4180 compliant CSV (comma-separated, quoted strings).
	DialectStandard CSVDialect = "standard"

	// DialectExcel writes a UTF-8 BOM and CRLF line endings.
	DialectExcel CSVDialect = "excel"

	// DialectTSV uses tab-separated values instead of comma.
	DialectTSV CSVDialect = "tsv"
)

// ParseDialect maps a user-supplied name to a dialect.
func ParseDialect(s string) (CSVDialect, error) {
	switch d := CSVDialect(s); d {
	case DialectStandard, DialectExcel, DialectTSV:
		return d, nil
	case "":
		return DialectStandard, nil
	}
	return "", fmt.Errorf("unknown CSV dialect %q (want standard, excel or tsv)", s)
}

// CSVConfig specifies options for CSV export.
type CSVConfig struct {
	// Dialect specifies the CSV format variant.
	// Default: DialectStandard
	Dialect CSVDialect

	// IncludeHeader writes column headers as the first row.
	// Default: true
	IncludeHeader bool

	// Precision is the number of decimal places for floating-point values.
	// Negative means the shortest representation that round-trips.
	// Default: -1
	Precision int

	// NAString is written for NaN values.
	// Default: "NA" (compatible with R and Python pandas)
	NAString string
}

// DefaultCSVConfig returns a CSVConfig with sensible defaults.
func DefaultCSVConfig() *CSVConfig {
	return &CSVConfig{
		Dialect:       DialectStandard,
		IncludeHeader: true,
		Precision:     -1,
		NAString:      "NA",
	}
}

// Column names, snake_case so they are valid R and pandas identifiers.
var (
	RecordColumns = []string{
		"epochs",
		"train_time",
		"final_loss",
		"acceptance_mean",
		"acceptance_std",
		"tauint_mean",
		"tauint_std",
	}
	LearningRateColumns = []string{
		"epoch",
		"train_time",
		"learning_rate",
	}
)

// table is the shared writer behind the typed CSV writers.
type table struct {
	config      *CSVConfig
	writer      *csv.Writer
	out         io.Writer
	columns     []string
	headerDone  bool
	rowsWritten int
}

func newTable(w io.Writer, config *CSVConfig, columns []string) *table {
	if config == nil {
		config = DefaultCSVConfig()
	}

	csvWriter := csv.NewWriter(w)
	switch config.Dialect {
	case DialectTSV:
		csvWriter.Comma = '\t'
	case DialectExcel:
		csvWriter.UseCRLF = true
	}

	return &table{
		config:  config,
		writer:  csvWriter,
		out:     w,
		columns: columns,
	}
}

// WriteHeader writes the header row once. It is called automatically on
// the first row when IncludeHeader is set.
func (t *table) WriteHeader() error {
	if t.headerDone {
		return nil
	}
	if t.config.Dialect == DialectExcel {
		if _, err := io.WriteString(t.out, "\ufeff"); err != nil {
			return fmt.Errorf("failed to write CSV byte order mark: %w", err)
		}
	}
	if err := t.writer.Write(t.columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	t.headerDone = true
	return nil
}

func (t *table) writeRow(row []string) error {
	if t.config.IncludeHeader && !t.headerDone {
		if err := t.WriteHeader(); err != nil {
			return err
		}
	}
	if err := t.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	t.rowsWritten++
	return nil
}

// Flush flushes any buffered data to the underlying writer.
func (t *table) Flush() error {
	t.writer.Flush()
	if err := t.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}

// RowsWritten returns the number of data rows written (excluding header).
func (t *table) RowsWritten() int {
	return t.rowsWritten
}

func (t *table) formatFloat(f float64) string {
	if math.IsNaN(f) {
		return t.config.NAString
	}
	if t.config.Precision < 0 {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', t.config.Precision, 64)
}

// RecordCSVWriter writes iteration records, one row per data-file line.
type RecordCSVWriter struct {
	*table
}

// NewRecordCSVWriter creates a RecordCSVWriter. If config is nil,
// DefaultCSVConfig() is used.
func NewRecordCSVWriter(w io.Writer, config *CSVConfig) *RecordCSVWriter {
	return &RecordCSVWriter{newTable(w, config, RecordColumns)}
}

// Write writes a single record.
func (rw *RecordCSVWriter) Write(r runstate.IterationRecord) error {
	return rw.writeRow([]string{
		strconv.Itoa(r.Epochs),
		strconv.Itoa(r.TrainTime),
		rw.formatFloat(r.FinalLoss),
		rw.formatFloat(r.AcceptanceMean),
		rw.formatFloat(r.AcceptanceStd),
		rw.formatFloat(r.TauintMean),
		rw.formatFloat(r.TauintStd),
	})
}

// WriteAll writes records in order.
func (rw *RecordCSVWriter) WriteAll(records []runstate.IterationRecord) error {
	for _, r := range records {
		if err := rw.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// LearningRateCSVWriter writes rebased learning-rate rows.
type LearningRateCSVWriter struct {
	*table
}

// NewLearningRateCSVWriter creates a LearningRateCSVWriter. If config is
// nil, DefaultCSVConfig() is used.
func NewLearningRateCSVWriter(w io.Writer, config *CSVConfig) *LearningRateCSVWriter {
	return &LearningRateCSVWriter{newTable(w, config, LearningRateColumns)}
}

// Write writes a single row.
func (lw *LearningRateCSVWriter) Write(r lrtrace.Row) error {
	return lw.writeRow([]string{
		lw.formatFloat(r.Epoch),
		lw.formatFloat(r.TrainTime),
		lw.formatFloat(r.LearningRate),
	})
}

// WriteAll writes rows in order.
func (lw *LearningRateCSVWriter) WriteAll(rows []lrtrace.Row) error {
	for _, r := range rows {
		if err := lw.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// ExportRecordsToCSV writes records as a complete CSV table. An empty slice
// still produces the header when IncludeHeader is set.
func ExportRecordsToCSV(w io.Writer, records []runstate.IterationRecord, config *CSVConfig) error {
	writer := NewRecordCSVWriter(w, config)
	if writer.config.IncludeHeader {
		if err := writer.WriteHeader(); err != nil {
			return err
		}
	}
	if err := writer.WriteAll(records); err != nil {
		return err
	}
	return writer.Flush()
}

// ExportLearningRatesToCSV writes learning-rate rows as a complete CSV table.
func ExportLearningRatesToCSV(w io.Writer, rows []lrtrace.Row, config *CSVConfig) error {
	writer := NewLearningRateCSVWriter(w, config)
	if writer.config.IncludeHeader {
		if err := writer.WriteHeader(); err != nil {
			return err
		}
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Flush()
}
