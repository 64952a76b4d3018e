// Package ledger keeps a SQLite index of every iteration recorded across
// runs, so past runs can be listed without opening their run directories.
package ledger

import (
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/ldd69/anvil/pkg/controller"
	werrors "github.com/ldd69/anvil/pkg/errors"
	"github.com/ldd69/anvil/pkg/runstate"
)

const schema = `
CREATE TABLE IF NOT EXISTS iterations(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts REAL NOT NULL,
	run_dir TEXT NOT NULL,
	session_id TEXT NOT NULL,
	number INTEGER NOT NULL,
	bootstrap INTEGER NOT NULL,
	epochs INTEGER NOT NULL,
	train_time INTEGER NOT NULL,
	final_loss REAL NOT NULL,
	acc_mean REAL NOT NULL,
	acc_std REAL NOT NULL,
	tau_mean REAL NOT NULL,
	tau_std REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS iterations_run ON iterations(run_dir, id);
`

// Entry is one ledger row.
type Entry struct {
	ID         int64
	RecordedAt time.Time
	RunDir     string
	SessionID  string
	Number     int
	Bootstrap  bool
	Record     runstate.IterationRecord
}

// Query filters History. Zero values match everything.
type Query struct {
	RunDir string
	Limit  int // most recent N rows, 0 for all
}

// Ledger is an open ledger database.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, werrors.Validation(werrors.ErrValidationRequired, "ledger path is required").
			WithContext("field", "ledger.path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, werrors.IOWrap(err, werrors.ErrIOWriteFailed, "failed to create ledger directory").
				WithContext("path", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, werrors.IOWrap(err, werrors.ErrIOReadFailed, "failed to open ledger").
			WithContext("path", path)
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, werrors.IOWrap(err, werrors.ErrIOWriteFailed, "failed to initialize ledger schema").
			WithContext("path", path)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Insert appends e. RecordedAt defaults to now.
func (l *Ledger) Insert(ctx context.Context, e Entry) (int64, error) {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = l.now()
	}
	r := e.Record
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO iterations(ts, run_dir, session_id, number, bootstrap,
			epochs, train_time, final_loss, acc_mean, acc_std, tau_mean, tau_std)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		float64(e.RecordedAt.UnixMilli())/1000.0, e.RunDir, e.SessionID, e.Number, boolInt(e.Bootstrap),
		r.Epochs, r.TrainTime, r.FinalLoss, r.AcceptanceMean, r.AcceptanceStd, r.TauintMean, r.TauintStd)
	if err != nil {
		return 0, werrors.IOWrap(err, werrors.ErrIOWriteFailed, "failed to insert ledger entry").
			WithContext("run", e.RunDir)
	}
	return res.LastInsertId()
}

// History returns matching entries in the order they were recorded.
func (l *Ledger) History(ctx context.Context, q Query) ([]Entry, error) {
	query := `SELECT id, ts, run_dir, session_id, number, bootstrap,
		epochs, train_time, final_loss, acc_mean, acc_std, tau_mean, tau_std
		FROM iterations`
	var args []interface{}
	if q.RunDir != "" {
		query += " WHERE run_dir = ?"
		args = append(args, q.RunDir)
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, werrors.IOWrap(err, werrors.ErrIOReadFailed, "failed to query ledger")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			ts        float64
			bootstrap int
		)
		r := &e.Record
		if err := rows.Scan(&e.ID, &ts, &e.RunDir, &e.SessionID, &e.Number, &bootstrap,
			&r.Epochs, &r.TrainTime, &r.FinalLoss, &r.AcceptanceMean, &r.AcceptanceStd,
			&r.TauintMean, &r.TauintStd); err != nil {
			return nil, werrors.IOWrap(err, werrors.ErrIOReadFailed, "failed to read ledger row")
		}
		e.RecordedAt = time.UnixMilli(int64(math.Round(ts * 1000)))
		e.Bootstrap = bootstrap != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, werrors.IOWrap(err, werrors.ErrIOReadFailed, "failed to read ledger rows")
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Runs returns the distinct run directories in the ledger, most recently
// updated first.
func (l *Ledger) Runs(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT run_dir FROM iterations GROUP BY run_dir ORDER BY MAX(id) DESC")
	if err != nil {
		return nil, werrors.IOWrap(err, werrors.ErrIOReadFailed, "failed to query ledger")
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var dir string
		if err := rows.Scan(&dir); err != nil {
			return nil, werrors.IOWrap(err, werrors.ErrIOReadFailed, "failed to read ledger row")
		}
		runs = append(runs, dir)
	}
	return runs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Recorder inserts every recorded iteration into a ledger. It implements
// controller.Observer. Insert failures are logged and never stop the loop.
type Recorder struct {
	controller.NopObserver

	ledger  *Ledger
	runDir  string
	session string
	log     logrus.FieldLogger
}

// NewRecorder creates a Recorder for one controller session.
func NewRecorder(l *Ledger, runDir, session string, log logrus.FieldLogger) *Recorder {
	return &Recorder{ledger: l, runDir: runDir, session: session, log: log}
}

// IterationRecorded implements controller.Observer.
func (r *Recorder) IterationRecorded(it controller.Iteration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.ledger.Insert(ctx, Entry{
		RunDir:    r.runDir,
		SessionID: r.session,
		Number:    it.Number,
		Bootstrap: it.Bootstrap,
		Record:    it.Record,
	})
	if err != nil {
		r.log.WithError(err).WithField("epochs", it.Record.Epochs).Warn("Ledger insert failed")
	}
}
