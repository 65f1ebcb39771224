// Package store keeps the history of experiment runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/robocam-suite/robocam/pkg/experiment"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

var ErrRunNotFound = errors.New("run not found")

// Fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the run history database. It implements experiment.History.
type Store struct {
	db *sql.DB
}

var _ experiment.History = (*Store)(nil)

// Open opens or creates the database at path and brings its schema up to
// date.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to create %s", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open %s", path)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, pkgerrors.Wrapf(err, "failed to run %s", pragma)
		}
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logrus.WithField("path", path).Debug("run history opened")

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Run is a row of the run history.
type Run struct {
	ID           string     `json:"id"`
	Experiment   string     `json:"experiment"`
	Calibration  string     `json:"calibration"`
	Pattern      string     `json:"pattern"`
	Mode         string     `json:"mode"`
	OutputFolder string     `json:"outputFolder"`
	WellsTotal   int        `json:"wellsTotal"`
	WellsVisited int        `json:"wellsVisited"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Phase        string     `json:"phase"`
	Message      string     `json:"message,omitempty"`
}

// Visit is one arrival at a well during a run.
type Visit struct {
	Seq       int       `json:"seq"`
	Label     string    `json:"label"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	VisitedAt time.Time `json:"visitedAt"`
}

func (s *Store) CreateRun(ctx context.Context, r experiment.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, experiment, calibration, pattern, mode, output_folder, wells_total, started_at, phase)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Experiment, r.Calibration, string(r.Pattern), string(r.Mode), r.OutputFolder,
		r.WellsTotal, r.StartedAt.UTC().Format(timeLayout), string(experiment.PhaseRunning),
	)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to insert run %s", r.ID)
	}
	return nil
}

func (s *Store) RecordVisit(ctx context.Context, runID string, seq int, w wellgrid.Well, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visits (run_id, seq, label, x, y, z, visited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, w.Label, w.Position.X, w.Position.Y, w.Position.Z, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to record visit %d of run %s", seq, runID)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, phase experiment.Phase, message string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET phase = ?, message = ?, finished_at = ? WHERE id = ?`,
		string(phase), message, at.UTC().Format(timeLayout), runID,
	)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to finish run %s", runID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return pkgerrors.Wrap(ErrRunNotFound, runID)
	}
	return nil
}

// RecoverInterrupted marks runs that never finished, left behind by a
// daemon that exited mid-run, as failed. It returns how many were marked.
func (s *Store) RecoverInterrupted(ctx context.Context, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET phase = ?, message = ?, finished_at = ? WHERE finished_at IS NULL`,
		string(experiment.PhaseError), "interrupted by daemon shutdown", at.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to recover interrupted runs")
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const runColumns = `r.id, r.experiment, r.calibration, r.pattern, r.mode, r.output_folder, r.wells_total,
	(SELECT COUNT(*) FROM visits v WHERE v.run_id = r.id), r.started_at, r.finished_at, r.phase, r.message`

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r ORDER BY r.started_at DESC, r.id LIMIT ?`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns the run with id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, pkgerrors.Wrap(ErrRunNotFound, id)
	}
	return r, err
}

// Visits returns the visits of a run in order.
func (s *Store) Visits(ctx context.Context, runID string) ([]Visit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, label, x, y, z, visited_at FROM visits WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list visits of run %s", runID)
	}
	defer rows.Close()

	visits := []Visit{}
	for rows.Next() {
		var (
			v  Visit
			at string
		)
		if err := rows.Scan(&v.Seq, &v.Label, &v.X, &v.Y, &v.Z, &at); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan visit")
		}
		if v.VisitedAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, pkgerrors.Wrapf(err, "bad visited_at %q", at)
		}
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
	)
	err := sc.Scan(&r.ID, &r.Experiment, &r.Calibration, &r.Pattern, &r.Mode, &r.OutputFolder,
		&r.WellsTotal, &r.WellsVisited, &started, &finished, &r.Phase, &r.Message)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, pkgerrors.Wrap(err, "failed to scan run")
	}
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, pkgerrors.Wrapf(err, "bad started_at %q", started)
	}
	if finished.Valid {
		t, err := time.Parse(timeLayout, finished.String)
		if err != nil {
			return Run{}, pkgerrors.Wrapf(err, "bad finished_at %q", finished.String)
		}
		r.FinishedAt = &t
	}
	return r, nil
}
