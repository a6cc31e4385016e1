package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens the database at dbPath, ":memory:" for a private in-memory one.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, ferrors.StorageError("could not open run store database").WithCause(err).WithContext("path", dbPath).Build()
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, ferrors.StorageError("failed to initialize run store schema").WithCause(err).Build()
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		notebook TEXT NOT NULL,
		mode TEXT NOT NULL,
		triggered_by TEXT NOT NULL,
		state TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		parameters TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		fingerprint TEXT,
		report_url TEXT,
		report BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		state TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	params, err := json.Marshal(run.Parameters)
	if err != nil {
		return ferrors.StorageError("failed to marshal run parameters").WithCause(err).Build()
	}
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	status := run.Status
	if status == "" {
		status = StatusRunning
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, notebook, mode, triggered_by, state, status, message, parameters, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Notebook, run.Mode, run.Trigger, run.State, status, run.Message, string(params), started.UnixMilli(),
	)
	if err != nil {
		return ferrors.StorageError("failed to insert run").WithCause(err).WithContext("run_id", run.ID).Build()
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, runID, state, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ferrors.StorageError("failed to begin transaction").WithCause(err).Build()
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "UPDATE runs SET state = ? WHERE id = ?", state, runID)
	if err != nil {
		return ferrors.StorageError("failed to update run state").WithCause(err).Build()
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(runID)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO run_events (run_id, state, timestamp, detail) VALUES (?, ?, ?, ?)",
		runID, state, time.Now().UnixMilli(), detail,
	); err != nil {
		return ferrors.StorageError("failed to append run event").WithCause(err).Build()
	}
	if err := tx.Commit(); err != nil {
		return ferrors.StorageError("failed to commit run event").WithCause(err).Build()
	}
	return nil
}

func (s *SQLiteStore) Finish(ctx context.Context, runID string, out Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, message = ?, finished_at = ?, fingerprint = ?, report_url = ?, report = ?
		 WHERE id = ?`,
		out.Status, out.Message, time.Now().UnixMilli(), out.Fingerprint, out.ReportURL, out.Report, runID,
	)
	if err != nil {
		return ferrors.StorageError("failed to finish run").WithCause(err).WithContext("run_id", runID).Build()
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(runID)
	}
	return nil
}

const runColumns = `id, notebook, mode, triggered_by, state, status, message, parameters, started_at, finished_at,
	fingerprint, report_url, report IS NOT NULL AND length(report) > 0`

func (s *SQLiteStore) Get(ctx context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, state, timestamp, detail FROM run_events WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, ferrors.StorageError("failed to query run events").WithCause(err).Build()
	}
	defer rows.Close()
	for rows.Next() {
		var e Event
		var ts int64
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.State, &ts, &detail); err != nil {
			return nil, ferrors.StorageError("failed to scan run event").WithCause(err).Build()
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Detail = detail.String
		run.Events = append(run.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.StorageError("failed to iterate run events").WithCause(err).Build()
	}
	return run, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, ferrors.StorageError("failed to query runs").WithCause(err).Build()
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.StorageError("failed to iterate runs").WithCause(err).Build()
	}
	return runs, nil
}

func (s *SQLiteStore) Report(ctx context.Context, runID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var report []byte
	err := s.db.QueryRowContext(ctx, "SELECT report FROM runs WHERE id = ?", runID).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, ferrors.StorageError("failed to read report").WithCause(err).Build()
	}
	if len(report) == 0 {
		return nil, ferrors.NotFoundError("run has no report").WithContext("run_id", runID).Build()
	}
	return report, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r                                       Run
		message, params, fingerprint, reportURL sql.NullString
		started                                 int64
		finished                                sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.Notebook, &r.Mode, &r.Trigger, &r.State, &r.Status, &message, &params,
		&started, &finished, &fingerprint, &reportURL, &r.HasReport)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, ferrors.StorageError("failed to scan run").WithCause(err).Build()
	}
	r.Message = message.String
	r.Fingerprint = fingerprint.String
	r.ReportURL = reportURL.String
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		r.FinishedAt = &t
	}
	if params.Valid && params.String != "" && params.String != "null" {
		if err := json.Unmarshal([]byte(params.String), &r.Parameters); err != nil {
			return nil, ferrors.StorageError("failed to unmarshal run parameters").WithCause(err).Build()
		}
	}
	return &r, nil
}

func notFound(runID string) error {
	return ferrors.NotFoundError("run not found").WithContext("run_id", runID).Build()
}
