package runlog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	signforge "github.com/signforge/signforge"
)

const (
	envDBPath         = "SIGNFORGE_RUNLOG_DB_PATH"
	defaultDBDirName  = ".signforge"
	defaultDBFileName = "runs.sqlite"
	runsTableName     = "rebuild_runs"
)

// Ledger appends one row per task decision per run into SQLite, so "why did
// this task rebuild last night" stays answerable after the logs rotate.
// Writes are best effort: the ledger is observability, not correctness.
type Ledger struct {
	db   *sql.DB
	stmt *sql.Stmt
	path string
}

// Open resolves the database path (env override or ~/.signforge/runs.sqlite),
// prepares the schema, and returns a ready ledger.
func Open() (*Ledger, error) {
	path, err := resolveDatabasePath()
	if err != nil {
		return nil, err
	}
	return OpenPath(path)
}

// OpenPath opens a ledger at an explicit database path.
func OpenPath(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "runlog: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	stmt, err := db.Prepare(`INSERT INTO ` + runsTableName + `
		(run_id, task_name, rebuild, reason, rebuild_all, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "runlog: prepare insert failed")
	}
	return &Ledger{db: db, stmt: stmt, path: path}, nil
}

// RecordRun writes every decision of the finished plan.
func (l *Ledger) RecordRun(ctx context.Context, runID string, plan signforge.RebuildPlan, startedAt time.Time) error {
	if l == nil || l.db == nil || l.stmt == nil {
		return errors.New("runlog: ledger is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "runlog: begin tx failed")
	}
	stmt := tx.StmtContext(ctx, l.stmt)
	for taskName, decision := range plan.Decisions {
		rebuild := 0
		if decision.Rebuild {
			rebuild = 1
		}
		rebuildAll := 0
		if plan.RebuildAll {
			rebuildAll = 1
		}
		if _, err := stmt.ExecContext(ctx, runID, taskName, rebuild, string(decision.Reason), rebuildAll, startedAt.Unix()); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "runlog: insert decision failed")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "runlog: commit failed")
	}
	return nil
}

// Entry is one recorded task decision.
type Entry struct {
	RunID      string
	TaskName   string
	Rebuild    bool
	Reason     string
	RebuildAll bool
	StartedAt  time.Time
}

// RecentEntries returns the newest recorded decisions, most recent run first.
func (l *Ledger) RecentEntries(ctx context.Context, limit int) ([]Entry, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("runlog: ledger is nil")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `SELECT run_id, task_name, rebuild, reason, rebuild_all, started_at
		FROM `+runsTableName+` ORDER BY started_at DESC, run_id DESC, task_name ASC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "runlog: query entries failed")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			rebuild    int
			rebuildAll int
			startedAt  int64
		)
		if err := rows.Scan(&entry.RunID, &entry.TaskName, &rebuild, &entry.Reason, &rebuildAll, &startedAt); err != nil {
			return nil, errors.Wrap(err, "runlog: scan entry failed")
		}
		entry.Rebuild = rebuild != 0
		entry.RebuildAll = rebuildAll != 0
		entry.StartedAt = time.Unix(startedAt, 0)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "runlog: iterate entries failed")
	}
	return entries, nil
}

func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	if l.stmt != nil {
		l.stmt.Close()
	}
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Path returns the resolved database path.
func (l *Ledger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func resolveDatabasePath() (string, error) {
	if custom := strings.TrimSpace(os.Getenv(envDBPath)); custom != "" {
		if err := ensureDirExists(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "runlog: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDirExists(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

func ensureDirExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "runlog: create dir %s failed", path)
	}
	return nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=10000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "runlog: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	createTable := `CREATE TABLE IF NOT EXISTS ` + runsTableName + ` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		task_name TEXT NOT NULL,
		rebuild INTEGER NOT NULL,
		reason TEXT,
		rebuild_all INTEGER NOT NULL,
		started_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createTable); err != nil {
		return errors.Wrap(err, "runlog: init schema failed")
	}
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_rebuild_runs_run ON ` + runsTableName + `(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_rebuild_runs_task ON ` + runsTableName + `(task_name, started_at DESC);`,
	}
	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "runlog: init indexes failed")
		}
	}
	return nil
}
