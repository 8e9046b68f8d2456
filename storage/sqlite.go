package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"estate_harvester/models"
)

// SQLiteStore is the run ledger: harvest runs, their log lines and,
// optionally, the harvest checkpoint.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS harvest_runs (
		id TEXT PRIMARY KEY,
		table_path TEXT NOT NULL,
		start_index INTEGER NOT NULL,
		next_index INTEGER NOT NULL,
		records INTEGER DEFAULT 0,
		batch_path TEXT,
		status TEXT NOT NULL,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS harvest_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source TEXT
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		name TEXT PRIMARY KEY,
		next_index INTEGER NOT NULL,
		updated_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_table ON harvest_runs(table_path, started_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON harvest_logs(run_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateRun(run *models.HarvestRun) error {
	_, err := s.db.Exec(`
		INSERT INTO harvest_runs (id, table_path, start_index, next_index, records, batch_path, status, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Table, run.StartIndex, run.NextIndex, run.Records, run.BatchPath, run.Status, run.Error, run.StartedAt)
	return err
}

func (s *SQLiteStore) UpdateRun(run *models.HarvestRun) error {
	_, err := s.db.Exec(`
		UPDATE harvest_runs SET next_index = ?, records = ?, batch_path = ?, status = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		run.NextIndex, run.Records, run.BatchPath, run.Status, run.Error, run.FinishedAt, run.ID)
	return err
}

// LastRun returns the most recent run against a unit table, or nil.
func (s *SQLiteStore) LastRun(table string) (*models.HarvestRun, error) {
	runs, err := s.queryRuns(`
		SELECT id, table_path, start_index, next_index, records, batch_path, status, error, started_at, finished_at
		FROM harvest_runs WHERE table_path = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, table)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (s *SQLiteStore) RecentRuns(limit int) ([]models.HarvestRun, error) {
	return s.queryRuns(`
		SELECT id, table_path, start_index, next_index, records, batch_path, status, error, started_at, finished_at
		FROM harvest_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) queryRuns(query string, args ...any) ([]models.HarvestRun, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.HarvestRun
	for rows.Next() {
		var run models.HarvestRun
		var batchPath, errMsg sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Table, &run.StartIndex, &run.NextIndex, &run.Records,
			&batchPath, &run.Status, &errMsg, &run.StartedAt, &finished); err != nil {
			return nil, err
		}
		run.BatchPath = batchPath.String
		run.Error = errMsg.String
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Log(runID *string, level models.LogLevel, message, source string) error {
	_, err := s.db.Exec(`
		INSERT INTO harvest_logs (run_id, timestamp, level, message, source) VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, source)
	return err
}

func (s *SQLiteStore) RunLogs(runID string) ([]models.HarvestLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, source FROM harvest_logs
		WHERE run_id = ? ORDER BY timestamp, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.HarvestLog
	for rows.Next() {
		var l models.HarvestLog
		var rid sql.NullString
		if err := rows.Scan(&l.ID, &rid, &l.Timestamp, &l.Level, &l.Message, &l.Source); err != nil {
			return nil, err
		}
		if rid.Valid {
			l.RunID = &rid.String
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) GetCheckpoint(name string) (int, bool, error) {
	var index int
	err := s.db.QueryRow(`SELECT next_index FROM checkpoints WHERE name = ?`, name).Scan(&index)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return index, true, nil
}

func (s *SQLiteStore) SetCheckpoint(name string, index int) error {
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (name, next_index, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET next_index = excluded.next_index, updated_at = excluded.updated_at`,
		name, index, time.Now())
	return err
}

func (s *SQLiteStore) ClearCheckpoint(name string) error {
	_, err := s.db.Exec(`DELETE FROM checkpoints WHERE name = ?`, name)
	return err
}

// SQLiteCheckpoint adapts a named checkpoint row to the harvester's
// checkpoint interface.
type SQLiteCheckpoint struct {
	store *SQLiteStore
	name  string
}

func (s *SQLiteStore) Checkpoint(name string) *SQLiteCheckpoint {
	return &SQLiteCheckpoint{store: s, name: name}
}

func (c *SQLiteCheckpoint) Load() (int, bool, error) { return c.store.GetCheckpoint(c.name) }
func (c *SQLiteCheckpoint) Save(index int) error     { return c.store.SetCheckpoint(c.name, index) }
func (c *SQLiteCheckpoint) Clear() error             { return c.store.ClearCheckpoint(c.name) }
