package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"wqm/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS emails (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source TEXT NOT NULL,
  messageId TEXT NOT NULL DEFAULT '',
  fileName TEXT NOT NULL,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(source, messageId, fileName)
);
CREATE INDEX IF NOT EXISTS idx_logs_status ON logs(status);

CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  logId INTEGER,
  inputPath TEXT NOT NULL,
  outputPath TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  rowCount INTEGER NOT NULL DEFAULT 0,
  rejectedCount INTEGER NOT NULL DEFAULT 0,
  countsJson TEXT NOT NULL DEFAULT '{}',
  timingsJson TEXT NOT NULL DEFAULT '{}',
  error TEXT NOT NULL DEFAULT '',
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(logId) REFERENCES logs(id)
);

CREATE TABLE IF NOT EXISTS rejections (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId TEXT NOT NULL,
  instrument TEXT NOT NULL,
  lineNo INTEGER NOT NULL,
  reason TEXT NOT NULL,
  rawLine TEXT NOT NULL,
  FOREIGN KEY(runId) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_rejections_run ON rejections(runId);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

// UpsertEmail records a fetched mail message. Re-fetching the same message
// refreshes its metadata.
func (d *DB) UpsertEmail(msg internal.FetchedMailMessage, hash, rawRef string) (int, error) {
	_, err := d.conn.Exec(`
INSERT INTO emails (provider, messageId, subject, sender, receivedAt, hash, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, hash, rawRef)
	if err != nil {
		return 0, err
	}

	var id int
	err = d.conn.QueryRow(`SELECT id FROM emails WHERE provider = ? AND messageId = ?`, msg.Provider, msg.MessageID).Scan(&id)
	return id, err
}

// UpsertLog records a log awaiting reconciliation. A log whose hash changed
// since it was last seen takes row.Status again; otherwise its stored
// status is kept.
func (d *DB) UpsertLog(row internal.LogRow) (internal.LogRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO logs (source, messageId, fileName, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(source, messageId, fileName) DO UPDATE SET
  receivedAt=excluded.receivedAt,
  status=CASE WHEN logs.hash = excluded.hash THEN logs.status ELSE excluded.status END,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, row.Source, row.MessageID, row.FileName, row.ReceivedAt, row.Hash, row.Status, row.RawRef)
	if err != nil {
		return internal.LogRow{}, err
	}

	got, err := d.getLog(`source = ? AND messageId = ? AND fileName = ?`, row.Source, row.MessageID, row.FileName)
	if err != nil {
		return internal.LogRow{}, err
	}
	if got == nil {
		return internal.LogRow{}, errors.New("failed to upsert log")
	}
	return *got, nil
}

func (d *DB) GetLogByID(id int) (*internal.LogRow, error) {
	return d.getLog(`id = ?`, id)
}

func (d *DB) MustLogByID(id int) (internal.LogRow, error) {
	row, err := d.GetLogByID(id)
	if err != nil {
		return internal.LogRow{}, err
	}
	if row == nil {
		return internal.LogRow{}, fmt.Errorf("log not found: id=%d", id)
	}
	return *row, nil
}

func (d *DB) getLog(where string, args ...any) (*internal.LogRow, error) {
	var row internal.LogRow
	err := d.conn.QueryRow(`
SELECT id, source, messageId, fileName, COALESCE(receivedAt, ''), hash, status, rawRef
FROM logs WHERE `+where, args...).Scan(
		&row.ID, &row.Source, &row.MessageID, &row.FileName, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) ListLogsByStatus(status internal.LogStatus, limit int) ([]internal.LogRow, error) {
	rows, err := d.conn.Query(`
SELECT id, source, messageId, fileName, COALESCE(receivedAt, ''), hash, status, rawRef
FROM logs WHERE status = ? ORDER BY receivedAt ASC, id ASC LIMIT ?
`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.LogRow
	for rows.Next() {
		var row internal.LogRow
		if err := rows.Scan(&row.ID, &row.Source, &row.MessageID, &row.FileName, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateLogStatus(logID int, status internal.LogStatus) error {
	_, err := d.conn.Exec(`UPDATE logs SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, string(status), logID)
	return err
}

// InsertRun stores a run together with its rejected rows in one transaction.
func (d *DB) InsertRun(run internal.RunRow, counts map[internal.InstrumentID]int, timings map[string]float64, rejected []internal.RejectedRow) error {
	countsJSON, _ := json.Marshal(counts)
	timingsJSON, _ := json.Marshal(timings)

	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
INSERT INTO runs (id, logId, inputPath, outputPath, status, rowCount, rejectedCount, countsJson, timingsJson, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.ID, run.LogID, run.InputPath, run.OutputPath, run.Status, run.Rows, run.Rejected, string(countsJSON), string(timingsJSON), run.Error); err != nil {
		return err
	}

	if len(rejected) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO rejections (runId, instrument, lineNo, reason, rawLine) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rejected {
			if _, err := stmt.Exec(run.ID, string(r.Instrument), r.LineNo, r.Reason, r.Raw); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (d *DB) ListRuns(limit int) ([]internal.RunRow, error) {
	rows, err := d.conn.Query(`
SELECT id, logId, inputPath, outputPath, status, rowCount, rejectedCount, countsJson, timingsJson, error, createdAt
FROM runs ORDER BY createdAt DESC, rowid DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RunRow
	for rows.Next() {
		var run internal.RunRow
		var logID sql.NullInt64
		if err := rows.Scan(
			&run.ID, &logID, &run.InputPath, &run.OutputPath, &run.Status,
			&run.Rows, &run.Rejected, &run.CountsJSON, &run.TimingsJSON, &run.Error, &run.CreatedAt,
		); err != nil {
			return nil, err
		}
		if logID.Valid {
			id := int(logID.Int64)
			run.LogID = &id
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (d *DB) ListRejections(runID string) ([]internal.RejectedRow, error) {
	rows, err := d.conn.Query(`
SELECT instrument, lineNo, reason, rawLine FROM rejections WHERE runId = ? ORDER BY id ASC
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RejectedRow
	for rows.Next() {
		var r internal.RejectedRow
		var instrument string
		if err := rows.Scan(&instrument, &r.LineNo, &r.Reason, &r.Raw); err != nil {
			return nil, err
		}
		r.Instrument = internal.InstrumentID(instrument)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func lastFetchKey(provider string) string {
	return "last_fetch:" + provider
}

// SetLastFetch records when mail was last fetched successfully from provider.
func (d *DB) SetLastFetch(provider string, at time.Time) error {
	return d.SetMetadata(lastFetchKey(provider), at.UTC().Format(time.RFC3339))
}

// LastFetch returns the last successful fetch time for provider, or the
// zero time when there has been none.
func (d *DB) LastFetch(provider string) (time.Time, error) {
	value, err := d.GetMetadata(lastFetchKey(provider))
	if err != nil || value == nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, *value)
}
