// Package archive provides SQLite-backed persistence for batch
// assessment summaries, giving operators a reviewable history of how
// the tracked population's risk picture evolved.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/debrisk/debrisk/internal/batch"
	"github.com/debrisk/debrisk/internal/metrics"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// Entry is one archived batch outcome.
type Entry struct {
	ID          string        `json:"id"`
	Source      string        `json:"source"`
	ThreatLevel string        `json:"threat_level"`
	Summary     batch.Summary `json:"summary"`
	RecordedAt  time.Time     `json:"recorded_at"`
}

// Archive wraps a SQLite database holding the assessment history.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger

	now func() time.Time
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/debrisk/history.db.
func New(dbPath string, logger *slog.Logger) (*Archive, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "debrisk", "history.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	a := &Archive{db: db, logger: logger, now: time.Now}
	if err := a.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return a, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS assessments (
			id           TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			threat_level TEXT NOT NULL,
			total        INTEGER NOT NULL,
			high_risk    INTEGER NOT NULL,
			reentries_30 INTEGER NOT NULL,
			summary      TEXT NOT NULL,
			recorded_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_recorded_at ON assessments(recorded_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record stores one batch summary. source names what produced it, a
// group name or "batch" for ad-hoc identifier lists.
func (a *Archive) Record(source string, sum batch.Summary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	id := uuid.NewString()
	_, err = a.db.Exec(`
		INSERT INTO assessments
			(id, source, threat_level, total, high_risk, reentries_30, summary, recorded_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		id, source, batch.ThreatLevel(sum),
		sum.TotalSatellites, sum.HighRiskSatellites, sum.ReentriesWithin30Days,
		string(payload), a.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}

	metrics.ArchiveWrite()
	a.logger.Debug("archived batch summary", "id", id, "source", source)
	return nil
}

// Recent returns the newest entries, most recent first. A non-positive
// limit falls back to the default page size.
func (a *Archive) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := a.db.Query(`
		SELECT id, source, threat_level, summary, recorded_at
		FROM assessments ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var summaryJSON string
		var recordedAtNano int64
		if err := rows.Scan(&e.ID, &e.Source, &e.ThreatLevel, &summaryJSON, &recordedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		if err := json.Unmarshal([]byte(summaryJSON), &e.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
		e.RecordedAt = time.Unix(0, recordedAtNano)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
