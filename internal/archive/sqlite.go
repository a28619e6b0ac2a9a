package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/retina-screening-gateway/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite history mirror. It creates the
// database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		report_id TEXT PRIMARY KEY,
		patient_name TEXT NOT NULL,
		age INTEGER NOT NULL,
		gender TEXT DEFAULT '',
		is_safe INTEGER NOT NULL DEFAULT 0,
		grade TEXT DEFAULT '',
		severity_index INTEGER NOT NULL DEFAULT 0,
		risk_score INTEGER NOT NULL DEFAULT 0,
		document_ref TEXT DEFAULT '',
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_recorded_at ON history(recorded_at);
	`

	_, err := db.Exec(schema)
	return err
}

// ReplaceAll persists an authoritative history snapshot, replacing whatever
// was mirrored before.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, entries []domain.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM history"); err != nil {
		return fmt.Errorf("failed to clear history mirror: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history (
			report_id, patient_name, age, gender, is_safe,
			grade, severity_index, risk_score, document_ref, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			string(e.ReportID), e.PatientName, e.Age, string(e.Gender),
			boolToInt(e.IsSafe), e.Grade, e.SeverityIndex, e.RiskScore,
			e.DocumentRef, e.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert history entry %s: %w", e.ReportID, err)
		}
	}

	return tx.Commit()
}

// LoadAll returns the mirrored history, newest first.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_id, patient_name, age, gender, is_safe,
		       grade, severity_index, risk_score, document_ref, recorded_at
		FROM history
		ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history mirror: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry scans a row into a HistoryEntry.
func scanEntry(s scanner) (*domain.HistoryEntry, error) {
	var (
		e          domain.HistoryEntry
		reportID   string
		gender     string
		isSafe     int
		recordedAt time.Time
	)

	err := s.Scan(
		&reportID, &e.PatientName, &e.Age, &gender, &isSafe,
		&e.Grade, &e.SeverityIndex, &e.RiskScore, &e.DocumentRef, &recordedAt,
	)
	if err != nil {
		return nil, err
	}

	e.ReportID = domain.ReportID(reportID)
	e.Gender = domain.Gender(gender)
	e.IsSafe = isSafe != 0
	e.Timestamp = recordedAt
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
