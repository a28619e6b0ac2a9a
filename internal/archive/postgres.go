package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/retina-screening-gateway/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL, for
// deployments where several gateway instances share one history mirror.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL history mirror. It expects the
// database to already exist and creates the schema on first use.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL history mirror from a
// connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS history (
		report_id TEXT PRIMARY KEY,
		patient_name TEXT NOT NULL,
		age INTEGER NOT NULL,
		gender TEXT DEFAULT '',
		is_safe BOOLEAN NOT NULL DEFAULT FALSE,
		grade TEXT DEFAULT '',
		severity_index INTEGER NOT NULL DEFAULT 0,
		risk_score INTEGER NOT NULL DEFAULT 0,
		document_ref TEXT DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL
	)`

// ReplaceAll persists an authoritative history snapshot, replacing whatever
// was mirrored before.
func (s *PostgresStore) ReplaceAll(ctx context.Context, entries []domain.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM history"); err != nil {
		return fmt.Errorf("failed to clear history mirror: %w", err)
	}

	query := `
		INSERT INTO history (
			report_id, patient_name, age, gender, is_safe,
			grade, severity_index, risk_score, document_ref, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (report_id) DO UPDATE SET
			patient_name = EXCLUDED.patient_name,
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			is_safe = EXCLUDED.is_safe,
			grade = EXCLUDED.grade,
			severity_index = EXCLUDED.severity_index,
			risk_score = EXCLUDED.risk_score,
			document_ref = EXCLUDED.document_ref,
			recorded_at = EXCLUDED.recorded_at`

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, query,
			string(e.ReportID), e.PatientName, e.Age, string(e.Gender),
			e.IsSafe, e.Grade, e.SeverityIndex, e.RiskScore,
			e.DocumentRef, e.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert history entry %s: %w", e.ReportID, err)
		}
	}

	return tx.Commit()
}

// LoadAll returns the mirrored history, newest first.
func (s *PostgresStore) LoadAll(ctx context.Context) ([]domain.HistoryEntry, error) {
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
		var (
			e        domain.HistoryEntry
			reportID string
			gender   string
		)
		err := rows.Scan(
			&reportID, &e.PatientName, &e.Age, &gender, &e.IsSafe,
			&e.Grade, &e.SeverityIndex, &e.RiskScore, &e.DocumentRef, &e.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		e.ReportID = domain.ReportID(reportID)
		e.Gender = domain.Gender(gender)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
