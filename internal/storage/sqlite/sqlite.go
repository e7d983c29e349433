// Package sqlite mirrors the audit trail and final metrics into a SQLite
// database for downstream querying. The mirror is optional; the CSV/JSON
// outputs remain the canonical artifacts.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/entitykit/entity-audit/internal/stats"
	"github.com/entitykit/entity-audit/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_rows (
	audit_id         INTEGER NOT NULL,
	category         TEXT NOT NULL,
	status           TEXT NOT NULL,
	data_source      TEXT NOT NULL,
	record_id        TEXT NOT NULL,
	prior_cluster_id TEXT,
	prior_score      TEXT,
	newer_cluster_id TEXT,
	newer_score      TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_rows_audit_id ON audit_rows(audit_id);
CREATE INDEX IF NOT EXISTS idx_audit_rows_category ON audit_rows(category);

CREATE TABLE IF NOT EXISTS audit_runs (
	run_id               TEXT PRIMARY KEY,
	status               TEXT NOT NULL,
	prior_source         TEXT NOT NULL,
	newer_source         TEXT NOT NULL,
	missing_record_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_metrics (
	run_id  TEXT NOT NULL,
	family  TEXT NOT NULL,
	measure TEXT NOT NULL,
	value   REAL NOT NULL,
	PRIMARY KEY (run_id, family, measure)
);
`

// Store is the SQLite mirror of one audit run.
type Store struct {
	db *sql.DB
}

// Open creates the database (and any missing parent directories) and
// initializes the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL mode keeps readers usable while the run appends.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// WriteEvent inserts all rows of one audit event in a single transaction,
// preserving event atomicity in the mirror.
func (s *Store) WriteEvent(rows []types.AuditRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO audit_rows (audit_id, category, status, data_source, record_id,
			prior_cluster_id, prior_score, newer_cluster_id, newer_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.AuditID, r.Category, string(r.Status), r.DataSource,
			r.RecordID, r.PriorClusterID, r.PriorScore, r.NewerClusterID, r.NewerScore); err != nil {
			return fmt.Errorf("failed to insert audit row: %w", err)
		}
	}

	return tx.Commit()
}

// WriteMetrics records the finalized run metadata and metric values.
func (s *Store) WriteMetrics(pack *stats.StatPack) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO audit_runs (run_id, status, prior_source, newer_source, missing_record_count)
		VALUES (?, ?, ?, ?, ?)
	`, pack.RunID, string(pack.Status), pack.PriorSource, pack.NewerSource, pack.MissingRecordCount); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	insert := func(family, measure string, value float64) error {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO audit_metrics (run_id, family, measure, value)
			VALUES (?, ?, ?, ?)
		`, pack.RunID, family, measure, value)
		return err
	}

	families := []struct {
		name string
		m    stats.Metrics
	}{
		{"entity", pack.Entity},
		{"clusters", pack.Clusters},
	}
	for _, f := range families {
		for measure, v := range map[string]float64{
			"prior_count":  float64(f.m.PriorCount),
			"newer_count":  float64(f.m.NewerCount),
			"common_count": float64(f.m.CommonCount),
			"precision":    f.m.Precision,
			"recall":       f.m.Recall,
			"f1":           f.m.F1,
		} {
			if err := insert(f.name, measure, v); err != nil {
				return fmt.Errorf("failed to insert %s metric: %w", f.name, err)
			}
		}
	}

	pairFamilies := []struct {
		name string
		m    stats.PairMetrics
	}{
		{"pairs", pack.Pairs},
		{"records", pack.Records},
	}
	for _, f := range pairFamilies {
		for measure, v := range map[string]float64{
			"prior_count":   float64(f.m.PriorCount),
			"newer_count":   float64(f.m.NewerCount),
			"common_count":  float64(f.m.CommonCount),
			"same_positive": float64(f.m.SamePositive),
			"new_positive":  float64(f.m.NewPositive),
			"new_negative":  float64(f.m.NewNegative),
			"precision":     f.m.Precision,
			"recall":        f.m.Recall,
			"f1":            f.m.F1,
		} {
			if err := insert(f.name, measure, v); err != nil {
				return fmt.Errorf("failed to insert %s metric: %w", f.name, err)
			}
		}
	}

	return tx.Commit()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
