package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sweetpotato0/paper-survey/config"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/report"
)

// PostgresStore keeps reports in a single table.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN   string
	Table string
}

// DefaultPostgresConfig returns the local development configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		DSN:   "host=localhost port=5432 user=postgres password=postgres dbname=paper_survey sslmode=disable",
		Table: "survey_reports",
	}
}

// NewPostgresStore connects, pings and creates the table if needed.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	if cfg.Table == "" {
		cfg.Table = "survey_reports"
	}
	v := config.NewValidator()
	v.ValidateIdentifier("postgres.table", cfg.Table)
	if v.HasErrors() {
		return nil, v.Error()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgresStore{db: db, table: cfg.Table}
	if _, err := db.ExecContext(ctx, createTableSQL(cfg.Table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return store, nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id VARCHAR(64) PRIMARY KEY,
		topic TEXT NOT NULL,
		title TEXT NOT NULL,
		markdown TEXT NOT NULL,
		bibliography JSONB,
		stats JSONB,
		generated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_generated_at ON %[1]s(generated_at);
	`, table)
}

func upsertSQL(table string) string {
	return fmt.Sprintf(`
	INSERT INTO %s (id, topic, title, markdown, bibliography, stats, generated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		topic = EXCLUDED.topic,
		title = EXCLUDED.title,
		markdown = EXCLUDED.markdown,
		bibliography = EXCLUDED.bibliography,
		stats = EXCLUDED.stats,
		generated_at = EXCLUDED.generated_at
	`, table)
}

func selectSQL(table string) string {
	return fmt.Sprintf(`SELECT id, topic, title, markdown, bibliography, stats, generated_at FROM %s WHERE id = $1`, table)
}

func listSQL(table string) string {
	return fmt.Sprintf(`SELECT id, topic, title, '', bibliography, stats, generated_at FROM %s ORDER BY generated_at DESC`, table)
}

// Save upserts the record.
func (s *PostgresStore) Save(ctx context.Context, rep *report.Report) (string, error) {
	if err := validate(rep); err != nil {
		return "", err
	}
	rec := NewRecord(rep)
	bib, err := json.Marshal(rec.Bibliography)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bibliography: %w", err)
	}
	stats, err := json.Marshal(rec.Stats)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsertSQL(s.table),
		rec.ID, rec.Topic, rec.Title, rec.Markdown, bib, stats, rec.GeneratedAt)
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	return rec.ID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var bib, stats []byte
	if err := row.Scan(&rec.ID, &rec.Topic, &rec.Title, &rec.Markdown, &bib, &stats, &rec.GeneratedAt); err != nil {
		return nil, err
	}
	if len(bib) > 0 {
		if err := json.Unmarshal(bib, &rec.Bibliography); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bibliography: %w", err)
		}
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &rec.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
		}
	}
	return &rec, nil
}

// Get loads one record.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectSQL(s.table), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return rec, nil
}

// List returns records newest first.
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, listSQL(s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
