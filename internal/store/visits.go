package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Visit is one archived consultation: the accumulated transcript and the
// generated note at the time the note was produced
type Visit struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Transcript string    `json:"transcript"`
	SOAPNote   string    `json:"soap_note"`
	CreatedAt  time.Time `json:"created_at"`
}

// VisitStore archives completed visits in Postgres. The store is optional:
// deployments without a database simply skip visit archiving.
type VisitStore struct {
	db *sql.DB
}

// NewVisitStore connects to Postgres, verifies the connection and runs the
// schema migration
func NewVisitStore(dsn string, maxOpenConns, maxIdleConns int) (*VisitStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}

	return &VisitStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS visits (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			transcript TEXT NOT NULL,
			soap_note TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_visits_session_id ON visits(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_created_at ON visits(created_at DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// SaveVisit archives one visit and returns its row ID
func (s *VisitStore) SaveVisit(ctx context.Context, sessionID, transcript, note string) (int64, error) {
	query := `
		INSERT INTO visits (session_id, transcript, soap_note)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query, sessionID, transcript, note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save visit: %w", err)
	}

	return id, nil
}

// RecentVisits returns the most recently archived visits, newest first
func (s *VisitStore) RecentVisits(ctx context.Context, limit int) ([]Visit, error) {
	if limit < 1 {
		limit = 20
	}

	query := `
		SELECT id, session_id, transcript, soap_note, created_at
		FROM visits
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	defer rows.Close()

	var visits []Visit
	for rows.Next() {
		var visit Visit
		err := rows.Scan(
			&visit.ID,
			&visit.SessionID,
			&visit.Transcript,
			&visit.SOAPNote,
			&visit.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, visit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read visits: %w", err)
	}

	return visits, nil
}

// SessionVisits returns archived visits for one session, newest first
func (s *VisitStore) SessionVisits(ctx context.Context, sessionID string, limit int) ([]Visit, error) {
	if limit < 1 {
		limit = 20
	}

	query := `
		SELECT id, session_id, transcript, soap_note, created_at
		FROM visits
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list visits for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var visits []Visit
	for rows.Next() {
		var visit Visit
		err := rows.Scan(
			&visit.ID,
			&visit.SessionID,
			&visit.Transcript,
			&visit.SOAPNote,
			&visit.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, visit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read visits: %w", err)
	}

	return visits, nil
}

// Close releases the database connection pool
func (s *VisitStore) Close() error {
	return s.db.Close()
}
