// Package tracestore persists turn-level tracing to PostgreSQL for
// observability: one Connection row per transport attach, one Turn row per
// response_id carrying its verification verdict, and one Stage row per
// pipeline-stage execution nested under a turn (transcribe, generate,
// synthesize-sentence, verify). The async buffered-channel drain goroutine
// and embedded-migration bootstrap are a common Go pattern for keeping
// tracing off a latency-critical path; the schema and Go types above it are
// specific to this engine's turn protocol (§4.5), not a generic pipeline run.
package tracestore

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// maxConnections bounds how many Connection rows are retained; CreateConnection
// prunes the oldest beyond this cap on every insert.
const maxConnections = 500

// Store persists trace data to PostgreSQL via the pgx stdlib driver.
type Store struct {
	db *sql.DB
}

// Open connects to a PostgreSQL trace database at connStr and applies any
// pending embedded migrations.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("tracestore open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracestore ping: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracestore migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var applied int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`).Scan(&applied); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := applied + 1; i < len(entries); i++ {
		sqlBytes, err := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if err != nil {
			return fmt.Errorf("read migration %d: %w", i, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); err != nil {
			return fmt.Errorf("record migration %d: %w", i, err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConnection inserts a new connection row and prunes beyond maxConnections.
func (s *Store) CreateConnection(id, metadata string) error {
	if _, err := s.db.Exec(
		`INSERT INTO connections (id, metadata, started_at) VALUES ($1, $2, $3)`,
		id, metadata, time.Now().UTC(),
	); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`DELETE FROM connections WHERE id NOT IN (SELECT id FROM connections ORDER BY started_at DESC LIMIT $1)`,
		maxConnections,
	)
	return err
}

// EndConnection sets the ended_at timestamp.
func (s *Store) EndConnection(id string) error {
	_, err := s.db.Exec(`UPDATE connections SET ended_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	return err
}

// CreateTurn inserts a new turn row, keyed by its response_id.
func (s *Store) CreateTurn(responseID, connectionID string) error {
	_, err := s.db.Exec(
		`INSERT INTO turns (response_id, connection_id, started_at, status) VALUES ($1, $2, $3, 'running')`,
		responseID, connectionID, time.Now().UTC(),
	)
	return err
}

// UpdateTurn sets a turn's final fields, including the verification verdict
// from step 8 of the turn protocol.
func (s *Store) UpdateTurn(responseID string, durationMs float64, transcript, response, status string, verified bool, confidence float64, citationCount int) error {
	_, err := s.db.Exec(
		`UPDATE turns SET duration_ms = $1, transcript = $2, response = $3, status = $4,
		                  verified = $5, confidence = $6, citation_count = $7
		 WHERE response_id = $8`,
		durationMs, transcript, response, status, verified, confidence, citationCount, responseID,
	)
	return err
}

// CreateStage inserts a stage row under its parent turn.
func (s *Store) CreateStage(st Stage) error {
	_, err := s.db.Exec(
		`INSERT INTO stages (id, turn_id, name, started_at, duration_ms, input, output, status, error_msg)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		st.ID, st.TurnID, st.Name, st.StartedAt.UTC(), st.DurationMs, st.Input, st.Output, st.Status, st.Error,
	)
	return err
}

// GetTurn returns a single turn with its stages, ordered by start time.
func (s *Store) GetTurn(connectionID, responseID string) (*Turn, []Stage, error) {
	var t Turn
	err := s.db.QueryRow(
		`SELECT response_id, connection_id, started_at, duration_ms, transcript, response, status,
		        verified, confidence, citation_count
		 FROM turns WHERE response_id = $1 AND connection_id = $2`,
		responseID, connectionID,
	).Scan(&t.ResponseID, &t.ConnectionID, &t.StartedAt, &t.DurationMs, &t.Transcript, &t.Response, &t.Status,
		&t.Verified, &t.Confidence, &t.CitationCount)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, turn_id, name, started_at, duration_ms, input, output, status, error_msg
		 FROM stages WHERE turn_id = $1 ORDER BY started_at ASC`,
		responseID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var st Stage
		if err := rows.Scan(&st.ID, &st.TurnID, &st.Name, &st.StartedAt, &st.DurationMs, &st.Input, &st.Output, &st.Status, &st.Error); err != nil {
			return nil, nil, err
		}
		stages = append(stages, st)
	}
	t.StageCount = len(stages)
	return &t, stages, rows.Err()
}
