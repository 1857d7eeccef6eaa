package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStorage persists entries to a Postgres "audit_log" table via
// lib/pq, the driver the rest of the pack's storage layers are built on.
// Schema is not part of the external compatibility surface (§6), so the
// table is created on demand rather than managed by a migration tool.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage wraps an already-open *sql.DB and ensures the
// audit_log table exists.
func NewPostgresStorage(ctx context.Context, db *sql.DB) (*PostgresStorage, error) {
	s := &PostgresStorage{db: db}
	if _, err := db.ExecContext(ctx, createAuditLogTable); err != nil {
		return nil, fmt.Errorf("audit: failed to ensure audit_log table: %w", err)
	}
	return s, nil
}

const createAuditLogTable = `
CREATE TABLE IF NOT EXISTS audit_log (
	seq              BIGSERIAL PRIMARY KEY,
	id               TEXT NOT NULL UNIQUE,
	timestamp_ms     BIGINT NOT NULL,
	event            TEXT NOT NULL,
	level            TEXT NOT NULL,
	message          TEXT NOT NULL,
	user_id          TEXT,
	task_id          TEXT,
	correlation_id   TEXT,
	metadata         JSONB NOT NULL DEFAULT '{}',
	previous_hash    TEXT NOT NULL,
	hash             TEXT NOT NULL,
	signature        TEXT NOT NULL,
	signing_key_id   TEXT NOT NULL
)`

func (s *PostgresStorage) Append(ctx context.Context, e Entry) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log
			(id, timestamp_ms, event, level, message, user_id, task_id, correlation_id,
			 metadata, previous_hash, hash, signature, signing_key_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		e.ID, e.Timestamp, e.Event, string(e.Level), e.Message,
		e.UserID, e.TaskID, e.CorrelationID,
		metaJSON, e.PreviousHash, e.Hash, e.Signature, e.SigningKeyID,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to append entry: %w", err)
	}
	return nil
}

func (s *PostgresStorage) LoadAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp_ms, event, level, message, user_id, task_id, correlation_id,
		       metadata, previous_hash, hash, signature, signing_key_id
		FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to load entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) Last(ctx context.Context) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp_ms, event, level, message, user_id, task_id, correlation_id,
		       metadata, previous_hash, hash, signature, signing_key_id
		FROM audit_log ORDER BY seq DESC LIMIT 1`)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: failed to load last entry: %w", err)
	}
	return &e, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var level string
	var metaJSON []byte
	if err := row.Scan(
		&e.ID, &e.Timestamp, &e.Event, &level, &e.Message,
		&e.UserID, &e.TaskID, &e.CorrelationID,
		&metaJSON, &e.PreviousHash, &e.Hash, &e.Signature, &e.SigningKeyID,
	); err != nil {
		return Entry{}, err
	}
	e.Level = Level(level)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return Entry{}, fmt.Errorf("audit: failed to unmarshal metadata: %w", err)
		}
	}
	return e, nil
}
