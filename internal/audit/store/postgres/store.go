package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"evidex/internal/audit"
	id "evidex/pkg/domain"
	txcontext "evidex/pkg/platform/tx"
)

// Store persists audit records in PostgreSQL. The audit_records table is
// append-only: this store exposes no UPDATE or DELETE, and the schema grants
// none. Each Append also writes an outbox row in the same transaction; the
// Kafka relay publishes outbox rows downstream at least once.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer returns the in-flight transaction when the caller runs inside one,
// so the record commits or rolls back with the state change it describes.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, record audit.Record) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	exec := s.execer(ctx)

	query := `
		INSERT INTO audit_records (id, actor_id, actor_role, action, subject_type, subject_id, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = exec.ExecContext(ctx, query,
		record.ID,
		uuid.UUID(record.Actor),
		string(record.ActorRole),
		string(record.Action),
		string(record.SubjectType),
		record.SubjectID,
		record.Timestamp,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	// Outbox entry for the Kafka relay. Same transaction as the record, so a
	// relayed event always corresponds to a committed record.
	payload, err := json.Marshal(outboxPayload{
		ID:          record.ID.String(),
		ActorID:     record.Actor.String(),
		ActorRole:   string(record.ActorRole),
		Action:      string(record.Action),
		SubjectType: string(record.SubjectType),
		SubjectID:   record.SubjectID,
		Timestamp:   record.Timestamp.Format(time.RFC3339Nano),
		Metadata:    record.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, record_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), record.ID, payload, time.Now())
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// outboxPayload is the JSON structure published to Kafka.
type outboxPayload struct {
	ID          string         `json:"id"`
	ActorID     string         `json:"actor_id"`
	ActorRole   string         `json:"actor_role"`
	Action      string         `json:"action"`
	SubjectType string         `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	Timestamp   string         `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (s *Store) ListByActor(ctx context.Context, actor id.UserID) ([]audit.Record, error) {
	query := `
		SELECT id, actor_id, actor_role, action, subject_type, subject_id, timestamp, metadata
		FROM audit_records
		WHERE actor_id = $1
		ORDER BY timestamp DESC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(actor))
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Record, error) {
	query := `
		SELECT id, actor_id, actor_role, action, subject_type, subject_id, timestamp, metadata
		FROM audit_records
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	var records []audit.Record
	for rows.Next() {
		var (
			record   audit.Record
			actorID  uuid.UUID
			role     string
			action   string
			subType  string
			metadata []byte
		)
		err := rows.Scan(
			&record.ID,
			&actorID,
			&role,
			&action,
			&subType,
			&record.SubjectID,
			&record.Timestamp,
			&metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		record.Actor = id.UserID(actorID)
		record.ActorRole = id.Role(role)
		record.Action = audit.Action(action)
		record.SubjectType = audit.SubjectType(subType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}
