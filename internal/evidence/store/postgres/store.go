package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"evidex/internal/evidence"
	id "evidex/pkg/domain"
	"evidex/pkg/platform/sentinel"
	txcontext "evidex/pkg/platform/tx"
)

// pqUniqueViolation is the Postgres error code for unique constraint failures.
const pqUniqueViolation = "23505"

// Store persists evidence and versions in PostgreSQL. Version numbers are
// assigned with a MAX+1 subselect; the UNIQUE (evidence_id, version_number)
// constraint catches concurrent writers and the caller retries.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) CreateEvidence(ctx context.Context, e evidence.Evidence) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO evidence (id, name, doc_type, factory_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.UUID(e.ID), e.Name, string(e.DocType), uuid.UUID(e.Factory), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func (s *Store) GetEvidence(ctx context.Context, evidenceID id.EvidenceID) (evidence.Evidence, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, name, doc_type, factory_id, created_at, updated_at
		FROM evidence WHERE id = $1
	`, uuid.UUID(evidenceID))
	return scanEvidence(row)
}

func (s *Store) ListByFactory(ctx context.Context, factory id.UserID) ([]evidence.Evidence, error) {
	return s.listEvidence(ctx, `
		SELECT id, name, doc_type, factory_id, created_at, updated_at
		FROM evidence WHERE factory_id = $1 ORDER BY created_at DESC
	`, uuid.UUID(factory))
}

func (s *Store) ListAll(ctx context.Context) ([]evidence.Evidence, error) {
	return s.listEvidence(ctx, `
		SELECT id, name, doc_type, factory_id, created_at, updated_at
		FROM evidence ORDER BY created_at DESC
	`)
}

func (s *Store) AddVersion(ctx context.Context, v evidence.Version) (evidence.Version, error) {
	var expiry sql.NullTime
	if v.ExpiryDate != nil {
		expiry = sql.NullTime{Time: *v.ExpiryDate, Valid: true}
	}

	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO evidence_versions (id, evidence_id, version_number, notes, expiry_date, file_ref, created_at, created_by)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(version_number), 0) + 1 FROM evidence_versions WHERE evidence_id = $2),
			$3, $4, $5, $6, $7)
		RETURNING version_number
	`, uuid.UUID(v.ID), uuid.UUID(v.Evidence), v.Notes, expiry, v.FileRef, v.CreatedAt, uuid.UUID(v.CreatedBy)).
		Scan(&v.VersionNumber)
	if err != nil {
		if isUniqueViolation(err) {
			return evidence.Version{}, sentinel.ErrConflict
		}
		return evidence.Version{}, fmt.Errorf("insert evidence version: %w", err)
	}
	return v, nil
}

func (s *Store) GetVersion(ctx context.Context, versionID id.VersionID) (evidence.Version, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, evidence_id, version_number, notes, expiry_date, file_ref, created_at, created_by
		FROM evidence_versions WHERE id = $1
	`, uuid.UUID(versionID))
	return scanVersion(row)
}

func (s *Store) VersionsOf(ctx context.Context, evidenceID id.EvidenceID) ([]evidence.Version, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, evidence_id, version_number, notes, expiry_date, file_ref, created_at, created_by
		FROM evidence_versions WHERE evidence_id = $1 ORDER BY version_number DESC
	`, uuid.UUID(evidenceID))
	if err != nil {
		return nil, fmt.Errorf("query evidence versions: %w", err)
	}
	defer rows.Close()

	var versions []evidence.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence versions: %w", err)
	}
	return versions, nil
}

func (s *Store) listEvidence(ctx context.Context, query string, args ...any) ([]evidence.Evidence, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer rows.Close()

	var out []evidence.Evidence
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvidence(row scanner) (evidence.Evidence, error) {
	var (
		e       evidence.Evidence
		eID     uuid.UUID
		docType string
		factory uuid.UUID
	)
	err := row.Scan(&eID, &e.Name, &docType, &factory, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return evidence.Evidence{}, sentinel.ErrNotFound
		}
		return evidence.Evidence{}, fmt.Errorf("scan evidence: %w", err)
	}
	e.ID = id.EvidenceID(eID)
	e.DocType = id.DocType(docType)
	e.Factory = id.UserID(factory)
	return e, nil
}

func scanVersion(row scanner) (evidence.Version, error) {
	var (
		v         evidence.Version
		vID       uuid.UUID
		eID       uuid.UUID
		expiry    sql.NullTime
		createdBy uuid.UUID
	)
	err := row.Scan(&vID, &eID, &v.VersionNumber, &v.Notes, &expiry, &v.FileRef, &v.CreatedAt, &createdBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return evidence.Version{}, sentinel.ErrNotFound
		}
		return evidence.Version{}, fmt.Errorf("scan evidence version: %w", err)
	}
	v.ID = id.VersionID(vID)
	v.Evidence = id.EvidenceID(eID)
	if expiry.Valid {
		t := expiry.Time
		v.ExpiryDate = &t
	}
	v.CreatedBy = id.UserID(createdBy)
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}
