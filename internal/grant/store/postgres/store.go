package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"evidex/internal/grant"
	id "evidex/pkg/domain"
	txcontext "evidex/pkg/platform/tx"
)

// Store persists grants in PostgreSQL. The UNIQUE (version_id, user_id)
// constraint is the enforcement point for the at-most-one-grant invariant;
// ON CONFLICT DO NOTHING makes concurrent first-grants race-safe with both
// callers observing success.
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

func (s *Store) Insert(ctx context.Context, g grant.Grant) (bool, error) {
	var grantedBy *uuid.UUID
	if g.GrantedBy != nil {
		u := uuid.UUID(*g.GrantedBy)
		grantedBy = &u
	}

	query := `
		INSERT INTO grants (version_id, user_id, granted_at, granted_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (version_id, user_id) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(g.Version),
		uuid.UUID(g.User),
		g.GrantedAt,
		grantedBy,
	)
	if err != nil {
		return false, fmt.Errorf("insert grant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("grant rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *Store) IsGranted(ctx context.Context, version id.VersionID, user id.UserID) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM grants WHERE version_id = $1 AND user_id = $2)
	`, uuid.UUID(version), uuid.UUID(user)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return exists, nil
}

func (s *Store) VersionsFor(ctx context.Context, user id.UserID) ([]id.VersionID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT version_id FROM grants WHERE user_id = $1
	`, uuid.UUID(user))
	if err != nil {
		return nil, fmt.Errorf("query granted versions: %w", err)
	}
	defer rows.Close()

	var versions []id.VersionID
	for rows.Next() {
		var v uuid.UUID
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan granted version: %w", err)
		}
		versions = append(versions, id.VersionID(v))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate granted versions: %w", err)
	}
	return versions, nil
}
