package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"evidex/internal/request"
	id "evidex/pkg/domain"
	"evidex/pkg/platform/sentinel"
	txcontext "evidex/pkg/platform/tx"
)

const pqUniqueViolation = "23505"

// Store persists requests and items in PostgreSQL. Conditional transitions
// are expressed as UPDATE ... WHERE status = 'pending'; a zero rows-affected
// result means a concurrent writer won, and the caller maps that to an
// invalid-state error. This is what serializes competing fulfillments.
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

func (s *Store) CreateRequest(ctx context.Context, r request.Request) error {
	ex := s.execer(ctx)
	_, err := ex.ExecContext(ctx, `
		INSERT INTO requests (id, title, buyer_id, factory_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(r.ID), r.Title, uuid.UUID(r.Buyer), uuid.UUID(r.Factory), string(r.Status), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert request: %w", err)
	}
	for _, item := range r.Items {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO request_items (id, request_id, doc_type, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.UUID(item.ID), uuid.UUID(r.ID), string(item.DocType), string(item.Status), item.CreatedAt, item.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert request item: %w", err)
		}
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, requestID id.RequestID) (request.Request, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, title, buyer_id, factory_id, status, created_at, updated_at
		FROM requests WHERE id = $1
	`, uuid.UUID(requestID))
	r, err := scanRequest(row)
	if err != nil {
		return request.Request{}, err
	}
	r.Items, err = s.ItemsOf(ctx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	return r, nil
}

// GetRequestForUpdate blocks behind any concurrent writer of the same request
// and then reads the row it left behind. Two fulfillments of sibling items
// serialize here, so the second one sees the first item already terminal and
// completes the request; a fulfill racing a cancel sees the cancelled status.
func (s *Store) GetRequestForUpdate(ctx context.Context, requestID id.RequestID) (request.Request, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, title, buyer_id, factory_id, status, created_at, updated_at
		FROM requests WHERE id = $1
		FOR UPDATE
	`, uuid.UUID(requestID))
	r, err := scanRequest(row)
	if err != nil {
		return request.Request{}, err
	}
	r.Items, err = s.ItemsOf(ctx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	return r, nil
}

func (s *Store) GetItem(ctx context.Context, itemID id.RequestItemID) (request.RequestItem, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, request_id, doc_type, status, fulfilling_version_id, fulfilled_by, fulfilled_at, reject_reason, created_at, updated_at
		FROM request_items WHERE id = $1
	`, uuid.UUID(itemID))
	return scanItem(row)
}

func (s *Store) ItemsOf(ctx context.Context, requestID id.RequestID) ([]request.RequestItem, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, request_id, doc_type, status, fulfilling_version_id, fulfilled_by, fulfilled_at, reject_reason, created_at, updated_at
		FROM request_items WHERE request_id = $1 ORDER BY created_at, id
	`, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("query request items: %w", err)
	}
	defer rows.Close()

	var items []request.RequestItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request items: %w", err)
	}
	return items, nil
}

func (s *Store) ListByBuyer(ctx context.Context, buyer id.UserID) ([]request.Request, error) {
	return s.listRequests(ctx, `
		SELECT id, title, buyer_id, factory_id, status, created_at, updated_at
		FROM requests WHERE buyer_id = $1 ORDER BY created_at DESC
	`, uuid.UUID(buyer))
}

func (s *Store) ListByFactory(ctx context.Context, factory id.UserID) ([]request.Request, error) {
	return s.listRequests(ctx, `
		SELECT id, title, buyer_id, factory_id, status, created_at, updated_at
		FROM requests WHERE factory_id = $1 ORDER BY created_at DESC
	`, uuid.UUID(factory))
}

func (s *Store) ListByFactoryAndStatus(ctx context.Context, factory id.UserID, statuses []request.Status) ([]request.Request, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	return s.listRequests(ctx, `
		SELECT id, title, buyer_id, factory_id, status, created_at, updated_at
		FROM requests WHERE factory_id = $1 AND status = ANY($2) ORDER BY created_at DESC
	`, uuid.UUID(factory), pq.Array(names))
}

func (s *Store) ListAll(ctx context.Context) ([]request.Request, error) {
	return s.listRequests(ctx, `
		SELECT id, title, buyer_id, factory_id, status, created_at, updated_at
		FROM requests ORDER BY created_at DESC
	`)
}

func (s *Store) MarkItemFulfilled(ctx context.Context, itemID id.RequestItemID, versionID id.VersionID, by id.UserID, at time.Time) (bool, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE request_items
		SET status = 'fulfilled', fulfilling_version_id = $2, fulfilled_by = $3, fulfilled_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'
	`, uuid.UUID(itemID), uuid.UUID(versionID), uuid.UUID(by), at)
	if err != nil {
		return false, fmt.Errorf("mark item fulfilled: %w", err)
	}
	return oneRowAffected(res)
}

func (s *Store) MarkItemRejected(ctx context.Context, itemID id.RequestItemID, reason string, by id.UserID, at time.Time) (bool, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE request_items
		SET status = 'rejected', reject_reason = $2, fulfilled_by = $3, fulfilled_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'
	`, uuid.UUID(itemID), reason, uuid.UUID(by), at)
	if err != nil {
		return false, fmt.Errorf("mark item rejected: %w", err)
	}
	return oneRowAffected(res)
}

func (s *Store) UpdateRequestStatus(ctx context.Context, requestID id.RequestID, from []request.Status, to request.Status, at time.Time) (bool, error) {
	names := make([]string, 0, len(from))
	for _, st := range from {
		names = append(names, string(st))
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE requests SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
	`, uuid.UUID(requestID), string(to), at, pq.Array(names))
	if err != nil {
		return false, fmt.Errorf("update request status: %w", err)
	}
	return oneRowAffected(res)
}

func (s *Store) listRequests(ctx context.Context, query string, args ...any) ([]request.Request, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []request.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	for i := range out {
		out[i].Items, err = s.ItemsOf(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (request.Request, error) {
	var (
		r       request.Request
		rID     uuid.UUID
		buyer   uuid.UUID
		factory uuid.UUID
		status  string
	)
	err := row.Scan(&rID, &r.Title, &buyer, &factory, &status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return request.Request{}, sentinel.ErrNotFound
		}
		return request.Request{}, fmt.Errorf("scan request: %w", err)
	}
	r.ID = id.RequestID(rID)
	r.Buyer = id.UserID(buyer)
	r.Factory = id.UserID(factory)
	r.Status = request.Status(status)
	return r, nil
}

func scanItem(row scanner) (request.RequestItem, error) {
	var (
		item        request.RequestItem
		itemID      uuid.UUID
		rID         uuid.UUID
		docType     string
		status      string
		versionID   uuid.NullUUID
		fulfilledBy uuid.NullUUID
		fulfilledAt sql.NullTime
		reason      sql.NullString
	)
	err := row.Scan(&itemID, &rID, &docType, &status, &versionID, &fulfilledBy, &fulfilledAt, &reason, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return request.RequestItem{}, sentinel.ErrNotFound
		}
		return request.RequestItem{}, fmt.Errorf("scan request item: %w", err)
	}
	item.ID = id.RequestItemID(itemID)
	item.Request = id.RequestID(rID)
	item.DocType = id.DocType(docType)
	item.Status = request.ItemStatus(status)
	if versionID.Valid {
		v := id.VersionID(versionID.UUID)
		item.FulfillingVersion = &v
	}
	if fulfilledBy.Valid {
		u := id.UserID(fulfilledBy.UUID)
		item.FulfilledBy = &u
	}
	if fulfilledAt.Valid {
		t := fulfilledAt.Time
		item.FulfilledAt = &t
	}
	if reason.Valid {
		item.RejectReason = reason.String
	}
	return item, nil
}

func oneRowAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}
