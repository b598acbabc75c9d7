package audit

import (
	"context"

	id "evidex/pkg/domain"
)

// Store persists audit records. Append is durable or it fails; there is no
// partial success and no delete. Implementations must honor an in-flight SQL
// transaction from pkg/platform/tx so a record lands atomically with the
// state change it describes.
type Store interface {
	Append(ctx context.Context, record Record) error
	ListByActor(ctx context.Context, actor id.UserID) ([]Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
}
