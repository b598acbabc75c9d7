package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
)

type capturingStore struct {
	records []Record
	err     error
}

func (s *capturingStore) Append(_ context.Context, record Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *capturingStore) ListByActor(context.Context, id.UserID) ([]Record, error) { return nil, nil }
func (s *capturingStore) ListRecent(context.Context, int) ([]Record, error)        { return nil, nil }

func TestRecordAssignsIdentityAndTimestamp(t *testing.T) {
	store := &capturingStore{}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	recorder := NewRecorder(store, WithClock(func() time.Time { return now }))

	actor := id.Actor{ID: id.NewUserID(), Role: id.RoleFactory}
	rec, err := recorder.Record(context.Background(), actor, ActionItemFulfilled, SubjectRequestItem, "item-1", map[string]any{"doc_type": "iso9001"})
	require.NoError(t, err)

	assert.NotEqual(t, [16]byte{}, [16]byte(rec.ID))
	assert.Equal(t, actor.ID, rec.Actor)
	assert.Equal(t, id.RoleFactory, rec.ActorRole)
	assert.Equal(t, now, rec.Timestamp)
	require.Len(t, store.records, 1)
	assert.Equal(t, rec, store.records[0])
}

func TestRecordFailsClosed(t *testing.T) {
	store := &capturingStore{err: errors.New("disk full")}
	recorder := NewRecorder(store)

	_, err := recorder.Record(context.Background(), id.Actor{ID: id.NewUserID(), Role: id.RoleAdmin},
		ActionGrantCreated, SubjectGrant, "v-1", nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeStorageFailure))
}
