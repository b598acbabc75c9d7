//go:build integration

package relay_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"evidex/internal/audit"
	"evidex/internal/audit/relay"
	auditpostgres "evidex/internal/audit/store/postgres"
	id "evidex/pkg/domain"
	"evidex/pkg/testutil/containers"
)

type RelaySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	recorder *audit.Recorder
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())
}

func (s *RelaySuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background()))
	s.recorder = audit.NewRecorder(auditpostgres.New(s.postgres.DB))
}

func (s *RelaySuite) appendRecords(n int) id.Actor {
	ctx := context.Background()
	actor := id.Actor{ID: id.NewUserID(), Role: id.RoleFactory}
	for i := 0; i < n; i++ {
		_, err := s.recorder.Record(ctx, actor, audit.ActionItemFulfilled,
			audit.SubjectRequestItem, id.NewRequestItemID().String(),
			map[string]any{"doc_type": "iso9001"})
		s.Require().NoError(err)
	}
	return actor
}

// Outbox rows reach Kafka and are marked published; restarting the relay
// afterwards re-delivers nothing.
func (s *RelaySuite) TestDrainsOutboxToKafka() {
	ctx := context.Background()
	topic := "audit-events-" + id.NewUserID().String()
	actor := s.appendRecords(3)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := relay.New(s.postgres.DB, []string{s.redpanda.Broker}, topic, 100*time.Millisecond, logger)
	s.Require().NoError(err)
	defer r.Close()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(runCtx)
	}()

	s.Require().Eventually(func() bool {
		var unpublished int
		err := s.postgres.DB.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM audit_outbox WHERE published_at IS NULL").Scan(&unpublished)
		return err == nil && unpublished == 0
	}, 15*time.Second, 200*time.Millisecond)
	cancel()
	<-done

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var values [][]byte
	deadline := time.Now().Add(15 * time.Second)
	for len(values) < 3 && time.Now().Before(deadline) {
		fetchCtx, fetchCancel := context.WithTimeout(ctx, 2*time.Second)
		fetches := consumer.PollFetches(fetchCtx)
		fetchCancel()
		fetches.EachRecord(func(rec *kgo.Record) {
			values = append(values, rec.Value)
		})
	}
	s.Require().Len(values, 3)

	var event map[string]any
	s.Require().NoError(json.Unmarshal(values[0], &event))
	s.Equal(actor.ID.String(), event["actor_id"])
	s.Equal(string(audit.ActionItemFulfilled), event["action"])
}

// A relay that starts with an empty outbox publishes nothing and keeps polling
// until cancelled.
func (s *RelaySuite) TestIdleRelayStops() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	topic := "audit-events-" + id.NewUserID().String()
	r, err := relay.New(s.postgres.DB, []string{s.redpanda.Broker}, topic, 50*time.Millisecond, logger)
	s.Require().NoError(err)
	defer r.Close()

	runCtx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = r.Run(runCtx)
	s.ErrorIs(err, context.DeadlineExceeded)
}
