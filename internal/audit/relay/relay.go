// Package relay publishes committed audit outbox rows to Kafka. Postgres is
// the transactional source of truth for audit records; the relay provides
// at-least-once downstream delivery for SIEM and retention pipelines.
package relay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

const defaultBatchSize = 100

// Relay polls the audit_outbox table and produces unpublished rows to the
// audit topic. Rows are marked published only after Kafka acks, so a crash
// between produce and mark can re-deliver but never lose an event.
type Relay struct {
	db           *sql.DB
	client       *kgo.Client
	topic        string
	pollInterval time.Duration
	logger       *slog.Logger
}

// New connects to the given brokers and ensures the audit topic exists.
func New(db *sql.DB, brokers []string, topic string, pollInterval time.Duration, logger *slog.Logger) (*Relay, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := admin.CreateTopic(ctx, 1, 1, nil, topic); err != nil {
		// Topic may already exist; anything else is surfaced on first produce.
		logger.Warn("create audit topic", "topic", topic, "error", err)
	}

	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Relay{
		db:           db,
		client:       client,
		topic:        topic,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				r.logger.ErrorContext(ctx, "audit relay drain failed", "error", err)
			}
		}
	}
}

type outboxRow struct {
	id       uuid.UUID
	recordID uuid.UUID
	payload  []byte
}

func (r *Relay) drain(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, record_id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, defaultBatchSize)
	if err != nil {
		return fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var pending []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.id, &row.recordID, &row.payload); err != nil {
			return fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox: %w", err)
	}

	for _, row := range pending {
		record := &kgo.Record{
			Topic: r.topic,
			Key:   []byte(row.recordID.String()),
			Value: row.payload,
		}
		if err := r.client.ProduceSync(ctx, record).FirstErr(); err != nil {
			return fmt.Errorf("produce audit event: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, `
			UPDATE audit_outbox SET published_at = $1 WHERE id = $2
		`, time.Now(), row.id); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
	}
	return nil
}

// Close flushes and releases the Kafka client.
func (r *Relay) Close() {
	r.client.Close()
}
