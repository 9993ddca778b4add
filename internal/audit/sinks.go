package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"otp-auth-service/internal/models"
)

// DocumentIndexer is satisfied by client.ESClient.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

type ESRecorder struct {
	indexer DocumentIndexer
	index   string
}

func NewESRecorder(indexer DocumentIndexer, index string) *ESRecorder {
	return &ESRecorder{indexer: indexer, index: index}
}

// Record writes to one index per day (<index>-YYYY-MM-DD) when the event
// carries a date, and to the base index otherwise.
func (r *ESRecorder) Record(ctx context.Context, event models.SecurityEvent) error {
	index := r.index
	if event.EventDate != "" {
		index = r.index + "-" + event.EventDate
	}
	return r.indexer.IndexDocument(ctx, index, event.EventID, event)
}

// Execer is satisfied by client.ClickHouseClient.
type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

const (
	clickHouseEventsDDL = `CREATE TABLE IF NOT EXISTS security_events (
		event_id String,
		event_bucket UInt16,
		event_type LowCardinality(String),
		user_id String,
		mobile_number String,
		ip_address String,
		flow LowCardinality(String),
		occurred_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(occurred_at)
	ORDER BY (event_type, occurred_at, event_id)
	TTL toDateTime(occurred_at) + INTERVAL 180 DAY`

	clickHouseInsertEvent = `INSERT INTO security_events (
		event_id, event_bucket, event_type, user_id, mobile_number, ip_address, flow, occurred_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

type ClickHouseRecorder struct {
	db Execer
}

func NewClickHouseRecorder(db Execer) *ClickHouseRecorder {
	return &ClickHouseRecorder{db: db}
}

// EnsureSchema creates the security_events table when missing.
func (r *ClickHouseRecorder) EnsureSchema(ctx context.Context) error {
	if err := r.db.Exec(ctx, clickHouseEventsDDL); err != nil {
		return fmt.Errorf("failed to create security_events table: %w", err)
	}
	return nil
}

func (r *ClickHouseRecorder) Record(ctx context.Context, e models.SecurityEvent) error {
	return r.db.Exec(ctx, clickHouseInsertEvent,
		e.EventID, uint16(e.EventBucket), e.EventType, e.UserID, e.MobileNumber, e.IPAddress, e.Flow, e.OccurredAt.UTC())
}

// Publisher is satisfied by client.KafkaProducer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type KafkaRecorder struct {
	publisher Publisher
	topic     string
}

func NewKafkaRecorder(publisher Publisher, topic string) *KafkaRecorder {
	return &KafkaRecorder{publisher: publisher, topic: topic}
}

// Record keys messages by client address so one IP's events stay ordered.
func (r *KafkaRecorder) Record(ctx context.Context, event models.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode security event: %w", err)
	}
	return r.publisher.Publish(ctx, r.topic, []byte(event.IPAddress), payload,
		map[string]string{"event_type": event.EventType})
}
