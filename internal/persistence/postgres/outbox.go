package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Outbox event types written by the repository.
const (
	EventProgressUpdated = "challenge.progress_updated"
	EventTrophyAwarded   = "trophy.awarded"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	EventProgressUpdated: {
		Topic:         "challenge_progress",
		SchemaSubject: "challenge_progress-value",
	},
	EventTrophyAwarded: {
		Topic:         "trophy_events",
		SchemaSubject: "trophy_events-value",
	},
}

type outboxRecord struct {
	aggregateType string
	aggregateID   string
	eventType     string
	partitionKey  string
	dedupeKey     string
	payload       any
}

func insertOutbox(ctx context.Context, tx pgx.Tx, record outboxRecord) error {
	body, err := json.Marshal(record.payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[record.eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", record.eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		record.aggregateType,
		record.aggregateID,
		record.eventType,
		meta.Topic,
		meta.SchemaSubject,
		record.partitionKey,
		body,
		record.dedupeKey,
	)
	return err
}
