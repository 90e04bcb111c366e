package services

import (
	"context"
	"encoding/json"
	"time"
)

// Event kinds emitted by the aggregator.
const (
	EventBatchCommitted     = "batch_committed"
	EventPartitionCompleted = "partition_completed"
	EventRunFinished        = "run_finished"
)

// EventSchemaVersion is bumped when the event JSON shape changes.
const EventSchemaVersion = 1

// Event is one progress notification. Events are advisory; the ledger
// remains the source of truth.
type Event struct {
	Version      int       `json:"version"`
	Kind         string    `json:"kind"`
	PartitionKey string    `json:"partition_key,omitempty"`
	Destination  string    `json:"destination,omitempty"`
	Rows         int64     `json:"rows,omitempty"`
	Cursor       int64     `json:"cursor,omitempty"`
	AllComplete  bool      `json:"all_complete,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ToJSON converts the event to JSON bytes.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventPublisher receives aggregation progress events. Implementations
// must tolerate being called from a single goroutine only.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}
