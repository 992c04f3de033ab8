// Package kinesis decodes the DynamoDB event table's Kinesis stream.
package kinesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

const insertEvent = "INSERT"

var ErrIncompleteRecord = errors.New("incomplete event record")

// ConvertFromKinesisRecord returns nil for records that are not inserts.
// DynamoDB writes snapshots to another table, so every insert on the
// stream is a domain event.
func ConvertFromKinesisRecord(record events.KinesisEventRecord) (*store.Event, error) {
	var change events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &change); err != nil {
		return nil, fmt.Errorf("decode dynamodb change: %w", err)
	}
	return ConvertFromDynamoDBStreamRecord(change)
}

// ConvertFromDynamoDBStreamRecord handles records read straight from
// DynamoDB Streams.
func ConvertFromDynamoDBStreamRecord(record events.DynamoDBEventRecord) (*store.Event, error) {
	if record.EventName != insertEvent {
		return nil, nil
	}
	return convertDynamoDBImage(record.Change.NewImage)
}

// convertDynamoDBImage mirrors the item layout written by DynamoEventStore.
func convertDynamoDBImage(image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	if image == nil {
		return nil, fmt.Errorf("%w: no new image", ErrIncompleteRecord)
	}

	str := func(name string) string {
		if v, ok := image[name]; ok && v.DataType() == events.DataTypeString {
			return v.String()
		}
		return ""
	}

	event := &store.Event{
		ID:            str("id"),
		AggregateID:   str("aggregate_id"),
		AggregateType: str("aggregate_type"),
		EventType:     str("event_type"),
		Data:          json.RawMessage(str("data")),
	}
	if raw := str("created_at"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		event.Timestamp = t
	}
	if v, ok := image["version"]; ok {
		if v.DataType() != events.DataTypeNumber {
			return nil, fmt.Errorf("%w: version is not a number", ErrIncompleteRecord)
		}
		version, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("parse version: %w", err)
		}
		event.Version = int(version)
	}

	if event.ID == "" || event.AggregateID == "" || event.EventType == "" || event.Version == 0 {
		return nil, fmt.Errorf("%w: id=%q aggregate_id=%q event_type=%q version=%d",
			ErrIncompleteRecord, event.ID, event.AggregateID, event.EventType, event.Version)
	}
	return event, nil
}

// BatchConvertFromKinesisEvent returns the decoded events and one error per
// record that failed to decode.
func BatchConvertFromKinesisEvent(kinesisEvent events.KinesisEvent) ([]*store.Event, []error) {
	var out []*store.Event
	var errs []error

	for _, record := range kinesisEvent.Records {
		event, err := ConvertFromKinesisRecord(record)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", record.EventID, err))
			continue
		}
		if event != nil {
			out = append(out, event)
		}
	}
	return out, errs
}

// EventHandler applies one decoded event.
type EventHandler func(ctx context.Context, event store.Event) error

// BatchResult is the outcome of ProcessBatch.
type BatchResult struct {
	Applied  int
	Skipped  int
	Failures []events.KinesisBatchItemFailure
	Errors   []error
}

// ProcessBatch applies every insert in order and reports the sequence
// numbers of records that failed so only those are redelivered. Once a
// record of an aggregate fails, later records of the same aggregate are
// also reported, keeping per-aggregate order on retry.
func ProcessBatch(ctx context.Context, batch events.KinesisEvent, handle EventHandler) BatchResult {
	var res BatchResult
	blocked := make(map[string]bool)

	fail := func(record events.KinesisEventRecord, err error) {
		res.Failures = append(res.Failures, events.KinesisBatchItemFailure{ItemIdentifier: record.Kinesis.SequenceNumber})
		res.Errors = append(res.Errors, fmt.Errorf("record %s: %w", record.EventID, err))
	}

	for _, record := range batch.Records {
		event, err := ConvertFromKinesisRecord(record)
		if err != nil {
			fail(record, err)
			continue
		}
		if event == nil {
			res.Skipped++
			continue
		}
		if blocked[event.AggregateID] {
			fail(record, fmt.Errorf("earlier event of %s failed", event.AggregateID))
			continue
		}
		if err := handle(ctx, *event); err != nil {
			blocked[event.AggregateID] = true
			fail(record, err)
			continue
		}
		res.Applied++
	}
	return res
}
