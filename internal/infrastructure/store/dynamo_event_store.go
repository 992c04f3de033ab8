package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// allEventsPK is the fixed GSI1 partition key that indexes every event by time.
const allEventsPK = "EVENTS"

// DynamoAPI is the subset of the DynamoDB client used by DynamoEventStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoEventStore stores events in DynamoDB.
// The table's Kinesis stream integration feeds cmd/lambda/projector.
type DynamoEventStore struct {
	client            DynamoAPI
	tableName         string
	snapshotTableName string
}

// dynamoEvent represents the DynamoDB item structure
type dynamoEvent struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	Version       int    `dynamodbav:"version"`
	ID            string `dynamodbav:"id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	EventType     string `dynamodbav:"event_type"`
	Data          string `dynamodbav:"data"`
	CreatedAt     string `dynamodbav:"created_at"`
	GSI1PK        string `dynamodbav:"gsi1pk"`
}

func NewDynamoEventStore(client DynamoAPI, tableName, snapshotTableName string) *DynamoEventStore {
	return &DynamoEventStore{
		client:            client,
		tableName:         tableName,
		snapshotTableName: snapshotTableName,
	}
}

// Append writes the event with a conditional put so two writers can never
// claim the same (aggregate_id, version).
func (es *DynamoEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", eventType, err)
	}

	current, err := es.currentVersion(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if expectedVersion != AnyVersion && expectedVersion != current {
		return nil, fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, aggregateID, current, expectedVersion)
	}

	event := Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Timestamp:     time.Now().UTC(),
		Version:       current + 1,
	}

	av, err := attributevalue.MarshalMap(dynamoEvent{
		AggregateID:   event.AggregateID,
		Version:       event.Version,
		ID:            event.ID,
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
		Data:          string(jsonData),
		CreatedAt:     event.Timestamp.Format(time.RFC3339Nano),
		GSI1PK:        allEventsPK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}

	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(es.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(aggregate_id) AND attribute_not_exists(version)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("%w: %s version %d already written", ErrVersionConflict, aggregateID, event.Version)
		}
		return nil, fmt.Errorf("put event: %w", err)
	}

	return &event, nil
}

func (es *DynamoEventStore) currentVersion(ctx context.Context, aggregateID string) (int, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward:     aws.Bool(false),
		Limit:                aws.Int32(1),
		ProjectionExpression: aws.String("version"),
	})
	if err != nil {
		return 0, err
	}
	if len(result.Items) == 0 {
		return 0, nil
	}

	var item struct {
		Version int `dynamodbav:"version"`
	}
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return 0, err
	}
	return item.Version, nil
}

// GetEvents returns all events for an aggregate from DynamoDB
func (es *DynamoEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.GetEventsFromVersion(ctx, aggregateID, 0)
}

// GetEventsFromVersion returns events for an aggregate after fromVersion
func (es *DynamoEventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	return es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid AND version > :ver"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
			":ver": &types.AttributeValueMemberN{Value: strconv.Itoa(fromVersion)},
		},
		ScanIndexForward: aws.Bool(true),
	})
}

// GetAllEvents returns all events from DynamoDB using GSI1
func (es *DynamoEventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	return es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: allEventsPK},
		},
		ScanIndexForward: aws.Bool(true),
	})
}

func (es *DynamoEventStore) GetEventsByType(ctx context.Context, aggregateType string) ([]Event, error) {
	return es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		FilterExpression:       aws.String("aggregate_type = :type"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: allEventsPK},
			":type": &types.AttributeValueMemberS{Value: aggregateType},
		},
		ScanIndexForward: aws.Bool(true),
	})
}

// ListEvents loads the aggregate's stream and filters it in memory.
func (es *DynamoEventStore) ListEvents(ctx context.Context, aggregateID string, filter EventFilter) ([]Event, error) {
	events, err := es.GetEvents(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	return ApplyFilter(events, filter), nil
}

func (es *DynamoEventStore) queryAll(ctx context.Context, in *dynamodb.QueryInput) ([]Event, error) {
	var events []Event
	for {
		out, err := es.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		page, err := unmarshalEvents(out.Items)
		if err != nil {
			return nil, err
		}
		events = append(events, page...)

		if len(out.LastEvaluatedKey) == 0 {
			return events, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func unmarshalEvents(items []map[string]types.AttributeValue) ([]Event, error) {
	events := make([]Event, 0, len(items))
	for _, item := range items {
		var de dynamoEvent
		if err := attributevalue.UnmarshalMap(item, &de); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		timestamp, _ := time.Parse(time.RFC3339Nano, de.CreatedAt)
		events = append(events, Event{
			ID:            de.ID,
			AggregateID:   de.AggregateID,
			AggregateType: de.AggregateType,
			EventType:     de.EventType,
			Data:          json.RawMessage(de.Data),
			Timestamp:     timestamp,
			Version:       de.Version,
		})
	}
	return events, nil
}

// dynamoSnapshot is one row of the snapshots table, keyed by aggregate_id.
type dynamoSnapshot struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	Version       int    `dynamodbav:"version"`
	State         string `dynamodbav:"state"`
	CreatedAt     string `dynamodbav:"created_at"`
}

// SaveSnapshot overwrites the stored snapshot unless it is newer.
func (es *DynamoEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	av, err := attributevalue.MarshalMap(dynamoSnapshot{
		AggregateID:   snapshot.AggregateID,
		AggregateType: snapshot.AggregateType,
		Version:       snapshot.Version,
		State:         string(snapshot.State),
		CreatedAt:     snapshot.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(es.snapshotTableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(aggregate_id) OR version <= :ver"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ver": &types.AttributeValueMemberN{Value: strconv.Itoa(snapshot.Version)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored snapshot, or nil when none exists.
func (es *DynamoEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	result, err := es.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(es.snapshotTableName),
		Key: map[string]types.AttributeValue{
			"aggregate_id": &types.AttributeValueMemberS{Value: aggregateID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var ds dynamoSnapshot
	if err := attributevalue.UnmarshalMap(result.Item, &ds); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, ds.CreatedAt)

	return &Snapshot{
		AggregateID:   ds.AggregateID,
		AggregateType: ds.AggregateType,
		Version:       ds.Version,
		State:         json.RawMessage(ds.State),
		CreatedAt:     createdAt,
	}, nil
}
