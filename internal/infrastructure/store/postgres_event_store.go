package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const eventColumns = `id, aggregate_id, aggregate_type, event_type, data, version, created_at`

// PostgresEventStore stores events in PostgreSQL
type PostgresEventStore struct {
	db        *sql.DB
	publisher Publisher
	log       zerolog.Logger
}

func NewPostgresEventStore(db *sql.DB, publisher Publisher) *PostgresEventStore {
	return &PostgresEventStore{
		db:        db,
		publisher: publisher,
		log:       logging.Component("postgres-event-store"),
	}
}

// Append inserts the event inside a transaction that re-reads the current
// version. The (aggregate_id, version) unique key catches racing writers.
func (es *PostgresEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", eventType, err)
	}

	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1",
		aggregateID,
	).Scan(&current)
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

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID,
		event.AggregateID,
		event.AggregateType,
		event.EventType,
		[]byte(event.Data),
		event.Version,
		event.Timestamp,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s version %d already written", ErrVersionConflict, aggregateID, event.Version)
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	publish(ctx, es.publisher, es.log, event)
	return &event, nil
}

// GetEvents returns all events for an aggregate from PostgreSQL
func (es *PostgresEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_id = $1 ORDER BY version ASC`,
		aggregateID,
	)
}

func (es *PostgresEventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	return es.query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_id = $1 AND version > $2 ORDER BY version ASC`,
		aggregateID, fromVersion,
	)
}

// GetEventsByType returns all events of a specific aggregate type
func (es *PostgresEventStore) GetEventsByType(ctx context.Context, aggregateType string) ([]Event, error) {
	return es.query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_type = $1 ORDER BY created_at ASC, version ASC`,
		aggregateType,
	)
}

// GetAllEvents returns all events from PostgreSQL
func (es *PostgresEventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	return es.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at ASC, version ASC`)
}

func (es *PostgresEventStore) ListEvents(ctx context.Context, aggregateID string, filter EventFilter) ([]Event, error) {
	var (
		where = []string{"aggregate_id = $1"}
		args  = []any{aggregateID}
	)
	where, args = appendRange(where, args, "created_at", filter.From, filter.To)

	order := "ASC"
	if filter.Descending {
		order = "DESC"
	}
	q := `SELECT ` + eventColumns + ` FROM events WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at ` + order + `, version ` + order
	q, args = appendPage(q, args, filter.Limit, filter.Offset)

	return es.query(ctx, q, args...)
}

func (es *PostgresEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var s Snapshot
	var state []byte
	err := es.db.QueryRowContext(ctx,
		`SELECT aggregate_id, aggregate_type, version, state, created_at FROM snapshots WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&s.AggregateID, &s.AggregateType, &s.Version, &state, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	s.State = state
	return &s, nil
}

// SaveSnapshot upserts the snapshot unless a newer one is already stored.
func (es *PostgresEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	_, err := es.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (aggregate_id) DO UPDATE
		 SET version = EXCLUDED.version, state = EXCLUDED.state, created_at = EXCLUDED.created_at
		 WHERE snapshots.version <= EXCLUDED.version`,
		snapshot.AggregateID,
		snapshot.AggregateType,
		snapshot.Version,
		[]byte(snapshot.State),
		snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (es *PostgresEventStore) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &data, &e.Version, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Data = data
		events = append(events, e)
	}
	return events, rows.Err()
}

// appendPage adds LIMIT/OFFSET placeholders to q.
func appendPage(q string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return q, args
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(ctx context.Context, connStr string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
