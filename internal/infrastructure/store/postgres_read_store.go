package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/ec-fulfillment/internal/readmodel"
	"github.com/lib/pq"
)

// PostgresReadStore implements ReadStoreInterface using PostgreSQL
type PostgresReadStore struct {
	db *sql.DB
}

// NewPostgresReadStore creates a new PostgreSQL-based read store
func NewPostgresReadStore(db *sql.DB) *PostgresReadStore {
	return &PostgresReadStore{db: db}
}

const orderColumns = `id, order_number, customer_email, customer_phone, currency, items, subtotal, shipping_cost, total,
	status, payment_status, tracking_number, tracking_url, carrier, estimated_delivery, version, created_at, updated_at`

// SaveOrder upserts the order row, ignoring stale versions.
func (rs *PostgresReadStore) SaveOrder(ctx context.Context, o *readmodel.OrderReadModel) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	_, err = rs.db.ExecContext(ctx,
		`INSERT INTO read_orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			payment_status = EXCLUDED.payment_status,
			tracking_number = EXCLUDED.tracking_number,
			tracking_url = EXCLUDED.tracking_url,
			carrier = EXCLUDED.carrier,
			estimated_delivery = EXCLUDED.estimated_delivery,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		 WHERE read_orders.version <= EXCLUDED.version`,
		o.ID, o.OrderNumber, o.CustomerEmail, o.CustomerPhone, o.Currency, items,
		o.Subtotal, o.ShippingCost, o.Total,
		o.Status, o.PaymentStatus, o.TrackingNumber, o.TrackingURL, o.Carrier, o.EstimatedDelivery,
		o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}
	return nil
}

func (rs *PostgresReadStore) GetOrder(ctx context.Context, id string) (*readmodel.OrderReadModel, error) {
	row := rs.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM read_orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

func (rs *PostgresReadStore) ListOrders(ctx context.Context, f readmodel.OrderFilter) ([]readmodel.OrderReadModel, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		args = append(args, pq.Array(f.Statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.WithTracking {
		where = append(where, "tracking_number <> ''")
	}
	where, args = appendRange(where, args, "created_at", f.From, f.To)

	q := `SELECT ` + orderColumns + ` FROM read_orders` + whereClause(where) + ` ORDER BY created_at DESC, id ASC`
	q, args = appendPage(q, args, f.Limit, f.Offset)

	rows, err := rs.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []readmodel.OrderReadModel
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*readmodel.OrderReadModel, error) {
	var (
		o     readmodel.OrderReadModel
		items []byte
		eta   sql.NullTime
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerEmail, &o.CustomerPhone, &o.Currency, &items,
		&o.Subtotal, &o.ShippingCost, &o.Total,
		&o.Status, &o.PaymentStatus, &o.TrackingNumber, &o.TrackingURL, &o.Carrier, &eta,
		&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items of %s: %w", o.ID, err)
	}
	if eta.Valid {
		t := eta.Time
		o.EstimatedDelivery = &t
	}
	return &o, nil
}

const notificationColumns = `id, type, recipient, subject, message, status, provider, message_id, metadata, error, created_at, sent_at`

func (rs *PostgresReadStore) CreateNotification(ctx context.Context, n *readmodel.Notification) error {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = rs.db.ExecContext(ctx,
		`INSERT INTO notifications (`+notificationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		n.ID, n.Type, n.Recipient, n.Subject, n.Message, n.Status, n.Provider, n.MessageID,
		metadata, n.Error, n.CreatedAt, n.SentAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// CompleteNotification only touches rows still in PENDING.
func (rs *PostgresReadStore) CompleteNotification(ctx context.Context, id string, c readmodel.NotificationCompletion) error {
	var sentAt any
	if c.Status == readmodel.NotificationSent {
		sentAt = c.At
	}
	res, err := rs.db.ExecContext(ctx,
		`UPDATE notifications
		 SET status = $2, provider = $3, message_id = $4, error = $5, sent_at = $6
		 WHERE id = $1 AND status = $7`,
		id, c.Status, c.Provider, c.MessageID, c.Error, sentAt, readmodel.NotificationPending,
	)
	if err != nil {
		return fmt.Errorf("complete notification %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	if _, err := rs.GetNotification(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("notification %s: %w", id, ErrNotificationFinalized)
}

func (rs *PostgresReadStore) GetNotification(ctx context.Context, id string) (*readmodel.Notification, error) {
	row := rs.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n, err
}

func (rs *PostgresReadStore) ListNotifications(ctx context.Context, f readmodel.NotificationFilter) ([]readmodel.Notification, error) {
	var (
		where []string
		args  []any
	)
	for col, val := range map[string]string{"status": f.Status, "type": f.Type, "recipient": f.Recipient} {
		if val == "" {
			continue
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	where, args = appendRange(where, args, "created_at", f.From, f.To)

	q := `SELECT ` + notificationColumns + ` FROM notifications` + whereClause(where) + ` ORDER BY created_at DESC, id ASC`
	q, args = appendPage(q, args, f.Limit, f.Offset)

	rows, err := rs.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []readmodel.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func scanNotification(row rowScanner) (*readmodel.Notification, error) {
	var (
		n        readmodel.Notification
		metadata []byte
		sentAt   sql.NullTime
	)
	err := row.Scan(&n.ID, &n.Type, &n.Recipient, &n.Subject, &n.Message, &n.Status, &n.Provider, &n.MessageID,
		&metadata, &n.Error, &n.CreatedAt, &sentAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata of %s: %w", n.ID, err)
		}
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	return &n, nil
}

func (rs *PostgresReadStore) RecordActivity(ctx context.Context, a *readmodel.Activity) error {
	var payload any
	if len(a.Payload) > 0 {
		payload = []byte(a.Payload)
	}
	_, err := rs.db.ExecContext(ctx,
		`INSERT INTO activities (id, type, subject_id, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Type, a.SubjectID, payload, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (rs *PostgresReadStore) ListActivities(ctx context.Context, f readmodel.ActivityFilter) ([]readmodel.Activity, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.SubjectID != "" {
		args = append(args, f.SubjectID)
		where = append(where, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	where, args = appendRange(where, args, "created_at", f.From, f.To)

	q := `SELECT id, type, subject_id, payload, created_at FROM activities` + whereClause(where) + ` ORDER BY created_at DESC`
	q, args = appendPage(q, args, f.Limit, f.Offset)

	rows, err := rs.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []readmodel.Activity
	for rows.Next() {
		var a readmodel.Activity
		var payload []byte
		if err := rows.Scan(&a.ID, &a.Type, &a.SubjectID, &payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Payload = payload
		out = append(out, a)
	}
	return out, rows.Err()
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
