package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	id "simgate/pkg/domain"
)

// PostgresStore persists activation log entries and webhook records in
// PostgreSQL. Both tables are append-only; there is deliberately no update
// or delete path.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS activation_log (
	id UUID PRIMARY KEY,
	esim_id UUID NOT NULL,
	action TEXT NOT NULL,
	actor TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS activation_log_esim_idx ON activation_log (esim_id, created_at);

CREATE TABLE IF NOT EXISTS webhook_events (
	id UUID PRIMARY KEY,
	event_type TEXT NOT NULL,
	event_id TEXT NOT NULL DEFAULT '',
	iccid TEXT NOT NULL DEFAULT '',
	vendor_order_ref TEXT NOT NULL DEFAULT '',
	payload JSONB,
	process_error TEXT NOT NULL DEFAULT '',
	received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS webhook_events_iccid_idx ON webhook_events (iccid, received_at);
`

// EnsureSchema creates the audit tables if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, auditSchema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal log metadata: %w", err)
	}
	if entry.Metadata == nil {
		meta = []byte(`{}`)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO activation_log (id, esim_id, action, actor, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.EsimID.String(), entry.Action, string(entry.Actor), meta, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append activation log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEsim(ctx context.Context, esimID id.EsimID) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, esim_id, action, actor, metadata, created_at
		FROM activation_log WHERE esim_id = $1 ORDER BY created_at`,
		esimID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list activation log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			esimRaw string
			meta    []byte
		)
		if err := rows.Scan(&e.ID, &esimRaw, &e.Action, &e.Actor, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activation log: %w", err)
		}
		parsed, err := id.ParseEsimID(esimRaw)
		if err != nil {
			return nil, fmt.Errorf("stored esim id invalid: %w", err)
		}
		e.EsimID = parsed
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("stored log metadata invalid: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PostgresWebhookStore persists raw webhook deliveries.
type PostgresWebhookStore struct {
	pool *pgxpool.Pool
}

func NewPostgresWebhookStore(pool *pgxpool.Pool) *PostgresWebhookStore {
	return &PostgresWebhookStore{pool: pool}
}

func (s *PostgresWebhookStore) Append(ctx context.Context, rec WebhookRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (id, event_type, event_id, iccid, vendor_order_ref, payload, process_error, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.EventType, rec.EventID, rec.ICCID.String(),
		rec.VendorOrderRef.String(), []byte(rec.Payload), rec.ProcessError, rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("append webhook event: %w", err)
	}
	return nil
}

func (s *PostgresWebhookStore) ListRecent(ctx context.Context, limit int) ([]WebhookRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, event_id, iccid, vendor_order_ref, payload, process_error, received_at
		FROM webhook_events ORDER BY received_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var out []WebhookRecord
	for rows.Next() {
		var (
			rec     WebhookRecord
			iccid   string
			ref     string
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.EventID, &iccid, &ref, &payload, &rec.ProcessError, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		rec.ICCID = id.ICCID(iccid)
		rec.VendorOrderRef = id.VendorOrderRef(ref)
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}
