package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"simgate/internal/esim/models"
	id "simgate/pkg/domain"
	"simgate/pkg/platform/sentinel"
)

// PostgresStore persists eSIM entities in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a PostgreSQL-backed eSIM store.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS esims (
	id UUID PRIMARY KEY,
	order_id BIGINT NOT NULL,
	sku TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	vendor_order_ref TEXT NOT NULL DEFAULT '',
	iccid TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	activation_code TEXT NOT NULL DEFAULT '',
	qr_payload TEXT NOT NULL DEFAULT '',
	vendor_profile JSONB,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	activated_at TIMESTAMPTZ,
	deactivated_at TIMESTAMPTZ,
	deactivation_reason TEXT NOT NULL DEFAULT '',
	CONSTRAINT esims_order_line_unique UNIQUE (order_id, sku)
);
CREATE UNIQUE INDEX IF NOT EXISTS esims_iccid_unique ON esims (iccid) WHERE iccid <> '';
CREATE INDEX IF NOT EXISTS esims_vendor_order_ref_idx ON esims (vendor_order_ref) WHERE vendor_order_ref <> '';
CREATE INDEX IF NOT EXISTS esims_user_id_idx ON esims (user_id);
`

// EnsureSchema creates the esims table and indexes if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure esims schema: %w", err)
	}
	return nil
}

const esimColumns = `id, order_id, sku, user_id, vendor_order_ref, iccid, state,
	activation_code, qr_payload, vendor_profile, metadata,
	created_at, activated_at, deactivated_at, deactivation_reason`

func (s *PostgresStore) Create(ctx context.Context, e *models.Esim) error {
	meta, err := metadataJSON(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO esims (`+esimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID.String(), int64(e.OrderID), e.SKU.String(), e.UserID.String(),
		e.VendorOrderRef.String(), e.ICCID.String(), string(e.State),
		e.ActivationCode, e.QRPayload, nullableRaw(e.VendorProfile), meta,
		e.CreatedAt, e.ActivatedAt, e.DeactivatedAt, e.DeactivationReason,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert esim: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, esimID id.EsimID) (*models.Esim, error) {
	return s.getOne(ctx, `WHERE id = $1`, esimID.String())
}

func (s *PostgresStore) GetByOrderLine(ctx context.Context, orderID id.OrderID, sku id.SKU) (*models.Esim, error) {
	return s.getOne(ctx, `WHERE order_id = $1 AND sku = $2`, int64(orderID), sku.String())
}

func (s *PostgresStore) GetByICCID(ctx context.Context, iccid id.ICCID) (*models.Esim, error) {
	return s.getOne(ctx, `WHERE iccid = $1 AND iccid <> ''`, iccid.String())
}

func (s *PostgresStore) GetByVendorOrderRef(ctx context.Context, ref id.VendorOrderRef) (*models.Esim, error) {
	return s.getOne(ctx, `WHERE vendor_order_ref = $1 AND vendor_order_ref <> ''`, ref.String())
}

func (s *PostgresStore) getOne(ctx context.Context, where string, args ...any) (*models.Esim, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+esimColumns+` FROM esims `+where, args...)
	e, err := scanEsim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get esim: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*models.Esim, error) {
	where := `WHERE ($1 = 0 OR order_id = $1)
	  AND ($2 = '' OR user_id = $2)
	  AND ($3 = '' OR iccid = $3)
	  AND ($4 = '' OR state = $4)`
	rows, err := s.pool.Query(ctx,
		`SELECT `+esimColumns+` FROM esims `+where+` ORDER BY created_at`,
		int64(f.OrderID), f.UserID.String(), f.ICCID.String(), string(f.State),
	)
	if err != nil {
		return nil, fmt.Errorf("list esims: %w", err)
	}
	defer rows.Close()

	var out []*models.Esim
	for rows.Next() {
		e, err := scanEsim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan esim: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Update applies mutate under a row lock so a concurrent webhook and admin
// action on the same entity cannot interleave.
func (s *PostgresStore) Update(ctx context.Context, esimID id.EsimID, mutate func(*models.Esim) error) (*models.Esim, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+esimColumns+` FROM esims WHERE id = $1 FOR UPDATE`, esimID.String())
	e, err := scanEsim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock esim: %w", err)
	}

	if err := mutate(e); err != nil {
		return nil, err
	}

	meta, err := metadataJSON(e.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE esims SET
			user_id = $2, vendor_order_ref = $3, iccid = $4, state = $5,
			activation_code = $6, qr_payload = $7, vendor_profile = $8,
			metadata = $9, activated_at = $10, deactivated_at = $11,
			deactivation_reason = $12
		WHERE id = $1`,
		e.ID.String(), e.UserID.String(), e.VendorOrderRef.String(),
		e.ICCID.String(), string(e.State), e.ActivationCode, e.QRPayload,
		nullableRaw(e.VendorProfile), meta, e.ActivatedAt, e.DeactivatedAt,
		e.DeactivationReason,
	)
	if isUniqueViolation(err) {
		return nil, sentinel.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update esim: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEsim(row rowScanner) (*models.Esim, error) {
	var (
		e         models.Esim
		esimID    string
		orderID   int64
		sku       string
		userID    string
		vendorRef string
		iccid     string
		state     string
		profile   []byte
		meta      []byte
		createdAt time.Time
	)
	err := row.Scan(&esimID, &orderID, &sku, &userID, &vendorRef, &iccid, &state,
		&e.ActivationCode, &e.QRPayload, &profile, &meta,
		&createdAt, &e.ActivatedAt, &e.DeactivatedAt, &e.DeactivationReason)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseEsimID(esimID)
	if err != nil {
		return nil, fmt.Errorf("stored esim id invalid: %w", err)
	}
	e.ID = parsed
	e.OrderID = id.OrderID(orderID)
	e.SKU = id.SKU(sku)
	e.UserID = id.UserID(userID)
	e.VendorOrderRef = id.VendorOrderRef(vendorRef)
	e.ICCID = id.ICCID(iccid)
	e.State = models.State(state)
	e.CreatedAt = createdAt
	if len(profile) > 0 {
		e.VendorProfile = json.RawMessage(profile)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("stored esim metadata invalid: %w", err)
		}
	}
	return &e, nil
}

func metadataJSON(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal esim metadata: %w", err)
	}
	return b, nil
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
