package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"keygate/internal/models"
)

// ErrDuplicateOrder is returned when an insert collides with an existing
// fingerprint or payment reference. Callers resolve it by returning the
// already-created order.
var ErrDuplicateOrder = errors.New("order already exists")

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const orderColumns = `
	order_id, buyer_id, item_id, fingerprint, payment_reference,
	payment_provider, fulfillment_method, amount_minor, display_price,
	currency, recipient_address, registry_address, chain_id, status,
	txn_hash, token_id, issuance_lock_id, issuance_locked_at,
	issuance_attempts, issuance_last_error, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO orders (
			order_id, buyer_id, item_id, fingerprint, payment_reference,
			payment_provider, fulfillment_method, amount_minor, display_price,
			currency, recipient_address, registry_address, chain_id, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		order.OrderID,
		order.BuyerID,
		order.ItemID,
		order.Fingerprint,
		order.PaymentReference,
		order.PaymentProvider,
		order.FulfillmentMethod,
		order.AmountMinor,
		order.DisplayPrice,
		order.Currency,
		order.RecipientAddress,
		order.RegistryAddress,
		order.ChainID,
		order.Status,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateOrder
	}
	return err
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE order_id=$1`, orderID)
	return scanOrder(row)
}

func (s *Store) GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE payment_reference=$1`, reference)
	return scanOrder(row)
}

func (s *Store) GetOrderByFingerprint(ctx context.Context, fingerprint string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE fingerprint=$1`, fingerprint)
	return scanOrder(row)
}

// AcquireIssuanceLock attempts the CAS lock acquisition: the conditional
// update only fires when the row is unlocked or the previous lock is older
// than staleBefore, and acquisition succeeded iff the returned lock id is
// the token this call wrote. Losing the race is not an error.
func (s *Store) AcquireIssuanceLock(ctx context.Context, orderID, token string, staleBefore time.Time) (bool, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE orders
		SET issuance_lock_id=$2,
			issuance_locked_at=now(),
			issuance_attempts=issuance_attempts+1,
			issuance_last_error=NULL,
			updated_at=now()
		WHERE order_id=$1
		  AND (issuance_lock_id IS NULL OR issuance_locked_at < $3)
		RETURNING issuance_lock_id
	`, orderID, token, staleBefore)

	var got string
	if err := row.Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return got == token, nil
}

// Outcome is the terminal state written together with the lock release.
// Nil fields keep the row's current value, except LastError which always
// overwrites (nil clears it).
type Outcome struct {
	Status    *models.OrderStatus
	TxnHash   *string
	TokenID   *string
	LastError *string
}

// ReleaseIssuanceLock clears the lock and records the outcome in one guarded
// update. The token guard stops a stale worker from clearing a lock it no
// longer owns. Returns false when the guard did not match.
func (s *Store) ReleaseIssuanceLock(ctx context.Context, orderID, token string, outcome Outcome) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET issuance_lock_id=NULL,
			issuance_locked_at=NULL,
			status=COALESCE($3, status),
			txn_hash=COALESCE($4, txn_hash),
			token_id=COALESCE($5, token_id),
			issuance_last_error=$6,
			updated_at=now()
		WHERE order_id=$1 AND issuance_lock_id=$2
	`, orderID, token, outcome.Status, outcome.TxnHash, outcome.TokenID, outcome.LastError)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// AppendAudit appends one entry to the order's audit trail. The jsonb
// concatenation is append-only; existing entries are never rewritten.
func (s *Store) AppendAudit(ctx context.Context, orderID string, entry models.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal([]models.AuditEntry{entry})
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		UPDATE orders
		SET audit_trail = audit_trail || $2::jsonb, updated_at=now()
		WHERE order_id=$1
	`, orderID, payload)
	return err
}

func (s *Store) GetAuditTrail(ctx context.Context, orderID string) ([]models.AuditEntry, error) {
	var raw []byte
	err := s.Pool.QueryRow(ctx, `SELECT audit_trail FROM orders WHERE order_id=$1`, orderID).Scan(&raw)
	if err != nil {
		return nil, err
	}
	var trail []models.AuditEntry
	if err := json.Unmarshal(raw, &trail); err != nil {
		return nil, err
	}
	return trail, nil
}

// BackfillTokenID sets token_id on a paid order that is still missing one.
func (s *Store) BackfillTokenID(ctx context.Context, orderID, tokenID string) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET token_id=$2, updated_at=now()
		WHERE order_id=$1 AND status='paid' AND token_id IS NULL
	`, orderID, tokenID)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ListRetryable returns pending orders whose lock is clear but whose last
// attempt left a recorded error; the sweeper re-runs these.
func (s *Store) ListRetryable(ctx context.Context, limit int) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT`+orderColumns+`
		FROM orders
		WHERE status='pending'
		  AND issuance_lock_id IS NULL
		  AND issuance_last_error IS NOT NULL
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListMissingTokenID returns paid orders whose minted identifier was never
// extracted, for ownership-enumeration backfill.
func (s *Store) ListMissingTokenID(ctx context.Context, limit int) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT`+orderColumns+`
		FROM orders
		WHERE status='paid' AND token_id IS NULL
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var txnHash, tokenID, lockID, lastError sql.NullString
	var lockedAt sql.NullTime

	err := row.Scan(
		&order.OrderID,
		&order.BuyerID,
		&order.ItemID,
		&order.Fingerprint,
		&order.PaymentReference,
		&order.PaymentProvider,
		&order.FulfillmentMethod,
		&order.AmountMinor,
		&order.DisplayPrice,
		&order.Currency,
		&order.RecipientAddress,
		&order.RegistryAddress,
		&order.ChainID,
		&order.Status,
		&txnHash,
		&tokenID,
		&lockID,
		&lockedAt,
		&order.IssuanceAttempts,
		&lastError,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if txnHash.Valid {
		order.TxnHash = &txnHash.String
	}
	if tokenID.Valid {
		order.TokenID = &tokenID.String
	}
	if lockID.Valid {
		order.IssuanceLockID = &lockID.String
	}
	if lockedAt.Valid {
		order.IssuanceLockedAt = &lockedAt.Time
	}
	if lastError.Valid {
		order.IssuanceLastError = &lastError.String
	}
	return &order, nil
}

func scanOrders(rows pgx.Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
