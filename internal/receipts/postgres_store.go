package receipts

import (
	"context"
	"database/sql"
)

// PostgresStore persists receipt data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed receipt store.
// Schema is managed by goose migrations (see migrations/).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO receipts (
			id, request_id, nonce, from_addr, to_addr,
			amount, tx_hash, status, payload_hash, signature,
			issued_at, expires_at, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::NUMERIC(20,6), $7, $8, $9, $10,
			$11, $12, $13, $14
		)`,
		r.ID, r.RequestID, r.Nonce, r.From, r.To,
		r.Amount, nullString(r.TxHash), r.Status, r.PayloadHash, r.Signature,
		r.IssuedAt, r.ExpiresAt, nullString(r.Metadata), r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, request_id, nonce, from_addr, to_addr,
		       amount, tx_hash, status, payload_hash, signature,
		       issued_at, expires_at, metadata, created_at
		FROM receipts WHERE id = $1`, id)

	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) ListByAddress(ctx context.Context, addr string, limit int) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, request_id, nonce, from_addr, to_addr,
		       amount, tx_hash, status, payload_hash, signature,
		       issued_at, expires_at, metadata, created_at
		FROM receipts
		WHERE from_addr = $1 OR to_addr = $1
		ORDER BY created_at DESC
		LIMIT $2`, addr, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanReceipts(rows)
}

func (p *PostgresStore) ListByRequest(ctx context.Context, requestID string) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, request_id, nonce, from_addr, to_addr,
		       amount, tx_hash, status, payload_hash, signature,
		       issued_at, expires_at, metadata, created_at
		FROM receipts
		WHERE request_id = $1
		ORDER BY created_at DESC`, requestID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanReceipts(rows)
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(sc scanner) (*Receipt, error) {
	r := &Receipt{}
	var (
		txHash   sql.NullString
		metadata sql.NullString
	)

	err := sc.Scan(
		&r.ID, &r.RequestID, &r.Nonce, &r.From, &r.To,
		&r.Amount, &txHash, &r.Status, &r.PayloadHash, &r.Signature,
		&r.IssuedAt, &r.ExpiresAt, &metadata, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.TxHash = txHash.String
	r.Metadata = metadata.String
	return r, nil
}

func scanReceipts(rows *sql.Rows) ([]*Receipt, error) {
	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
