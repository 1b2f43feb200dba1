package bounty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"taskagent-backend/core/bounty"
)

// PGStore persists pipeline traces in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS agent_reviews (
  record_id TEXT PRIMARY KEY,
  task_id BIGINT NOT NULL,
  cid TEXT,
  file_name TEXT,
  review JSONB NOT NULL,
  settlement_tx TEXT,
  settlement_error TEXT,
  payment JSONB,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_agent_reviews_task ON agent_reviews(task_id, created_at DESC);
CREATE TABLE IF NOT EXISTS agent_payments (
  idempotency_key TEXT PRIMARY KEY,
  recipient TEXT NOT NULL,
  amount TEXT NOT NULL,
  description TEXT,
  tx_hash TEXT,
  outcome TEXT NOT NULL,
  reason TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PGStore) SaveReview(ctx context.Context, record bounty.ReviewRecord) error {
	review, err := json.Marshal(record.Review)
	if err != nil {
		return fmt.Errorf("encode review: %w", err)
	}
	var payment []byte
	if record.Payment != nil {
		if payment, err = json.Marshal(record.Payment); err != nil {
			return fmt.Errorf("encode payment: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO agent_reviews (record_id, task_id, cid, file_name, review, settlement_tx, settlement_error, payment, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (record_id) DO UPDATE SET
  review = EXCLUDED.review,
  settlement_tx = EXCLUDED.settlement_tx,
  settlement_error = EXCLUDED.settlement_error,
  payment = EXCLUDED.payment`,
		record.RecordID, record.TaskID, record.CID, record.FileName,
		review, nullable(record.SettlementTx), nullable(record.SettlementErr),
		payment, record.CreatedAt)
	return err
}

func (s *PGStore) GetReview(ctx context.Context, recordID string) (bounty.ReviewRecord, error) {
	row := s.pool.QueryRow(ctx, `
SELECT record_id, task_id, cid, file_name, review, settlement_tx, settlement_error, payment, created_at
FROM agent_reviews WHERE record_id = $1`, recordID)
	record, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return bounty.ReviewRecord{}, ErrRecordNotFound
	}
	return record, err
}

func (s *PGStore) ListReviews(ctx context.Context, taskID uint64) ([]bounty.ReviewRecord, error) {
	query := `
SELECT record_id, task_id, cid, file_name, review, settlement_tx, settlement_error, payment, created_at
FROM agent_reviews`
	args := []any{}
	if taskID != 0 {
		query += ` WHERE task_id = $1`
		args = append(args, taskID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bounty.ReviewRecord
	for rows.Next() {
		record, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (bounty.ReviewRecord, error) {
	var (
		record        bounty.ReviewRecord
		review        []byte
		payment       []byte
		settlementTx  *string
		settlementErr *string
		cid           *string
		fileName      *string
	)
	err := row.Scan(&record.RecordID, &record.TaskID, &cid, &fileName,
		&review, &settlementTx, &settlementErr, &payment, &record.CreatedAt)
	if err != nil {
		return bounty.ReviewRecord{}, err
	}
	if cid != nil {
		record.CID = *cid
	}
	if fileName != nil {
		record.FileName = *fileName
	}
	if settlementTx != nil {
		record.SettlementTx = *settlementTx
	}
	if settlementErr != nil {
		record.SettlementErr = *settlementErr
	}
	if err := json.Unmarshal(review, &record.Review); err != nil {
		return bounty.ReviewRecord{}, fmt.Errorf("decode review: %w", err)
	}
	if len(payment) > 0 {
		record.Payment = &bounty.PaymentRecord{}
		if err := json.Unmarshal(payment, record.Payment); err != nil {
			return bounty.ReviewRecord{}, fmt.Errorf("decode payment: %w", err)
		}
	}
	return record, nil
}

func (s *PGStore) SavePayment(ctx context.Context, key string, record bounty.PaymentRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO agent_payments (idempotency_key, recipient, amount, description, tx_hash, outcome, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (idempotency_key) DO UPDATE SET
  tx_hash = EXCLUDED.tx_hash,
  outcome = EXCLUDED.outcome,
  reason = EXCLUDED.reason`,
		key, record.Recipient, record.Amount, nullable(record.Description),
		nullable(record.TxHash), record.Outcome, nullable(record.Reason), record.CreatedAt)
	return err
}

func (s *PGStore) GetPayment(ctx context.Context, key string) (bounty.PaymentRecord, error) {
	var (
		record      bounty.PaymentRecord
		description *string
		txHash      *string
		reason      *string
		createdAt   time.Time
	)
	err := s.pool.QueryRow(ctx, `
SELECT recipient, amount, description, tx_hash, outcome, reason, created_at
FROM agent_payments WHERE idempotency_key = $1`, key).
		Scan(&record.Recipient, &record.Amount, &description, &txHash, &record.Outcome, &reason, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return bounty.PaymentRecord{}, ErrPaymentNotFound
	}
	if err != nil {
		return bounty.PaymentRecord{}, err
	}
	record.IdempotencyKey = key
	record.CreatedAt = createdAt
	if description != nil {
		record.Description = *description
	}
	if txHash != nil {
		record.TxHash = *txHash
	}
	if reason != nil {
		record.Reason = *reason
	}
	return record, nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
