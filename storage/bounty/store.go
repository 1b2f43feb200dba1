// Package bounty persists pipeline traces: one review record per execution
// and one payment attempt per idempotency key. Task state itself lives in
// the ledger, which stays the source of truth.
package bounty

import (
	"context"
	"errors"

	"taskagent-backend/core/bounty"
)

var (
	ErrRecordNotFound  = errors.New("review record not found")
	ErrPaymentNotFound = errors.New("payment attempt not found")
)

// Store abstracts review/payment trace persistence.
type Store interface {
	SaveReview(ctx context.Context, record bounty.ReviewRecord) error
	GetReview(ctx context.Context, recordID string) (bounty.ReviewRecord, error)
	// ListReviews returns records newest first; taskID 0 means all tasks.
	ListReviews(ctx context.Context, taskID uint64) ([]bounty.ReviewRecord, error)

	// SavePayment records a dispatch attempt under its idempotency key.
	SavePayment(ctx context.Context, key string, record bounty.PaymentRecord) error
	// GetPayment returns the prior successful attempt for a key, if any.
	GetPayment(ctx context.Context, key string) (bounty.PaymentRecord, error)

	Close()
}
