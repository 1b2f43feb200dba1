// Package services sequences the submission pipeline: fetch the artifact,
// review it, and on acceptance settle on the ledger and dispatch the optional
// payout. The orchestrator is the only place aware of the full sequence; the
// steps behind its interfaces know nothing about each other.
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"taskagent-backend/core/bounty"
	bstore "taskagent-backend/storage/bounty"
)

// Fetcher retrieves and normalizes submitted artifacts. It reports failure
// through sentinel strings, not errors.
type Fetcher interface {
	Fetch(ctx context.Context, cid, fileName string) string
}

// PipelineAgent is the long-lived reviewing/paying client surface.
type PipelineAgent interface {
	Review(ctx context.Context, taskDescription string, sub bounty.Submission) (bounty.ReviewOutcome, error)
	Settle(ctx context.Context, taskID uint64, cid string) (string, error)
	Task(ctx context.Context, taskID uint64) (bounty.Task, error)
	Pay(ctx context.Context, recipient, amount, description string) bounty.PaymentRecord
	PaymentAvailable() bool
}

// AgentSource hands out the shared agent, constructing it lazily.
type AgentSource interface {
	Get(ctx context.Context) (PipelineAgent, error)
}

// RetryPolicy wraps one pipeline step invocation. The default runs the step
// exactly once; callers who want retries plug their own policy in here
// instead of the pipeline hard-coding one.
type RetryPolicy func(ctx context.Context, step string, fn func(context.Context) error) error

func runOnce(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

// DefaultPayoutAmount is dispatched when a payout recipient is supplied
// without an explicit amount.
const DefaultPayoutAmount = "0.001"

// ReviewRequest is one submission event.
type ReviewRequest struct {
	TaskID          uint64
	TaskDescription string
	Submission      bounty.Submission
	PayoutRecipient string
	PayoutAmount    string
	// IdempotencyKey dedupes the payout. Empty means key on (task, recipient).
	IdempotencyKey string
}

// ReviewResponse is what the caller gets back. Review is always populated
// once a verdict (or explicit parse failure) was produced, regardless of how
// the later steps went.
type ReviewResponse struct {
	RecordID      string                `json:"record_id"`
	Review        bounty.ReviewOutcome  `json:"review"`
	SettlementTx  string                `json:"settlement_tx,omitempty"`
	SettlementErr string                `json:"settlement_error,omitempty"`
	Payment       *bounty.PaymentRecord `json:"payment,omitempty"`
}

// ReviewService is the pipeline orchestrator. Stateless between calls apart
// from the shared agent and the trace store.
type ReviewService struct {
	agents       AgentSource
	fetcher      Fetcher
	store        bstore.Store
	retry        RetryPolicy
	payoutAmount string
}

func NewReviewService(agents AgentSource, fetcher Fetcher, store bstore.Store) *ReviewService {
	return &ReviewService{
		agents:       agents,
		fetcher:      fetcher,
		store:        store,
		retry:        runOnce,
		payoutAmount: DefaultPayoutAmount,
	}
}

// WithPayoutAmount overrides the default payout used when a request does
// not name one.
func (s *ReviewService) WithPayoutAmount(amount string) *ReviewService {
	if amount != "" {
		s.payoutAmount = amount
	}
	return s
}

// WithRetryPolicy replaces the per-step execution policy.
func (s *ReviewService) WithRetryPolicy(policy RetryPolicy) *ReviewService {
	if policy != nil {
		s.retry = policy
	}
	return s
}

// ReviewSubmission runs one pipeline execution. Errors are returned only for
// infrastructure failures before a verdict could be produced; everything
// after the verdict is reported inside the response.
func (s *ReviewService) ReviewSubmission(ctx context.Context, req ReviewRequest) (*ReviewResponse, error) {
	pipelineAgent, err := s.agents.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent unavailable: %w", err)
	}

	sub := req.Submission
	sub.TaskID = req.TaskID
	if sub.RawContent == "" {
		sub.RawContent = s.fetchContent(ctx, sub)
		if isFetchAbort(sub.RawContent) {
			metricFetchFailures.Inc()
			return nil, bounty.Transport(bounty.StepFetch, errors.New(sub.RawContent))
		}
	}

	var outcome bounty.ReviewOutcome
	err = s.retry(ctx, bounty.StepReview, func(ctx context.Context) error {
		var reviewErr error
		outcome, reviewErr = pipelineAgent.Review(ctx, req.TaskDescription, sub)
		return reviewErr
	})
	if err != nil {
		metricReviews.WithLabelValues("transport_error").Inc()
		return nil, err
	}

	resp := &ReviewResponse{
		RecordID: uuid.NewString(),
		Review:   outcome,
	}

	switch {
	case outcome.Verdict == nil:
		// explicit parse failure: terminal, nothing downstream runs
		metricReviews.WithLabelValues("malformed").Inc()
	case !outcome.Verdict.Accepted():
		metricReviews.WithLabelValues(bounty.StatusRejected).Inc()
	default:
		metricReviews.WithLabelValues(bounty.StatusAccepted).Inc()
		s.settleAndPay(ctx, pipelineAgent, req, resp)
	}

	s.saveTrace(ctx, req, resp)
	return resp, nil
}

// settleAndPay runs the ledger write and the optional payout. The two are
// independent once the verdict is known and run concurrently; neither
// outcome alters the other's preconditions.
func (s *ReviewService) settleAndPay(ctx context.Context, pipelineAgent PipelineAgent, req ReviewRequest, resp *ReviewResponse) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		// exactly one settlement attempt per submission event
		err := s.retry(ctx, bounty.StepSettle, func(ctx context.Context) error {
			tx, settleErr := pipelineAgent.Settle(ctx, req.TaskID, req.Submission.CID)
			resp.SettlementTx = tx
			return settleErr
		})
		if err != nil {
			metricSettlements.WithLabelValues("failure").Inc()
			log.Printf("settlement failed for task %d: %v", req.TaskID, err)
			resp.SettlementErr = err.Error()
			return
		}
		metricSettlements.WithLabelValues("success").Inc()
	}()

	if recipient := strings.TrimSpace(req.PayoutRecipient); recipient != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record := s.dispatchOnce(ctx, pipelineAgent, paymentArgs{
				taskID:      req.TaskID,
				recipient:   recipient,
				amount:      req.PayoutAmount,
				description: fmt.Sprintf("Bounty payout for task %d", req.TaskID),
				key:         req.IdempotencyKey,
			})
			resp.Payment = &record
		}()
	}

	wg.Wait()
}

type paymentArgs struct {
	taskID      uint64
	recipient   string
	amount      string
	description string
	key         string
}

// dispatchOnce performs one best-effort payout. A failure never escalates
// past the returned record; a prior successful attempt under the same
// idempotency key is returned instead of paying twice.
func (s *ReviewService) dispatchOnce(ctx context.Context, pipelineAgent PipelineAgent, args paymentArgs) bounty.PaymentRecord {
	amount := strings.TrimSpace(args.amount)
	if amount == "" {
		amount = s.payoutAmount
	}
	key := strings.TrimSpace(args.key)
	if key == "" {
		key = fmt.Sprintf("%d:%s", args.taskID, strings.ToLower(args.recipient))
	}

	if prior, err := s.store.GetPayment(ctx, key); err == nil && prior.Outcome == bounty.PaymentSuccess {
		log.Printf("payment for key %s already dispatched (tx %s), not paying again", key, prior.TxHash)
		return prior
	}

	var record bounty.PaymentRecord
	if !pipelineAgent.PaymentAvailable() {
		record = bounty.PaymentRecord{
			Recipient: args.recipient,
			Amount:    amount,
			Outcome:   bounty.PaymentFailure,
			Reason:    bounty.ErrPaymentUnavailable.Error(),
			CreatedAt: time.Now().UTC(),
		}
	} else {
		record = pipelineAgent.Pay(ctx, args.recipient, amount, args.description)
	}
	record.IdempotencyKey = key
	metricPayments.WithLabelValues(record.Outcome).Inc()

	if err := s.store.SavePayment(ctx, key, record); err != nil {
		log.Printf("failed to persist payment attempt %s: %v", key, err)
	}
	return record
}

// DispatchPayment is the direct path for manual or administrative payouts,
// independent of any review.
func (s *ReviewService) DispatchPayment(ctx context.Context, taskID uint64, recipient, amount, idempotencyKey string) (bounty.PaymentRecord, error) {
	pipelineAgent, err := s.agents.Get(ctx)
	if err != nil {
		return bounty.PaymentRecord{}, fmt.Errorf("agent unavailable: %w", err)
	}
	return s.dispatchOnce(ctx, pipelineAgent, paymentArgs{
		taskID:      taskID,
		recipient:   strings.TrimSpace(recipient),
		amount:      amount,
		description: fmt.Sprintf("Manual payout for task %d", taskID),
		key:         idempotencyKey,
	}), nil
}

// Task reads one task record from the ledger.
func (s *ReviewService) Task(ctx context.Context, taskID uint64) (bounty.Task, error) {
	pipelineAgent, err := s.agents.Get(ctx)
	if err != nil {
		return bounty.Task{}, fmt.Errorf("agent unavailable: %w", err)
	}
	return pipelineAgent.Task(ctx, taskID)
}

// AgentStatus reports whether the shared agent is ready and can pay.
// Calling it triggers lazy construction.
type AgentStatus struct {
	Ready            bool   `json:"ready"`
	PaymentAvailable bool   `json:"payment_available"`
	Error            string `json:"error,omitempty"`
}

func (s *ReviewService) AgentStatus(ctx context.Context) AgentStatus {
	pipelineAgent, err := s.agents.Get(ctx)
	if err != nil {
		return AgentStatus{Error: err.Error()}
	}
	return AgentStatus{Ready: true, PaymentAvailable: pipelineAgent.PaymentAvailable()}
}

// Reviews exposes stored pipeline traces, newest first.
func (s *ReviewService) Reviews(ctx context.Context, taskID uint64) ([]bounty.ReviewRecord, error) {
	return s.store.ListReviews(ctx, taskID)
}

// fetchContent pulls the artifact text when the caller supplied none.
func (s *ReviewService) fetchContent(ctx context.Context, sub bounty.Submission) string {
	text := s.fetcher.Fetch(ctx, sub.CID, sub.FileName)
	if strings.HasPrefix(text, "[Error") {
		log.Printf("content fetch degraded for cid %s: %s", sub.CID, text)
	}
	return text
}

// isFetchAbort distinguishes a dead storage layer from a degraded extraction.
// Total fetch failures abort the pipeline; an unreadable-but-present artifact
// still goes to review carrying its sentinel.
func isFetchAbort(text string) bool {
	return strings.HasPrefix(text, "[Error fetching file") ||
		strings.HasPrefix(text, "[Error: No response")
}

func (s *ReviewService) saveTrace(ctx context.Context, req ReviewRequest, resp *ReviewResponse) {
	record := bounty.ReviewRecord{
		RecordID:      resp.RecordID,
		TaskID:        req.TaskID,
		CID:           req.Submission.CID,
		FileName:      req.Submission.FileName,
		Review:        resp.Review,
		SettlementTx:  resp.SettlementTx,
		SettlementErr: resp.SettlementErr,
		Payment:       resp.Payment,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.SaveReview(ctx, record); err != nil {
		// the trace is best-effort; the ledger holds the durable state
		log.Printf("failed to persist review record %s: %v", record.RecordID, err)
	}
}
