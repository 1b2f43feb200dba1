package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"taskagent-backend/core/bounty"
	bstore "taskagent-backend/storage/bounty"
)

type fakeAgent struct {
	reviewOutcome bounty.ReviewOutcome
	reviewErr     error
	reviewCalls   atomic.Int32

	settleTx    string
	settleErr   error
	settleCalls atomic.Int32

	payRecord bounty.PaymentRecord
	payCalls  atomic.Int32

	paymentAvailable bool
}

func (a *fakeAgent) Review(ctx context.Context, taskDescription string, sub bounty.Submission) (bounty.ReviewOutcome, error) {
	a.reviewCalls.Add(1)
	return a.reviewOutcome, a.reviewErr
}

func (a *fakeAgent) Settle(ctx context.Context, taskID uint64, cid string) (string, error) {
	a.settleCalls.Add(1)
	if a.settleErr != nil {
		return "", a.settleErr
	}
	return a.settleTx, nil
}

func (a *fakeAgent) Task(ctx context.Context, taskID uint64) (bounty.Task, error) {
	return bounty.Task{TaskID: taskID, Active: true}, nil
}

func (a *fakeAgent) Pay(ctx context.Context, recipient, amount, description string) bounty.PaymentRecord {
	a.payCalls.Add(1)
	record := a.payRecord
	record.Recipient = recipient
	record.Amount = amount
	return record
}

func (a *fakeAgent) PaymentAvailable() bool { return a.paymentAvailable }

type staticSource struct {
	agent PipelineAgent
	err   error
}

func (s *staticSource) Get(ctx context.Context) (PipelineAgent, error) {
	return s.agent, s.err
}

type staticFetcher struct {
	text  string
	calls atomic.Int32
}

func (f *staticFetcher) Fetch(ctx context.Context, cid, fileName string) string {
	f.calls.Add(1)
	return f.text
}

func acceptedOutcome() bounty.ReviewOutcome {
	return bounty.ReviewOutcome{Verdict: &bounty.Verdict{OverallStatus: bounty.StatusAccepted}}
}

func rejectedOutcome() bounty.ReviewOutcome {
	return bounty.ReviewOutcome{Verdict: &bounty.Verdict{OverallStatus: bounty.StatusRejected}}
}

func newService(agent *fakeAgent, fetcher Fetcher, store bstore.Store) *ReviewService {
	if store == nil {
		store = bstore.NewMemoryStore()
	}
	return NewReviewService(&staticSource{agent: agent}, fetcher, store)
}

// Scenario: a routine accepted submission settles and pays out.
func TestReviewAcceptedSettlesAndPays(t *testing.T) {
	agent := &fakeAgent{
		reviewOutcome:    acceptedOutcome(),
		settleTx:         "0xsettle",
		payRecord:        bounty.PaymentRecord{Outcome: bounty.PaymentSuccess, TxHash: "0xpay"},
		paymentAvailable: true,
	}
	store := bstore.NewMemoryStore()
	svc := newService(agent, &staticFetcher{text: "submission body"}, store)

	resp, err := svc.ReviewSubmission(context.Background(), ReviewRequest{
		TaskID:          5,
		TaskDescription: "build a thing",
		Submission:      bounty.Submission{CID: "QmX", FileName: "work.md"},
		PayoutRecipient: "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf",
		PayoutAmount:    "0.002",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Review.Verdict == nil || !resp.Review.Verdict.Accepted() {
		t.Fatalf("expected accepted verdict, got %+v", resp.Review)
	}
	if resp.SettlementTx != "0xsettle" || resp.SettlementErr != "" {
		t.Fatalf("settlement: %+v", resp)
	}
	if resp.Payment == nil || resp.Payment.Outcome != bounty.PaymentSuccess {
		t.Fatalf("payment: %+v", resp.Payment)
	}
	if resp.Payment.Amount != "0.002" {
		t.Fatalf("payout amount: got %q", resp.Payment.Amount)
	}
	if got := agent.settleCalls.Load(); got != 1 {
		t.Fatalf("settle calls: got %d want 1", got)
	}
	if got := agent.payCalls.Load(); got != 1 {
		t.Fatalf("pay calls: got %d want 1", got)
	}

	records, err := store.ListReviews(context.Background(), 5)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one stored trace, got %d err %v", len(records), err)
	}
}

// Scenario: a rejected verdict stops the pipeline before any chain activity.
func TestReviewRejectedNeverTouchesChain(t *testing.T) {
	agent := &fakeAgent{reviewOutcome: rejectedOutcome(), paymentAvailable: true}
	svc := newService(agent, &staticFetcher{text: "weak submission"}, nil)

	resp, err := svc.ReviewSubmission(context.Background(), ReviewRequest{
		TaskID:          6,
		Submission:      bounty.Submission{CID: "QmY", FileName: "work.txt"},
		PayoutRecipient: "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Review.Verdict.Accepted() {
		t.Fatal("expected rejection")
	}
	if agent.settleCalls.Load() != 0 || agent.payCalls.Load() != 0 {
		t.Fatal("rejected submission must not settle or pay")
	}
}

// Scenario: the model answers but not in a decodable shape. Terminal, no
// settlement, no payment, raw response preserved.
func TestReviewMalformedVerdictIsTerminal(t *testing.T) {
	agent := &fakeAgent{
		reviewOutcome: bounty.ReviewOutcome{
			Error:       "Failed to parse review response",
			RawResponse: "certainly! here is my review...",
		},
		paymentAvailable: true,
	}
	svc := newService(agent, &staticFetcher{text: "body"}, nil)

	resp, err := svc.ReviewSubmission(context.Background(), ReviewRequest{
		TaskID:          7,
		Submission:      bounty.Submission{CID: "QmZ"},
		PayoutRecipient: "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf",
	})
	if err != nil {
		t.Fatalf("parse failure must not be an error: %v", err)
	}
	if resp.Review.Verdict != nil {
		t.Fatal("no verdict expected")
	}
	if resp.Review.RawResponse == "" {
		t.Fatal("raw response must be preserved")
	}
	if agent.settleCalls.Load() != 0 || agent.payCalls.Load() != 0 {
		t.Fatal("malformed verdict must not settle or pay")
	}
}

func TestReviewTransportErrorSurfaces(t *testing.T) {
	agent := &fakeAgent{reviewErr: bounty.Transport(bounty.StepReview, errors.New("timeout"))}
	svc := newService(agent, &staticFetcher{text: "body"}, nil)

	_, err := svc.ReviewSubmission(context.Background(), ReviewRequest{TaskID: 8})
	var transport *bounty.TransportError
	if !errors.As(err, &transport) || transport.Step != bounty.StepReview {
		t.Fatalf("expected review transport error, got %v", err)
	}
	if agent.settleCalls.Load() != 0 {
		t.Fatal("no settlement on review transport failure")
	}
}

func TestFetchFailureAbortsPipeline(t *testing.T) {
	agent := &fakeAgent{reviewOutcome: acceptedOutcome()}
	fetcher := &staticFetcher{text: "[Error fetching file: gateway down]"}
	svc := newService(agent, fetcher, nil)

	_, err := svc.ReviewSubmission(context.Background(), ReviewRequest{
		TaskID:     9,
		Submission: bounty.Submission{CID: "QmGone", FileName: "a.txt"},
	})
	var transport *bounty.TransportError
	if !errors.As(err, &transport) || transport.Step != bounty.StepFetch {
		t.Fatalf("expected fetch transport error, got %v", err)
	}
	if agent.reviewCalls.Load() != 0 {
		t.Fatal("dead storage must abort before review")
	}
}

func TestDegradedExtractionStillReviews(t *testing.T) {
	agent := &fakeAgent{reviewOutcome: rejectedOutcome()}
	fetcher := &staticFetcher{text: "[Error parsing PDF: malformed xref]"}
	svc := newService(agent, fetcher, nil)

	resp, err := svc.ReviewSubmission(context.Background(), ReviewRequest{
		TaskID:     10,
		Submission: bounty.Submission{CID: "QmPdf", FileName: "a.pdf"},
	})
	if err != nil {
		t.Fatalf("degraded extraction must still review: %v", err)
	}
	if agent.reviewCalls.Load() != 1 {
		t.Fatal("review should have run on the sentinel content")
	}
	if resp.Review.Verdict == nil {
		t.Fatal("expected a verdict")
	}
}

func TestInlineContentSkipsFetch(t *testing.T) {
	agent := &fakeAgent{reviewOutcome: rejectedOutcome()}
	fetcher := &staticFetcher{text: "should not be used"}
	svc := newService(agent, fetcher, nil)

	_, err := svc.ReviewSubmission(context.Background(), ReviewRequest{
		TaskID:     11,
		Submission: bounty.Submission{RawContent: "inline body"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls.Load() != 0 {
		t.Fatal("inline content must not trigger a fetch")
	}
}

// Settlement failure is reported in the response but the verdict and the
// payment stand on their own.
func TestSettlementFailureDoesNotBlockPayment(t *testing.T) {
	agent := &fakeAgent{
		reviewOutcome:    acceptedOutcome(),
		settleErr:        bounty.ErrTaskStateConflict,
		payRecord:        bounty.PaymentRecord{Outcome: bounty.PaymentSuccess, TxHash: "0xpay"},
		paymentAvailable: true,
	}
	svc := newService(agent, &staticFetcher{text: "body"}, nil)

	resp, err := svc.ReviewSubmission(context.Background(), ReviewRequest{
		TaskID:          12,
		Submission:      bounty.Submission{CID: "QmW"},
		PayoutRecipient: "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf",
	})
	if err != nil {
		t.Fatalf("settlement failure must not fail the call: %v", err)
	}
	if resp.SettlementErr == "" {
		t.Fatal("settlement error must be reported")
	}
	if resp.Payment == nil || resp.Payment.Outcome != bounty.PaymentSuccess {
		t.Fatalf("payment should succeed independently, got %+v", resp.Payment)
	}
	if !resp.Review.Verdict.Accepted() {
		t.Fatal("verdict must stand despite the settlement failure")
	}
}

func TestPaymentFailureDoesNotBlockSettlement(t *testing.T) {
	agent := &fakeAgent{
		reviewOutcome:    acceptedOutcome(),
		settleTx:         "0xsettle",
		payRecord:        bounty.PaymentRecord{Outcome: bounty.PaymentFailure, Reason: "insufficient funds"},
		paymentAvailable: true,
	}
	svc := newService(agent, &staticFetcher{text: "body"}, nil)

	resp, err := svc.ReviewSubmission(context.Background(), ReviewRequest{
		TaskID:          13,
		Submission:      bounty.Submission{CID: "QmV"},
		PayoutRecipient: "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SettlementTx != "0xsettle" {
		t.Fatal("settlement should succeed independently")
	}
	if resp.Payment == nil || resp.Payment.Outcome != bounty.PaymentFailure {
		t.Fatalf("expected failed payment record, got %+v", resp.Payment)
	}
}

func TestNoPayoutWithoutRecipient(t *testing.T) {
	agent := &fakeAgent{
		reviewOutcome:    acceptedOutcome(),
		settleTx:         "0xsettle",
		paymentAvailable: true,
	}
	svc := newService(agent, &staticFetcher{text: "body"}, nil)

	resp, err := svc.ReviewSubmission(context.Background(), ReviewRequest{
		TaskID:     14,
		Submission: bounty.Submission{CID: "QmU"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Payment != nil {
		t.Fatal("no recipient means no payment attempt")
	}
	if agent.payCalls.Load() != 0 {
		t.Fatal("pay must not be called without a recipient")
	}
}

func TestPaymentUnavailableProducesFailureRecord(t *testing.T) {
	agent := &fakeAgent{
		reviewOutcome:    acceptedOutcome(),
		settleTx:         "0xsettle",
		paymentAvailable: false,
	}
	svc := newService(agent, &staticFetcher{text: "body"}, nil)

	resp, err := svc.ReviewSubmission(context.Background(), ReviewRequest{
		TaskID:          15,
		Submission:      bounty.Submission{CID: "QmT"},
		PayoutRecipient: "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Payment == nil || resp.Payment.Outcome != bounty.PaymentFailure {
		t.Fatalf("expected failure record, got %+v", resp.Payment)
	}
	if !strings.Contains(resp.Payment.Reason, "payment unavailable") {
		t.Fatalf("reason should name the missing signer, got %q", resp.Payment.Reason)
	}
	if agent.payCalls.Load() != 0 {
		t.Fatal("no signer means no transfer attempt")
	}
	if resp.SettlementTx != "0xsettle" {
		t.Fatal("settlement is independent of payment availability")
	}
}

func TestPayoutIdempotency(t *testing.T) {
	agent := &fakeAgent{
		reviewOutcome:    acceptedOutcome(),
		settleTx:         "0xsettle",
		payRecord:        bounty.PaymentRecord{Outcome: bounty.PaymentSuccess, TxHash: "0xfirst"},
		paymentAvailable: true,
	}
	store := bstore.NewMemoryStore()
	svc := newService(agent, &staticFetcher{text: "body"}, store)

	req := ReviewRequest{
		TaskID:          16,
		Submission:      bounty.Submission{CID: "QmS"},
		PayoutRecipient: "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
	}
	first, err := svc.ReviewSubmission(context.Background(), req)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Payment == nil || first.Payment.TxHash != "0xfirst" {
		t.Fatalf("first payment: %+v", first.Payment)
	}

	// same task and recipient again, including a different address casing
	req.PayoutRecipient = strings.ToLower(req.PayoutRecipient)
	second, err := svc.ReviewSubmission(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Payment == nil || second.Payment.TxHash != "0xfirst" {
		t.Fatalf("second run must reuse the prior payment, got %+v", second.Payment)
	}
	if got := agent.payCalls.Load(); got != 1 {
		t.Fatalf("expected one transfer total, got %d", got)
	}
}

func TestFailedPayoutIsRetriedNextEvent(t *testing.T) {
	agent := &fakeAgent{
		reviewOutcome:    acceptedOutcome(),
		settleTx:         "0xsettle",
		payRecord:        bounty.PaymentRecord{Outcome: bounty.PaymentFailure, Reason: "nonce too low"},
		paymentAvailable: true,
	}
	store := bstore.NewMemoryStore()
	svc := newService(agent, &staticFetcher{text: "body"}, store)

	req := ReviewRequest{
		TaskID:          17,
		Submission:      bounty.Submission{CID: "QmR"},
		PayoutRecipient: "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf",
	}
	if _, err := svc.ReviewSubmission(context.Background(), req); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// only a prior success suppresses a new attempt
	agent.payRecord = bounty.PaymentRecord{Outcome: bounty.PaymentSuccess, TxHash: "0xsecond"}
	resp, err := svc.ReviewSubmission(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if resp.Payment == nil || resp.Payment.TxHash != "0xsecond" {
		t.Fatalf("failed attempt must not suppress a retry, got %+v", resp.Payment)
	}
	if got := agent.payCalls.Load(); got != 2 {
		t.Fatalf("expected two transfer attempts, got %d", got)
	}
}

func TestDefaultPayoutAmount(t *testing.T) {
	agent := &fakeAgent{
		reviewOutcome:    acceptedOutcome(),
		settleTx:         "0xsettle",
		payRecord:        bounty.PaymentRecord{Outcome: bounty.PaymentSuccess},
		paymentAvailable: true,
	}
	svc := newService(agent, &staticFetcher{text: "body"}, nil)

	resp, err := svc.ReviewSubmission(context.Background(), ReviewRequest{
		TaskID:          18,
		Submission:      bounty.Submission{CID: "QmQ"},
		PayoutRecipient: "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Payment.Amount != DefaultPayoutAmount {
		t.Fatalf("amount: got %q want %q", resp.Payment.Amount, DefaultPayoutAmount)
	}
}

func TestDispatchPaymentIdempotencyKey(t *testing.T) {
	agent := &fakeAgent{
		payRecord:        bounty.PaymentRecord{Outcome: bounty.PaymentSuccess, TxHash: "0xmanual"},
		paymentAvailable: true,
	}
	store := bstore.NewMemoryStore()
	svc := newService(agent, &staticFetcher{}, store)

	first, err := svc.DispatchPayment(context.Background(), 20, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", "0.01", "manual-1")
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if first.Outcome != bounty.PaymentSuccess || first.IdempotencyKey != "manual-1" {
		t.Fatalf("first record: %+v", first)
	}

	second, err := svc.DispatchPayment(context.Background(), 20, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", "0.01", "manual-1")
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if second.TxHash != "0xmanual" {
		t.Fatalf("expected prior record, got %+v", second)
	}
	if got := agent.payCalls.Load(); got != 1 {
		t.Fatalf("expected one transfer, got %d", got)
	}
}

func TestAgentStatus(t *testing.T) {
	svc := NewReviewService(&staticSource{err: errors.New("rpc down")}, &staticFetcher{}, bstore.NewMemoryStore())
	status := svc.AgentStatus(context.Background())
	if status.Ready || status.Error == "" {
		t.Fatalf("expected not-ready status, got %+v", status)
	}

	ready := newService(&fakeAgent{paymentAvailable: true}, &staticFetcher{}, nil)
	status = ready.AgentStatus(context.Background())
	if !status.Ready || !status.PaymentAvailable {
		t.Fatalf("expected ready paying status, got %+v", status)
	}
}

func TestTaskLookup(t *testing.T) {
	svc := newService(&fakeAgent{}, &staticFetcher{}, nil)
	task, err := svc.Task(context.Background(), 42)
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	if task.TaskID != 42 || !task.Active {
		t.Fatalf("unexpected task: %+v", task)
	}

	down := NewReviewService(&staticSource{err: errors.New("rpc down")}, &staticFetcher{}, bstore.NewMemoryStore())
	if _, err := down.Task(context.Background(), 42); err == nil {
		t.Fatal("expected error when agent is unavailable")
	}
}

func TestRetryPolicyWrapsSteps(t *testing.T) {
	attempts := 0
	agent := &fakeAgent{reviewErr: errors.New("flaky")}
	svc := newService(agent, &staticFetcher{text: "body"}, nil).
		WithRetryPolicy(func(ctx context.Context, step string, fn func(context.Context) error) error {
			var err error
			for i := 0; i < 3; i++ {
				attempts++
				if err = fn(ctx); err == nil {
					return nil
				}
			}
			return err
		})

	_, err := svc.ReviewSubmission(context.Background(), ReviewRequest{TaskID: 21, Submission: bounty.Submission{RawContent: "x"}})
	if err == nil {
		t.Fatal("expected failure after retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if agent.reviewCalls.Load() != 3 {
		t.Fatalf("review called %d times", agent.reviewCalls.Load())
	}
}
