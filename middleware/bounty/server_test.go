package bounty

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taskagent-backend/core/bounty"
	"taskagent-backend/services"
	bstore "taskagent-backend/storage/bounty"
)

type stubAgent struct {
	outcome          bounty.ReviewOutcome
	reviewErr        error
	settleTx         string
	payRecord        bounty.PaymentRecord
	paymentAvailable bool
}

func (a *stubAgent) Review(ctx context.Context, taskDescription string, sub bounty.Submission) (bounty.ReviewOutcome, error) {
	return a.outcome, a.reviewErr
}

func (a *stubAgent) Settle(ctx context.Context, taskID uint64, cid string) (string, error) {
	return a.settleTx, nil
}

func (a *stubAgent) Task(ctx context.Context, taskID uint64) (bounty.Task, error) {
	return bounty.Task{TaskID: taskID, Active: true}, nil
}

func (a *stubAgent) Pay(ctx context.Context, recipient, amount, description string) bounty.PaymentRecord {
	record := a.payRecord
	record.Recipient = recipient
	record.Amount = amount
	return record
}

func (a *stubAgent) PaymentAvailable() bool { return a.paymentAvailable }

type stubSource struct{ agent services.PipelineAgent }

func (s *stubSource) Get(ctx context.Context) (services.PipelineAgent, error) {
	return s.agent, nil
}

type stubFetcher struct{ text string }

func (f *stubFetcher) Fetch(ctx context.Context, cid, fileName string) string { return f.text }

type stubArtifacts struct {
	cid string
	err error
}

func (a *stubArtifacts) AddBytes(ctx context.Context, name string, data []byte) (string, error) {
	return a.cid, a.err
}

func newTestServer(agent *stubAgent, fetched, apiKey string) *Server {
	svc := services.NewReviewService(
		&stubSource{agent: agent},
		&stubFetcher{text: fetched},
		bstore.NewMemoryStore(),
	)
	return NewServer(svc, &stubArtifacts{cid: "QmUploaded"}, apiKey)
}

func acceptedAgent() *stubAgent {
	return &stubAgent{
		outcome:          bounty.ReviewOutcome{Verdict: &bounty.Verdict{OverallStatus: bounty.StatusAccepted}},
		settleTx:         "0xsettle",
		payRecord:        bounty.PaymentRecord{Outcome: bounty.PaymentSuccess, TxHash: "0xpay"},
		paymentAvailable: true,
	}
}

func TestHealthz(t *testing.T) {
	server := newTestServer(acceptedAgent(), "body", "")
	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthWrap(t *testing.T) {
	server := newTestServer(acceptedAgent(), "body", "secret")
	handler := server.authWrap(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/agent/reviews", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing key: expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/agent/reviews", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong key: expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/agent/reviews", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid key: expected 200, got %d", rec.Code)
	}
}

func postReview(t *testing.T, server *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/agent/review", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.handleReview(rec, req)
	return rec
}

func TestHandleReviewSuccess(t *testing.T) {
	server := newTestServer(acceptedAgent(), "submission body", "")

	rec := postReview(t, server, `{
		"taskId": 5,
		"taskDescription": "build a parser",
		"submission": {"ipfsHash": "QmX", "fileName": "work.md"},
		"payToAddress": "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Review struct {
			Verdict *bounty.Verdict `json:"verdict"`
		} `json:"review"`
		SettlementTx string                `json:"settlement_tx"`
		Payment      *bounty.PaymentRecord `json:"payment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Review.Verdict == nil || !resp.Review.Verdict.Accepted() {
		t.Fatalf("verdict: %+v", resp.Review.Verdict)
	}
	if resp.SettlementTx != "0xsettle" {
		t.Fatalf("settlement tx: %q", resp.SettlementTx)
	}
	if resp.Payment == nil || resp.Payment.TxHash != "0xpay" {
		t.Fatalf("payment: %+v", resp.Payment)
	}
}

func TestHandleReviewValidation(t *testing.T) {
	server := newTestServer(acceptedAgent(), "body", "")
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing task id", `{"submission": {"ipfsHash": "QmX"}}`},
		{"missing content", `{"taskId": 1, "submission": {"fileName": "a.md"}}`},
		{"bad payout address", `{"taskId": 1, "submission": {"ipfsHash": "QmX"}, "payToAddress": "nope"}`},
	}
	for _, tc := range cases {
		if rec := postReview(t, server, tc.body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}
}

func TestHandleReviewFetchFailureIsBadGateway(t *testing.T) {
	server := newTestServer(acceptedAgent(), "[Error fetching file: gateway down]", "")

	rec := postReview(t, server, `{"taskId": 2, "submission": {"ipfsHash": "QmGone", "fileName": "a.txt"}}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleReviewMethodNotAllowed(t *testing.T) {
	server := newTestServer(acceptedAgent(), "body", "")
	rec := httptest.NewRecorder()
	server.handleReview(rec, httptest.NewRequest(http.MethodGet, "/api/agent/review", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func postPayment(t *testing.T, server *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/agent/payments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.handlePayments(rec, req)
	return rec
}

func TestHandlePayments(t *testing.T) {
	server := newTestServer(acceptedAgent(), "", "")

	rec := postPayment(t, server, `{"taskId": 3, "recipient": "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", "amount": "0.01"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp paymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.TransactionReference != "0xpay" {
		t.Fatalf("response: %+v", resp)
	}

	if rec := postPayment(t, server, `{"taskId": 3, "recipient": "bogus", "amount": "0.01"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid recipient: expected 400, got %d", rec.Code)
	}
	if rec := postPayment(t, server, `{"taskId": 3, "recipient": "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing amount: expected 400, got %d", rec.Code)
	}
}

func TestHandlePaymentsFailureRecord(t *testing.T) {
	agent := acceptedAgent()
	agent.payRecord = bounty.PaymentRecord{Outcome: bounty.PaymentFailure, Reason: "insufficient funds"}
	server := newTestServer(agent, "", "")

	rec := postPayment(t, server, `{"taskId": 3, "recipient": "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", "amount": "0.01"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("failure record still returns 200, got %d", rec.Code)
	}
	var resp paymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.Error != "insufficient funds" {
		t.Fatalf("response: %+v", resp)
	}
}

func TestHandleReviewsPathFilter(t *testing.T) {
	server := newTestServer(acceptedAgent(), "submission body", "")

	// seed two reviews through the pipeline
	for _, body := range []string{
		`{"taskId": 5, "submission": {"ipfsHash": "QmA", "fileName": "a.md"}}`,
		`{"taskId": 6, "submission": {"ipfsHash": "QmB", "fileName": "b.md"}}`,
	} {
		if rec := postReview(t, server, body); rec.Code != http.StatusOK {
			t.Fatalf("seed review failed: %d", rec.Code)
		}
	}

	get := func(path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
		rec := httptest.NewRecorder()
		server.handleReviews(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var body map[string]json.RawMessage
		json.Unmarshal(rec.Body.Bytes(), &body)
		return rec, body
	}

	rec, body := get("/api/agent/reviews")
	if rec.Code != http.StatusOK {
		t.Fatalf("list all: got %d", rec.Code)
	}
	var total int
	json.Unmarshal(body["total_count"], &total)
	if total != 2 {
		t.Fatalf("expected 2 records, got %d", total)
	}

	rec, body = get("/api/agent/reviews/5")
	if rec.Code != http.StatusOK {
		t.Fatalf("filtered list: got %d", rec.Code)
	}
	json.Unmarshal(body["total_count"], &total)
	if total != 1 {
		t.Fatalf("expected 1 record for task 5, got %d", total)
	}

	rec, _ = get("/api/agent/reviews/notanumber")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad task id: expected 400, got %d", rec.Code)
	}
}

func TestHandleArtifacts(t *testing.T) {
	server := newTestServer(acceptedAgent(), "", "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "solution.pdf")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write([]byte("pdf bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/agent/artifacts", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	server.handleArtifacts(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["ipfsHash"] != "QmUploaded" || resp["fileName"] != "solution.pdf" {
		t.Fatalf("response: %v", resp)
	}

	// missing file field
	var empty bytes.Buffer
	mw2 := multipart.NewWriter(&empty)
	mw2.WriteField("other", "x")
	mw2.Close()
	req = httptest.NewRequest(http.MethodPost, "/api/agent/artifacts", &empty)
	req.Header.Set("Content-Type", mw2.FormDataContentType())
	rec = httptest.NewRecorder()
	server.handleArtifacts(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing field: expected 400, got %d", rec.Code)
	}
}

func TestHandlePaymentQR(t *testing.T) {
	server := newTestServer(acceptedAgent(), "", "")

	rec := httptest.NewRecorder()
	server.handlePaymentQR(rec, httptest.NewRequest(http.MethodGet,
		"/api/agent/payments/qr?address=0x7e5f4552091a69125d5dfcb7b8c2659029395bdf&amount=0.001", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type: %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty png body")
	}

	rec = httptest.NewRecorder()
	server.handlePaymentQR(rec, httptest.NewRequest(http.MethodGet, "/api/agent/payments/qr?address=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad address: expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.handlePaymentQR(rec, httptest.NewRequest(http.MethodGet,
		"/api/agent/payments/qr?address=0x7e5f4552091a69125d5dfcb7b8c2659029395bdf&amount=notanumber", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad amount: expected 400, got %d", rec.Code)
	}
}
