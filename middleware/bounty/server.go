// Package bounty exposes the agent pipeline over HTTP. Rejection is a normal
// 200 outcome; 4xx/5xx are reserved for bad requests and infrastructure
// failures before a verdict could be produced.
package bounty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	qrcode "github.com/skip2/go-qrcode"
	"taskagent-backend/chain"
	"taskagent-backend/core/bounty"
	"taskagent-backend/services"
)

// maxUploadBytes bounds artifact uploads.
const maxUploadBytes = 32 << 20

// ArtifactStore is the write side of the content-addressed store.
type ArtifactStore interface {
	AddBytes(ctx context.Context, name string, data []byte) (string, error)
}

// Server wires the pipeline endpoints.
type Server struct {
	svc       *services.ReviewService
	artifacts ArtifactStore
	apiKey    string
}

// NewServer builds a Server. artifacts may be nil to disable uploads; apiKey
// empty disables auth (local development).
func NewServer(svc *services.ReviewService, artifacts ArtifactStore, apiKey string) *Server {
	return &Server{svc: svc, artifacts: artifacts, apiKey: apiKey}
}

// RegisterRoutes attaches handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	mux.HandleFunc("/api/agent/status", s.handleStatus)
	mux.HandleFunc("/api/agent/review", s.authWrap(s.handleReview))
	mux.HandleFunc("/api/agent/payments", s.authWrap(s.handlePayments))
	mux.HandleFunc("/api/agent/payments/qr", s.handlePaymentQR)
	mux.HandleFunc("/api/agent/reviews", s.authWrap(s.handleReviews))
	mux.HandleFunc("/api/agent/reviews/", s.authWrap(s.handleReviews))
	mux.HandleFunc("/api/agent/artifacts", s.authWrap(s.handleArtifacts))
}

func (s *Server) authWrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			key := r.Header.Get("X-API-Key")
			if key == "" || key != s.apiKey {
				Error(w, http.StatusForbidden, "invalid api key")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus triggers lazy agent construction and reports readiness.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.svc.AgentStatus(r.Context())
	if !status.Ready {
		JSON(w, http.StatusInternalServerError, status)
		return
	}
	JSON(w, http.StatusOK, status)
}

// reviewBody is the ReviewSubmission request payload.
type reviewBody struct {
	TaskID          uint64 `json:"taskId"`
	TaskDescription string `json:"taskDescription"`
	Submission      struct {
		Content  string `json:"content,omitempty"`
		FileName string `json:"fileName"`
		FileType string `json:"fileType,omitempty"`
		CID      string `json:"ipfsHash"`
	} `json:"submission"`
	PayoutRecipient string `json:"payToAddress,omitempty"`
	PayoutAmount    string `json:"payoutAmount,omitempty"`
	IdempotencyKey  string `json:"idempotencyKey,omitempty"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body reviewBody
	if err := decodeJSON(r, &body); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.TaskID == 0 {
		Error(w, http.StatusBadRequest, "taskId required")
		return
	}
	if body.Submission.CID == "" && body.Submission.Content == "" {
		Error(w, http.StatusBadRequest, "submission ipfsHash or content required")
		return
	}
	if body.PayoutRecipient != "" && !chain.ValidAddress(body.PayoutRecipient) {
		Error(w, http.StatusBadRequest, "payToAddress is not a valid address")
		return
	}

	resp, err := s.svc.ReviewSubmission(r.Context(), services.ReviewRequest{
		TaskID:          body.TaskID,
		TaskDescription: body.TaskDescription,
		Submission: bounty.Submission{
			TaskID:     body.TaskID,
			CID:        body.Submission.CID,
			FileName:   body.Submission.FileName,
			FileType:   body.Submission.FileType,
			RawContent: body.Submission.Content,
		},
		PayoutRecipient: body.PayoutRecipient,
		PayoutAmount:    body.PayoutAmount,
		IdempotencyKey:  body.IdempotencyKey,
	})
	if err != nil {
		// no verdict was produced; attribute the failing step
		var transport *bounty.TransportError
		if errors.As(err, &transport) {
			Error(w, http.StatusBadGateway, err.Error())
			return
		}
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, resp)
}

// paymentBody is the DispatchPayment request payload.
type paymentBody struct {
	TaskID         uint64 `json:"taskId"`
	Amount         string `json:"amount"`
	Recipient      string `json:"recipient"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type paymentResponse struct {
	Success              bool   `json:"success"`
	TransactionReference string `json:"transactionReference,omitempty"`
	Error                string `json:"error,omitempty"`
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body paymentBody
	if err := decodeJSON(r, &body); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !chain.ValidAddress(body.Recipient) {
		Error(w, http.StatusBadRequest, "recipient is not a valid address")
		return
	}
	if strings.TrimSpace(body.Amount) == "" {
		Error(w, http.StatusBadRequest, "amount required")
		return
	}

	record, err := s.svc.DispatchPayment(r.Context(), body.TaskID, body.Recipient, body.Amount, body.IdempotencyKey)
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, paymentResponse{
		Success:              record.Outcome == bounty.PaymentSuccess,
		TransactionReference: record.TxHash,
		Error:                record.Reason,
	})
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var taskID uint64
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/agent/reviews"), "/")
	if path != "" {
		parsed, err := strconv.ParseUint(path, 10, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid task id")
			return
		}
		taskID = parsed
	}

	records, err := s.svc.Reviews(r.Context(), taskID)
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"reviews":     records,
		"total_count": len(records),
	})
}

// handleArtifacts uploads a submission file to the content-addressed store
// and returns its CID.
func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.artifacts == nil {
		Error(w, http.StatusServiceUnavailable, "artifact uploads not configured")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		Error(w, http.StatusBadRequest, "failed to parse form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	cid, err := s.artifacts.AddBytes(r.Context(), header.Filename, data)
	if err != nil {
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"ipfsHash": cid,
		"fileName": header.Filename,
	})
}

// handlePaymentQR renders an EIP-681 payment request QR code.
func (s *Server) handlePaymentQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if !chain.ValidAddress(address) {
		Error(w, http.StatusBadRequest, "address is not a valid address")
		return
	}

	uri := "ethereum:" + address
	if amount := strings.TrimSpace(r.URL.Query().Get("amount")); amount != "" {
		wei, err := chain.ParseEther(amount)
		if err != nil {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		uri += "?value=" + wei.String()
	}

	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		Error(w, http.StatusInternalServerError, fmt.Sprintf("generate qr: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid json body")
	}
	return nil
}
