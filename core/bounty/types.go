package bounty

import (
	"math/big"
	"strings"
	"time"
)

// Task mirrors the on-chain task record. The ledger contract is the source of
// truth; this struct only exists between a read and the next write.
type Task struct {
	TaskID            uint64   `json:"task_id"`
	Creator           string   `json:"creator"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Bounty            *big.Int `json:"bounty"`
	Worker            string   `json:"worker,omitempty"`
	Completed         bool     `json:"completed"`
	Active            bool     `json:"active"`
	RequiredFileTypes []string `json:"required_file_types,omitempty"`
	SubmittedCID      string   `json:"submitted_cid,omitempty"`
}

// Submission is the transient input for one review attempt. The CID is the
// durable record; everything else is carried only through the pipeline.
type Submission struct {
	TaskID      uint64 `json:"task_id"`
	Description string `json:"description,omitempty"`
	CID         string `json:"cid"`
	FileName    string `json:"file_name"`
	FileType    string `json:"file_type,omitempty"`
	RawContent  string `json:"content,omitempty"`
}

// DimensionScore is one scored review dimension.
type DimensionScore struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Verdict statuses returned by the reviewer.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Verdict is the structured outcome of an automated review.
type Verdict struct {
	CodeQuality       DimensionScore `json:"codeQuality"`
	Functionality     DimensionScore `json:"functionality"`
	BestPractices     DimensionScore `json:"bestPractices"`
	Security          DimensionScore `json:"security"`
	Performance       DimensionScore `json:"performance"`
	OverallAssessment DimensionScore `json:"overallAssessment"`
	OverallStatus     string         `json:"overallStatus"`
}

// Accepted reports whether the verdict status is the accepted literal.
// Comparison is case-insensitive and whitespace-trimmed; any other literal
// counts as rejected.
func (v Verdict) Accepted() bool {
	return strings.EqualFold(strings.TrimSpace(v.OverallStatus), StatusAccepted)
}

// ReviewOutcome is the tagged review result returned to callers: either a
// parsed verdict or an explicit parse failure carrying the raw model text.
// A malformed response is never coerced into accepted or rejected.
type ReviewOutcome struct {
	Verdict     *Verdict `json:"verdict,omitempty"`
	Error       string   `json:"error,omitempty"`
	RawResponse string   `json:"raw_response,omitempty"`
}

// Payment outcomes.
const (
	PaymentSuccess = "success"
	PaymentFailure = "failure"
)

// PaymentRecord captures a single dispatch attempt. One record per attempt;
// deduplication happens above the dispatcher via the idempotency key.
type PaymentRecord struct {
	Recipient      string    `json:"recipient"`
	Amount         string    `json:"amount"`
	Description    string    `json:"description,omitempty"`
	TxHash         string    `json:"tx_hash,omitempty"`
	Outcome        string    `json:"outcome"` // success | failure
	Reason         string    `json:"reason,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReviewRecord is the persisted trace of one pipeline execution.
type ReviewRecord struct {
	RecordID      string         `json:"record_id"`
	TaskID        uint64         `json:"task_id"`
	CID           string         `json:"cid"`
	FileName      string         `json:"file_name,omitempty"`
	Review        ReviewOutcome  `json:"review"`
	SettlementTx  string         `json:"settlement_tx,omitempty"`
	SettlementErr string         `json:"settlement_error,omitempty"`
	Payment       *PaymentRecord `json:"payment,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
