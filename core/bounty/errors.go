package bounty

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedVerdict means the completion service answered but the reply
	// could not be decoded into a verdict. Terminal for the review step.
	ErrMalformedVerdict = errors.New("malformed review verdict")
	// ErrTaskStateConflict means the ledger refused a write because the task
	// is inactive, already completed, or the caller is not authorized. The
	// ledger's reason is wrapped, not reinterpreted.
	ErrTaskStateConflict = errors.New("task state conflict")
	// ErrPaymentUnavailable means the agent has no signing key configured.
	// Review still works; only payment calls fail with this.
	ErrPaymentUnavailable = errors.New("payment unavailable: agent signer not configured")
)

// Pipeline steps, used to attribute transport failures.
const (
	StepFetch  = "fetch"
	StepReview = "review"
	StepSettle = "settle"
	StepPay    = "pay"
)

// TransportError wraps a network or timeout failure from one of the external
// services, naming the step it originated from. It is not retried by the core.
type TransportError struct {
	Step string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Step, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError for the given step.
func Transport(step string, err error) error {
	return &TransportError{Step: step, Err: err}
}

// MalformedVerdictError carries the raw model text alongside
// ErrMalformedVerdict so callers can surface it verbatim.
type MalformedVerdictError struct {
	Raw string
}

func (e *MalformedVerdictError) Error() string { return ErrMalformedVerdict.Error() }

func (e *MalformedVerdictError) Unwrap() error { return ErrMalformedVerdict }
