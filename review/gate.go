// Package review builds the review prompt, calls the completion service, and
// converts its free-text reply into an authoritative verdict.
package review

import (
	"context"
	"errors"
	"log"

	"taskagent-backend/core/bounty"
)

// Completer is the completion service surface the gate depends on.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Gate runs a single review attempt. It has no side effects beyond the
// outbound completion call.
type Gate struct {
	completer Completer
}

func NewGate(completer Completer) *Gate {
	return &Gate{completer: completer}
}

// Review reviews one submission. A transport failure reaching the completion
// service returns an error; once the call itself succeeded, the result is
// always a ReviewOutcome, either a parsed verdict or the explicit
// parse-failure variant with the raw response attached.
func (g *Gate) Review(ctx context.Context, taskDescription string, sub bounty.Submission) (bounty.ReviewOutcome, error) {
	prompt := BuildPrompt(taskDescription, sub)

	raw, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return bounty.ReviewOutcome{}, bounty.Transport(bounty.StepReview, err)
	}

	verdict, err := ParseVerdict(raw)
	if err != nil {
		var malformed *bounty.MalformedVerdictError
		if errors.As(err, &malformed) {
			log.Printf("review: unparseable verdict for task %d (%d bytes of raw response)", sub.TaskID, len(malformed.Raw))
			return bounty.ReviewOutcome{
				Error:       "Failed to parse review response",
				RawResponse: malformed.Raw,
			}, nil
		}
		return bounty.ReviewOutcome{}, err
	}

	return bounty.ReviewOutcome{Verdict: &verdict}, nil
}
