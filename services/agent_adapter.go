package services

import (
	"context"

	"taskagent-backend/agent"
	"taskagent-backend/core/bounty"
	"taskagent-backend/review"
)

// handleAgent adapts an agent.Handle to the pipeline's agent surface.
type handleAgent struct {
	handle *agent.Handle
	gate   *review.Gate
}

func (a *handleAgent) Review(ctx context.Context, taskDescription string, sub bounty.Submission) (bounty.ReviewOutcome, error) {
	return a.gate.Review(ctx, taskDescription, sub)
}

func (a *handleAgent) Settle(ctx context.Context, taskID uint64, cid string) (string, error) {
	return a.handle.Contract.SubmitCompletion(ctx, taskID, cid)
}

func (a *handleAgent) Task(ctx context.Context, taskID uint64) (bounty.Task, error) {
	return a.handle.Contract.GetTask(ctx, taskID)
}

func (a *handleAgent) Pay(ctx context.Context, recipient, amount, description string) bounty.PaymentRecord {
	return a.handle.Wallet.SendPayment(ctx, recipient, amount, description)
}

func (a *handleAgent) PaymentAvailable() bool {
	return a.handle.PaymentAvailable()
}

// ProviderSource adapts the single-flight agent provider to AgentSource.
type ProviderSource struct {
	Provider *agent.Provider
}

func (s *ProviderSource) Get(ctx context.Context) (PipelineAgent, error) {
	handle, err := s.Provider.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &handleAgent{handle: handle, gate: review.NewGate(handle.LLM)}, nil
}
