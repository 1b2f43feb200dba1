// Package agent owns the long-lived reviewing/paying client shared across
// concurrent pipeline executions. Construction is lazy and single-flight;
// the handle is read-only afterwards, so no locking is needed to use it.
package agent

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"taskagent-backend/chain"
	"taskagent-backend/llm"
)

// Handle bundles the completion client and the chain credentials. Wallet is
// nil when no signing key is configured: review keeps working and payment
// calls fail fast instead.
type Handle struct {
	LLM      *llm.Client
	Contract *chain.TaskContract
	Wallet   *chain.Wallet
}

// PaymentAvailable reports whether the handle can sign value transfers.
func (h *Handle) PaymentAvailable() bool { return h.Wallet != nil }

// Config carries everything needed to build a Handle.
type Config struct {
	LLM             llm.Config
	RPCURL          string
	RPCTimeout      time.Duration
	ContractAddress string
	// PrivateKey is the agent signer. Leaving it empty is a supported
	// degraded mode, not an error.
	PrivateKey string
}

// BuildFunc constructs a Handle. Swapped out in tests.
type BuildFunc func(ctx context.Context) (*Handle, error)

// Provider hands out the shared Handle. Concurrent Get calls while the
// handle is being built collapse into one construction, and every caller
// observes that construction's result. A failed construction is not cached;
// the next Get retries from scratch.
type Provider struct {
	build BuildFunc

	mu       sync.Mutex
	handle   *Handle
	inflight *buildCall
}

type buildCall struct {
	done   chan struct{}
	handle *Handle
	err    error
}

func NewProvider(cfg Config) *Provider {
	return NewProviderWithBuild(func(ctx context.Context) (*Handle, error) {
		return buildHandle(cfg)
	})
}

// NewProviderWithBuild injects a custom constructor, used by tests.
func NewProviderWithBuild(build BuildFunc) *Provider {
	return &Provider{build: build}
}

// Get returns the shared handle, constructing it on first use. ctx only
// bounds this caller's wait; construction itself is a process-lifetime
// concern and is not cancelled when one waiter gives up.
func (p *Provider) Get(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.handle != nil {
		h := p.handle
		p.mu.Unlock()
		return h, nil
	}
	if p.inflight != nil {
		call := p.inflight
		p.mu.Unlock()
		select {
		case <-call.done:
			return call.handle, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := &buildCall{done: make(chan struct{})}
	p.inflight = call
	p.mu.Unlock()

	call.handle, call.err = p.build(context.Background())
	close(call.done)

	p.mu.Lock()
	if call.err == nil {
		p.handle = call.handle
	}
	p.inflight = nil
	p.mu.Unlock()

	return call.handle, call.err
}

func buildHandle(cfg Config) (*Handle, error) {
	client := chain.NewClient(cfg.RPCURL, cfg.RPCTimeout)

	var key *chain.Key
	if pk := strings.TrimSpace(cfg.PrivateKey); pk != "" {
		parsed, err := chain.KeyFromHex(pk)
		if err != nil {
			return nil, err
		}
		key = parsed
	} else {
		log.Printf("agent: no signing key configured, payments disabled")
	}

	handle := &Handle{
		LLM:      llm.NewClient(cfg.LLM),
		Contract: chain.NewTaskContract(client, cfg.ContractAddress, key),
	}
	if key != nil {
		handle.Wallet = chain.NewWallet(client, key)
		log.Printf("agent: signer ready, paying from %s", key.Address())
	}
	return handle, nil
}
