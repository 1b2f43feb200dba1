package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskagent-backend/core/bounty"
)

// Task contract method signatures. The surface is fixed by the deployed
// contract; selectors are derived at startup rather than hardcoded.
const (
	sigGetTask          = "getTask(uint256)"
	sigSubmitCompletion = "submitTaskCompletion(uint256,string)"
	sigAcceptTask       = "acceptTask(uint256)"
	sigTaskCount        = "taskCount()"
)

// submitGasLimit is the upper bound for the settlement write.
const submitGasLimit = 300000

// TaskContract binds the on-chain task ledger. Reads go through eth_call;
// the single write (settlement) is signed with the agent key.
type TaskContract struct {
	client  *Client
	address string
	key     *Key
}

// NewTaskContract builds a binding. key may be nil for a read-only binding;
// the settlement write then fails fast instead of at broadcast time.
func NewTaskContract(client *Client, address string, key *Key) *TaskContract {
	return &TaskContract{client: client, address: address, key: key}
}

// Address returns the bound contract address.
func (tc *TaskContract) Address() string { return tc.address }

// GetTask reads one task record from the ledger.
func (tc *TaskContract) GetTask(ctx context.Context, taskID uint64) (bounty.Task, error) {
	ret, err := tc.client.CallContract(ctx, tc.address, encodeUintCall(sigGetTask, taskID))
	if err != nil {
		return bounty.Task{}, classifyLedgerError(err)
	}
	return decodeTask(taskID, ret)
}

// TaskCount reads the number of tasks ever created.
func (tc *TaskContract) TaskCount(ctx context.Context) (uint64, error) {
	ret, err := tc.client.CallContract(ctx, tc.address, methodID(sigTaskCount))
	if err != nil {
		return 0, classifyLedgerError(err)
	}
	r, err := newABIReader(ret)
	if err != nil {
		return 0, err
	}
	v, err := r.uint(0)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// SubmitCompletion records the artifact CID against the task. This is the
// settlement write: attempted once, never rolled back. A ledger refusal
// (task inactive, already completed, wrong worker) comes back as
// ErrTaskStateConflict with the ledger's own reason preserved.
func (tc *TaskContract) SubmitCompletion(ctx context.Context, taskID uint64, cid string) (string, error) {
	if tc.key == nil {
		return "", fmt.Errorf("settle: %w", bounty.ErrPaymentUnavailable)
	}

	data := encodeUintStringCall(sigSubmitCompletion, taskID, cid)

	// estimation simulates the write, so state conflicts surface before
	// anything is broadcast
	gasLimit, err := tc.client.EstimateGas(ctx, tc.key.Address(), tc.address, nil, data)
	if err != nil {
		return "", classifyLedgerError(err)
	}
	// headroom over the estimate, capped to keep a bad estimate bounded
	gasLimit += gasLimit / 2
	if gasLimit > submitGasLimit {
		gasLimit = submitGasLimit
	}

	chainID, err := tc.client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("chain id: %w", err)
	}
	nonce, err := tc.client.NonceAt(ctx, tc.key.Address())
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := tc.client.GasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}

	rawTx, err := tc.key.SignLegacyTx(chainID, nonce, tc.address, nil, gasLimit, gasPrice, data)
	if err != nil {
		return "", err
	}
	hash, err := tc.client.SendRawTransaction(ctx, rawTx)
	if err != nil {
		return "", classifyLedgerError(err)
	}
	return hash, nil
}

func decodeTask(taskID uint64, ret string) (bounty.Task, error) {
	r, err := newABIReader(ret)
	if err != nil {
		return bounty.Task{}, err
	}

	task := bounty.Task{TaskID: taskID}
	if task.Creator, err = r.address(0); err != nil {
		return bounty.Task{}, err
	}
	if task.Title, err = r.stringAt(1); err != nil {
		return bounty.Task{}, err
	}
	if task.Description, err = r.stringAt(2); err != nil {
		return bounty.Task{}, err
	}
	if task.Bounty, err = r.uint(3); err != nil {
		return bounty.Task{}, err
	}
	if task.Worker, err = r.address(4); err != nil {
		return bounty.Task{}, err
	}
	if task.Completed, err = r.bool(5); err != nil {
		return bounty.Task{}, err
	}
	if task.Active, err = r.bool(6); err != nil {
		return bounty.Task{}, err
	}
	if task.RequiredFileTypes, err = r.stringArrayAt(7); err != nil {
		return bounty.Task{}, err
	}
	if task.SubmittedCID, err = r.stringAt(8); err != nil {
		return bounty.Task{}, err
	}
	return task, nil
}

// classifyLedgerError maps an execution revert to ErrTaskStateConflict while
// keeping the ledger's message verbatim. Anything else passes through.
func classifyLedgerError(err error) error {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "revert") {
		return fmt.Errorf("%w: %s", bounty.ErrTaskStateConflict, rpcErr.Message)
	}
	return err
}
