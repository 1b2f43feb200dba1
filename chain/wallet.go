package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"taskagent-backend/core/bounty"
)

// transferGasLimit covers a plain value transfer with empty calldata.
const transferGasLimit = 21000

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether s looks like a 20-byte hex account address.
func ValidAddress(s string) bool {
	return addressRe.MatchString(strings.TrimSpace(s))
}

// Wallet performs native value transfers with a fixed signing key. The
// dispatcher is deliberately not idempotent: every call is an independent
// transfer, and deduplication belongs to the caller.
type Wallet struct {
	client *Client
	key    *Key

	mu      sync.Mutex
	chainID *big.Int
}

func NewWallet(client *Client, key *Key) *Wallet {
	return &Wallet{client: client, key: key}
}

// Address returns the paying account address.
func (w *Wallet) Address() string { return w.key.Address() }

// Balance returns the paying account balance in wei.
func (w *Wallet) Balance(ctx context.Context) (*big.Int, error) {
	return w.client.BalanceAt(ctx, w.key.Address())
}

func (w *Wallet) getChainID(ctx context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.chainID != nil {
		return w.chainID, nil
	}
	id, err := w.client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	w.chainID = id
	return id, nil
}

// SendPayment transfers amount (decimal ETH) to recipient. The outcome is
// always reported through the returned PaymentRecord; a failed transfer is a
// failure record, not an error that can abort a caller's pipeline.
func (w *Wallet) SendPayment(ctx context.Context, recipient, amount, description string) bounty.PaymentRecord {
	record := bounty.PaymentRecord{
		Recipient:   recipient,
		Amount:      amount,
		Description: description,
		Outcome:     bounty.PaymentFailure,
		CreatedAt:   time.Now().UTC(),
	}

	if !ValidAddress(recipient) {
		record.Reason = fmt.Sprintf("invalid recipient address %q", recipient)
		return record
	}
	value, err := ParseEther(amount)
	if err != nil {
		record.Reason = err.Error()
		return record
	}

	hash, err := w.transfer(ctx, recipient, value)
	if err != nil {
		log.Printf("payment to %s failed: %v", recipient, err)
		record.Reason = err.Error()
		return record
	}

	log.Printf("payment sent: %s ETH to %s (tx %s)", amount, recipient, hash)
	record.Outcome = bounty.PaymentSuccess
	record.TxHash = hash
	return record
}

func (w *Wallet) transfer(ctx context.Context, recipient string, value *big.Int) (string, error) {
	chainID, err := w.getChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("chain id: %w", err)
	}
	nonce, err := w.client.NonceAt(ctx, w.key.Address())
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := w.client.GasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}

	rawTx, err := w.key.SignLegacyTx(chainID, nonce, recipient, value, transferGasLimit, gasPrice, nil)
	if err != nil {
		return "", err
	}
	return w.client.SendRawTransaction(ctx, rawTx)
}

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseEther converts a decimal ETH amount into wei.
func ParseEther(amount string) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" || strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 18 {
		return nil, fmt.Errorf("amount %q has more than 18 decimal places", amount)
	}

	wei, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	wei.Mul(wei, weiPerEther)

	if frac != "" {
		fracPadded := frac + strings.Repeat("0", 18-len(frac))
		fracWei, ok := new(big.Int).SetString(fracPadded, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q", amount)
		}
		wei.Add(wei, fracWei)
	}
	return wei, nil
}
