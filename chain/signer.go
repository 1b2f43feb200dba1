package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Key is a secp256k1 signing key with its derived account address. Read-only
// after construction, safe for concurrent use.
type Key struct {
	priv    *btcec.PrivateKey
	address string
}

// KeyFromHex parses a 32-byte hex private key (0x prefix optional).
func KeyFromHex(hexKey string) (*Key, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("private key is zero")
	}

	// address = last 20 bytes of keccak256 of the uncompressed public key
	// without the 0x04 marker
	uncompressed := pub.SerializeUncompressed()
	digest := keccak256(uncompressed[1:])
	return &Key{
		priv:    priv,
		address: "0x" + hex.EncodeToString(digest[12:]),
	}, nil
}

// Address returns the 0x-prefixed account address.
func (k *Key) Address() string { return k.address }

// signHash signs a 32-byte digest and returns r, s and the recovery id.
func (k *Key) signHash(hash []byte) (r, s *big.Int, recID byte, err error) {
	sig, err := ecdsa.SignCompact(k.priv, hash, false)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("sign: %w", err)
	}
	if len(sig) != 65 {
		return nil, nil, 0, fmt.Errorf("unexpected compact signature length %d", len(sig))
	}
	// compact format leads with 27+recID for uncompressed keys
	recID = sig[0] - 27
	r = new(big.Int).SetBytes(sig[1:33])
	s = new(big.Int).SetBytes(sig[33:65])
	return r, s, recID, nil
}

// SignLegacyTx signs an EIP-155 legacy transaction and returns the raw RLP
// bytes ready for eth_sendRawTransaction. An empty data slice makes this a
// plain value transfer.
func (k *Key) SignLegacyTx(chainID *big.Int, nonce uint64, to string, value *big.Int, gasLimit uint64, gasPrice *big.Int, data []byte) ([]byte, error) {
	toBytes, err := hex.DecodeString(strings.TrimPrefix(to, "0x"))
	if err != nil || len(toBytes) != 20 {
		return nil, fmt.Errorf("invalid recipient address %q", to)
	}

	signingPayload := rlpEncodeList(
		rlpEncodeUint(nonce),
		rlpEncodeBig(gasPrice),
		rlpEncodeUint(gasLimit),
		rlpEncodeBytes(toBytes),
		rlpEncodeBig(value),
		rlpEncodeBytes(data),
		rlpEncodeBig(chainID),
		rlpEncodeBytes(nil),
		rlpEncodeBytes(nil),
	)

	r, s, recID, err := k.signHash(keccak256(signingPayload))
	if err != nil {
		return nil, err
	}

	v := new(big.Int).Mul(chainID, big.NewInt(2))
	v.Add(v, big.NewInt(35+int64(recID)))

	return rlpEncodeList(
		rlpEncodeUint(nonce),
		rlpEncodeBig(gasPrice),
		rlpEncodeUint(gasLimit),
		rlpEncodeBytes(toBytes),
		rlpEncodeBig(value),
		rlpEncodeBytes(data),
		rlpEncodeBig(v),
		rlpEncodeBig(r),
		rlpEncodeBig(s),
	), nil
}
