package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Hand-rolled ABI encoding for the fixed task-contract method surface. The
// contract interface never changes at runtime, so a general-purpose ABI
// package buys nothing here.

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// methodID returns the 4-byte selector for a canonical method signature.
func methodID(signature string) []byte {
	return keccak256([]byte(signature))[:4]
}

func padLeft32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func abiUint(v *big.Int) []byte {
	return padLeft32(v.Bytes())
}

func abiUint64(v uint64) []byte {
	return abiUint(new(big.Int).SetUint64(v))
}

// abiString is the tail encoding of a dynamic string: length word plus data
// padded up to a 32-byte boundary.
func abiString(s string) []byte {
	out := abiUint64(uint64(len(s)))
	out = append(out, []byte(s)...)
	if rem := len(s) % 32; rem != 0 {
		out = append(out, make([]byte, 32-rem)...)
	}
	return out
}

// encodeUintCall encodes a call taking a single uint256.
func encodeUintCall(signature string, v uint64) []byte {
	return append(methodID(signature), abiUint64(v)...)
}

// encodeUintStringCall encodes a call taking (uint256, string).
func encodeUintStringCall(signature string, v uint64, s string) []byte {
	data := methodID(signature)
	data = append(data, abiUint64(v)...)
	data = append(data, abiUint64(64)...) // offset of the string tail
	data = append(data, abiString(s)...)
	return data
}

// abiReader walks the 32-byte words of a return payload.
type abiReader struct {
	data []byte
}

func newABIReader(hexData string) (*abiReader, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexData, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode return data: %w", err)
	}
	if len(raw)%32 != 0 {
		return nil, fmt.Errorf("return data length %d is not word-aligned", len(raw))
	}
	return &abiReader{data: raw}, nil
}

func (r *abiReader) word(i int) ([]byte, error) {
	start := i * 32
	if start+32 > len(r.data) {
		return nil, fmt.Errorf("return data truncated at word %d", i)
	}
	return r.data[start : start+32], nil
}

func (r *abiReader) uint(i int) (*big.Int, error) {
	w, err := r.word(i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

func (r *abiReader) address(i int) (string, error) {
	w, err := r.word(i)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(w[12:]), nil
}

func (r *abiReader) bool(i int) (bool, error) {
	v, err := r.uint(i)
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

// stringAt reads the dynamic string whose offset sits in word i.
func (r *abiReader) stringAt(i int) (string, error) {
	offset, err := r.uint(i)
	if err != nil {
		return "", err
	}
	return r.stringAtOffset(offset.Int64())
}

func (r *abiReader) stringAtOffset(offset int64) (string, error) {
	if offset < 0 || offset+32 > int64(len(r.data)) {
		return "", fmt.Errorf("string offset %d out of range", offset)
	}
	length := new(big.Int).SetBytes(r.data[offset : offset+32]).Int64()
	start := offset + 32
	if length < 0 || start+length > int64(len(r.data)) {
		return "", fmt.Errorf("string length %d out of range", length)
	}
	return string(r.data[start : start+length]), nil
}

// stringArrayAt reads the dynamic string[] whose offset sits in word i.
func (r *abiReader) stringArrayAt(i int) ([]string, error) {
	base, err := r.uint(i)
	if err != nil {
		return nil, err
	}
	offset := base.Int64()
	if offset < 0 || offset+32 > int64(len(r.data)) {
		return nil, fmt.Errorf("array offset %d out of range", offset)
	}
	count := new(big.Int).SetBytes(r.data[offset : offset+32]).Int64()
	if count < 0 || count > int64(len(r.data)/32) {
		return nil, fmt.Errorf("array length %d out of range", count)
	}
	elemBase := offset + 32
	out := make([]string, 0, count)
	for j := int64(0); j < count; j++ {
		at := elemBase + j*32
		if at+32 > int64(len(r.data)) {
			return nil, fmt.Errorf("array element %d out of range", j)
		}
		elemOffset := new(big.Int).SetBytes(r.data[at : at+32]).Int64()
		s, err := r.stringAtOffset(elemBase + elemOffset)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
