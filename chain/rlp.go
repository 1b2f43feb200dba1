package chain

import "math/big"

// Minimal RLP encoding, enough for legacy transaction serialization.
// Only byte strings and lists of already-encoded items are needed.

func rlpEncodeBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	return append(rlpLength(len(b), 0x80), b...)
}

func rlpEncodeUint(v uint64) []byte {
	return rlpEncodeBytes(new(big.Int).SetUint64(v).Bytes())
}

func rlpEncodeBig(v *big.Int) []byte {
	if v == nil {
		return rlpEncodeBytes(nil)
	}
	return rlpEncodeBytes(v.Bytes())
}

// rlpEncodeList concatenates already-encoded items under a list header.
func rlpEncodeList(items ...[]byte) []byte {
	var payload []byte
	for _, item := range items {
		payload = append(payload, item...)
	}
	return append(rlpLength(len(payload), 0xc0), payload...)
}

func rlpLength(n int, offset byte) []byte {
	if n < 56 {
		return []byte{offset + byte(n)}
	}
	size := new(big.Int).SetUint64(uint64(n)).Bytes()
	head := []byte{offset + 55 + byte(len(size))}
	return append(head, size...)
}
