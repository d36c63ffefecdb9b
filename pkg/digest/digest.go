// Package digest computes content digests for recap payloads. A digest is the
// Keccak-256 of the payload bytes, the same function the off-chain content
// store keys recaps by.
package digest

import (
	"encoding/hex"
	"io"

	"golang.org/x/crypto/sha3"
)

// Size is the length of a digest in bytes.
const Size = 32

// Sum returns the Keccak-256 digest of data.
func Sum(data []byte) [Size]byte {
	var out [Size]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(out[:0])
	return out
}

// SumReader digests everything read from r.
func SumReader(r io.Reader) ([Size]byte, error) {
	var out [Size]byte
	h := sha3.NewLegacyKeccak256()
	if _, err := io.Copy(h, r); err != nil {
		return out, err
	}
	h.Sum(out[:0])
	return out, nil
}

// Hex formats a digest as 0x-prefixed lowercase hex.
func Hex(d [Size]byte) string {
	return "0x" + hex.EncodeToString(d[:])
}

// SumHex is Hex(Sum(data)).
func SumHex(data []byte) string {
	return Hex(Sum(data))
}
