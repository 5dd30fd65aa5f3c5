// Package cid computes CIDv1 content identifiers for receipt bytes.
//
// A receipt CID is the multihash of the raw CBOR bytes wrapped in a CIDv1
// header (version 1, dag-cbor codec, sha2-256 multihash) and rendered in
// lowercase unpadded base32 with the multibase prefix 'b'. The header
// constants are fixed by the wire contract; they are never inferred from
// the input.
package cid

import "crypto/sha256"

// CIDv1 header bytes: version 1, dag-cbor (0x71), sha2-256 multihash with
// a 32-byte digest (0x12 0x20).
const (
	cidVersion   = 0x01
	codecDagCBOR = 0x71
	mhSHA256     = 0x12
	mhLength     = 0x20
)

// multibasePrefix identifies lowercase base32 encoding.
const multibasePrefix = 'b'

// base32Alphabet is the lowercase RFC 4648 alphabet used by multibase b.
const base32Alphabet = "abcdefghijklmnopqrstuvwxyz234567"

// Compute returns the CIDv1 string for the given bytes.
func Compute(data []byte) string {
	digest := sha256.Sum256(data)

	raw := make([]byte, 0, 4+len(digest))
	raw = append(raw, cidVersion, codecDagCBOR, mhSHA256, mhLength)
	raw = append(raw, digest[:]...)

	encoded := encodeBase32(raw)
	return string(multibasePrefix) + encoded
}

// Verify recomputes the CID of data and compares it with the claimed value.
// Comparison is exact: casing, prefix, and padding differences all fail.
func Verify(claimed string, data []byte) bool {
	return claimed == Compute(data)
}

// encodeBase32 encodes bytes as unpadded lowercase base32.
//
// Bits are accumulated MSB-first into a buffer and emitted as 5-bit
// alphabet indices; a final partial group is left-shifted up to 5 bits.
func encodeBase32(data []byte) string {
	out := make([]byte, 0, (len(data)*8+4)/5)

	var buffer uint64
	var bits uint
	for _, b := range data {
		buffer = buffer<<8 | uint64(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out = append(out, base32Alphabet[(buffer>>bits)&0x1f])
		}
	}
	if bits > 0 {
		out = append(out, base32Alphabet[(buffer<<(5-bits))&0x1f])
	}
	return string(out)
}
