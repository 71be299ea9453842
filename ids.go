package openmemory

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// crockford is the base32 alphabet used for ids (no I, L, O, U).
const crockford = "0123456789abcdefghjkmnpqrstvwxyz"

// NewID returns a 26-character ULID-like identifier: a 48-bit unix-millis
// timestamp followed by 80 bits of entropy, base32-encoded. Ids sort
// lexicographically by creation time.
func NewID() string {
	var b [16]byte
	ms := uint64(time.Now().UnixMilli())
	binary.BigEndian.PutUint64(b[:8], ms<<16)

	u := uuid.New()
	copy(b[6:], u[:10])

	// 16 bytes = 128 bits -> take the top 130 bits as 26 base32 chars;
	// the final character only covers the remaining 3 bits.
	out := make([]byte, 26)
	var acc uint32
	bits := 0
	j := 0
	for i := 0; i < 16 && j < 26; i++ {
		acc = acc<<8 | uint32(b[i])
		bits += 8
		for bits >= 5 && j < 26 {
			bits -= 5
			out[j] = crockford[(acc>>uint(bits))&31]
			j++
		}
	}
	if j < 26 {
		out[j] = crockford[(acc<<uint(5-bits))&31]
		j++
	}
	return string(out[:j])
}
