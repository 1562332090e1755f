// Package objectid implements the 12-byte document identifier described in
// spec §4.1: 4 bytes big-endian seconds-since-epoch, 5 bytes a process-random
// value chosen once, and 3 bytes a big-endian counter incremented atomically
// per call. Equality and hashing are byte-wise; the hex-24 string is the
// canonical display/serialization form.
package objectid

import (
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/dddevid/mainydb/mainyerr"
)

// Size is the length in bytes of an ID.
const Size = 12

// ID is a 12-byte document identifier.
type ID [Size]byte

var (
	processRandom [5]byte
	counter       uint32
)

func init() {
	if _, err := rand.Read(processRandom[:]); err != nil {
		// crypto/rand failing means the platform has no usable entropy
		// source; there is no sane fallback, so seed with the current
		// time instead of panicking at import time.
		now := time.Now().UnixNano()
		for i := range processRandom {
			processRandom[i] = byte(now >> (8 * uint(i)))
		}
	}
	// Start the counter at a random offset so two processes racing to
	// generate the first ID of their life don't collide on 0||0||0.
	var seed [4]byte
	_, _ = rand.Read(seed[:])
	counter = uint32(seed[0])<<24 | uint32(seed[1])<<16 | uint32(seed[2])<<8 | uint32(seed[3])
}

// New generates a fresh ID: current time, the process-random prefix chosen
// at package init, and the next value of the atomic per-process counter.
func New() ID {
	var id ID

	sec := uint32(time.Now().Unix())
	id[0] = byte(sec >> 24)
	id[1] = byte(sec >> 16)
	id[2] = byte(sec >> 8)
	id[3] = byte(sec)

	copy(id[4:9], processRandom[:])

	c := atomic.AddUint32(&counter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

// String returns the canonical 24-character lowercase hex form.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Timestamp returns the seconds-since-epoch embedded in the ID.
func (id ID) Timestamp() time.Time {
	sec := uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
	return time.Unix(int64(sec), 0).UTC()
}

// Equal reports whether two IDs have identical bytes.
func (id ID) Equal(other ID) bool {
	return id == other
}

// Compare orders two IDs byte-wise, matching the big-endian layout so
// comparison agrees with creation order for IDs minted in the same second.
func (id ID) Compare(other ID) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// FromHex parses a 24-character case-insensitive hex string.
func FromHex(s string) (ID, error) {
	if len(s) != Size*2 {
		return ID{}, mainyerr.Newf(mainyerr.KindInvalidID, "identifier %q must be %d hex characters", s, Size*2)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, mainyerr.Wrap(mainyerr.KindInvalidID, "identifier is not valid hex", err)
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// FromBytes wraps exactly Size raw bytes as an ID.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return ID{}, mainyerr.Newf(mainyerr.KindInvalidID, "identifier must be %d raw bytes, got %d", Size, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// Parse accepts either raw Size bytes or a Size*2-character hex string,
// failing with mainyerr.KindInvalidID for anything else.
func Parse(v any) (ID, error) {
	switch x := v.(type) {
	case ID:
		return x, nil
	case [Size]byte:
		return ID(x), nil
	case []byte:
		return FromBytes(x)
	case string:
		return FromHex(x)
	default:
		return ID{}, mainyerr.Newf(mainyerr.KindInvalidID, "cannot parse identifier from %T", v)
	}
}

// IsZero reports whether id is the zero value (never produced by New).
func (id ID) IsZero() bool {
	return id == ID{}
}
