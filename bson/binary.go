package bson

import (
	"bytes"
	"os"
)

// Binary wraps a byte payload stored verbatim (spec §3 BinaryBlob). Detection
// at the insert boundary — raw bytes vs. a string naming a readable file —
// happens in DetectBinary; once constructed, a Binary is unambiguously bytes.
type Binary struct {
	data []byte
}

// NewBinary wraps data directly.
func NewBinary(data []byte) *Binary {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &Binary{data: cp}
}

// Bytes returns the underlying byte slice. Callers must not mutate it.
func (b *Binary) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

func (b *Binary) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

func (b *Binary) Clone() *Binary {
	if b == nil {
		return nil
	}
	return NewBinary(b.data)
}

func (a *Binary) Equal(b *Binary) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(a.data, b.data)
}

func (a *Binary) Compare(b *Binary) int {
	if a == nil || b == nil {
		if a == b {
			return 0
		}
		if a == nil {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.data, b.data)
}

// DetectBinary implements the insert-time ambiguity described in spec §3 and
// design note 9: a value becomes a Binary either because it already is raw
// bytes, or because it is a string naming a file readable on the host
// filesystem, in which case the file's contents are read once at insert time
// and stored as bytes from then on. ok is false when s names nothing
// readable, in which case the caller should keep the value as a plain
// string.
func DetectBinary(s string) (bin *Binary, ok bool) {
	info, err := os.Stat(s)
	if err != nil || info.IsDir() {
		return nil, false
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return nil, false
	}
	return NewBinary(data), true
}

// Thunk is a zero-argument function producing a Binary field's bytes on
// demand. The root package's ToLazyMap produces it; the cursor does not.
type Thunk func() []byte

// Lazy returns a thunk for this blob.
func (b *Binary) Lazy() Thunk {
	return func() []byte { return b.Bytes() }
}
