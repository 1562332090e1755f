// Package bson models the heterogeneous document values MainyDB stores:
// null, boolean, 64-bit integer, 64-bit float, string, timestamp, identifier,
// binary blob, ordered list, and nested document (spec §3). Value is a
// concrete tagged union rather than a bare interface{} so match/update/
// cursor/aggregate dispatch on a Kind byte instead of reflecting (spec §9).
package bson

import (
	"fmt"
	"time"

	"github.com/dddevid/mainydb/objectid"
)

// Kind tags which alternative of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindID
	KindBinary
	KindArray
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTime:
		return "timestamp"
	case KindID:
		return "id"
	case KindBinary:
		return "binary"
	case KindArray:
		return "array"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Value is a single document field value. Exactly one of the typed fields is
// meaningful, selected by Kind; the zero Value is KindNull.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	id   objectid.ID
	bin  *Binary
	arr  []Value
	doc  *Document
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

func Bool(b bool) Value    { return Value{kind: KindBool, b: b} }
func Int(i int64) Value    { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }
func ID(id objectid.ID) Value { return Value{kind: KindID, id: id} }

func BinaryValue(b *Binary) Value { return Value{kind: KindBinary, bin: b} }

func Array(vs []Value) Value { return Value{kind: KindArray, arr: vs} }

func DocumentValue(d *Document) Value { return Value{kind: KindDocument, doc: d} }

// Kind reports the value's kind.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() (bool, bool)          { return v.b, v.kind == KindBool }
func (v Value) Int() (int64, bool)          { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool)      { return v.f, v.kind == KindFloat }
func (v Value) Str() (string, bool)         { return v.s, v.kind == KindString }
func (v Value) TimeVal() (time.Time, bool)  { return v.t, v.kind == KindTime }
func (v Value) IDVal() (objectid.ID, bool)  { return v.id, v.kind == KindID }
func (v Value) BinaryVal() (*Binary, bool)  { return v.bin, v.kind == KindBinary }
func (v Value) ArrayVal() ([]Value, bool)   { return v.arr, v.kind == KindArray }
func (v Value) DocumentVal() (*Document, bool) { return v.doc, v.kind == KindDocument }

// IsNumeric reports whether the value is an int or a float, the two kinds
// that freely cross-compare numerically per spec §4.2.
func (v Value) IsNumeric() bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// AsFloat64 returns the value as a float64 for numeric comparison/arithmetic,
// regardless of whether it is stored as KindInt or KindFloat.
func (v Value) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports whether two values are the same kind and the same value.
// Cross-kind numeric values (int vs float) compare equal when numerically
// equal, matching the ordering rules of §4.2.
func (a Value) Equal(b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		return af == bf
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindTime:
		return a.t.Equal(b.t)
	case KindID:
		return a.id.Equal(b.id)
	case KindBinary:
		return a.bin.Equal(b.bin)
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !a.arr[i].Equal(b.arr[i]) {
				return false
			}
		}
		return true
	case KindDocument:
		return a.doc.Equal(b.doc)
	default:
		return false
	}
}

// kindRank gives every Kind a total order so cross-kind $lt/$gt comparisons
// and index key ordering have somewhere to fall back to (§4.4: "a total
// kind-precedence").
func kindRank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindInt, KindFloat:
		return 1
	case KindString:
		return 2
	case KindDocument:
		return 3
	case KindArray:
		return 4
	case KindBinary:
		return 5
	case KindID:
		return 6
	case KindBool:
		return 7
	case KindTime:
		return 8
	default:
		return 9
	}
}

// Compare orders two values for sort/index purposes. Same-kind values (or
// two numeric values of differing kind) compare by value; different kinds
// fall back to kindRank so a total order always exists, per §4.4.
func (a Value) Compare(b Value) int {
	if a.IsNumeric() && b.IsNumeric() {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		return cmpFloat(af, bf)
	}
	if a.kind != b.kind {
		ra, rb := kindRank(a.kind), kindRank(b.kind)
		if ra != rb {
			return cmpInt(ra, rb)
		}
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		return cmpBool(a.b, b.b)
	case KindString:
		return cmpString(a.s, b.s)
	case KindTime:
		return cmpTime(a.t, b.t)
	case KindID:
		return a.id.Compare(b.id)
	case KindBinary:
		return a.bin.Compare(b.bin)
	case KindArray:
		return cmpArray(a.arr, b.arr)
	case KindDocument:
		return a.doc.Compare(b.doc)
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func cmpArray(a, b []Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := a[i].Compare(b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

// GoString is used by debug dumping (pp.Println) and error messages.
func (v Value) GoString() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindID:
		return v.id.String()
	case KindBinary:
		return fmt.Sprintf("Binary(%d bytes)", v.bin.Len())
	case KindArray:
		return fmt.Sprintf("Array(%d)", len(v.arr))
	case KindDocument:
		return fmt.Sprintf("Document(%d fields)", v.doc.Len())
	default:
		return "?"
	}
}
