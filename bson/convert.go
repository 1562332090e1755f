package bson

import (
	"time"

	"github.com/dddevid/mainydb/objectid"
)

// FromAny converts a plain Go value (as a caller would build with map[string]any
// / []any / primitives) into a Value. Strings are checked against
// DetectBinary so that a value naming a readable file becomes a Binary, per
// spec §3. Unsupported types produce KindNull.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case string:
		if bin, ok := DetectBinary(x); ok {
			return BinaryValue(bin)
		}
		return String(x)
	case time.Time:
		return Time(x)
	case objectid.ID:
		return ID(x)
	case []byte:
		return BinaryValue(NewBinary(x))
	case *Binary:
		return BinaryValue(x)
	case *Document:
		return DocumentValue(x)
	case map[string]any:
		return DocumentValue(FromMap(x))
	case []any:
		vs := make([]Value, len(x))
		for i, e := range x {
			vs[i] = FromAny(e)
		}
		return Array(vs)
	case []Value:
		return Array(x)
	default:
		return Null()
	}
}

// FromMap builds a Document from a plain map, in arbitrary (Go map) order —
// callers that need a specific field order should build the Document with
// Set calls directly.
func FromMap(m map[string]any) *Document {
	d := NewDocument()
	for k, v := range m {
		d.Set(k, FromAny(v))
	}
	return d
}

// ToAny converts a Value back to a plain Go value suitable for returning to
// a caller. Binary fields decode eagerly to their bytes; the root package's
// ToLazyMap is the only caller of Lazy().
func ToAny(v Value) any {
	switch v.Kind() {
	case KindNull:
		return nil
	case KindBool:
		b, _ := v.Bool()
		return b
	case KindInt:
		i, _ := v.Int()
		return i
	case KindFloat:
		f, _ := v.Float()
		return f
	case KindString:
		s, _ := v.Str()
		return s
	case KindTime:
		t, _ := v.TimeVal()
		return t
	case KindID:
		id, _ := v.IDVal()
		return id
	case KindBinary:
		b, _ := v.BinaryVal()
		return b.Bytes()
	case KindArray:
		arr, _ := v.ArrayVal()
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = ToAny(e)
		}
		return out
	case KindDocument:
		doc, _ := v.DocumentVal()
		return ToMap(doc)
	default:
		return nil
	}
}

// ToMap converts a Document to a plain map[string]any, losing field order.
func ToMap(d *Document) map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, d.Len())
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		out[k] = ToAny(v)
	}
	return out
}
