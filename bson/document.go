package bson

import "sort"

// Document is an unordered mapping from field name to Value (spec §3).
// Insertion order is not semantically significant but is preserved where
// the backing container permits, so Document keeps an explicit key order
// alongside the lookup map instead of relying on Go map iteration order.
type Document struct {
	keys   []string
	values map[string]Value
}

// NewDocument returns an empty Document.
func NewDocument() *Document {
	return &Document{values: make(map[string]Value)}
}

// DocumentFromPairs builds a Document from alternating field/value pairs, in
// the order given, e.g. DocumentFromPairs("a", Int(1), "b", Int(2)).
func DocumentFromPairs(pairs ...any) *Document {
	d := NewDocument()
	for i := 0; i+1 < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		if v, ok := pairs[i+1].(Value); ok {
			d.Set(name, v)
		}
	}
	return d
}

// Len returns the number of top-level fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns field names in insertion order. The returned slice must not
// be mutated.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	return d.keys
}

// Get returns the value stored at name and whether it was present.
func (d *Document) Get(name string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	v, ok := d.values[name]
	return v, ok
}

// Has reports whether name is present (possibly with a null value).
func (d *Document) Has(name string) bool {
	if d == nil {
		return false
	}
	_, ok := d.values[name]
	return ok
}

// Set assigns name to v, appending name to the key order if it is new.
func (d *Document) Set(name string, v Value) {
	if _, exists := d.values[name]; !exists {
		d.keys = append(d.keys, name)
	}
	d.values[name] = v
}

// Unset removes name, if present.
func (d *Document) Unset(name string) {
	if _, exists := d.values[name]; !exists {
		return
	}
	delete(d.values, name)
	for i, k := range d.keys {
		if k == name {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		keys:   append([]string(nil), d.keys...),
		values: make(map[string]Value, len(d.values)),
	}
	for k, v := range d.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch v.kind {
	case KindArray:
		cp := make([]Value, len(v.arr))
		for i, e := range v.arr {
			cp[i] = cloneValue(e)
		}
		return Array(cp)
	case KindDocument:
		return DocumentValue(v.doc.Clone())
	case KindBinary:
		return BinaryValue(v.bin.Clone())
	default:
		return v
	}
}

// Equal reports whether two documents have the same fields and values,
// ignoring key order (Document is an unordered mapping per spec §3).
func (a *Document) Equal(b *Document) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.keys) != len(b.keys) {
		return false
	}
	for k, v := range a.values {
		bv, ok := b.values[k]
		if !ok || !v.Equal(bv) {
			return false
		}
	}
	return true
}

// Compare gives documents a total order for index key ordering (§4.4),
// comparing keys in sorted order and then values.
func (a *Document) Compare(b *Document) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	ak := sortedKeys(a)
	bk := sortedKeys(b)
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := cmpString(ak[i], bk[i]); c != 0 {
			return c
		}
		av, _ := a.Get(ak[i])
		bv, _ := b.Get(bk[i])
		if c := av.Compare(bv); c != 0 {
			return c
		}
	}
	return cmpInt(len(ak), len(bk))
}

func sortedKeys(d *Document) []string {
	ks := append([]string(nil), d.keys...)
	sort.Strings(ks)
	return ks
}

// ToMap materializes the document as a plain map, losing field order. Useful
// at the caller boundary (e.g. projection results) where order does not
// matter.
func (d *Document) ToMap() map[string]Value {
	out := make(map[string]Value, d.Len())
	for k, v := range d.values {
		out[k] = v
	}
	return out
}
