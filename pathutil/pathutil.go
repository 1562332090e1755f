// Package pathutil implements the dotted-path interpreter shared by match,
// update, cursor projection, and aggregate (spec §9: "build a pathparser that
// yields a sequence of segments ... and a single traversal primitive
// consumed by match, update, projection, and aggregation alike").
package pathutil

import (
	"strconv"
	"strings"

	"github.com/dddevid/mainydb/bson"
)

// SegmentKind distinguishes the three things a dotted-path component can be.
type SegmentKind int

const (
	// SegField names a document field.
	SegField SegmentKind = iota
	// SegIndex names a non-negative list index (a path segment that parses
	// as an integer).
	SegIndex
	// SegPositional is "$", the positional placeholder resolved against a
	// captured match index (spec §4.2/§4.3).
	SegPositional
)

// Segment is one component of a parsed dotted path.
type Segment struct {
	Kind  SegmentKind
	Field string // valid when Kind == SegField
	Index int    // valid when Kind == SegIndex
}

// Parse splits a dotted path like "comments.3.likes" or "comments.$.likes"
// into segments. A segment is SegIndex when it parses as a non-negative
// integer, SegPositional when it is exactly "$", and SegField otherwise.
func Parse(path string) []Segment {
	parts := strings.Split(path, ".")
	segs := make([]Segment, len(parts))
	for i, p := range parts {
		switch {
		case p == "$":
			segs[i] = Segment{Kind: SegPositional}
		default:
			if n, err := strconv.Atoi(p); err == nil && n >= 0 && strconv.Itoa(n) == p {
				segs[i] = Segment{Kind: SegIndex, Index: n}
			} else {
				segs[i] = Segment{Kind: SegField, Field: p}
			}
		}
	}
	return segs
}

// Join renders segments back into a dotted path string.
func Join(segs []Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		switch s.Kind {
		case SegPositional:
			parts[i] = "$"
		case SegIndex:
			parts[i] = strconv.Itoa(s.Index)
		default:
			parts[i] = s.Field
		}
	}
	return strings.Join(parts, ".")
}

// ResolvePositional substitutes a SegPositional segment with a concrete
// SegIndex using the given match index, producing a new segment slice
// (segs is not mutated).
func ResolvePositional(segs []Segment, matchIndex int) []Segment {
	out := make([]Segment, len(segs))
	copy(out, segs)
	for i, s := range out {
		if s.Kind == SegPositional {
			out[i] = Segment{Kind: SegIndex, Index: matchIndex}
		}
	}
	return out
}

// HasPositional reports whether segs contains a "$" placeholder.
func HasPositional(segs []Segment) bool {
	for _, s := range segs {
		if s.Kind == SegPositional {
			return true
		}
	}
	return false
}

// Get traverses doc along segs and returns every value reached. Per spec
// §4.2: "When any intermediate segment is a list and the next segment is a
// field name, the predicate matches if it matches against any element" — so
// Get returns multiple results when a list is implicitly broadcast over.
// found is false if segs resolves nowhere at all.
func Get(doc *bson.Document, segs []Segment) (values []bson.Value, found bool) {
	return getFrom(bson.DocumentValue(doc), segs)
}

func getFrom(v bson.Value, segs []Segment) ([]bson.Value, bool) {
	if len(segs) == 0 {
		return []bson.Value{v}, true
	}
	seg := segs[0]
	rest := segs[1:]

	switch seg.Kind {
	case SegIndex:
		if arr, ok := v.ArrayVal(); ok {
			if seg.Index >= 0 && seg.Index < len(arr) {
				return getFrom(arr[seg.Index], rest)
			}
			return nil, false
		}
		// Not a list: an index segment against a document tries the
		// index as a literal field name (rare, but keeps traversal total).
		if doc, ok := v.DocumentVal(); ok {
			if fv, ok := doc.Get(strconv.Itoa(seg.Index)); ok {
				return getFrom(fv, rest)
			}
		}
		return nil, false

	case SegPositional:
		// An unresolved "$" at traversal time is a caller error; treat as
		// not found rather than panicking. UpdateEngine resolves "$" to a
		// concrete index before calling Get/Set.
		return nil, false

	default: // SegField
		if doc, ok := v.DocumentVal(); ok {
			if fv, ok := doc.Get(seg.Field); ok {
				return getFrom(fv, rest)
			}
			return nil, false
		}
		if arr, ok := v.ArrayVal(); ok {
			// Broadcast: the field segment applies to every element of
			// the array (spec §4.2).
			var out []bson.Value
			any := false
			for _, e := range arr {
				vs, ok := getFrom(e, segs)
				if ok {
					out = append(out, vs...)
					any = true
				}
			}
			return out, any
		}
		return nil, false
	}
}

// Set writes v at the path described by segs, creating intermediate
// documents as needed (spec §4.3: "$set ... create intermediate documents as
// needed"). segs must not contain an unresolved SegPositional.
func Set(doc *bson.Document, segs []Segment, v bson.Value) {
	setIn(bson.DocumentValue(doc), segs, v)
}

// setIn mutates through container (a Document or Array value) to place v at
// segs, materializing missing documents along the way.
func setIn(container bson.Value, segs []Segment, v bson.Value) {
	if len(segs) == 0 {
		return
	}
	seg := segs[0]
	rest := segs[1:]

	doc, isDoc := container.DocumentVal()
	if !isDoc {
		return
	}

	if len(rest) == 0 {
		switch seg.Kind {
		case SegField:
			doc.Set(seg.Field, v)
		case SegIndex:
			// No further path below this segment: doc is a Document, not the
			// array this index addresses (array creation happens one level up,
			// where the field itself is materialized), so fall back to the
			// literal key, matching Get's Document fallback for a numeric segment.
			doc.Set(strconv.Itoa(seg.Index), v)
		}
		return
	}

	var childKey string
	switch seg.Kind {
	case SegField:
		childKey = seg.Field
	case SegIndex:
		childKey = strconv.Itoa(seg.Index)
	default:
		return
	}

	existing, ok := doc.Get(childKey)
	if !ok || (existing.Kind() != bson.KindDocument && existing.Kind() != bson.KindArray) {
		if rest[0].Kind == SegIndex {
			existing = bson.Array(nil)
		} else {
			existing = bson.DocumentValue(bson.NewDocument())
		}
		doc.Set(childKey, existing)
	}

	if arr, ok := existing.ArrayVal(); ok && rest[0].Kind == SegIndex {
		idx := rest[0].Index
		for idx >= len(arr) {
			arr = append(arr, bson.Null())
		}
		if len(rest) == 1 {
			arr[idx] = v
		} else {
			elemDoc, ok := arr[idx].DocumentVal()
			if !ok {
				elemDoc = bson.NewDocument()
				arr[idx] = bson.DocumentValue(elemDoc)
			}
			setIn(bson.DocumentValue(elemDoc), rest[1:], v)
		}
		doc.Set(childKey, bson.Array(arr))
		return
	}

	setIn(existing, rest, v)
}

// Unset removes the value at segs, if present. The parent container is left
// in place even if it becomes empty.
func Unset(doc *bson.Document, segs []Segment) {
	if len(segs) == 0 {
		return
	}
	if len(segs) == 1 {
		if segs[0].Kind == SegField {
			doc.Unset(segs[0].Field)
		}
		return
	}
	head := segs[:len(segs)-1]
	last := segs[len(segs)-1]

	vals, ok := getFrom(bson.DocumentValue(doc), head)
	if !ok || len(vals) == 0 {
		return
	}
	parent := vals[0]
	if pd, ok := parent.DocumentVal(); ok && last.Kind == SegField {
		pd.Unset(last.Field)
	}
}
