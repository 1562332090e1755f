// Package match implements MatchEngine (spec §4.2): evaluating a query
// document against a candidate document, including comparison, set,
// logical, element, array, and regex operator families, dotted-path
// traversal with implicit array broadcast, and capture of the positional
// match index consumed by UpdateEngine's "$" placeholder.
package match

import (
	"regexp"
	"strings"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/mainyerr"
	"github.com/dddevid/mainydb/pathutil"
)

// Info carries side information produced while evaluating a query, namely
// the index captured for the positional "$" placeholder (spec §4.2: "refers
// to the index of the first array element that matched the corresponding
// array sub-predicate in the query").
type Info struct {
	// Positional holds, per top-level field whose path traversed an array,
	// the index of the first array element that made the clause succeed.
	Positional map[string]int
}

func newInfo() *Info {
	return &Info{Positional: make(map[string]int)}
}

// FirstPositional returns the first captured positional index in field
// iteration order, or -1 if none was captured. The update package does not
// call it; it resolves "$" against the captured indexes with its own
// prefix lookup.
func (i *Info) FirstPositional(fields []string) (int, bool) {
	for _, f := range fields {
		if idx, ok := i.Positional[f]; ok {
			return idx, true
		}
	}
	return -1, false
}

// Eval evaluates query against doc and reports whether it matches, along
// with the Info capturing positional matches.
func Eval(query *bson.Document, doc *bson.Document) (bool, *Info, error) {
	info := newInfo()
	ok, err := evalQuery(query, doc, info)
	if err != nil {
		return false, nil, err
	}
	return ok, info, nil
}

// evalQuery evaluates the conjunction of field clauses and top-level logical
// operators ($and/$or/$nor/$not) in query against doc.
func evalQuery(query *bson.Document, doc *bson.Document, info *Info) (bool, error) {
	if query == nil || query.Len() == 0 {
		return true, nil // empty query matches all (spec §8 boundary)
	}
	for _, key := range query.Keys() {
		val, _ := query.Get(key)
		var matched bool
		var err error
		switch key {
		case "$and":
			matched, err = evalLogicalAll(val, doc, info)
		case "$or":
			matched, err = evalLogicalAny(val, doc, info)
		case "$nor":
			var any bool
			any, err = evalLogicalAny(val, doc, info)
			matched = !any
		case "$not":
			sub, ok := val.DocumentVal()
			if !ok {
				return false, mainyerr.New(mainyerr.KindBadQuery, "$not requires a query document")
			}
			var subMatched bool
			subMatched, err = evalQuery(sub, doc, info)
			matched = !subMatched
		default:
			matched, err = evalFieldClause(key, val, doc, info)
		}
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func evalLogicalAll(val bson.Value, doc *bson.Document, info *Info) (bool, error) {
	subs, ok := val.ArrayVal()
	if !ok {
		return false, mainyerr.New(mainyerr.KindBadQuery, "$and/$or/$nor require an array of query documents")
	}
	for _, s := range subs {
		sd, ok := s.DocumentVal()
		if !ok {
			return false, mainyerr.New(mainyerr.KindBadQuery, "$and/$or/$nor elements must be query documents")
		}
		matched, err := evalQuery(sd, doc, info)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func evalLogicalAny(val bson.Value, doc *bson.Document, info *Info) (bool, error) {
	subs, ok := val.ArrayVal()
	if !ok {
		return false, mainyerr.New(mainyerr.KindBadQuery, "$and/$or/$nor require an array of query documents")
	}
	for _, s := range subs {
		sd, ok := s.DocumentVal()
		if !ok {
			return false, mainyerr.New(mainyerr.KindBadQuery, "$and/$or/$nor elements must be query documents")
		}
		matched, err := evalQuery(sd, doc, info)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// isOperatorDoc reports whether v is a document all of whose keys begin with
// "$", i.e. an operator document rather than a literal to compare equal.
func isOperatorDoc(v bson.Value) (*bson.Document, bool) {
	d, ok := v.DocumentVal()
	if !ok || d.Len() == 0 {
		return nil, false
	}
	for _, k := range d.Keys() {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return d, true
}

func evalFieldClause(field string, clause bson.Value, doc *bson.Document, info *Info) (bool, error) {
	segs := pathutil.Parse(field)

	opDoc, isOp := isOperatorDoc(clause)
	if !isOp {
		return evalBroadcast(doc, segs, field, info, func(v bson.Value) (bool, error) {
			return v.Equal(clause), nil
		})
	}

	for _, opName := range opDoc.Keys() {
		opVal, _ := opDoc.Get(opName)
		matched, err := evalOperator(opName, opVal, opDoc, segs, field, doc, info)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

// evalOperator dispatches a single "$op": value pair from a field's operator
// document.
func evalOperator(op string, arg bson.Value, opDoc *bson.Document, segs []pathutil.Segment, field string, doc *bson.Document, info *Info) (bool, error) {
	switch op {
	case "$eq":
		return evalBroadcast(doc, segs, field, info, func(v bson.Value) (bool, error) { return v.Equal(arg), nil })
	case "$ne":
		return evalNe(doc, segs, arg)
	case "$gt":
		return evalCompareBroadcast(doc, segs, field, info, arg, func(c int) bool { return c > 0 })
	case "$gte":
		return evalCompareBroadcast(doc, segs, field, info, arg, func(c int) bool { return c >= 0 })
	case "$lt":
		return evalCompareBroadcast(doc, segs, field, info, arg, func(c int) bool { return c < 0 })
	case "$lte":
		return evalCompareBroadcast(doc, segs, field, info, arg, func(c int) bool { return c <= 0 })
	case "$in":
		return evalIn(doc, segs, field, info, arg, false)
	case "$nin":
		return evalIn(doc, segs, field, info, arg, true)
	case "$exists":
		want, _ := arg.Bool()
		_, found := pathutil.Get(doc, segs)
		return found == want, nil
	case "$type":
		return evalType(doc, segs, arg)
	case "$all":
		return evalAll(doc, segs, arg)
	case "$size":
		return evalSize(doc, segs, arg)
	case "$elemMatch":
		return evalElemMatch(doc, segs, field, info, arg)
	case "$regex":
		pattern, _ := arg.Str()
		options := ""
		if ov, ok := opDoc.Get("$options"); ok {
			options, _ = ov.Str()
		}
		return evalRegex(doc, segs, field, info, pattern, options)
	case "$options":
		return true, nil // consumed alongside $regex
	case "$not":
		sub, ok := arg.DocumentVal()
		if !ok {
			return false, mainyerr.New(mainyerr.KindBadQuery, "$not requires an operator document")
		}
		matched := true
		for _, k := range sub.Keys() {
			v, _ := sub.Get(k)
			m, err := evalOperator(k, v, sub, segs, field, doc, info)
			if err != nil {
				return false, err
			}
			if !m {
				matched = false
				break
			}
		}
		return !matched, nil
	default:
		return false, mainyerr.Newf(mainyerr.KindBadQuery, "unknown operator %q", op)
	}
}

// evalBroadcast walks segs against doc, applying pred at the leaf and
// broadcasting over arrays (both mid-path and at the leaf), capturing the
// first successful array index under field in info.
func evalBroadcast(doc *bson.Document, segs []pathutil.Segment, field string, info *Info, pred func(bson.Value) (bool, error)) (bool, error) {
	matched, idx, hasIdx, err := evalAtPath(bson.DocumentValue(doc), segs, pred)
	if err != nil {
		return false, err
	}
	if matched && hasIdx {
		if _, exists := info.Positional[field]; !exists {
			info.Positional[field] = idx
		}
	}
	return matched, nil
}

func evalAtPath(v bson.Value, segs []pathutil.Segment, pred func(bson.Value) (bool, error)) (matched bool, idx int, hasIdx bool, err error) {
	if len(segs) == 0 {
		ok, err := pred(v)
		if err != nil {
			return false, 0, false, err
		}
		if ok {
			return true, 0, false, nil
		}
		if arr, isArr := v.ArrayVal(); isArr {
			for i, e := range arr {
				ok, err := pred(e)
				if err != nil {
					return false, 0, false, err
				}
				if ok {
					return true, i, true, nil
				}
			}
		}
		return false, 0, false, nil
	}

	seg := segs[0]
	rest := segs[1:]

	switch seg.Kind {
	case SegIndexKind():
		if arr, ok := v.ArrayVal(); ok {
			if seg.Index >= 0 && seg.Index < len(arr) {
				return evalAtPath(arr[seg.Index], rest, pred)
			}
		}
		return false, 0, false, nil
	case SegPositionalKind():
		return false, 0, false, nil
	default:
		if doc, ok := v.DocumentVal(); ok {
			fv, has := doc.Get(seg.Field)
			if !has {
				return false, 0, false, nil
			}
			return evalAtPath(fv, rest, pred)
		}
		if arr, ok := v.ArrayVal(); ok {
			for i, e := range arr {
				m, _, _, err := evalAtPath(e, segs, pred)
				if err != nil {
					return false, 0, false, err
				}
				if m {
					return true, i, true, nil
				}
			}
		}
		return false, 0, false, nil
	}
}

// small indirection so evalAtPath's switch reads naturally without importing
// pathutil's Kind constants into every call site.
func SegIndexKind() pathutil.SegmentKind      { return pathutil.SegIndex }
func SegPositionalKind() pathutil.SegmentKind { return pathutil.SegPositional }

func evalNe(doc *bson.Document, segs []pathutil.Segment, arg bson.Value) (bool, error) {
	vals, found := pathutil.Get(doc, segs)
	if !found {
		return true, nil // absent field: $ne always succeeds
	}
	for _, v := range vals {
		if v.Kind() != arg.Kind() && !(v.IsNumeric() && arg.IsNumeric()) {
			continue // cross-kind: $ne is true for this value
		}
		if v.Equal(arg) {
			return false, nil
		}
	}
	return true, nil
}

func evalCompareBroadcast(doc *bson.Document, segs []pathutil.Segment, field string, info *Info, arg bson.Value, ok func(int) bool) (bool, error) {
	return evalBroadcast(doc, segs, field, info, func(v bson.Value) (bool, error) {
		if !sameComparableKind(v, arg) {
			return false, nil
		}
		return ok(v.Compare(arg)), nil
	})
}

func sameComparableKind(a, b bson.Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return true
	}
	return a.Kind() == b.Kind()
}

func evalIn(doc *bson.Document, segs []pathutil.Segment, field string, info *Info, arg bson.Value, negate bool) (bool, error) {
	list, ok := arg.ArrayVal()
	if !ok {
		return false, mainyerr.New(mainyerr.KindBadQuery, "$in/$nin requires an array argument")
	}
	matched, err := evalBroadcast(doc, segs, field, info, func(v bson.Value) (bool, error) {
		for _, lv := range list {
			if v.Equal(lv) {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return false, err
	}
	if negate {
		return !matched, nil
	}
	return matched, nil
}

func evalType(doc *bson.Document, segs []pathutil.Segment, arg bson.Value) (bool, error) {
	wantStr, _ := arg.Str()
	vals, found := pathutil.Get(doc, segs)
	if !found {
		return false, nil
	}
	for _, v := range vals {
		if v.Kind().String() == wantStr {
			return true, nil
		}
	}
	return false, nil
}

func evalAll(doc *bson.Document, segs []pathutil.Segment, arg bson.Value) (bool, error) {
	want, ok := arg.ArrayVal()
	if !ok {
		return false, mainyerr.New(mainyerr.KindBadQuery, "$all requires an array argument")
	}
	vals, found := pathutil.Get(doc, segs)
	if !found || len(vals) == 0 {
		return len(want) == 0, nil
	}
	arr, isArr := vals[0].ArrayVal()
	if !isArr {
		return false, nil
	}
	for _, w := range want {
		present := false
		for _, e := range arr {
			if e.Equal(w) {
				present = true
				break
			}
		}
		if !present {
			return false, nil
		}
	}
	return true, nil
}

func evalSize(doc *bson.Document, segs []pathutil.Segment, arg bson.Value) (bool, error) {
	vals, found := pathutil.Get(doc, segs)
	if !found || len(vals) == 0 {
		return false, nil
	}
	arr, isArr := vals[0].ArrayVal()
	if !isArr {
		return false, nil
	}
	length := int64(len(arr))

	if n, ok := arg.Int(); ok {
		return length == n, nil
	}
	if opDoc, ok := isOperatorDoc(arg); ok {
		for _, opName := range opDoc.Keys() {
			opVal, _ := opDoc.Get(opName)
			n, ok := opVal.Int()
			if !ok {
				return false, mainyerr.New(mainyerr.KindBadQuery, "$size comparison requires an integer argument")
			}
			var ok2 bool
			switch opName {
			case "$eq":
				ok2 = length == n
			case "$ne":
				ok2 = length != n
			case "$gt":
				ok2 = length > n
			case "$gte":
				ok2 = length >= n
			case "$lt":
				ok2 = length < n
			case "$lte":
				ok2 = length <= n
			default:
				return false, mainyerr.Newf(mainyerr.KindBadQuery, "unsupported $size comparison operator %q", opName)
			}
			if !ok2 {
				return false, nil
			}
		}
		return true, nil
	}
	return false, mainyerr.New(mainyerr.KindBadQuery, "$size requires an integer or comparison document")
}

func evalElemMatch(doc *bson.Document, segs []pathutil.Segment, field string, info *Info, arg bson.Value) (bool, error) {
	sub, ok := arg.DocumentVal()
	if !ok {
		return false, mainyerr.New(mainyerr.KindBadQuery, "$elemMatch requires a query document")
	}
	vals, found := pathutil.Get(doc, segs)
	if !found || len(vals) == 0 {
		return false, nil // $elemMatch on a missing field returns ⊥ (spec §8)
	}
	arr, isArr := vals[0].ArrayVal()
	if !isArr {
		return false, nil // $elemMatch on a non-array returns ⊥ (spec §8)
	}
	for i, e := range arr {
		var elemDoc *bson.Document
		if d, ok := e.DocumentVal(); ok {
			elemDoc = d
		} else {
			// scalar array element: wrap so operator docs like {$gt: 5}
			// can still be evaluated via the normal field-clause path
			elemDoc = bson.DocumentFromPairs("", e)
		}
		localInfo := newInfo()
		matched, err := evalQuery(remapElemMatchQuery(sub, elemDoc), elemDoc, localInfo)
		if err != nil {
			return false, err
		}
		if matched {
			if _, exists := info.Positional[field]; !exists {
				info.Positional[field] = i
			}
			return true, nil
		}
	}
	return false, nil
}

// remapElemMatchQuery is the identity for document-shaped elements; for
// scalar elements (wrapped under the empty field name by evalElemMatch) a
// sub-query given as a bare operator document (e.g. {$gt: 5}) is remapped to
// apply to that synthetic field.
func remapElemMatchQuery(sub *bson.Document, elemDoc *bson.Document) *bson.Document {
	if elemDoc.Has("") && !hasNonOperatorKeys(sub) {
		return bson.DocumentFromPairs("", bson.DocumentValue(sub))
	}
	return sub
}

func hasNonOperatorKeys(d *bson.Document) bool {
	for _, k := range d.Keys() {
		if !strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func evalRegex(doc *bson.Document, segs []pathutil.Segment, field string, info *Info, pattern, options string) (bool, error) {
	flags := ""
	multiline := false
	dotall := false
	extended := false
	for _, c := range options {
		switch c {
		case 'i':
			flags += "i"
		case 'm':
			multiline = true
		case 's':
			dotall = true
		case 'x':
			extended = true
		}
	}
	goPattern := pattern
	if extended {
		goPattern = stripExtendedWhitespace(goPattern)
	}
	prefix := ""
	if flags != "" {
		prefix += flags
	}
	if multiline {
		prefix += "m"
	}
	if dotall {
		prefix += "s"
	}
	if prefix != "" {
		goPattern = "(?" + prefix + ")" + goPattern
	}
	re, err := regexp.Compile(goPattern)
	if err != nil {
		return false, mainyerr.Wrap(mainyerr.KindBadRegex, "failed to compile $regex pattern", err)
	}
	return evalBroadcast(doc, segs, field, info, func(v bson.Value) (bool, error) {
		s, ok := v.Str()
		if !ok {
			return false, nil
		}
		return re.MatchString(s), nil
	})
}

// stripExtendedWhitespace implements the $regex "x" option: unescaped
// whitespace and "#"-to-end-of-line comments are removed from pattern
// before compiling, outside character classes. Go's regexp has no built-in
// extended mode, unlike PCRE's.
func stripExtendedWhitespace(pattern string) string {
	var b strings.Builder
	escaped := false
	inClass := false
	inComment := false
	for _, r := range pattern {
		if inComment {
			if r == '\n' {
				inComment = false
			}
			continue
		}
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			b.WriteRune(r)
			escaped = true
		case r == '[':
			inClass = true
			b.WriteRune(r)
		case r == ']':
			inClass = false
			b.WriteRune(r)
		case inClass:
			b.WriteRune(r)
		case r == '#':
			inComment = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
