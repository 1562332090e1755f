// Package update implements UpdateEngine (spec §4.3): applying a MongoDB-
// style update document to a target document in place, using the same
// dotted-path segments as match and pathutil, and resolving the "$"
// positional placeholder against the match.Info captured by the query that
// located the target document.
package update

import (
	"strings"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/mainyerr"
	"github.com/dddevid/mainydb/match"
	"github.com/dddevid/mainydb/pathutil"
)

// Apply mutates target according to updateDoc, whose top-level keys are
// operator names ($set, $inc, ...) mapping to a document of path->operand
// pairs. info carries the positional match captured while locating target;
// it may be nil if the update document contains no "$" placeholders.
func Apply(updateDoc *bson.Document, target *bson.Document, info *match.Info) error {
	if updateDoc == nil {
		return nil
	}
	for _, opName := range updateDoc.Keys() {
		opVal, _ := updateDoc.Get(opName)
		opDoc, ok := opVal.DocumentVal()
		if !ok {
			return mainyerr.Newf(mainyerr.KindBadQuery, "update operator %q requires a document operand", opName)
		}
		if err := applyOperator(opName, opDoc, target, info); err != nil {
			return err
		}
	}
	return nil
}

func applyOperator(opName string, opDoc *bson.Document, target *bson.Document, info *match.Info) error {
	for _, path := range opDoc.Keys() {
		arg, _ := opDoc.Get(path)
		segs, err := resolvePath(path, info)
		if err != nil {
			return err
		}
		var applyErr error
		switch opName {
		case "$set":
			pathutil.Set(target, segs, arg)
		case "$unset":
			pathutil.Unset(target, segs)
		case "$rename":
			applyErr = applyRename(target, segs, arg)
		case "$inc":
			applyErr = applyArith(target, segs, arg, func(a, b bson.Value) bson.Value { return arith(a, b, '+') })
		case "$mul":
			applyErr = applyArith(target, segs, arg, func(a, b bson.Value) bson.Value { return arith(a, b, '*') })
		case "$min":
			applyErr = applyExtreme(target, segs, arg, true)
		case "$max":
			applyErr = applyExtreme(target, segs, arg, false)
		case "$push":
			applyErr = applyPush(target, segs, arg)
		case "$addToSet":
			applyErr = applyAddToSet(target, segs, arg)
		case "$pop":
			applyErr = applyPop(target, segs, arg)
		case "$pull":
			applyErr = applyPull(target, segs, arg)
		case "$pullAll":
			applyErr = applyPullAll(target, segs, arg)
		default:
			applyErr = mainyerr.Newf(mainyerr.KindBadQuery, "unknown update operator %q", opName)
		}
		if applyErr != nil {
			return applyErr
		}
	}
	return nil
}

// resolvePath parses path and, if it contains a "$" placeholder, resolves it
// against the array index captured in info for the enclosing array field.
func resolvePath(path string, info *match.Info) ([]pathutil.Segment, error) {
	segs := pathutil.Parse(path)
	if !pathutil.HasPositional(segs) {
		return segs, nil
	}
	if info == nil {
		return nil, mainyerr.Newf(mainyerr.KindMissingField, "update path %q uses \"$\" but no query match info is available", path)
	}
	arrayPath := positionalArrayPath(segs)
	idx, ok := findPositional(info, arrayPath)
	if !ok {
		return nil, mainyerr.Newf(mainyerr.KindMissingField, "update path %q: no captured positional match for array %q", path, arrayPath)
	}
	return pathutil.ResolvePositional(segs, idx), nil
}

func positionalArrayPath(segs []pathutil.Segment) string {
	for i, s := range segs {
		if s.Kind == pathutil.SegPositional {
			return pathutil.Join(segs[:i])
		}
	}
	return pathutil.Join(segs)
}

func findPositional(info *match.Info, arrayPath string) (int, bool) {
	if idx, ok := info.Positional[arrayPath]; ok {
		return idx, true
	}
	prefix := arrayPath + "."
	for k, idx := range info.Positional {
		if strings.HasPrefix(k, prefix) {
			return idx, true
		}
	}
	return 0, false
}

func applyRename(target *bson.Document, segs []pathutil.Segment, newName bson.Value) error {
	name, ok := newName.Str()
	if !ok {
		return mainyerr.New(mainyerr.KindBadQuery, "$rename requires a string operand")
	}
	vals, found := pathutil.Get(target, segs)
	if !found || len(vals) == 0 {
		return nil // renaming a missing field is a no-op
	}
	pathutil.Unset(target, segs)
	pathutil.Set(target, pathutil.Parse(name), vals[0])
	return nil
}

func applyArith(target *bson.Document, segs []pathutil.Segment, arg bson.Value, combine func(a, b bson.Value) bson.Value) error {
	if !arg.IsNumeric() {
		return mainyerr.New(mainyerr.KindTypeMismatch, "$inc/$mul requires a numeric operand")
	}
	vals, found := pathutil.Get(target, segs)
	var current bson.Value
	if found && len(vals) > 0 {
		current = vals[0]
		if !current.IsNumeric() {
			return mainyerr.New(mainyerr.KindTypeMismatch, "$inc/$mul target field is not numeric")
		}
	} else {
		current = bson.Int(0)
	}
	pathutil.Set(target, segs, combine(current, arg))
	return nil
}

func arith(a, b bson.Value, op byte) bson.Value {
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	ai, aIsInt := a.Int()
	bi, bIsInt := b.Int()
	if aIsInt && bIsInt {
		switch op {
		case '+':
			return bson.Int(ai + bi)
		case '*':
			return bson.Int(ai * bi)
		}
	}
	switch op {
	case '+':
		return bson.Float(af + bf)
	case '*':
		return bson.Float(af * bf)
	}
	return a
}

func applyExtreme(target *bson.Document, segs []pathutil.Segment, arg bson.Value, wantMin bool) error {
	vals, found := pathutil.Get(target, segs)
	if !found || len(vals) == 0 {
		pathutil.Set(target, segs, arg)
		return nil
	}
	current := vals[0]
	c := current.Compare(arg)
	if (wantMin && c > 0) || (!wantMin && c < 0) {
		pathutil.Set(target, segs, arg)
	}
	return nil
}

func applyPush(target *bson.Document, segs []pathutil.Segment, arg bson.Value) error {
	arr := currentArray(target, segs)
	arr = append(arr, arg)
	pathutil.Set(target, segs, bson.Array(arr))
	return nil
}

func applyAddToSet(target *bson.Document, segs []pathutil.Segment, arg bson.Value) error {
	arr := currentArray(target, segs)
	for _, e := range arr {
		if e.Equal(arg) {
			return nil
		}
	}
	arr = append(arr, arg)
	pathutil.Set(target, segs, bson.Array(arr))
	return nil
}

func applyPop(target *bson.Document, segs []pathutil.Segment, arg bson.Value) error {
	arr := currentArray(target, segs)
	if len(arr) == 0 {
		return nil
	}
	n, _ := arg.Int()
	if n < 0 {
		arr = arr[1:]
	} else {
		arr = arr[:len(arr)-1]
	}
	pathutil.Set(target, segs, bson.Array(arr))
	return nil
}

func applyPull(target *bson.Document, segs []pathutil.Segment, arg bson.Value) error {
	arr := currentArray(target, segs)
	queryDoc, isQuery := arg.DocumentVal()
	out := make([]bson.Value, 0, len(arr))
	for _, e := range arr {
		remove := false
		if isQuery {
			if elemDoc, ok := e.DocumentVal(); ok {
				matched, _, err := match.Eval(queryDoc, elemDoc)
				if err != nil {
					return err
				}
				remove = matched
			}
		} else {
			remove = e.Equal(arg)
		}
		if !remove {
			out = append(out, e)
		}
	}
	pathutil.Set(target, segs, bson.Array(out))
	return nil
}

func applyPullAll(target *bson.Document, segs []pathutil.Segment, arg bson.Value) error {
	list, ok := arg.ArrayVal()
	if !ok {
		return mainyerr.New(mainyerr.KindBadQuery, "$pullAll requires an array operand")
	}
	arr := currentArray(target, segs)
	out := make([]bson.Value, 0, len(arr))
	for _, e := range arr {
		remove := false
		for _, l := range list {
			if e.Equal(l) {
				remove = true
				break
			}
		}
		if !remove {
			out = append(out, e)
		}
	}
	pathutil.Set(target, segs, bson.Array(out))
	return nil
}

func currentArray(target *bson.Document, segs []pathutil.Segment) []bson.Value {
	vals, found := pathutil.Get(target, segs)
	if !found || len(vals) == 0 {
		return nil
	}
	arr, ok := vals[0].ArrayVal()
	if !ok {
		return nil
	}
	out := make([]bson.Value, len(arr))
	copy(out, arr)
	return out
}
