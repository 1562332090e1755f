package aggregate

import (
	"strings"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/mainyerr"
	"github.com/dddevid/mainydb/pathutil"
)

var exprOperators = map[string]bool{
	"$add": true, "$subtract": true, "$multiply": true, "$divide": true, "$mod": true,
	"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true,
	"$and": true, "$or": true, "$not": true,
	"$concat": true, "$substr": true, "$toLower": true, "$toUpper": true,
	"$size": true, "$arrayElemAt": true,
}

// evalExpr evaluates an aggregation expression (spec §4.6) against doc:
// "$field.path" resolves a dotted path, literals pass through, and operator
// documents with exactly one "$op" key apply arithmetic/comparison/logical/
// string/array operations.
func evalExpr(expr bson.Value, doc *bson.Document) (bson.Value, error) {
	switch expr.Kind() {
	case bson.KindString:
		s, _ := expr.Str()
		if strings.HasPrefix(s, "$") {
			vals, found := pathutil.Get(doc, pathutil.Parse(s[1:]))
			if !found || len(vals) == 0 {
				return bson.Null(), nil
			}
			return vals[0], nil
		}
		return expr, nil

	case bson.KindDocument:
		d, _ := expr.DocumentVal()
		if d.Len() == 1 && exprOperators[d.Keys()[0]] {
			op := d.Keys()[0]
			raw, _ := d.Get(op)
			return evalOperator(op, raw, doc)
		}
		out := bson.NewDocument()
		for _, k := range d.Keys() {
			v, _ := d.Get(k)
			ev, err := evalExpr(v, doc)
			if err != nil {
				return bson.Null(), err
			}
			out.Set(k, ev)
		}
		return bson.DocumentValue(out), nil

	case bson.KindArray:
		arr, _ := expr.ArrayVal()
		out := make([]bson.Value, len(arr))
		for i, e := range arr {
			ev, err := evalExpr(e, doc)
			if err != nil {
				return bson.Null(), err
			}
			out[i] = ev
		}
		return bson.Array(out), nil

	default:
		return expr, nil
	}
}

func evalArgs(raw bson.Value, doc *bson.Document) ([]bson.Value, error) {
	if arr, ok := raw.ArrayVal(); ok {
		out := make([]bson.Value, len(arr))
		for i, e := range arr {
			ev, err := evalExpr(e, doc)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	}
	ev, err := evalExpr(raw, doc)
	if err != nil {
		return nil, err
	}
	return []bson.Value{ev}, nil
}

func evalOperator(op string, raw bson.Value, doc *bson.Document) (bson.Value, error) {
	args, err := evalArgs(raw, doc)
	if err != nil {
		return bson.Null(), err
	}

	switch op {
	case "$add":
		return arithReduce(args, 0, func(acc, v float64) float64 { return acc + v })
	case "$multiply":
		return arithReduce(args, 1, func(acc, v float64) float64 { return acc * v })
	case "$subtract":
		return arithBinary(args, func(a, b float64) float64 { return a - b })
	case "$divide":
		return arithBinary(args, func(a, b float64) float64 { return a / b })
	case "$mod":
		return arithBinary(args, func(a, b float64) float64 {
			if b == 0 {
				return 0
			}
			ai, bi := int64(a), int64(b)
			return float64(ai % bi)
		})
	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
		return evalComparison(op, args)
	case "$and":
		return evalAnd(args), nil
	case "$or":
		return evalOr(args), nil
	case "$not":
		if len(args) == 0 {
			return bson.Bool(true), nil
		}
		return bson.Bool(!truthy(args[0])), nil
	case "$concat":
		var b strings.Builder
		for _, a := range args {
			s, ok := a.Str()
			if !ok {
				return bson.Null(), mainyerr.New(mainyerr.KindTypeMismatch, "$concat requires string arguments")
			}
			b.WriteString(s)
		}
		return bson.String(b.String()), nil
	case "$toLower":
		s, _ := firstString(args)
		return bson.String(strings.ToLower(s)), nil
	case "$toUpper":
		s, _ := firstString(args)
		return bson.String(strings.ToUpper(s)), nil
	case "$substr":
		return evalSubstr(args)
	case "$size":
		if len(args) == 0 {
			return bson.Null(), nil
		}
		arr, ok := args[0].ArrayVal()
		if !ok {
			return bson.Null(), mainyerr.New(mainyerr.KindTypeMismatch, "$size requires an array")
		}
		return bson.Int(int64(len(arr))), nil
	case "$arrayElemAt":
		return evalArrayElemAt(args)
	default:
		return bson.Null(), mainyerr.Newf(mainyerr.KindBadQuery, "unknown expression operator %q", op)
	}
}

func arithReduce(args []bson.Value, init float64, f func(acc, v float64) float64) (bson.Value, error) {
	acc := init
	allInt := true
	for _, a := range args {
		v, ok := a.AsFloat64()
		if !ok {
			return bson.Null(), mainyerr.New(mainyerr.KindTypeMismatch, "arithmetic operator requires numeric arguments")
		}
		if _, isInt := a.Int(); !isInt {
			allInt = false
		}
		acc = f(acc, v)
	}
	if allInt {
		return bson.Int(int64(acc)), nil
	}
	return bson.Float(acc), nil
}

func arithBinary(args []bson.Value, f func(a, b float64) float64) (bson.Value, error) {
	if len(args) != 2 {
		return bson.Null(), mainyerr.New(mainyerr.KindBadQuery, "operator requires exactly two arguments")
	}
	a, ok1 := args[0].AsFloat64()
	b, ok2 := args[1].AsFloat64()
	if !ok1 || !ok2 {
		return bson.Null(), mainyerr.New(mainyerr.KindTypeMismatch, "arithmetic operator requires numeric arguments")
	}
	_, aInt := args[0].Int()
	_, bInt := args[1].Int()
	r := f(a, b)
	if aInt && bInt {
		return bson.Int(int64(r)), nil
	}
	return bson.Float(r), nil
}

func evalComparison(op string, args []bson.Value) (bson.Value, error) {
	if len(args) != 2 {
		return bson.Null(), mainyerr.New(mainyerr.KindBadQuery, "comparison operator requires exactly two arguments")
	}
	c := args[0].Compare(args[1])
	switch op {
	case "$eq":
		return bson.Bool(args[0].Equal(args[1])), nil
	case "$ne":
		return bson.Bool(!args[0].Equal(args[1])), nil
	case "$gt":
		return bson.Bool(c > 0), nil
	case "$gte":
		return bson.Bool(c >= 0), nil
	case "$lt":
		return bson.Bool(c < 0), nil
	case "$lte":
		return bson.Bool(c <= 0), nil
	}
	return bson.Bool(false), nil
}

func evalAnd(args []bson.Value) bson.Value {
	for _, a := range args {
		if !truthy(a) {
			return bson.Bool(false)
		}
	}
	return bson.Bool(true)
}

func evalOr(args []bson.Value) bson.Value {
	for _, a := range args {
		if truthy(a) {
			return bson.Bool(true)
		}
	}
	return bson.Bool(false)
}

func truthy(v bson.Value) bool {
	switch v.Kind() {
	case bson.KindNull:
		return false
	case bson.KindBool:
		b, _ := v.Bool()
		return b
	default:
		if f, ok := v.AsFloat64(); ok {
			return f != 0
		}
		return true
	}
}

func firstString(args []bson.Value) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	return args[0].Str()
}

func evalSubstr(args []bson.Value) (bson.Value, error) {
	if len(args) != 3 {
		return bson.Null(), mainyerr.New(mainyerr.KindBadQuery, "$substr requires [string, start, length]")
	}
	s, ok := args[0].Str()
	if !ok {
		return bson.Null(), mainyerr.New(mainyerr.KindTypeMismatch, "$substr requires a string first argument")
	}
	start, _ := args[1].Int()
	length, _ := args[2].Int()
	if start < 0 || int(start) > len(s) {
		return bson.String(""), nil
	}
	end := int(start) + int(length)
	if length < 0 || end > len(s) {
		end = len(s)
	}
	return bson.String(s[start:end]), nil
}

func evalArrayElemAt(args []bson.Value) (bson.Value, error) {
	if len(args) != 2 {
		return bson.Null(), mainyerr.New(mainyerr.KindBadQuery, "$arrayElemAt requires [array, index]")
	}
	arr, ok := args[0].ArrayVal()
	if !ok {
		return bson.Null(), mainyerr.New(mainyerr.KindTypeMismatch, "$arrayElemAt requires an array first argument")
	}
	idx, _ := args[1].Int()
	if idx < 0 {
		idx = int64(len(arr)) + idx
	}
	if idx < 0 || int(idx) >= len(arr) {
		return bson.Null(), nil
	}
	return arr[idx], nil
}
