package aggregate

import (
	"fmt"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/mainyerr"
)

// accumulatorSpec is one output-field's accumulator for a $group stage.
type accumulatorSpec struct {
	field string
	op    string
	expr  bson.Value
}

type groupStage struct {
	idExpr       bson.Value
	accumulators []accumulatorSpec
}

func buildGroupStage(spec *bson.Document) (Stage, error) {
	idExpr, ok := spec.Get("_id")
	if !ok {
		return nil, mainyerr.New(mainyerr.KindBadQuery, "$group requires an \"_id\" expression")
	}
	g := groupStage{idExpr: idExpr}
	for _, field := range spec.Keys() {
		if field == "_id" {
			continue
		}
		accDoc, ok := spec.Get(field)
		sub, isDoc := accDoc.DocumentVal()
		if !ok || !isDoc || sub.Len() != 1 {
			return nil, mainyerr.Newf(mainyerr.KindBadQuery, "$group field %q must name a single accumulator", field)
		}
		op := sub.Keys()[0]
		expr, _ := sub.Get(op)
		g.accumulators = append(g.accumulators, accumulatorSpec{field: field, op: op, expr: expr})
	}
	return g, nil
}

// groupAccum is the running state for one group's accumulators.
type groupAccum struct {
	idValue bson.Value
	sums    map[string]float64
	counts  map[string]int64
	mins    map[string]bson.Value
	maxs    map[string]bson.Value
	firsts  map[string]bson.Value
	lasts   map[string]bson.Value
	pushes  map[string][]bson.Value
	sets    map[string][]bson.Value
	seen    map[string]bool
}

func newGroupAccum(id bson.Value) *groupAccum {
	return &groupAccum{
		idValue: id,
		sums:    make(map[string]float64),
		counts:  make(map[string]int64),
		mins:    make(map[string]bson.Value),
		maxs:    make(map[string]bson.Value),
		firsts:  make(map[string]bson.Value),
		lasts:   make(map[string]bson.Value),
		pushes:  make(map[string][]bson.Value),
		sets:    make(map[string][]bson.Value),
		seen:    make(map[string]bool),
	}
}

func (s groupStage) Apply(docs []*bson.Document, _ Lookup) ([]*bson.Document, error) {
	order := make([]string, 0)
	groups := make(map[string]*groupAccum)

	for _, d := range docs {
		idVal, err := evalExpr(s.idExpr, d)
		if err != nil {
			return nil, err
		}
		key := groupKey(idVal)
		acc, ok := groups[key]
		if !ok {
			acc = newGroupAccum(idVal)
			groups[key] = acc
			order = append(order, key)
		}
		for _, a := range s.accumulators {
			if err := applyAccumulator(acc, a, d); err != nil {
				return nil, err
			}
		}
	}

	out := make([]*bson.Document, 0, len(order))
	for _, key := range order {
		acc := groups[key]
		doc := bson.NewDocument()
		doc.Set("_id", acc.idValue)
		for _, a := range s.accumulators {
			doc.Set(a.field, finalizeAccumulator(acc, a))
		}
		out = append(out, doc)
	}
	return out, nil
}

func groupKey(v bson.Value) string {
	return fmt.Sprintf("%d:%s", v.Kind(), v.GoString())
}

func applyAccumulator(acc *groupAccum, a accumulatorSpec, d *bson.Document) error {
	switch a.op {
	case "$count":
		acc.counts[a.field]++
		return nil
	}
	ev, err := evalExpr(a.expr, d)
	if err != nil {
		return err
	}
	switch a.op {
	case "$sum":
		f, _ := ev.AsFloat64()
		acc.sums[a.field] += f
		acc.counts[a.field]++
	case "$avg":
		f, _ := ev.AsFloat64()
		acc.sums[a.field] += f
		acc.counts[a.field]++
	case "$min":
		cur, ok := acc.mins[a.field]
		if !ok || ev.Compare(cur) < 0 {
			acc.mins[a.field] = ev
		}
	case "$max":
		cur, ok := acc.maxs[a.field]
		if !ok || ev.Compare(cur) > 0 {
			acc.maxs[a.field] = ev
		}
	case "$first":
		if _, ok := acc.firsts[a.field]; !ok {
			acc.firsts[a.field] = ev
		}
	case "$last":
		acc.lasts[a.field] = ev
	case "$push":
		acc.pushes[a.field] = append(acc.pushes[a.field], ev)
	case "$addToSet":
		k := groupKey(ev)
		if !acc.seen[a.field+"\x00"+k] {
			acc.seen[a.field+"\x00"+k] = true
			acc.sets[a.field] = append(acc.sets[a.field], ev)
		}
	default:
		return mainyerr.Newf(mainyerr.KindBadQuery, "unknown $group accumulator %q", a.op)
	}
	return nil
}

func finalizeAccumulator(acc *groupAccum, a accumulatorSpec) bson.Value {
	switch a.op {
	case "$sum":
		return bson.Float(acc.sums[a.field])
	case "$avg":
		n := acc.counts[a.field]
		if n == 0 {
			return bson.Null()
		}
		return bson.Float(acc.sums[a.field] / float64(n))
	case "$min":
		v, ok := acc.mins[a.field]
		if !ok {
			return bson.Null()
		}
		return v
	case "$max":
		v, ok := acc.maxs[a.field]
		if !ok {
			return bson.Null()
		}
		return v
	case "$first":
		v, ok := acc.firsts[a.field]
		if !ok {
			return bson.Null()
		}
		return v
	case "$last":
		v, ok := acc.lasts[a.field]
		if !ok {
			return bson.Null()
		}
		return v
	case "$push":
		return bson.Array(acc.pushes[a.field])
	case "$addToSet":
		return bson.Array(acc.sets[a.field])
	case "$count":
		return bson.Int(acc.counts[a.field])
	default:
		return bson.Null()
	}
}
