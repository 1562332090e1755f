// Package aggregate implements AggregationPipeline (spec §4.6): a sequence
// of stages each consuming and producing a stream of documents, plus the
// expression evaluator used by $project/$group.
package aggregate

import (
	"sort"
	"strings"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/mainyerr"
	"github.com/dddevid/mainydb/match"
	"github.com/dddevid/mainydb/pathutil"
)

// Lookup resolves another collection's documents for the $lookup stage. The
// caller (the root package's Collection) is responsible for any cross-
// collection lock ordering before invoking Run.
type Lookup interface {
	Documents(collection string) ([]*bson.Document, error)
}

// Stage is one pipeline step.
type Stage interface {
	Apply(docs []*bson.Document, lookup Lookup) ([]*bson.Document, error)
}

// Pipeline is an ordered sequence of Stages.
type Pipeline struct {
	stages []Stage
}

// New parses a pipeline from its wire form: an array of single-key stage
// documents, e.g. [{"$match": {...}}, {"$limit": 10}].
func New(stageDocs []bson.Value) (*Pipeline, error) {
	p := &Pipeline{}
	for _, sv := range stageDocs {
		sd, ok := sv.DocumentVal()
		if !ok || sd.Len() != 1 {
			return nil, mainyerr.New(mainyerr.KindBadQuery, "each pipeline stage must be a single-key document")
		}
		name := sd.Keys()[0]
		arg, _ := sd.Get(name)
		stage, err := buildStage(name, arg)
		if err != nil {
			return nil, err
		}
		p.stages = append(p.stages, stage)
	}
	return p, nil
}

func buildStage(name string, arg bson.Value) (Stage, error) {
	switch name {
	case "$match":
		q, ok := arg.DocumentVal()
		if !ok {
			return nil, mainyerr.New(mainyerr.KindBadQuery, "$match requires a query document")
		}
		return matchStage{query: q}, nil
	case "$project":
		spec, ok := arg.DocumentVal()
		if !ok {
			return nil, mainyerr.New(mainyerr.KindBadQuery, "$project requires a document")
		}
		return projectStage{spec: spec}, nil
	case "$unwind":
		return buildUnwindStage(arg)
	case "$group":
		spec, ok := arg.DocumentVal()
		if !ok {
			return nil, mainyerr.New(mainyerr.KindBadQuery, "$group requires a document")
		}
		return buildGroupStage(spec)
	case "$sort":
		spec, ok := arg.DocumentVal()
		if !ok {
			return nil, mainyerr.New(mainyerr.KindBadQuery, "$sort requires a document")
		}
		return buildSortStage(spec)
	case "$skip":
		n, ok := arg.Int()
		if !ok {
			return nil, mainyerr.New(mainyerr.KindBadQuery, "$skip requires an integer")
		}
		return skipStage{n: int(n)}, nil
	case "$limit":
		n, ok := arg.Int()
		if !ok {
			return nil, mainyerr.New(mainyerr.KindBadQuery, "$limit requires an integer")
		}
		return limitStage{n: int(n)}, nil
	case "$lookup":
		spec, ok := arg.DocumentVal()
		if !ok {
			return nil, mainyerr.New(mainyerr.KindBadQuery, "$lookup requires a document")
		}
		return buildLookupStage(spec)
	case "$count":
		name, ok := arg.Str()
		if !ok {
			return nil, mainyerr.New(mainyerr.KindBadQuery, "$count requires a string field name")
		}
		return countStage{field: name}, nil
	default:
		return nil, mainyerr.Newf(mainyerr.KindBadQuery, "unknown aggregation stage %q", name)
	}
}

// Run executes every stage in order against docs.
func (p *Pipeline) Run(docs []*bson.Document, lookup Lookup) ([]*bson.Document, error) {
	cur := docs
	for _, s := range p.stages {
		next, err := s.Apply(cur, lookup)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// --- $match ---

type matchStage struct{ query *bson.Document }

func (s matchStage) Apply(docs []*bson.Document, _ Lookup) ([]*bson.Document, error) {
	out := make([]*bson.Document, 0, len(docs))
	for _, d := range docs {
		matched, _, err := match.Eval(s.query, d)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, d)
		}
	}
	return out, nil
}

// --- $project ---

type projectStage struct{ spec *bson.Document }

func (s projectStage) Apply(docs []*bson.Document, _ Lookup) ([]*bson.Document, error) {
	out := make([]*bson.Document, len(docs))
	for i, d := range docs {
		pd, err := s.projectOne(d)
		if err != nil {
			return nil, err
		}
		out[i] = pd
	}
	return out, nil
}

func (s projectStage) projectOne(d *bson.Document) (*bson.Document, error) {
	out := bson.NewDocument()
	includeID := true
	for _, k := range s.spec.Keys() {
		v, _ := s.spec.Get(k)
		if k == "_id" {
			if isProjectionOff(v) {
				includeID = false
			}
			continue
		}
		if isProjectionOn(v) {
			segs := pathutil.Parse(k)
			vals, found := pathutil.Get(d, segs)
			if found && len(vals) > 0 {
				pathutil.Set(out, segs, vals[0])
			}
			continue
		}
		if isProjectionOff(v) {
			continue
		}
		ev, err := evalExpr(v, d)
		if err != nil {
			return nil, err
		}
		pathutil.Set(out, pathutil.Parse(k), ev)
	}
	if includeID {
		if idv, ok := d.Get("_id"); ok {
			out.Set("_id", idv)
		}
	}
	return out, nil
}

func isProjectionOn(v bson.Value) bool {
	if n, ok := v.Int(); ok {
		return n == 1
	}
	if b, ok := v.Bool(); ok {
		return b
	}
	return false
}

func isProjectionOff(v bson.Value) bool {
	if n, ok := v.Int(); ok {
		return n == 0
	}
	if b, ok := v.Bool(); ok {
		return !b
	}
	return false
}

// --- $unwind ---

type unwindStage struct {
	field    string
	preserve bool
}

func buildUnwindStage(arg bson.Value) (Stage, error) {
	if s, ok := arg.Str(); ok {
		return unwindStage{field: strings.TrimPrefix(s, "$")}, nil
	}
	d, ok := arg.DocumentVal()
	if !ok {
		return nil, mainyerr.New(mainyerr.KindBadQuery, "$unwind requires a string or document argument")
	}
	pathVal, ok := d.Get("path")
	if !ok {
		return nil, mainyerr.New(mainyerr.KindBadQuery, "$unwind document form requires a \"path\" field")
	}
	path, _ := pathVal.Str()
	preserve := false
	if pv, ok := d.Get("preserveNullAndEmptyArrays"); ok {
		preserve, _ = pv.Bool()
	}
	return unwindStage{field: strings.TrimPrefix(path, "$"), preserve: preserve}, nil
}

func (s unwindStage) Apply(docs []*bson.Document, _ Lookup) ([]*bson.Document, error) {
	segs := pathutil.Parse(s.field)
	var out []*bson.Document
	for _, d := range docs {
		vals, found := pathutil.Get(d, segs)
		if !found || len(vals) == 0 {
			if s.preserve {
				out = append(out, d)
			}
			continue
		}
		arr, isArr := vals[0].ArrayVal()
		if !isArr {
			out = append(out, d)
			continue
		}
		if len(arr) == 0 {
			if s.preserve {
				clone := d.Clone()
				pathutil.Set(clone, segs, bson.Null())
				out = append(out, clone)
			}
			continue
		}
		for _, elem := range arr {
			clone := d.Clone()
			pathutil.Set(clone, segs, elem)
			out = append(out, clone)
		}
	}
	return out, nil
}

// --- $sort ---

type sortKey struct {
	field     string
	direction int
}

type sortStage struct{ keys []sortKey }

func buildSortStage(spec *bson.Document) (Stage, error) {
	var keys []sortKey
	for _, f := range spec.Keys() {
		v, _ := spec.Get(f)
		n, ok := v.Int()
		if !ok {
			return nil, mainyerr.New(mainyerr.KindBadQuery, "$sort values must be 1 or -1")
		}
		dir := 1
		if n < 0 {
			dir = -1
		}
		keys = append(keys, sortKey{field: f, direction: dir})
	}
	return sortStage{keys: keys}, nil
}

func (s sortStage) Apply(docs []*bson.Document, _ Lookup) ([]*bson.Document, error) {
	out := make([]*bson.Document, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		return compareByKeys(out[i], out[j], s.keys) < 0
	})
	return out, nil
}

func compareByKeys(a, b *bson.Document, keys []sortKey) int {
	for _, k := range keys {
		segs := pathutil.Parse(k.field)
		av, aFound := pathutil.Get(a, segs)
		bv, bFound := pathutil.Get(b, segs)
		var c int
		switch {
		case !aFound && !bFound:
			c = 0
		case !aFound:
			c = -1
		case !bFound:
			c = 1
		default:
			c = av[0].Compare(bv[0])
		}
		if k.direction < 0 {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// --- $skip / $limit ---

type skipStage struct{ n int }

func (s skipStage) Apply(docs []*bson.Document, _ Lookup) ([]*bson.Document, error) {
	if s.n >= len(docs) {
		return nil, nil
	}
	if s.n <= 0 {
		return docs, nil
	}
	return docs[s.n:], nil
}

type limitStage struct{ n int }

func (s limitStage) Apply(docs []*bson.Document, _ Lookup) ([]*bson.Document, error) {
	if s.n < 0 || s.n >= len(docs) {
		return docs, nil
	}
	return docs[:s.n], nil
}

// --- $count ---

type countStage struct{ field string }

func (s countStage) Apply(docs []*bson.Document, _ Lookup) ([]*bson.Document, error) {
	out := bson.NewDocument()
	out.Set(s.field, bson.Int(int64(len(docs))))
	return []*bson.Document{out}, nil
}

// --- $lookup ---

type lookupStage struct {
	from         string
	localField   string
	foreignField string
	as           string
}

func buildLookupStage(spec *bson.Document) (Stage, error) {
	get := func(k string) (string, error) {
		v, ok := spec.Get(k)
		if !ok {
			return "", mainyerr.Newf(mainyerr.KindBadQuery, "$lookup requires %q", k)
		}
		s, ok := v.Str()
		if !ok {
			return "", mainyerr.Newf(mainyerr.KindBadQuery, "$lookup %q must be a string", k)
		}
		return s, nil
	}
	from, err := get("from")
	if err != nil {
		return nil, err
	}
	localField, err := get("localField")
	if err != nil {
		return nil, err
	}
	foreignField, err := get("foreignField")
	if err != nil {
		return nil, err
	}
	as, err := get("as")
	if err != nil {
		return nil, err
	}
	return lookupStage{from: from, localField: localField, foreignField: foreignField, as: as}, nil
}

func (s lookupStage) Apply(docs []*bson.Document, lookup Lookup) ([]*bson.Document, error) {
	if lookup == nil {
		return nil, mainyerr.New(mainyerr.KindBadQuery, "$lookup requires a collection resolver")
	}
	foreignDocs, err := lookup.Documents(s.from)
	if err != nil {
		return nil, err
	}
	localSegs := pathutil.Parse(s.localField)
	foreignSegs := pathutil.Parse(s.foreignField)

	out := make([]*bson.Document, len(docs))
	for i, d := range docs {
		localVals, found := pathutil.Get(d, localSegs)
		var matches []bson.Value
		if found && len(localVals) > 0 {
			for _, fd := range foreignDocs {
				fVals, fFound := pathutil.Get(fd, foreignSegs)
				if !fFound {
					continue
				}
				for _, fv := range fVals {
					if fv.Equal(localVals[0]) {
						matches = append(matches, bson.DocumentValue(fd))
						break
					}
				}
			}
		}
		clone := d.Clone()
		clone.Set(s.as, bson.Array(matches))
		out[i] = clone
	}
	return out, nil
}
