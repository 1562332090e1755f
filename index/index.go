// Package index implements IndexSet (spec §4.4): an ordered mapping from
// key-tuples to document ID sets, index maintenance on insert/update/delete,
// and a planner that picks the index whose descriptor prefix best covers a
// query's literal-equality and bounded-range clauses.
package index

import (
	"sort"
	"strings"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/mainyerr"
	"github.com/dddevid/mainydb/objectid"
	"github.com/dddevid/mainydb/pathutil"
)

// Key is one (field, direction) component of an index descriptor.
// Direction is +1 (ascending) or -1 (descending).
type Key struct {
	Field     string
	Direction int
}

// Descriptor is the ordered list of Keys that defines an index.
type Descriptor []Key

// Name renders the descriptor as "f1_d1_f2_d2..." per spec §4.4.
func (d Descriptor) Name() string {
	var b strings.Builder
	for i, k := range d {
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(k.Field)
		b.WriteByte('_')
		if k.Direction < 0 {
			b.WriteString("-1")
		} else {
			b.WriteString("1")
		}
	}
	return b.String()
}

// entry is one key-tuple in the index's ordered mapping, holding every
// document ID currently sharing that tuple.
type entry struct {
	tuple []bson.Value
	ids   map[objectid.ID]struct{}
}

// Index is a single maintained ordered mapping from key-tuple to document
// IDs.
type Index struct {
	Descriptor Descriptor
	createdAt  int
	entries    []*entry // kept sorted by tuple per Descriptor's directions
}

func newIndex(desc Descriptor, createdAt int) *Index {
	return &Index{Descriptor: desc, createdAt: createdAt}
}

func (ix *Index) keyFor(doc *bson.Document) []bson.Value {
	tuple := make([]bson.Value, len(ix.Descriptor))
	for i, k := range ix.Descriptor {
		segs := pathutil.Parse(k.Field)
		vals, found := pathutil.Get(doc, segs)
		if !found || len(vals) == 0 {
			tuple[i] = bson.Null()
			continue
		}
		tuple[i] = vals[0]
	}
	return tuple
}

func (ix *Index) compareTuples(a, b []bson.Value) int {
	for i := 0; i < len(ix.Descriptor); i++ {
		c := a[i].Compare(b[i])
		if ix.Descriptor[i].Direction < 0 {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func (ix *Index) findEntry(tuple []bson.Value) (int, bool) {
	idx := sort.Search(len(ix.entries), func(i int) bool {
		return ix.compareTuples(ix.entries[i].tuple, tuple) >= 0
	})
	if idx < len(ix.entries) && ix.compareTuples(ix.entries[idx].tuple, tuple) == 0 {
		return idx, true
	}
	return idx, false
}

// Insert adds id to the index under doc's key.
func (ix *Index) Insert(id objectid.ID, doc *bson.Document) {
	tuple := ix.keyFor(doc)
	pos, found := ix.findEntry(tuple)
	if found {
		ix.entries[pos].ids[id] = struct{}{}
		return
	}
	e := &entry{tuple: tuple, ids: map[objectid.ID]struct{}{id: {}}}
	ix.entries = append(ix.entries, nil)
	copy(ix.entries[pos+1:], ix.entries[pos:])
	ix.entries[pos] = e
}

// Remove drops id from the entry matching doc's key.
func (ix *Index) Remove(id objectid.ID, doc *bson.Document) {
	tuple := ix.keyFor(doc)
	pos, found := ix.findEntry(tuple)
	if !found {
		return
	}
	delete(ix.entries[pos].ids, id)
	if len(ix.entries[pos].ids) == 0 {
		ix.entries = append(ix.entries[:pos], ix.entries[pos+1:]...)
	}
}

// Update moves id from oldDoc's key to newDoc's key, when the key actually
// changed (a no-op otherwise).
func (ix *Index) Update(id objectid.ID, oldDoc, newDoc *bson.Document) {
	oldTuple := ix.keyFor(oldDoc)
	newTuple := ix.keyFor(newDoc)
	if ix.compareTuples(oldTuple, newTuple) == 0 {
		return
	}
	ix.Remove(id, oldDoc)
	ix.Insert(id, newDoc)
}

// Set is an ordered collection of Index values belonging to one collection,
// maintaining them together and offering planner-driven lookup.
type Set struct {
	indexes []*Index
	seq     int
}

// NewSet returns an empty index set.
func NewSet() *Set {
	return &Set{}
}

// Names reports the names of all currently maintained indexes, in creation
// order.
func (s *Set) Names() []string {
	out := make([]string, len(s.indexes))
	for i, ix := range s.indexes {
		out[i] = ix.Descriptor.Name()
	}
	return out
}

// Descriptors returns each maintained index's descriptor, in creation
// order, for serialization (spec §4.9: "indexes persisted as descriptors
// only").
func (s *Set) Descriptors() []Descriptor {
	out := make([]Descriptor, len(s.indexes))
	for i, ix := range s.indexes {
		out[i] = ix.Descriptor
	}
	return out
}

// Create registers a new index over desc and rebuilds it from docs (called
// both for explicit create_index calls and snapshot load). Returns the
// index's canonical name. A descriptor already present is a no-op returning
// the existing name.
func (s *Set) Create(desc Descriptor, docs map[objectid.ID]*bson.Document) (string, error) {
	if len(desc) == 0 {
		return "", mainyerr.New(mainyerr.KindBadQuery, "index descriptor must name at least one field")
	}
	name := desc.Name()
	for _, ix := range s.indexes {
		if ix.Descriptor.Name() == name {
			return name, nil
		}
	}
	ix := newIndex(desc, s.seq)
	s.seq++
	for id, doc := range docs {
		ix.Insert(id, doc)
	}
	s.indexes = append(s.indexes, ix)
	return name, nil
}

// Drop removes the named index. It is a no-op if the index does not exist.
func (s *Set) Drop(name string) {
	for i, ix := range s.indexes {
		if ix.Descriptor.Name() == name {
			s.indexes = append(s.indexes[:i], s.indexes[i+1:]...)
			return
		}
	}
}

// InsertDoc adds id/doc to every maintained index.
func (s *Set) InsertDoc(id objectid.ID, doc *bson.Document) {
	for _, ix := range s.indexes {
		ix.Insert(id, doc)
	}
}

// RemoveDoc removes id/doc from every maintained index.
func (s *Set) RemoveDoc(id objectid.ID, doc *bson.Document) {
	for _, ix := range s.indexes {
		ix.Remove(id, doc)
	}
}

// UpdateDoc adjusts every maintained index for id whose document changed
// from oldDoc to newDoc.
func (s *Set) UpdateDoc(id objectid.ID, oldDoc, newDoc *bson.Document) {
	for _, ix := range s.indexes {
		ix.Update(id, oldDoc, newDoc)
	}
}

// clause describes one field's usable predicate extracted from a query
// document for planning purposes.
type clause struct {
	equality    bool
	eqValue     bson.Value
	hasLower    bool
	lower       bson.Value
	lowerIncl   bool
	hasUpper    bool
	upper       bson.Value
	upperIncl   bool
}

// extractClauses scans a top-level query document for per-field equality or
// bounded-range predicates usable by the planner. Logical/array/regex
// operators are not analyzed — a field under one of those does not
// contribute to prefix coverage for that field.
func extractClauses(query *bson.Document) map[string]clause {
	out := make(map[string]clause)
	if query == nil {
		return out
	}
	for _, field := range query.Keys() {
		if strings.HasPrefix(field, "$") {
			continue
		}
		v, _ := query.Get(field)
		c := clause{}
		if doc, ok := v.DocumentVal(); ok && isOperatorDoc(doc) {
			for _, op := range doc.Keys() {
				opVal, _ := doc.Get(op)
				switch op {
				case "$eq":
					c.equality = true
					c.eqValue = opVal
				case "$gt":
					c.hasLower, c.lower, c.lowerIncl = true, opVal, false
				case "$gte":
					c.hasLower, c.lower, c.lowerIncl = true, opVal, true
				case "$lt":
					c.hasUpper, c.upper, c.upperIncl = true, opVal, false
				case "$lte":
					c.hasUpper, c.upper, c.upperIncl = true, opVal, true
				}
			}
		} else {
			c.equality = true
			c.eqValue = v
		}
		if c.equality || c.hasLower || c.hasUpper {
			out[field] = c
		}
	}
	return out
}

func isOperatorDoc(d *bson.Document) bool {
	if d.Len() == 0 {
		return false
	}
	for _, k := range d.Keys() {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// Plan describes the chosen access path for a query.
type Plan struct {
	Index    *Index // nil means full scan
	Coverage int
}

// Choose implements the planner (spec §4.4): prefix coverage, then more
// equality segments, then fewer total fields, then creation order.
func (s *Set) Choose(query *bson.Document) Plan {
	clauses := extractClauses(query)
	var best *Index
	bestCoverage := 0
	bestEquality := 0
	bestFields := 0

	for _, ix := range s.indexes {
		coverage := 0
		equality := 0
		for _, k := range ix.Descriptor {
			c, ok := clauses[k.Field]
			if !ok {
				break
			}
			if c.equality {
				coverage++
				equality++
				continue
			}
			if c.hasLower || c.hasUpper {
				coverage++
			}
			break // a range clause (or no usable clause) terminates the prefix
		}
		if coverage == 0 {
			continue
		}
		fields := len(ix.Descriptor)
		better := false
		switch {
		case coverage > bestCoverage:
			better = true
		case coverage == bestCoverage && equality > bestEquality:
			better = true
		case coverage == bestCoverage && equality == bestEquality && fields < bestFields:
			better = true
		case coverage == bestCoverage && equality == bestEquality && fields == bestFields &&
			best != nil && ix.createdAt < best.createdAt:
			better = true
		}
		if best == nil || better {
			best = ix
			bestCoverage = coverage
			bestEquality = equality
			bestFields = fields
		}
	}
	return Plan{Index: best, Coverage: bestCoverage}
}

// Candidates returns the document IDs selected by plan's index using the
// clauses in query, restricted to the covered prefix. Range bounds on the
// first uncovered-by-equality field are honored; the caller (Collection)
// re-evaluates the full query against each candidate via MatchEngine.
func (s *Set) Candidates(plan Plan, query *bson.Document) ([]objectid.ID, bool) {
	if plan.Index == nil {
		return nil, false
	}
	clauses := extractClauses(query)
	ix := plan.Index

	ids := make(map[objectid.ID]struct{})
	first := true
	for i := 0; i < plan.Coverage; i++ {
		field := ix.Descriptor[i].Field
		c := clauses[field]
		matched := make(map[objectid.ID]struct{})
		for _, e := range ix.entries {
			v := e.tuple[i]
			if c.equality {
				if !v.Equal(c.eqValue) {
					continue
				}
			} else {
				if c.hasLower {
					cmp := v.Compare(c.lower)
					if cmp < 0 || (cmp == 0 && !c.lowerIncl) {
						continue
					}
				}
				if c.hasUpper {
					cmp := v.Compare(c.upper)
					if cmp > 0 || (cmp == 0 && !c.upperIncl) {
						continue
					}
				}
			}
			for id := range e.ids {
				matched[id] = struct{}{}
			}
		}
		if first {
			ids = matched
			first = false
		} else {
			for id := range ids {
				if _, ok := matched[id]; !ok {
					delete(ids, id)
				}
			}
		}
	}

	out := make([]objectid.ID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out, true
}
