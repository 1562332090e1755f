// Package cursor implements Cursor (spec §4.5): a filtered sequence of
// document IDs with chainable sort/skip/limit/projection, materialized in
// the order filter -> sort -> skip -> limit -> project -> decrypt.
package cursor

import (
	"sort"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/mainyerr"
	"github.com/dddevid/mainydb/objectid"
	"github.com/dddevid/mainydb/pathutil"
)

// SortKey is one (field, direction) component of a Cursor's sort spec.
type SortKey struct {
	Field     string
	Direction int // +1 ascending, -1 descending
}

// Fetch resolves a document ID to its current stored document. The
// collection supplies this so Cursor never has to know about storage.
type Fetch func(objectid.ID) (*bson.Document, bool)

// Decrypt restores cipher-fields to plaintext on a document about to be
// returned to the caller. It may be nil (no encryption configured).
type Decrypt func(*bson.Document) (*bson.Document, error)

// Projection selects which fields survive materialization: an inclusion
// spec names fields to keep, an exclusion spec names fields to drop. The
// two may not be mixed, except that "_id": false is always permitted
// alongside an inclusion spec (spec §4.5).
type Projection struct {
	Include    bool
	Fields     []string
	ExcludeID  bool
}

// Cursor is a snapshot of candidate IDs plus deferred sort/skip/limit/
// projection parameters, materialized lazily by ToList/Count/Each.
type Cursor struct {
	ids     []objectid.ID
	fetch   Fetch
	decrypt Decrypt
	sorts   []SortKey
	skip    int
	limit   int // -1 means unlimited
	proj    *Projection
}

// New builds a Cursor over the given candidate IDs. fetch resolves an ID to
// its live document; decrypt may be nil.
func New(ids []objectid.ID, fetch Fetch, decrypt Decrypt) *Cursor {
	return &Cursor{ids: ids, fetch: fetch, decrypt: decrypt, limit: -1}
}

// Sort appends a sort key and returns the Cursor for chaining.
func (c *Cursor) Sort(field string, direction int) *Cursor {
	c.sorts = append(c.sorts, SortKey{Field: field, Direction: direction})
	return c
}

// Skip sets the number of leading results to drop after sorting.
func (c *Cursor) Skip(n int) *Cursor {
	c.skip = n
	return c
}

// Limit sets the maximum number of results to return after skip. A
// negative value means unlimited.
func (c *Cursor) Limit(n int) *Cursor {
	c.limit = n
	return c
}

// Project sets the projection spec.
func (c *Cursor) Project(p *Projection) *Cursor {
	c.proj = p
	return c
}

// Count reports the number of candidate documents the cursor matched,
// independent of skip/limit (spec §4.5: Cursor exposes "iteration,
// materialization to a list, count").
func (c *Cursor) Count() int {
	return len(c.ids)
}

// ToList materializes the cursor: sort, skip, limit, project, decrypt, in
// that order.
func (c *Cursor) ToList() ([]*bson.Document, error) {
	docs := make([]*bson.Document, 0, len(c.ids))
	for _, id := range c.ids {
		d, ok := c.fetch(id)
		if !ok {
			continue
		}
		docs = append(docs, d)
	}

	if len(c.sorts) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			return compareBySortKeys(docs[i], docs[j], c.sorts) < 0
		})
	}

	if c.skip > 0 {
		if c.skip >= len(docs) {
			docs = nil
		} else {
			docs = docs[c.skip:]
		}
	}
	if c.limit >= 0 && c.limit < len(docs) {
		docs = docs[:c.limit]
	}

	out := make([]*bson.Document, len(docs))
	for i, d := range docs {
		pd := d
		if c.proj != nil {
			pd = applyProjection(d, c.proj)
		}
		if c.decrypt != nil {
			var err error
			pd, err = c.decrypt(pd)
			if err != nil {
				return nil, err
			}
		}
		out[i] = pd
	}
	return out, nil
}

// Each materializes the cursor and invokes fn for each document in order,
// stopping early if fn returns false.
func (c *Cursor) Each(fn func(*bson.Document) bool) error {
	docs, err := c.ToList()
	if err != nil {
		return err
	}
	for _, d := range docs {
		if !fn(d) {
			break
		}
	}
	return nil
}

// compareBySortKeys compares two documents field-by-field using §4.2
// ordering; a missing field sorts before a present one regardless of
// direction (spec §4.5).
func compareBySortKeys(a, b *bson.Document, keys []SortKey) int {
	for _, k := range keys {
		segs := pathutil.Parse(k.Field)
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
			if k.Direction < 0 {
				c = -c
			}
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func applyProjection(d *bson.Document, p *Projection) *bson.Document {
	if p.Include {
		if len(p.Fields) == 0 {
			// No inclusion fields named: the spec was just {"_id": 0},
			// which passes the document through untouched except for _id.
			out := d.Clone()
			if p.ExcludeID {
				pathutil.Unset(out, pathutil.Parse("_id"))
			}
			return out
		}

		out := bson.NewDocument()
		wantID := !p.ExcludeID
		for _, f := range p.Fields {
			if f == "_id" {
				wantID = true
				continue
			}
			segs := pathutil.Parse(f)
			vals, found := pathutil.Get(d, segs)
			if !found || len(vals) == 0 {
				continue
			}
			pathutil.Set(out, segs, vals[0])
		}
		if wantID {
			if idv, ok := d.Get("_id"); ok {
				out.Set("_id", idv)
			}
		}
		return out
	}

	clone := d.Clone()
	for _, f := range p.Fields {
		pathutil.Unset(clone, pathutil.Parse(f))
	}
	if p.ExcludeID {
		pathutil.Unset(clone, pathutil.Parse("_id"))
	}
	return clone
}

// NewProjection builds a Projection from a MongoDB-style spec document
// where each value is 1/true (include) or 0/false (exclude). Returns an
// error if inclusion and exclusion are mixed outside the "_id": 0
// exception.
func NewProjection(spec *bson.Document) (*Projection, error) {
	if spec == nil || spec.Len() == 0 {
		return nil, nil
	}
	p := &Projection{}
	sawInclude := false
	sawExclude := false
	for _, f := range spec.Keys() {
		v, _ := spec.Get(f)
		include := truthy(v)
		if f == "_id" && !include {
			p.ExcludeID = true
			continue
		}
		if include {
			sawInclude = true
		} else {
			sawExclude = true
		}
		p.Fields = append(p.Fields, f)
	}
	if sawInclude && sawExclude {
		return nil, mainyerr.New(mainyerr.KindBadQuery, "projection cannot mix inclusion and exclusion (except _id: 0)")
	}
	p.Include = sawInclude || (!sawInclude && !sawExclude)
	if !sawInclude && sawExclude {
		p.Include = false
	}
	return p, nil
}

func truthy(v bson.Value) bool {
	if b, ok := v.Bool(); ok {
		return b
	}
	if n, ok := v.Int(); ok {
		return n != 0
	}
	if f, ok := v.Float(); ok {
		return f != 0
	}
	return false
}
