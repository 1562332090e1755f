package mainydb

import (
	"github.com/dddevid/mainydb/aggregate"
	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/mainyerr"
	"github.com/dddevid/mainydb/objectid"
)

// ResultCursor is the materialized-document stream an aggregation pipeline
// produces. Unlike Cursor, it carries no object identifiers of its own — a
// $group stage can reshape documents entirely — so it only exposes the
// iteration surface spec §4.5 describes: list, count, each.
type ResultCursor struct {
	docs []*bson.Document
}

// ToList returns every document in the result.
func (r *ResultCursor) ToList() []*bson.Document { return r.docs }

// Count reports the number of documents in the result.
func (r *ResultCursor) Count() int { return len(r.docs) }

// Each invokes fn for each document in order, stopping early if fn
// returns false.
func (r *ResultCursor) Each(fn func(*bson.Document) bool) {
	for _, d := range r.docs {
		if !fn(d) {
			break
		}
	}
}

// dbLookup implements aggregate.Lookup by reading an already-locked foreign
// collection's documents directly (Aggregate has locked every collection
// named by the pipeline's $lookup stages before Run is called).
type dbLookup struct {
	db *Database
}

func (l dbLookup) Documents(name string) ([]*bson.Document, error) {
	coll, ok := l.db.getCollection(name)
	if !ok {
		return nil, mainyerr.Newf(mainyerr.KindBadQuery, "$lookup: unknown collection %q", name)
	}
	out := make([]*bson.Document, 0, len(coll.documents))
	for _, stored := range coll.documents {
		plain, err := coll.encMgr.DecryptDocument(stored)
		if err != nil {
			return nil, err
		}
		out = append(out, plain)
	}
	return out, nil
}

// lookupTargets scans a pipeline's stage documents for every $lookup
// "from" collection name, so Aggregate can lock them all up front in name
// order (spec §5).
func lookupTargets(stages []bson.Value) []string {
	var out []string
	for _, sv := range stages {
		sd, ok := sv.DocumentVal()
		if !ok {
			continue
		}
		for _, k := range sd.Keys() {
			if k != "$lookup" {
				continue
			}
			argv, _ := sd.Get(k)
			arg, ok := argv.DocumentVal()
			if !ok {
				continue
			}
			fromV, ok := arg.Get("from")
			if !ok {
				continue
			}
			if s, ok := fromV.Str(); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Aggregate runs a pipeline (spec §4.6) over the collection's documents.
// Every collection named by a $lookup stage, plus this collection itself,
// is locked in name order before the pipeline runs.
func (c *Collection) Aggregate(stages []bson.Value) (*ResultCursor, error) {
	p, err := aggregate.New(stages)
	if err != nil {
		return nil, err
	}

	locks, err := c.db.lockInOrder(append([]string{c.name}, lookupTargets(stages)...))
	if err != nil {
		return nil, err
	}
	defer locks.unlockAll()

	ids := make([]objectid.ID, 0, len(c.documents))
	for id := range c.documents {
		ids = append(ids, id)
	}
	docs := make([]*bson.Document, 0, len(ids))
	for _, id := range ids {
		plain, err := c.encMgr.DecryptDocument(c.documents[id])
		if err != nil {
			return nil, err
		}
		docs = append(docs, plain)
	}

	out, err := p.Run(docs, dbLookup{db: c.db})
	if err != nil {
		return nil, err
	}
	return &ResultCursor{docs: out}, nil
}
