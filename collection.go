package mainydb

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/cursor"
	"github.com/dddevid/mainydb/encryption"
	"github.com/dddevid/mainydb/index"
	"github.com/dddevid/mainydb/mainyerr"
	"github.com/dddevid/mainydb/match"
	"github.com/dddevid/mainydb/objectid"
	"github.com/dddevid/mainydb/pathutil"
	"github.com/dddevid/mainydb/update"
	"github.com/dddevid/mainydb/util"
	"github.com/dddevid/mainydb/wire"
)

// Collection owns an ordered set of documents plus an IndexSet and an
// EncryptionManager (spec §3/§4.7). Every coarse operation holds mu for its
// whole duration; the encryption manager's cipher lock nests inside it.
type Collection struct {
	mu sync.Mutex

	db   *Database
	name string

	documents map[objectid.ID]*bson.Document
	indexes   *index.Set
	encMgr    *encryption.Manager
}

func newCollection(db *Database, name string) *Collection {
	cfg := db.store.encryptionConfigFor(db.name, name)
	mgr, err := encryption.NewManager(cfg, db.store.encryptionKey, db.store.sink)
	if err != nil {
		// Key resolution only fails when crypto/rand itself is exhausted.
		// Fall back to an unmanaged manager rather than letting a single
		// collection's construction take the whole Store down.
		mgr, _ = encryption.NewManager(encryption.NewConfig(nil, nil), nil, db.store.sink)
	}
	return &Collection{
		db:        db,
		name:      name,
		documents: make(map[objectid.ID]*bson.Document),
		indexes:   index.NewSet(),
		encMgr:    mgr,
	}
}

// Name returns the collection's name within its Database.
func (c *Collection) Name() string { return c.name }

// idFromValue accepts the two forms spec §4.1 parses: a bson identifier
// value, or its 24-character hex string.
func idFromValue(v bson.Value) (objectid.ID, error) {
	switch v.Kind() {
	case bson.KindID:
		id, _ := v.IDVal()
		return id, nil
	case bson.KindString:
		s, _ := v.Str()
		return objectid.FromHex(s)
	default:
		return objectid.ID{}, mainyerr.Newf(mainyerr.KindInvalidID, "_id must be an identifier or a hex string, got %s", v.Kind())
	}
}

// InsertOne assigns _id if absent, validates uniqueness, encrypts
// designated fields, and updates every index (spec §4.7).
func (c *Collection) InsertOne(doc *bson.Document) (InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.insertLocked(doc)
	if err != nil {
		return InsertOneResult{}, err
	}
	return InsertOneResult{InsertedID: bson.ID(id)}, nil
}

// InsertMany inserts docs in order under a single lock, stopping at the
// first failure and returning the ids that were committed so far alongside
// the error (spec §7: "bulk operations stop at the first failing step").
func (c *Collection) InsertMany(docs []*bson.Document) (InsertManyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]bson.Value, 0, len(docs))
	for _, d := range docs {
		id, err := c.insertLocked(d)
		if err != nil {
			return InsertManyResult{InsertedIDs: ids}, err
		}
		ids = append(ids, bson.ID(id))
	}
	return InsertManyResult{InsertedIDs: ids}, nil
}

func (c *Collection) insertLocked(doc *bson.Document) (objectid.ID, error) {
	d := doc.Clone()
	var id objectid.ID
	if idv, ok := d.Get("_id"); ok {
		parsed, err := idFromValue(idv)
		if err != nil {
			return objectid.ID{}, err
		}
		id = parsed
	} else {
		id = objectid.New()
	}
	d.Set("_id", bson.ID(id))

	if _, exists := c.documents[id]; exists {
		return objectid.ID{}, mainyerr.Newf(mainyerr.KindDuplicateID, "document with _id %s already exists", id)
	}
	stored, err := c.encMgr.EncryptDocument(d)
	if err != nil {
		return objectid.ID{}, err
	}
	c.documents[id] = stored
	c.indexes.InsertDoc(id, stored)
	return id, nil
}

// filterIDsLocked evaluates query against every document reachable through
// the planner's chosen index (or a full scan) and returns the matching ids
// in a deterministic order, plus each match's positional Info. Callers must
// hold mu.
func (c *Collection) filterIDsLocked(query *bson.Document) ([]objectid.ID, map[objectid.ID]*match.Info, error) {
	plan := c.indexes.Choose(query)
	var scanIDs []objectid.ID
	if plan.Index != nil {
		ids, _ := c.indexes.Candidates(plan, query)
		scanIDs = ids
	} else {
		scanIDs = make([]objectid.ID, 0, len(c.documents))
		for id := range c.documents {
			scanIDs = append(scanIDs, id)
		}
	}

	var matched []objectid.ID
	infos := make(map[objectid.ID]*match.Info)
	for _, id := range scanIDs {
		stored := c.documents[id]
		plain, err := c.encMgr.DecryptDocument(stored)
		if err != nil {
			return nil, nil, err
		}
		ok, info, err := match.Eval(query, plain)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			matched = append(matched, id)
			infos[id] = info
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Compare(matched[j]) < 0 })
	return matched, infos, nil
}

func (c *Collection) fetch(id objectid.ID) (*bson.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.documents[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (c *Collection) decrypt(d *bson.Document) (*bson.Document, error) {
	return c.encMgr.DecryptDocument(d)
}

// Find evaluates query under the collection lock, snapshots the matching
// ids, and returns a Cursor that resolves them lazily outside the lock
// (spec §5: "snapshots the candidate-ID list under the lock, releases it,
// then materializes outside the lock").
func (c *Collection) Find(query *bson.Document) (*cursor.Cursor, error) {
	c.mu.Lock()
	ids, _, err := c.filterIDsLocked(query)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return cursor.New(ids, c.fetch, c.decrypt), nil
}

// FindOne is Find restricted to a single result, with an optional
// projection document. It reports whether any document matched.
func (c *Collection) FindOne(query, projection *bson.Document) (*bson.Document, bool, error) {
	cur, err := c.Find(query)
	if err != nil {
		return nil, false, err
	}
	if projection != nil {
		p, err := cursor.NewProjection(projection)
		if err != nil {
			return nil, false, err
		}
		cur.Project(p)
	}
	docs, err := cur.Limit(1).ToList()
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

// VerifyHash checks plaintext against a stored hash-field on the first
// document matching query (spec §4.8: "the only way to test a value
// against a hash-field").
func (c *Collection) VerifyHash(query *bson.Document, field, plaintext string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, _, err := c.filterIDsLocked(query)
	if err != nil {
		return false, err
	}
	if len(ids) == 0 {
		return false, nil
	}
	stored := c.documents[ids[0]]
	return c.encMgr.VerifyHash(field, plaintext, stored)
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

// seedFromQuery extracts literal equality (or $eq) clauses from query's
// top-level fields, for upsert synthesis (spec §4.3).
func seedFromQuery(query *bson.Document) *bson.Document {
	seed := bson.NewDocument()
	if query == nil {
		return seed
	}
	for _, f := range query.Keys() {
		if strings.HasPrefix(f, "$") {
			continue
		}
		v, _ := query.Get(f)
		if doc, ok := v.DocumentVal(); ok && isOperatorDoc(doc) {
			if eq, ok2 := doc.Get("$eq"); ok2 {
				seed.Set(f, eq)
			}
			continue
		}
		seed.Set(f, v)
	}
	return seed
}

func hasUpdateOperators(u *bson.Document) bool {
	for _, k := range u.Keys() {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// buildUpsertDoc synthesizes the document to insert when an update/replace
// with upsert finds no match (spec §4.3).
func buildUpsertDoc(query, updateDoc *bson.Document) (*bson.Document, error) {
	seed := seedFromQuery(query)
	if hasUpdateOperators(updateDoc) {
		if err := update.Apply(updateDoc, seed, nil); err != nil {
			return nil, err
		}
		return seed, nil
	}
	out := seed.Clone()
	for _, k := range updateDoc.Keys() {
		v, _ := updateDoc.Get(k)
		out.Set(k, v)
	}
	return out, nil
}

// UpdateOne applies updateDoc to the first document matching query.
func (c *Collection) UpdateOne(query, updateDoc *bson.Document, upsert bool) (UpdateResult, error) {
	return c.update(query, updateDoc, upsert, false)
}

// UpdateMany applies updateDoc to every document matching query.
func (c *Collection) UpdateMany(query, updateDoc *bson.Document, upsert bool) (UpdateResult, error) {
	return c.update(query, updateDoc, upsert, true)
}

func (c *Collection) update(query, updateDoc *bson.Document, upsert, many bool) (UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, infos, err := c.filterIDsLocked(query)
	if err != nil {
		return UpdateResult{}, err
	}
	if len(ids) == 0 {
		if !upsert {
			return UpdateResult{}, nil
		}
		doc, err := buildUpsertDoc(query, updateDoc)
		if err != nil {
			return UpdateResult{}, err
		}
		id, err := c.insertLocked(doc)
		if err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{UpsertedID: bson.ID(id)}, nil
	}
	if !many {
		ids = ids[:1]
	}

	var matched, modified int64
	operators := hasUpdateOperators(updateDoc)
	for _, id := range ids {
		stored := c.documents[id]
		plain, err := c.encMgr.DecryptDocument(stored)
		if err != nil {
			return UpdateResult{}, err
		}
		var target *bson.Document
		if operators {
			target = plain.Clone()
			if err := update.Apply(updateDoc, target, infos[id]); err != nil {
				return UpdateResult{}, err
			}
		} else {
			idv, _ := plain.Get("_id")
			target = updateDoc.Clone()
			target.Set("_id", idv)
		}
		matched++
		if !plain.Equal(target) {
			modified++
		}
		newStored, err := c.encMgr.EncryptDocument(target)
		if err != nil {
			return UpdateResult{}, err
		}
		c.indexes.UpdateDoc(id, stored, newStored)
		c.documents[id] = newStored
	}
	return UpdateResult{MatchedCount: matched, ModifiedCount: modified}, nil
}

// ReplaceOne replaces the first document matching query with replacement,
// preserving _id.
func (c *Collection) ReplaceOne(query, replacement *bson.Document, upsert bool) (UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, _, err := c.filterIDsLocked(query)
	if err != nil {
		return UpdateResult{}, err
	}
	if len(ids) == 0 {
		if !upsert {
			return UpdateResult{}, nil
		}
		doc, err := buildUpsertDoc(query, replacement)
		if err != nil {
			return UpdateResult{}, err
		}
		id, err := c.insertLocked(doc)
		if err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{UpsertedID: bson.ID(id)}, nil
	}

	id := ids[0]
	stored := c.documents[id]
	plain, err := c.encMgr.DecryptDocument(stored)
	if err != nil {
		return UpdateResult{}, err
	}
	idv, _ := plain.Get("_id")
	target := replacement.Clone()
	target.Set("_id", idv)

	var modified int64
	if !plain.Equal(target) {
		modified = 1
	}
	newStored, err := c.encMgr.EncryptDocument(target)
	if err != nil {
		return UpdateResult{}, err
	}
	c.indexes.UpdateDoc(id, stored, newStored)
	c.documents[id] = newStored
	return UpdateResult{MatchedCount: 1, ModifiedCount: modified}, nil
}

// DeleteOne removes the first document matching query.
func (c *Collection) DeleteOne(query *bson.Document) (int64, error) {
	return c.delete(query, false)
}

// DeleteMany removes every document matching query.
func (c *Collection) DeleteMany(query *bson.Document) (int64, error) {
	return c.delete(query, true)
}

func (c *Collection) delete(query *bson.Document, many bool) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, _, err := c.filterIDsLocked(query)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if !many {
		ids = ids[:1]
	}
	for _, id := range ids {
		stored := c.documents[id]
		c.indexes.RemoveDoc(id, stored)
		delete(c.documents, id)
	}
	return int64(len(ids)), nil
}

// CountDocuments reports how many documents match query.
func (c *Collection) CountDocuments(query *bson.Document) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, _, err := c.filterIDsLocked(query)
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// Distinct returns the unique values of field across every document
// matching query.
func (c *Collection) Distinct(field string, query *bson.Document) ([]bson.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, _, err := c.filterIDsLocked(query)
	if err != nil {
		return nil, err
	}
	segs := pathutil.Parse(field)
	seen := make(map[string]bool)
	var out []bson.Value
	for _, id := range ids {
		plain, err := c.encMgr.DecryptDocument(c.documents[id])
		if err != nil {
			return nil, err
		}
		vals, found := pathutil.Get(plain, segs)
		if !found {
			continue
		}
		for _, v := range vals {
			key := fmt.Sprintf("%d:%s", v.Kind(), v.GoString())
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out, nil
}

// CreateIndex registers an index over the given (field, direction) keys,
// rebuilding it from the current documents (spec §4.4, open question 1).
func (c *Collection) CreateIndex(keys ...index.Key) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexes.Create(index.Descriptor(keys), c.documents)
}

// CreateIndexFields is the plain-field-list convenience form of
// CreateIndex: every field is ascending.
func (c *Collection) CreateIndexFields(fields ...string) (string, error) {
	keys := make([]index.Key, len(fields))
	for i, f := range fields {
		keys[i] = index.Key{Field: f, Direction: 1}
	}
	return c.CreateIndex(keys...)
}

// DropIndex removes the named index. It is a no-op if the index does not
// exist.
func (c *Collection) DropIndex(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes.Drop(name)
}

// IndexNames reports the names of every maintained index.
func (c *Collection) IndexNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexes.Names()
}

// Drop destroys every document and index in the collection (spec §3:
// "destroyed by delete or by drop on the collection").
func (c *Collection) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.documents = make(map[objectid.ID]*bson.Document)
	c.indexes = index.NewSet()
}

func (c *Collection) indexDescriptors() []wire.IndexDescriptor {
	return util.TransformSlice(c.indexes.Descriptors(), func(d index.Descriptor) wire.IndexDescriptor {
		fields := util.TransformSlice([]index.Key(d), func(k index.Key) wire.IndexDescriptorField {
			return wire.IndexDescriptorField{Field: k.Field, Direction: k.Direction}
		})
		return wire.IndexDescriptor{Name: d.Name(), Fields: fields}
	})
}

// Stats reports document count, approximate total encoded size, and
// average document size, using the same codec the Store persists with.
func (c *Collection) Stats() StatsResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := int64(len(c.documents))
	var totalSize int64
	for _, d := range c.documents {
		var buf bytes.Buffer
		if err := wire.EncodeValue(&buf, bson.DocumentValue(d)); err == nil {
			totalSize += int64(buf.Len())
		}
	}
	var avg float64
	if count > 0 {
		avg = float64(totalSize) / float64(count)
	}
	return StatsResult{Count: count, Size: totalSize, AvgObjSize: avg}
}
