package cursor

import (
	"testing"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/objectid"
)

func makeStore() (map[objectid.ID]*bson.Document, []objectid.ID) {
	store := make(map[objectid.ID]*bson.Document)
	ids := make([]objectid.ID, 0, 3)
	names := []string{"carol", "alice", "bob"}
	ages := []int64{40, 20, 30}
	for i := range names {
		id := objectid.New()
		store[id] = bson.DocumentFromPairs("_id", bson.ID(id), "name", bson.String(names[i]), "age", bson.Int(ages[i]))
		ids = append(ids, id)
	}
	return store, ids
}

func fetchFrom(store map[objectid.ID]*bson.Document) Fetch {
	return func(id objectid.ID) (*bson.Document, bool) {
		d, ok := store[id]
		return d, ok
	}
}

func TestCursorSortSkipLimit(t *testing.T) {
	store, ids := makeStore()
	c := New(ids, fetchFrom(store), nil).Sort("age", 1).Skip(1).Limit(1)

	docs, err := c.ToList()
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(docs))
	}
	name, _ := docs[0].Get("name")
	s, _ := name.Str()
	if s != "bob" {
		t.Fatalf("expected bob (second by age), got %q", s)
	}
}

func TestCursorCountIgnoresSkipLimit(t *testing.T) {
	store, ids := makeStore()
	c := New(ids, fetchFrom(store), nil).Skip(2).Limit(1)
	if c.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", c.Count())
	}
}

func TestCursorInclusionProjection(t *testing.T) {
	store, ids := makeStore()
	spec := bson.DocumentFromPairs("name", bson.Bool(true), "_id", bson.Bool(false))
	proj, err := NewProjection(spec)
	if err != nil {
		t.Fatal(err)
	}
	c := New(ids, fetchFrom(store), nil).Project(proj)
	docs, err := c.ToList()
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range docs {
		if d.Has("_id") || d.Has("age") {
			t.Fatalf("expected only name field, got %v", d.Keys())
		}
		if !d.Has("name") {
			t.Fatal("expected name field present")
		}
	}
}

func TestCursorBareExcludeIDKeepsRestOfDocument(t *testing.T) {
	store, ids := makeStore()
	spec := bson.DocumentFromPairs("_id", bson.Bool(false))
	proj, err := NewProjection(spec)
	if err != nil {
		t.Fatal(err)
	}
	c := New(ids, fetchFrom(store), nil).Project(proj)
	docs, err := c.ToList()
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range docs {
		if d.Has("_id") {
			t.Fatalf("expected _id to be dropped, got %v", d.Keys())
		}
		if !d.Has("name") || !d.Has("age") {
			t.Fatalf("expected rest of document to survive, got %v", d.Keys())
		}
	}
}

func TestCursorExclusionProjectionHonorsExplicitExcludeID(t *testing.T) {
	store, ids := makeStore()
	spec := bson.DocumentFromPairs("_id", bson.Bool(false), "age", bson.Bool(false))
	proj, err := NewProjection(spec)
	if err != nil {
		t.Fatal(err)
	}
	c := New(ids, fetchFrom(store), nil).Project(proj)
	docs, err := c.ToList()
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range docs {
		if d.Has("_id") || d.Has("age") {
			t.Fatalf("expected _id and age to be dropped, got %v", d.Keys())
		}
		if !d.Has("name") {
			t.Fatal("expected name field present")
		}
	}
}

func TestCursorMixedProjectionRejected(t *testing.T) {
	spec := bson.DocumentFromPairs("name", bson.Bool(true), "age", bson.Bool(false))
	if _, err := NewProjection(spec); err == nil {
		t.Fatal("expected mixed inclusion/exclusion to be rejected")
	}
}

func TestCursorDecryptApplied(t *testing.T) {
	store, ids := makeStore()
	calls := 0
	decrypt := func(d *bson.Document) (*bson.Document, error) {
		calls++
		return d, nil
	}
	c := New(ids, fetchFrom(store), decrypt)
	if _, err := c.ToList(); err != nil {
		t.Fatal(err)
	}
	if calls != len(ids) {
		t.Fatalf("expected decrypt called once per document, got %d calls", calls)
	}
}
