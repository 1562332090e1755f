package aggregate

import (
	"testing"

	"github.com/dddevid/mainydb/bson"
)

func doc(pairs ...any) *bson.Document {
	return bson.DocumentFromPairs(pairs...)
}

func stage(name string, arg bson.Value) bson.Value {
	return bson.DocumentValue(doc(name, arg))
}

func TestGroupSumAndSort(t *testing.T) {
	docs := []*bson.Document{
		doc("group", bson.String("A"), "val", bson.Int(10)),
		doc("group", bson.String("A"), "val", bson.Int(5)),
		doc("group", bson.String("B"), "val", bson.Int(3)),
	}

	stages := []bson.Value{
		stage("$match", bson.DocumentValue(doc())),
		stage("$group", bson.DocumentValue(doc(
			"_id", bson.String("$group"),
			"total", bson.DocumentValue(doc("$sum", bson.String("$val"))),
		))),
		stage("$sort", bson.DocumentValue(doc("_id", bson.Int(1)))),
	}

	p, err := New(stages)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(docs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(out))
	}
	idA, _ := out[0].Get("_id")
	s, _ := idA.Str()
	if s != "A" {
		t.Fatalf("expected first group A, got %q", s)
	}
	totalA, _ := out[0].Get("total")
	f, _ := totalA.AsFloat64()
	if f != 15 {
		t.Fatalf("expected total 15, got %v", f)
	}
}

func TestProjectWithComputedField(t *testing.T) {
	docs := []*bson.Document{
		doc("_id", bson.Int(1), "first", bson.String("a"), "last", bson.String("b")),
	}
	stages := []bson.Value{
		stage("$project", bson.DocumentValue(doc(
			"full", bson.DocumentValue(doc("$concat", bson.Array([]bson.Value{
				bson.String("$first"), bson.String("-"), bson.String("$last"),
			}))),
		))),
	}
	p, err := New(stages)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(docs, nil)
	if err != nil {
		t.Fatal(err)
	}
	full, ok := out[0].Get("full")
	if !ok {
		t.Fatal("expected computed field full")
	}
	s, _ := full.Str()
	if s != "a-b" {
		t.Fatalf("got %q, want a-b", s)
	}
}

func TestUnwindExpandsArray(t *testing.T) {
	docs := []*bson.Document{
		doc("_id", bson.Int(1), "tags", bson.Array([]bson.Value{bson.String("x"), bson.String("y")})),
	}
	stages := []bson.Value{stage("$unwind", bson.String("$tags"))}
	p, err := New(stages)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(docs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 documents after unwind, got %d", len(out))
	}
}

func TestCountStage(t *testing.T) {
	docs := []*bson.Document{doc("a", bson.Int(1)), doc("a", bson.Int(2))}
	stages := []bson.Value{stage("$count", bson.String("n"))}
	p, err := New(stages)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(docs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected single count document, got %d", len(out))
	}
	n, _ := out[0].Get("n")
	v, _ := n.Int()
	if v != 2 {
		t.Fatalf("count = %d, want 2", v)
	}
}

type fakeLookup struct{ docs map[string][]*bson.Document }

func (f fakeLookup) Documents(collection string) ([]*bson.Document, error) {
	return f.docs[collection], nil
}

func TestLookupJoin(t *testing.T) {
	orders := []*bson.Document{doc("_id", bson.Int(1), "userId", bson.Int(42))}
	users := []*bson.Document{doc("_id", bson.Int(42), "name", bson.String("alice"))}
	lookup := fakeLookup{docs: map[string][]*bson.Document{"users": users}}

	stages := []bson.Value{
		stage("$lookup", bson.DocumentValue(doc(
			"from", bson.String("users"),
			"localField", bson.String("userId"),
			"foreignField", bson.String("_id"),
			"as", bson.String("user"),
		))),
	}
	p, err := New(stages)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(orders, lookup)
	if err != nil {
		t.Fatal(err)
	}
	joined, ok := out[0].Get("user")
	if !ok {
		t.Fatal("expected user field from lookup")
	}
	arr, _ := joined.ArrayVal()
	if len(arr) != 1 {
		t.Fatalf("expected 1 joined doc, got %d", len(arr))
	}
}
