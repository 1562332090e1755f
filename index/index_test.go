package index

import (
	"testing"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/objectid"
)

func TestCreateAndCandidatesEquality(t *testing.T) {
	s := NewSet()
	id1, id2, id3 := objectid.New(), objectid.New(), objectid.New()
	docs := map[objectid.ID]*bson.Document{
		id1: bson.DocumentFromPairs("age", bson.Int(20), "name", bson.String("a")),
		id2: bson.DocumentFromPairs("age", bson.Int(30), "name", bson.String("b")),
		id3: bson.DocumentFromPairs("age", bson.Int(30), "name", bson.String("c")),
	}
	name, err := s.Create(Descriptor{{Field: "age", Direction: 1}}, docs)
	if err != nil {
		t.Fatal(err)
	}
	if name != "age_1" {
		t.Fatalf("index name = %q, want age_1", name)
	}

	query := bson.DocumentFromPairs("age", bson.Int(30))
	plan := s.Choose(query)
	if plan.Index == nil || plan.Coverage != 1 {
		t.Fatalf("expected coverage 1, got %+v", plan)
	}
	ids, ok := s.Candidates(plan, query)
	if !ok || len(ids) != 2 {
		t.Fatalf("expected 2 candidate ids, got %v ok=%v", ids, ok)
	}
}

func TestPlannerPrefersGreaterCoverage(t *testing.T) {
	s := NewSet()
	docs := map[objectid.ID]*bson.Document{}
	if _, err := s.Create(Descriptor{{Field: "a", Direction: 1}}, docs); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(Descriptor{{Field: "a", Direction: 1}, {Field: "b", Direction: 1}}, docs); err != nil {
		t.Fatal(err)
	}

	query := bson.DocumentFromPairs("a", bson.Int(1), "b", bson.Int(2))
	plan := s.Choose(query)
	if plan.Coverage != 2 {
		t.Fatalf("expected the two-field index to win with coverage 2, got %+v", plan)
	}
}

func TestIndexMaintenanceOnUpdateAndDelete(t *testing.T) {
	s := NewSet()
	id := objectid.New()
	doc := bson.DocumentFromPairs("age", bson.Int(20))
	docs := map[objectid.ID]*bson.Document{id: doc}
	if _, err := s.Create(Descriptor{{Field: "age", Direction: 1}}, docs); err != nil {
		t.Fatal(err)
	}

	newDoc := bson.DocumentFromPairs("age", bson.Int(99))
	s.UpdateDoc(id, doc, newDoc)

	query := bson.DocumentFromPairs("age", bson.Int(99))
	plan := s.Choose(query)
	ids, ok := s.Candidates(plan, query)
	if !ok || len(ids) != 1 || ids[0] != id {
		t.Fatalf("expected updated doc to be found at new key, got %v ok=%v", ids, ok)
	}

	s.RemoveDoc(id, newDoc)
	plan = s.Choose(query)
	ids, ok = s.Candidates(plan, query)
	if ok && len(ids) != 0 {
		t.Fatalf("expected no candidates after removal, got %v", ids)
	}
}

func TestRangeCoverage(t *testing.T) {
	s := NewSet()
	id1, id2 := objectid.New(), objectid.New()
	docs := map[objectid.ID]*bson.Document{
		id1: bson.DocumentFromPairs("score", bson.Int(10)),
		id2: bson.DocumentFromPairs("score", bson.Int(90)),
	}
	if _, err := s.Create(Descriptor{{Field: "score", Direction: 1}}, docs); err != nil {
		t.Fatal(err)
	}

	query := bson.DocumentFromPairs("score", bson.DocumentValue(bson.DocumentFromPairs("$gte", bson.Int(50))))
	plan := s.Choose(query)
	if plan.Coverage != 1 {
		t.Fatalf("expected range clause to count as coverage 1, got %+v", plan)
	}
	ids, ok := s.Candidates(plan, query)
	if !ok || len(ids) != 1 || ids[0] != id2 {
		t.Fatalf("expected only id2 above threshold, got %v ok=%v", ids, ok)
	}
}
