package mainydb

import (
	"testing"

	"github.com/dddevid/mainydb/bson"
)

func doc(pairs ...any) *bson.Document {
	return bson.DocumentFromPairs(pairs...)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func testCollection(t *testing.T, name string) *Collection {
	t.Helper()
	s := newTestStore(t)
	db := s.Database("app")
	c, err := db.Collection(name)
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	return c
}

func TestInsertOneAssignsID(t *testing.T) {
	c := testCollection(t, "users")
	res, err := c.InsertOne(doc("name", bson.String("alice")))
	if err != nil {
		t.Fatal(err)
	}
	if res.InsertedID.IsNull() {
		t.Fatal("expected a non-null generated _id")
	}
}

func TestInsertOneRejectsDuplicateID(t *testing.T) {
	c := testCollection(t, "users")
	d := doc("_id", bson.String("507f1f77bcf86cd799439011"), "name", bson.String("alice"))
	if _, err := c.InsertOne(d); err != nil {
		t.Fatal(err)
	}
	if _, err := c.InsertOne(d.Clone()); err == nil {
		t.Fatal("expected duplicate _id to fail")
	}
}

func TestFindMatchesLiteralEquality(t *testing.T) {
	c := testCollection(t, "users")
	c.InsertOne(doc("name", bson.String("alice"), "age", bson.Int(30)))
	c.InsertOne(doc("name", bson.String("bob"), "age", bson.Int(40)))

	cur, err := c.Find(doc("name", bson.String("bob")))
	if err != nil {
		t.Fatal(err)
	}
	results, err := cur.ToList()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
	age, _ := results[0].Get("age")
	if v, _ := age.Int(); v != 40 {
		t.Fatalf("expected age 40, got %v", v)
	}
}

func TestFindOneReturnsFalseWhenNoMatch(t *testing.T) {
	c := testCollection(t, "users")
	c.InsertOne(doc("name", bson.String("alice")))
	_, found, err := c.FindOne(doc("name", bson.String("carol")), nil)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected no match")
	}
}

func TestUpdateOneAppliesOperators(t *testing.T) {
	c := testCollection(t, "counters")
	c.InsertOne(doc("_id", bson.String("507f1f77bcf86cd799439011"), "count", bson.Int(1)))

	update := doc("$inc", doc("count", bson.Int(4)))
	res, err := c.UpdateOne(doc("_id", bson.String("507f1f77bcf86cd799439011")), update, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchedCount != 1 || res.ModifiedCount != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	found, _, err := c.FindOne(doc("_id", bson.String("507f1f77bcf86cd799439011")), nil)
	if err != nil {
		t.Fatal(err)
	}
	count, _ := found.Get("count")
	if v, _ := count.Int(); v != 5 {
		t.Fatalf("expected count 5, got %v", v)
	}
}

func TestUpdateOneUpsertSynthesizesDocument(t *testing.T) {
	c := testCollection(t, "counters")
	query := doc("name", bson.String("new-counter"))
	update := doc("$set", doc("count", bson.Int(1)))

	res, err := c.UpdateOne(query, update, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.UpsertedID.IsNull() {
		t.Fatal("expected an upserted _id")
	}

	found, ok, err := c.FindOne(doc("name", bson.String("new-counter")), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected the synthesized document to be findable")
	}
	count, _ := found.Get("count")
	if v, _ := count.Int(); v != 1 {
		t.Fatalf("expected count 1, got %v", v)
	}
}

func TestDeleteManyRemovesAllMatches(t *testing.T) {
	c := testCollection(t, "users")
	c.InsertOne(doc("status", bson.String("inactive")))
	c.InsertOne(doc("status", bson.String("inactive")))
	c.InsertOne(doc("status", bson.String("active")))

	n, err := c.DeleteMany(doc("status", bson.String("inactive")))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}
	count, err := c.CountDocuments(nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 remaining document, got %d", count)
	}
}

func TestDistinctDeduplicatesValues(t *testing.T) {
	c := testCollection(t, "users")
	c.InsertOne(doc("role", bson.String("admin")))
	c.InsertOne(doc("role", bson.String("admin")))
	c.InsertOne(doc("role", bson.String("member")))

	vals, err := c.Distinct("role", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 2 {
		t.Fatalf("expected 2 distinct roles, got %d", len(vals))
	}
}

func TestCreateIndexThenQueryReturnsSameResultAsFullScan(t *testing.T) {
	c := testCollection(t, "users")
	c.InsertOne(doc("email", bson.String("a@example.com")))
	c.InsertOne(doc("email", bson.String("b@example.com")))

	if _, err := c.CreateIndexFields("email"); err != nil {
		t.Fatal(err)
	}
	cur, err := c.Find(doc("email", bson.String("b@example.com")))
	if err != nil {
		t.Fatal(err)
	}
	results, err := cur.ToList()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match via index, got %d", len(results))
	}
}

func TestDropClearsDocumentsAndIndexes(t *testing.T) {
	c := testCollection(t, "users")
	c.InsertOne(doc("name", bson.String("alice")))
	c.CreateIndexFields("name")
	c.Drop()

	count, err := c.CountDocuments(nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected empty collection after Drop, got %d", count)
	}
	if len(c.IndexNames()) != 0 {
		t.Fatal("expected no indexes after Drop")
	}
}

func TestBulkWriteTalliesAcrossOperations(t *testing.T) {
	c := testCollection(t, "users")
	c.InsertOne(doc("_id", bson.String("507f1f77bcf86cd799439011"), "name", bson.String("alice")))

	ops := []BulkOp{
		{Kind: "insert_one", Document: doc("name", bson.String("bob"))},
		{Kind: "update_one", Query: doc("name", bson.String("alice")), Update: doc("$set", doc("age", bson.Int(31)))},
		{Kind: "delete_one", Query: doc("name", bson.String("bob"))},
	}
	result, err := c.BulkWrite(ops)
	if err != nil {
		t.Fatal(err)
	}
	if result.InsertedCount != 1 || result.ModifiedCount != 1 || result.DeletedCount != 1 {
		t.Fatalf("unexpected tally: %+v", result)
	}
}
