package mainydb

import (
	"sync"
	"testing"

	"github.com/dddevid/mainydb/bson"
)

// Concurrent $inc from many goroutines must converge on threads*incsPerThread
// total, never losing an increment to a racing read-modify-write (spec §8).
func TestConcurrentIncConverges(t *testing.T) {
	const threads = 5
	const incsPerThread = 500

	c := testCollection(t, "counters")
	id := "507f1f77bcf86cd799439011"
	if _, err := c.InsertOne(doc("_id", bson.String(id), "count", bson.Int(0))); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, threads)
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < incsPerThread; j++ {
				if _, err := c.UpdateOne(doc("_id", bson.String(id)), doc("$inc", doc("count", bson.Int(1))), false); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	found, ok, err := c.FindOne(doc("_id", bson.String(id)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected the counter document to still exist")
	}
	count, _ := found.Get("count")
	got, _ := count.Int()
	want := int64(threads * incsPerThread)
	if got != want {
		t.Fatalf("expected count to converge on %d, got %d", want, got)
	}
}

// Concurrent Find calls must never observe a torn write: every returned
// document either has both "a" and "b" set or neither (spec §5).
func TestConcurrentFindNeverObservesPartialUpdate(t *testing.T) {
	const iterations = 200

	c := testCollection(t, "pairs")
	id := "507f1f77bcf86cd799439012"
	if _, err := c.InsertOne(doc("_id", bson.String(id), "a", bson.Int(0), "b", bson.Int(0))); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			c.UpdateOne(doc("_id", bson.String(id)), doc("$set", doc("a", bson.Int(i+1), "b", bson.Int(i+1))), false)
		}
		close(stop)
	}()

	var readErr error
	for {
		select {
		case <-stop:
			wg.Wait()
			if readErr != nil {
				t.Fatal(readErr)
			}
			return
		default:
		}
		found, ok, err := c.FindOne(doc("_id", bson.String(id)), nil)
		if err != nil {
			readErr = err
			continue
		}
		if !ok {
			continue
		}
		av, _ := found.Get("a")
		bv, _ := found.Get("b")
		a, _ := av.Int()
		b, _ := bv.Int()
		if a != b {
			t.Fatalf("observed torn update: a=%d b=%d", a, b)
		}
	}
}

// Aggregation with $lookup locks both collections in name order regardless
// of which collection initiates the pipeline, so two aggregations running
// in opposite directions between the same two collections must not
// deadlock (spec §5).
func TestAggregateLookupOppositeDirectionsDoNotDeadlock(t *testing.T) {
	s := newTestStore(t)
	db := s.Database("app")
	orders, err := db.Collection("orders")
	if err != nil {
		t.Fatal(err)
	}
	customers, err := db.Collection("customers")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orders.InsertOne(doc("customerId", bson.String("c1"))); err != nil {
		t.Fatal(err)
	}
	if _, err := customers.InsertOne(doc("customerId", bson.String("c1"))); err != nil {
		t.Fatal(err)
	}

	lookupStage := func(from, localField, foreignField, as string) bson.Value {
		return bson.DocumentValue(doc("$lookup", doc(
			"from", bson.String(from),
			"localField", bson.String(localField),
			"foreignField", bson.String(foreignField),
			"as", bson.String(as),
		)))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 2)
	go func() {
		defer wg.Done()
		if _, err := orders.Aggregate([]bson.Value{lookupStage("customers", "customerId", "customerId", "customer")}); err != nil {
			errs <- err
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := customers.Aggregate([]bson.Value{lookupStage("orders", "customerId", "customerId", "orders")}); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
