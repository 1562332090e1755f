package mainydb

import "github.com/dddevid/mainydb/bson"

// InsertOneResult is the output of InsertOne.
type InsertOneResult struct {
	InsertedID bson.Value
}

// InsertManyResult is the output of InsertMany.
type InsertManyResult struct {
	InsertedIDs []bson.Value
}

// UpdateResult is the output of UpdateOne, UpdateMany, and ReplaceOne.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedID    bson.Value // zero Value (KindNull) when no upsert occurred
}

// BulkWriteResult is the aggregate tally produced by BulkWrite.
type BulkWriteResult struct {
	InsertedCount int64
	ModifiedCount int64
	DeletedCount  int64
	UpsertedCount int64
}

// StatsResult is the output of Stats.
type StatsResult struct {
	Count      int64
	Size       int64
	AvgObjSize float64
}

// ToEagerMap converts doc to a plain map[string]any, resolving Binary
// fields to raw bytes immediately. FindOne does not call it: it returns the
// *bson.Document with Binary values unconverted.
func ToEagerMap(doc *bson.Document) map[string]any {
	return toResultMap(doc, false)
}

// ToLazyMap converts doc to a plain map[string]any, leaving Binary fields
// as a zero-argument bson.Thunk instead of resolving them. Find and its
// cursor do not call it: they yield *bson.Document values with Binary
// values unconverted.
func ToLazyMap(doc *bson.Document) map[string]any {
	return toResultMap(doc, true)
}

func toResultMap(doc *bson.Document, lazy bool) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, doc.Len())
	for _, k := range doc.Keys() {
		v, _ := doc.Get(k)
		out[k] = toResultValue(v, lazy)
	}
	return out
}

func toResultValue(v bson.Value, lazy bool) any {
	switch v.Kind() {
	case bson.KindBinary:
		b, _ := v.BinaryVal()
		if lazy {
			return b.Lazy()
		}
		return b.Bytes()
	case bson.KindArray:
		arr, _ := v.ArrayVal()
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = toResultValue(e, lazy)
		}
		return out
	case bson.KindDocument:
		d, _ := v.DocumentVal()
		return toResultMap(d, lazy)
	default:
		return bson.ToAny(v)
	}
}
