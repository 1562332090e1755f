package mainydb

import (
	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/mainyerr"
)

// BulkOp is one tagged operation in a BulkWrite batch (spec §4.7).
type BulkOp struct {
	Kind     string // insert_one, update_one, update_many, replace_one, delete_one, delete_many
	Document *bson.Document
	Query    *bson.Document
	Update   *bson.Document
	Upsert   bool
}

// BulkWrite runs ops in list order, each under the collection lock, and
// reports aggregate counts. It stops at the first failing operation and
// returns the partial tally alongside the error (spec §7).
func (c *Collection) BulkWrite(ops []BulkOp) (BulkWriteResult, error) {
	var result BulkWriteResult
	for _, op := range ops {
		switch op.Kind {
		case "insert_one":
			if _, err := c.InsertOne(op.Document); err != nil {
				return result, err
			}
			result.InsertedCount++
		case "update_one":
			r, err := c.UpdateOne(op.Query, op.Update, op.Upsert)
			if err != nil {
				return result, err
			}
			result.ModifiedCount += r.ModifiedCount
			if !r.UpsertedID.IsNull() {
				result.UpsertedCount++
			}
		case "update_many":
			r, err := c.UpdateMany(op.Query, op.Update, op.Upsert)
			if err != nil {
				return result, err
			}
			result.ModifiedCount += r.ModifiedCount
			if !r.UpsertedID.IsNull() {
				result.UpsertedCount++
			}
		case "replace_one":
			r, err := c.ReplaceOne(op.Query, op.Document, op.Upsert)
			if err != nil {
				return result, err
			}
			result.ModifiedCount += r.ModifiedCount
			if !r.UpsertedID.IsNull() {
				result.UpsertedCount++
			}
		case "delete_one":
			n, err := c.DeleteOne(op.Query)
			if err != nil {
				return result, err
			}
			result.DeletedCount += n
		case "delete_many":
			n, err := c.DeleteMany(op.Query)
			if err != nil {
				return result, err
			}
			result.DeletedCount += n
		default:
			return result, mainyerr.Newf(mainyerr.KindBadQuery, "bulk_write: unknown operation %q", op.Kind)
		}
	}
	return result, nil
}
