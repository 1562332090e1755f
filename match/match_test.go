package match

import (
	"testing"

	"github.com/dddevid/mainydb/bson"
)

func doc(pairs ...any) *bson.Document {
	return bson.DocumentFromPairs(pairs...)
}

func TestEvalLiteralEquality(t *testing.T) {
	d := doc("name", bson.String("alice"), "age", bson.Int(30))
	q := doc("name", bson.String("alice"))
	matched, _, err := Eval(q, d)
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Fatal("expected match on literal equality")
	}
}

func TestEvalComparisonOperators(t *testing.T) {
	d := doc("age", bson.Int(30))
	q := doc("age", bson.DocumentValue(doc("$gte", bson.Int(18), "$lte", bson.Int(65))))
	matched, _, err := Eval(q, d)
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Fatal("expected age in range to match")
	}
}

func TestEvalAndOrNor(t *testing.T) {
	d := doc("a", bson.Int(1), "b", bson.Int(2))

	qAnd := doc("$and", bson.Array([]bson.Value{
		bson.DocumentValue(doc("a", bson.Int(1))),
		bson.DocumentValue(doc("b", bson.Int(2))),
	}))
	matched, _, err := Eval(qAnd, d)
	if err != nil || !matched {
		t.Fatalf("expected $and to match, matched=%v err=%v", matched, err)
	}

	qOr := doc("$or", bson.Array([]bson.Value{
		bson.DocumentValue(doc("a", bson.Int(99))),
		bson.DocumentValue(doc("b", bson.Int(2))),
	}))
	matched, _, err = Eval(qOr, d)
	if err != nil || !matched {
		t.Fatalf("expected $or to match, matched=%v err=%v", matched, err)
	}

	qNor := doc("$nor", bson.Array([]bson.Value{
		bson.DocumentValue(doc("a", bson.Int(99))),
		bson.DocumentValue(doc("b", bson.Int(98))),
	}))
	matched, _, err = Eval(qNor, d)
	if err != nil || !matched {
		t.Fatalf("expected $nor to match, matched=%v err=%v", matched, err)
	}
}

func TestEvalInNin(t *testing.T) {
	d := doc("tags", bson.Array([]bson.Value{bson.String("go"), bson.String("db")}))

	qIn := doc("tags", bson.DocumentValue(doc("$in", bson.Array([]bson.Value{bson.String("db")}))))
	matched, _, err := Eval(qIn, d)
	if err != nil || !matched {
		t.Fatalf("expected $in element match, matched=%v err=%v", matched, err)
	}

	qNin := doc("tags", bson.DocumentValue(doc("$nin", bson.Array([]bson.Value{bson.String("rust")}))))
	matched, _, err = Eval(qNin, d)
	if err != nil || !matched {
		t.Fatalf("expected $nin to match, matched=%v err=%v", matched, err)
	}
}

func TestEvalExistsAndType(t *testing.T) {
	d := doc("name", bson.String("alice"))

	qExists := doc("missing", bson.DocumentValue(doc("$exists", bson.Bool(false))))
	matched, _, err := Eval(qExists, d)
	if err != nil || !matched {
		t.Fatalf("expected $exists false to match absent field, matched=%v err=%v", matched, err)
	}

	qType := doc("name", bson.DocumentValue(doc("$type", bson.String("string"))))
	matched, _, err = Eval(qType, d)
	if err != nil || !matched {
		t.Fatalf("expected $type string to match, matched=%v err=%v", matched, err)
	}
}

func TestEvalAllAndSize(t *testing.T) {
	d := doc("tags", bson.Array([]bson.Value{bson.String("a"), bson.String("b"), bson.String("c")}))

	qAll := doc("tags", bson.DocumentValue(doc("$all", bson.Array([]bson.Value{bson.String("a"), bson.String("c")}))))
	matched, _, err := Eval(qAll, d)
	if err != nil || !matched {
		t.Fatalf("expected $all to match, matched=%v err=%v", matched, err)
	}

	qSize := doc("tags", bson.DocumentValue(doc("$size", bson.Int(3))))
	matched, _, err = Eval(qSize, d)
	if err != nil || !matched {
		t.Fatalf("expected $size to match, matched=%v err=%v", matched, err)
	}
}

func TestEvalElemMatchAndPositionalCapture(t *testing.T) {
	c1 := doc("user", bson.String("user0"), "likes", bson.Int(1))
	c2 := doc("user", bson.String("user1"), "likes", bson.Int(5))
	d := doc("comments", bson.Array([]bson.Value{
		bson.DocumentValue(c1), bson.DocumentValue(c2),
	}))

	q := doc("comments.user", bson.String("user1"))
	matched, info, err := Eval(q, d)
	if err != nil || !matched {
		t.Fatalf("expected dotted-path match, matched=%v err=%v", matched, err)
	}
	idx, ok := info.Positional["comments.user"]
	if !ok || idx != 1 {
		t.Fatalf("expected positional capture at index 1, got idx=%d ok=%v", idx, ok)
	}

	qElem := doc("comments", bson.DocumentValue(doc("$elemMatch", bson.DocumentValue(doc("likes", bson.DocumentValue(doc("$gt", bson.Int(3))))))))
	matched, info, err = Eval(qElem, d)
	if err != nil || !matched {
		t.Fatalf("expected $elemMatch to match, matched=%v err=%v", matched, err)
	}
	if idx, ok := info.Positional["comments"]; !ok || idx != 1 {
		t.Fatalf("expected $elemMatch positional capture at index 1, got idx=%d ok=%v", idx, ok)
	}
}

func TestEvalRegex(t *testing.T) {
	d := doc("name", bson.String("Alice"))
	q := doc("name", bson.DocumentValue(doc("$regex", bson.String("^alice$"), "$options", bson.String("i"))))
	matched, _, err := Eval(q, d)
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Fatal("expected case-insensitive regex to match")
	}
}

func TestEvalRegexExtendedOptionIgnoresWhitespaceAndComments(t *testing.T) {
	d := doc("name", bson.String("Alice"))
	pattern := `^ali  ce $  # trailing comment`
	q := doc("name", bson.DocumentValue(doc("$regex", bson.String(pattern), "$options", bson.String("xi"))))
	matched, _, err := Eval(q, d)
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Fatal("expected extended-mode regex to ignore unescaped whitespace and the trailing comment")
	}
}

func TestEvalNot(t *testing.T) {
	d := doc("age", bson.Int(30))
	q := doc("age", bson.DocumentValue(doc("$not", bson.DocumentValue(doc("$gt", bson.Int(40))))))
	matched, _, err := Eval(q, d)
	if err != nil || !matched {
		t.Fatalf("expected $not to invert a false comparison, matched=%v err=%v", matched, err)
	}
}
