package wire

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/objectid"
)

func TestValueRoundtripAllKinds(t *testing.T) {
	id := objectid.New()
	doc := bson.DocumentFromPairs(
		"n", bson.Null(),
		"b", bson.Bool(true),
		"i", bson.Int(42),
		"f", bson.Float(3.5),
		"s", bson.String("hello"),
		"t", bson.Time(time.Unix(1000, 0).UTC()),
		"id", bson.ID(id),
		"bin", bson.BinaryValue(bson.NewBinary([]byte{1, 2, 3})),
		"arr", bson.Array([]bson.Value{bson.Int(1), bson.String("x")}),
	)

	var buf bytes.Buffer
	if err := EncodeValue(&buf, bson.DocumentValue(doc)); err != nil {
		t.Fatal(err)
	}
	out, err := DecodeValue(&buf)
	if err != nil {
		t.Fatal(err)
	}
	decoded, ok := out.DocumentVal()
	if !ok {
		t.Fatal("expected decoded value to be a document")
	}
	if !decoded.Equal(doc) {
		t.Fatalf("roundtrip mismatch: got %v, want %v", decoded, doc)
	}
}

func TestSnapshotRoundtripViaFile(t *testing.T) {
	dir := t.TempDir()

	snap := NewSnapshot()
	snap.Databases["app"] = map[string]CollectionSnapshot{
		"users": {
			Documents: []*bson.Document{
				bson.DocumentFromPairs("_id", bson.ID(objectid.New()), "name", bson.String("alice")),
			},
			Indexes: []IndexDescriptor{
				{Name: "name_1", Fields: []IndexDescriptorField{{Field: "name", Direction: 1}}},
			},
		},
	}

	if err := WriteFile(dir, snap); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "mainydb.mdb")); err != nil {
		t.Fatalf("expected snapshot file to exist: %v", err)
	}

	loaded, err := ReadFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	coll := loaded.Databases["app"]["users"]
	if len(coll.Documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(coll.Documents))
	}
	if len(coll.Indexes) != 1 || coll.Indexes[0].Name != "name_1" {
		t.Fatalf("expected 1 index descriptor named name_1, got %+v", coll.Indexes)
	}
}

func TestReadMissingFileReturnsNilWithoutError(t *testing.T) {
	dir := t.TempDir()
	snap, err := ReadFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Fatal("expected nil snapshot for a missing file")
	}
}

func TestResolvePathHandlesFileAndDirectory(t *testing.T) {
	if got := ResolvePath("/tmp/custom.mdb"); got != "/tmp/custom.mdb" {
		t.Fatalf("got %q, want /tmp/custom.mdb", got)
	}
	if got := ResolvePath("/tmp/mydir"); got != filepath.Join("/tmp/mydir", "mainydb.mdb") {
		t.Fatalf("got %q", got)
	}
}
