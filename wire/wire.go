// Package wire implements the Store's binary snapshot codec (spec §4.9): a
// recursive, self-describing, length-prefixed encoding for the document
// graph, written with encoding/binary the way the pack's binary-store repos
// (offset stores, compact indexes) frame their records.
package wire

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/mainyerr"
	"github.com/dddevid/mainydb/objectid"
)

// Tag bytes identify which Value alternative follows. Stable across
// releases since a snapshot written by one version must stay readable.
const (
	tagNull byte = iota
	tagBool
	tagInt
	tagFloat
	tagString
	tagTime
	tagID
	tagBinary
	tagArray
	tagDocument
)

// --- primitive writers/readers ---

func writeUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func readUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func readInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// --- Value codec ---

// EncodeValue writes v's tag and payload to w.
func EncodeValue(w io.Writer, v bson.Value) error {
	switch v.Kind() {
	case bson.KindNull:
		return writeUint8(w, tagNull)
	case bson.KindBool:
		b, _ := v.Bool()
		if err := writeUint8(w, tagBool); err != nil {
			return err
		}
		if b {
			return writeUint8(w, 1)
		}
		return writeUint8(w, 0)
	case bson.KindInt:
		i, _ := v.Int()
		if err := writeUint8(w, tagInt); err != nil {
			return err
		}
		return writeInt64(w, i)
	case bson.KindFloat:
		f, _ := v.Float()
		if err := writeUint8(w, tagFloat); err != nil {
			return err
		}
		return writeInt64(w, int64(math.Float64bits(f)))
	case bson.KindString:
		s, _ := v.Str()
		if err := writeUint8(w, tagString); err != nil {
			return err
		}
		return writeBytes(w, []byte(s))
	case bson.KindTime:
		t, _ := v.TimeVal()
		if err := writeUint8(w, tagTime); err != nil {
			return err
		}
		return writeInt64(w, t.UnixNano())
	case bson.KindID:
		id, _ := v.IDVal()
		if err := writeUint8(w, tagID); err != nil {
			return err
		}
		_, err := w.Write(id[:])
		return err
	case bson.KindBinary:
		b, _ := v.BinaryVal()
		if err := writeUint8(w, tagBinary); err != nil {
			return err
		}
		return writeBytes(w, b.Bytes())
	case bson.KindArray:
		arr, _ := v.ArrayVal()
		if err := writeUint8(w, tagArray); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(arr))); err != nil {
			return err
		}
		for _, e := range arr {
			if err := EncodeValue(w, e); err != nil {
				return err
			}
		}
		return nil
	case bson.KindDocument:
		d, _ := v.DocumentVal()
		if err := writeUint8(w, tagDocument); err != nil {
			return err
		}
		keys := d.Keys()
		if err := writeUint32(w, uint32(len(keys))); err != nil {
			return err
		}
		for _, k := range keys {
			if err := writeBytes(w, []byte(k)); err != nil {
				return err
			}
			fv, _ := d.Get(k)
			if err := EncodeValue(w, fv); err != nil {
				return err
			}
		}
		return nil
	default:
		return mainyerr.Newf(mainyerr.KindCorruptStore, "cannot encode value of kind %v", v.Kind())
	}
}

// DecodeValue reads one tagged value from r.
func DecodeValue(r io.Reader) (bson.Value, error) {
	tag, err := readUint8(r)
	if err != nil {
		return bson.Value{}, err
	}
	switch tag {
	case tagNull:
		return bson.Null(), nil
	case tagBool:
		b, err := readUint8(r)
		if err != nil {
			return bson.Value{}, err
		}
		return bson.Bool(b != 0), nil
	case tagInt:
		i, err := readInt64(r)
		if err != nil {
			return bson.Value{}, err
		}
		return bson.Int(i), nil
	case tagFloat:
		bits, err := readInt64(r)
		if err != nil {
			return bson.Value{}, err
		}
		return bson.Float(math.Float64frombits(uint64(bits))), nil
	case tagString:
		b, err := readBytes(r)
		if err != nil {
			return bson.Value{}, err
		}
		return bson.String(string(b)), nil
	case tagTime:
		ns, err := readInt64(r)
		if err != nil {
			return bson.Value{}, err
		}
		return bson.Time(timeFromUnixNano(ns)), nil
	case tagID:
		var raw [objectid.Size]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return bson.Value{}, err
		}
		id, err := objectid.FromBytes(raw[:])
		if err != nil {
			return bson.Value{}, mainyerr.Wrap(mainyerr.KindCorruptStore, "invalid identifier in snapshot", err)
		}
		return bson.ID(id), nil
	case tagBinary:
		b, err := readBytes(r)
		if err != nil {
			return bson.Value{}, err
		}
		return bson.BinaryValue(bson.NewBinary(b)), nil
	case tagArray:
		n, err := readUint32(r)
		if err != nil {
			return bson.Value{}, err
		}
		arr := make([]bson.Value, n)
		for i := range arr {
			v, err := DecodeValue(r)
			if err != nil {
				return bson.Value{}, err
			}
			arr[i] = v
		}
		return bson.Array(arr), nil
	case tagDocument:
		n, err := readUint32(r)
		if err != nil {
			return bson.Value{}, err
		}
		doc := bson.NewDocument()
		for i := uint32(0); i < n; i++ {
			keyBytes, err := readBytes(r)
			if err != nil {
				return bson.Value{}, err
			}
			v, err := DecodeValue(r)
			if err != nil {
				return bson.Value{}, err
			}
			doc.Set(string(keyBytes), v)
		}
		return bson.DocumentValue(doc), nil
	default:
		return bson.Value{}, mainyerr.Newf(mainyerr.KindCorruptStore, "unknown tag byte %d in snapshot", tag)
	}
}

func timeFromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// --- Snapshot structures (spec §4.9) ---

// IndexDescriptorField is one (field, direction) component persisted for an
// index; indexes are persisted as descriptors only and rebuilt on load.
type IndexDescriptorField struct {
	Field     string
	Direction int
}

// IndexDescriptor names a persisted index by its fields.
type IndexDescriptor struct {
	Name   string
	Fields []IndexDescriptorField
}

// CollectionSnapshot is one collection's persisted documents and index
// descriptors.
type CollectionSnapshot struct {
	Documents []*bson.Document
	Indexes   []IndexDescriptor
}

// Snapshot is the full persisted Store mapping: database name -> collection
// name -> CollectionSnapshot.
type Snapshot struct {
	Databases map[string]map[string]CollectionSnapshot
}

// NewSnapshot returns an empty Snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Databases: make(map[string]map[string]CollectionSnapshot)}
}

// Encode writes the full snapshot to w.
func (s *Snapshot) Encode(w io.Writer) error {
	dbNames := sortedKeys(s.Databases)
	if err := writeUint32(w, uint32(len(dbNames))); err != nil {
		return err
	}
	for _, dbName := range dbNames {
		if err := writeBytes(w, []byte(dbName)); err != nil {
			return err
		}
		colls := s.Databases[dbName]
		collNames := sortedCollKeys(colls)
		if err := writeUint32(w, uint32(len(collNames))); err != nil {
			return err
		}
		for _, collName := range collNames {
			if err := writeBytes(w, []byte(collName)); err != nil {
				return err
			}
			if err := encodeCollection(w, colls[collName]); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeCollection(w io.Writer, c CollectionSnapshot) error {
	if err := writeUint32(w, uint32(len(c.Documents))); err != nil {
		return err
	}
	for _, d := range c.Documents {
		if err := EncodeValue(w, bson.DocumentValue(d)); err != nil {
			return err
		}
	}
	if err := writeUint32(w, uint32(len(c.Indexes))); err != nil {
		return err
	}
	for _, ix := range c.Indexes {
		if err := writeBytes(w, []byte(ix.Name)); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(ix.Fields))); err != nil {
			return err
		}
		for _, f := range ix.Fields {
			if err := writeBytes(w, []byte(f.Field)); err != nil {
				return err
			}
			if err := writeInt64(w, int64(f.Direction)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Decode reads a full snapshot from r.
func Decode(r io.Reader) (*Snapshot, error) {
	s := NewSnapshot()
	dbCount, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < dbCount; i++ {
		nameBytes, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		collCount, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		colls := make(map[string]CollectionSnapshot, collCount)
		for j := uint32(0); j < collCount; j++ {
			collNameBytes, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			cs, err := decodeCollection(r)
			if err != nil {
				return nil, err
			}
			colls[string(collNameBytes)] = cs
		}
		s.Databases[string(nameBytes)] = colls
	}
	return s, nil
}

func decodeCollection(r io.Reader) (CollectionSnapshot, error) {
	docCount, err := readUint32(r)
	if err != nil {
		return CollectionSnapshot{}, err
	}
	docs := make([]*bson.Document, docCount)
	for i := range docs {
		v, err := DecodeValue(r)
		if err != nil {
			return CollectionSnapshot{}, err
		}
		d, ok := v.DocumentVal()
		if !ok {
			return CollectionSnapshot{}, mainyerr.New(mainyerr.KindCorruptStore, "expected document value in snapshot")
		}
		docs[i] = d
	}
	ixCount, err := readUint32(r)
	if err != nil {
		return CollectionSnapshot{}, err
	}
	indexes := make([]IndexDescriptor, ixCount)
	for i := range indexes {
		nameBytes, err := readBytes(r)
		if err != nil {
			return CollectionSnapshot{}, err
		}
		fieldCount, err := readUint32(r)
		if err != nil {
			return CollectionSnapshot{}, err
		}
		fields := make([]IndexDescriptorField, fieldCount)
		for k := range fields {
			fieldBytes, err := readBytes(r)
			if err != nil {
				return CollectionSnapshot{}, err
			}
			dir, err := readInt64(r)
			if err != nil {
				return CollectionSnapshot{}, err
			}
			fields[k] = IndexDescriptorField{Field: string(fieldBytes), Direction: int(dir)}
		}
		indexes[i] = IndexDescriptor{Name: string(nameBytes), Fields: fields}
	}
	return CollectionSnapshot{Documents: docs, Indexes: indexes}, nil
}

func sortedKeys(m map[string]map[string]CollectionSnapshot) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}

func sortedCollKeys(m map[string]CollectionSnapshot) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// --- file I/O ---

const snapshotFileName = "mainydb.mdb"

// ResolvePath turns a Store path argument (a directory or a file ending in
// ".mdb") into the concrete snapshot file path, per spec §4.9.
func ResolvePath(path string) string {
	if strings.HasSuffix(path, ".mdb") {
		return path
	}
	return filepath.Join(path, snapshotFileName)
}

// WriteFile serializes snap and writes it atomically (write-temp-then-
// rename) to the resolved snapshot path.
func WriteFile(path string, snap *Snapshot) error {
	target := ResolvePath(path)
	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return mainyerr.Wrap(mainyerr.KindIOError, "failed to create snapshot directory", err)
		}
	}
	tmp := target + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return mainyerr.Wrap(mainyerr.KindIOError, "failed to create temporary snapshot file", err)
	}
	bw := bufio.NewWriter(f)
	if err := snap.Encode(bw); err != nil {
		f.Close()
		os.Remove(tmp)
		return mainyerr.Wrap(mainyerr.KindIOError, "failed to encode snapshot", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return mainyerr.Wrap(mainyerr.KindIOError, "failed to flush snapshot", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return mainyerr.Wrap(mainyerr.KindIOError, "failed to close snapshot file", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return mainyerr.Wrap(mainyerr.KindIOError, "failed to commit snapshot", err)
	}
	return nil
}

// ReadFile reads and decodes the snapshot at the resolved path. A missing
// file is reported as (nil, nil) so callers can treat it as an empty store.
func ReadFile(path string) (*Snapshot, error) {
	target := ResolvePath(path)
	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, mainyerr.Wrap(mainyerr.KindIOError, "failed to open snapshot file", err)
	}
	defer f.Close()
	snap, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, mainyerr.Wrap(mainyerr.KindCorruptStore, "failed to decode snapshot", err)
	}
	return snap, nil
}
