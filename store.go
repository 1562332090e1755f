package mainydb

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/diag"
	"github.com/dddevid/mainydb/encryption"
	"github.com/dddevid/mainydb/index"
	"github.com/dddevid/mainydb/objectid"
	"github.com/dddevid/mainydb/util"
	"github.com/dddevid/mainydb/wire"
)

// Options configures a Store at Open.
type Options struct {
	// Path is either a directory (the Store writes <Path>/mainydb.mdb) or a
	// file ending in .mdb. Empty means an in-memory Store with no
	// persistence.
	Path string
	// Config declares per-collection hash-fields/cipher-fields. Nil means
	// no collection has managed fields.
	Config *StoreConfig
	// EncryptionKey is the explicit AES key/passphrase, taking precedence
	// over MAINYDB_ENCRYPTION_KEY (spec §4.8).
	EncryptionKey []byte
	// Sink receives diagnostic warnings. Defaults to a slog-backed sink.
	Sink diag.Sink
	// Strict forbids implicit collection creation on first access.
	Strict bool
}

// Store is a name-to-Database registry owning a single snapshot file
// (spec §3/§4.9). Its mutex guards only the registry; Database and
// Collection locks are independent and acquired as needed.
type Store struct {
	mu        sync.Mutex
	databases map[string]*Database

	path          string
	config        *StoreConfig
	encryptionKey []byte
	sink          diag.Sink
	strict        bool
}

// Open constructs a Store, loading any existing snapshot at opts.Path. An
// empty Path yields a purely in-memory Store.
func Open(opts Options) (*Store, error) {
	sink := opts.Sink
	if sink == nil {
		sink = diag.NewSlogSink()
	}
	s := &Store{
		databases:     make(map[string]*Database),
		path:          opts.Path,
		config:        opts.Config,
		encryptionKey: opts.EncryptionKey,
		sink:          sink,
		strict:        opts.Strict,
	}
	if s.path == "" {
		return s, nil
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Database returns the named database, creating it on first access.
func (s *Store) Database(name string) *Database {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.databaseLocked(name)
}

func (s *Store) databaseLocked(name string) *Database {
	if db, ok := s.databases[name]; ok {
		return db
	}
	db := &Database{store: s, name: name, collections: make(map[string]*Collection), strict: s.strict}
	s.databases[name] = db
	return db
}

// DatabaseNames lists every database currently registered, in sorted
// order (mirrors the teacher's CanonicalMapIter idiom for deterministic
// map iteration).
func (s *Store) DatabaseNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.databases))
	for n := range util.CanonicalMapIter(s.databases) {
		out = append(out, n)
	}
	return out
}

func (s *Store) encryptionConfigFor(dbName, collName string) *encryption.Config {
	if s.config == nil {
		return encryption.NewConfig(nil, nil)
	}
	cc, ok := s.config.Collections[dbName+"."+collName]
	if !ok {
		return encryption.NewConfig(nil, nil)
	}
	return encryption.NewConfig(cc.HashFields, cc.CipherFields)
}

// load reads the snapshot file (if any) and rebuilds every database's
// collections, running one database's worth of collection construction
// concurrently via errgroup, adapting the teacher's own
// ConcurrentMapFuncWithError pattern to index-rebuild-on-load.
func (s *Store) load() error {
	snap, err := wire.ReadFile(s.path)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	for dbName, colls := range snap.Databases {
		db := s.databaseLocked(dbName)

		type job struct {
			name string
			cs   wire.CollectionSnapshot
		}
		jobs := make([]job, 0, len(colls))
		for cn, cs := range colls {
			jobs = append(jobs, job{cn, cs})
		}

		var mu sync.Mutex
		eg := errgroup.Group{}
		for _, j := range jobs {
			j := j
			eg.Go(func() error {
				coll := newCollectionForLoad(db, j.name, j.cs)
				mu.Lock()
				db.collections[j.name] = coll
				mu.Unlock()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func newCollectionForLoad(db *Database, name string, cs wire.CollectionSnapshot) *Collection {
	c := newCollection(db, name)
	docMap := make(map[objectid.ID]*bson.Document, len(cs.Documents))
	for _, d := range cs.Documents {
		idv, ok := d.Get("_id")
		if !ok {
			continue
		}
		id, err := idFromValue(idv)
		if err != nil {
			continue
		}
		docMap[id] = d
	}
	c.documents = docMap
	c.indexes = index.NewSet()
	for _, desc := range cs.Indexes {
		keys := make([]index.Key, len(desc.Fields))
		for j, f := range desc.Fields {
			keys[j] = index.Key{Field: f.Field, Direction: f.Direction}
		}
		c.indexes.Create(keys, docMap)
	}
	return c
}

// Close writes the whole Store to its snapshot file and returns. A Store
// opened with an empty Path has nothing to write. The write targets a
// temporary path and renames over the target (spec §4.9/§5).
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}

	snap := wire.NewSnapshot()
	for dbName, db := range s.databases {
		db.mu.Lock()
		collSnaps := make(map[string]wire.CollectionSnapshot, len(db.collections))
		for cn, c := range db.collections {
			c.mu.Lock()
			docs := make([]*bson.Document, 0, len(c.documents))
			for _, d := range c.documents {
				docs = append(docs, d)
			}
			collSnaps[cn] = wire.CollectionSnapshot{Documents: docs, Indexes: c.indexDescriptors()}
			c.mu.Unlock()
		}
		db.mu.Unlock()
		snap.Databases[dbName] = collSnaps
	}

	return wire.WriteFile(s.path, snap)
}
