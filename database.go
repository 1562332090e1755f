package mainydb

import (
	"sort"
	"sync"

	"github.com/dddevid/mainydb/mainyerr"
	"github.com/dddevid/mainydb/util"
)

// Database is a name-to-Collection registry within a Store (spec §3/§4.7).
// Its own mutex is distinct from, and acquired independently of, any
// Collection's mutex; it only ever guards the registry map itself.
type Database struct {
	store *Store
	name  string

	mu          sync.Mutex
	collections map[string]*Collection
	strict      bool
}

// Name returns the database's name within its Store.
func (db *Database) Name() string { return db.name }

// Collection returns the named collection, creating it on first access
// unless the Database is in strict mode (spec §3: "Lifecycle").
func (db *Database) Collection(name string) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.collectionLocked(name)
}

func (db *Database) collectionLocked(name string) (*Collection, error) {
	if c, ok := db.collections[name]; ok {
		return c, nil
	}
	if db.strict {
		return nil, mainyerr.Newf(mainyerr.KindBadQuery, "collection %q does not exist and strict mode forbids implicit creation", name)
	}
	c := newCollection(db, name)
	db.collections[name] = c
	return c, nil
}

func (db *Database) getCollection(name string) (*Collection, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.collections[name]
	return c, ok
}

// CollectionNames lists every collection currently registered, in sorted
// order.
func (db *Database) CollectionNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, 0, len(db.collections))
	for n := range util.CanonicalMapIter(db.collections) {
		out = append(out, n)
	}
	return out
}

// DropCollection clears and removes the named collection from the
// registry. It is a no-op if the collection does not exist.
func (db *Database) DropCollection(name string) {
	db.mu.Lock()
	c, ok := db.collections[name]
	if ok {
		delete(db.collections, name)
	}
	db.mu.Unlock()
	if ok {
		c.Drop()
	}
}

// lockSet holds a set of Collections locked in name order, to be released
// via unlockAll once the caller is done (spec §5: "$lookup acquires both
// source and foreign Collection mutexes in name order").
type lockSet struct {
	cols []*Collection
}

func (l *lockSet) unlockAll() {
	for i := len(l.cols) - 1; i >= 0; i-- {
		l.cols[i].mu.Unlock()
	}
}

// lockInOrder resolves (creating as needed) every named collection and
// locks them in sorted name order, deduplicating repeats.
func (db *Database) lockInOrder(names []string) (*lockSet, error) {
	db.mu.Lock()
	seen := make(map[string]bool, len(names))
	unique := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			unique = append(unique, n)
		}
	}
	sort.Strings(unique)

	cols := make([]*Collection, 0, len(unique))
	for _, n := range unique {
		c, err := db.collectionLocked(n)
		if err != nil {
			db.mu.Unlock()
			return nil, err
		}
		cols = append(cols, c)
	}
	db.mu.Unlock()

	for _, c := range cols {
		c.mu.Lock()
	}
	return &lockSet{cols: cols}, nil
}
