// Package mainydb ties together the document model, MatchEngine,
// UpdateEngine, IndexSet, Cursor, AggregationPipeline, and EncryptionManager
// into Store/Database/Collection: the embedded document database described
// by the core specification.
package mainydb

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dddevid/mainydb/mainyerr"
)

// CollectionConfig names the hash-fields and cipher-fields EncryptionManager
// applies to one collection.
type CollectionConfig struct {
	HashFields   []string `yaml:"hash_fields"`
	CipherFields []string `yaml:"cipher_fields"`
}

// StoreConfig is the optional on-disk configuration for a Store. Collections
// are addressed as "<database>.<collection>".
type StoreConfig struct {
	Collections map[string]CollectionConfig `yaml:"collections"`
}

// LoadStoreConfig reads and strictly decodes a StoreConfig from path.
func LoadStoreConfig(path string) (*StoreConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, mainyerr.Wrap(mainyerr.KindIOError, "failed to read store config", err)
	}
	return ParseStoreConfig(buf)
}

// ParseStoreConfig strictly decodes a StoreConfig from YAML bytes: unknown
// fields fail loudly instead of being silently ignored.
func ParseStoreConfig(buf []byte) (*StoreConfig, error) {
	var cfg StoreConfig
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, mainyerr.Wrap(mainyerr.KindCorruptStore, "invalid store config", err)
	}
	return &cfg, nil
}
