// Package encryption implements EncryptionManager (spec §4.8): transparent
// per-field SHA-256 hashing and AES-256-CBC encryption applied around
// insert/update and cursor materialization.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/diag"
	"github.com/dddevid/mainydb/mainyerr"
)

const (
	envKeyName    = "MAINYDB_ENCRYPTION_KEY"
	pbkdf2Salt    = "MainyDB-AES256-Salt"
	pbkdf2Iters   = 100000
	aesKeyLength  = 32
	saltLength    = 32
	ivLength      = 16
	algorithmSHA  = "sha256"
	algorithmAES  = "aes256"
)

// Config names the two disjoint field sets EncryptionManager acts on.
type Config struct {
	hashFields   map[string]bool
	cipherFields map[string]bool
}

// NewConfig builds a Config from field name lists. A field named in both
// lists is treated as a hash-field (hashing takes precedence).
func NewConfig(hashFields, cipherFields []string) *Config {
	c := &Config{hashFields: make(map[string]bool), cipherFields: make(map[string]bool)}
	for _, f := range hashFields {
		c.hashFields[f] = true
	}
	for _, f := range cipherFields {
		if !c.hashFields[f] {
			c.cipherFields[f] = true
		}
	}
	return c
}

func (c *Config) IsHashField(field string) bool   { return c.hashFields[field] }
func (c *Config) IsCipherField(field string) bool { return c.cipherFields[field] }
func (c *Config) HasCipherFields() bool           { return len(c.cipherFields) > 0 }
func (c *Config) HasHashFields() bool             { return len(c.hashFields) > 0 }
func (c *Config) IsManaged(field string) bool {
	return c.IsHashField(field) || c.IsCipherField(field)
}

// Manager applies Config to documents on their way into and out of storage.
// cipherMu guards the AES cipher's use: the block/mode construction is not
// re-entrant-safe at the engine level (spec §4.8), so encrypt/decrypt hold
// it briefly. It nests strictly inside the owning Collection's lock.
type Manager struct {
	config   *Config
	key      []byte // resolved 32-byte AES key, nil if no cipher-fields configured
	sink     diag.Sink
	cipherMu sync.Mutex
}

// NewManager resolves the AES key (explicit key -> MAINYDB_ENCRYPTION_KEY ->
// auto-generated with a warning) when config has cipher-fields, and returns
// a ready Manager. key may be nil; when given it is either exactly 32 raw
// bytes or a passphrase to run through PBKDF2.
func NewManager(config *Config, key []byte, sink diag.Sink) (*Manager, error) {
	if sink == nil {
		sink = diag.Noop{}
	}
	m := &Manager{config: config, sink: sink}
	if !config.HasCipherFields() {
		return m, nil
	}

	if key == nil {
		if envKey, ok := KeyFromEnv(); ok {
			key = envKey
		}
	}
	if key == nil {
		random := make([]byte, aesKeyLength)
		if _, err := rand.Read(random); err != nil {
			return nil, mainyerr.Wrap(mainyerr.KindCryptoUnavailable, "failed to auto-generate encryption key", err)
		}
		key = random
		sink.Warnf("auto-generated encryption key; set %s or pass an explicit key to avoid this warning: %s",
			envKeyName, base64.StdEncoding.EncodeToString(random))
	}

	m.key = deriveKey(key)
	return m, nil
}

// KeyFromEnv reads the AES key from MAINYDB_ENCRYPTION_KEY, reporting
// whether it was set. NewManager calls this when no explicit key is given;
// exported so callers can inspect or override key resolution themselves.
func KeyFromEnv() ([]byte, bool) {
	envVal := os.Getenv(envKeyName)
	if envVal == "" {
		return nil, false
	}
	return []byte(envVal), true
}

func deriveKey(key []byte) []byte {
	if len(key) == aesKeyLength {
		return key
	}
	return pbkdf2.Key(key, []byte(pbkdf2Salt), pbkdf2Iters, aesKeyLength, sha1.New)
}

// EncryptDocument returns a clone of doc with hash-fields and cipher-fields
// replaced by their stored form. Non-string values in a managed field are
// left untouched (only strings are encrypted per spec §4.8).
func (m *Manager) EncryptDocument(doc *bson.Document) (*bson.Document, error) {
	out := doc.Clone()
	for field := range m.config.hashFields {
		v, ok := out.Get(field)
		if !ok {
			continue
		}
		s, ok := v.Str()
		if !ok {
			continue
		}
		stored, err := hashString(s)
		if err != nil {
			return nil, err
		}
		out.Set(field, bson.DocumentValue(stored))
	}
	if m.key != nil {
		for field := range m.config.cipherFields {
			v, ok := out.Get(field)
			if !ok {
				continue
			}
			s, ok := v.Str()
			if !ok {
				continue
			}
			stored, err := m.encryptString(s)
			if err != nil {
				return nil, err
			}
			out.Set(field, bson.DocumentValue(stored))
		}
	}
	return out, nil
}

// DecryptDocument returns a clone of doc with cipher-fields restored to
// plaintext. Hash-fields are returned unchanged since hashing is one-way.
func (m *Manager) DecryptDocument(doc *bson.Document) (*bson.Document, error) {
	if m.key == nil {
		return doc, nil
	}
	out := doc.Clone()
	for field := range m.config.cipherFields {
		v, ok := out.Get(field)
		if !ok {
			continue
		}
		stored, ok := v.DocumentVal()
		if !ok {
			continue
		}
		alg, _ := getString(stored, "algorithm")
		if alg != algorithmAES {
			continue
		}
		plain, err := m.decryptString(stored)
		if err != nil {
			m.sink.Warnf("failed to decrypt field %q: %v", field, err)
			m.sink.Dumpf("corrupt cipher envelope for field "+field, stored)
			continue
		}
		out.Set(field, bson.String(plain))
	}
	return out, nil
}

// VerifyHash checks plaintext against the stored hash form of field on doc.
// This is the only supported way to test a value against a hash-field
// (spec §4.8: query equality against a hash-field fails silently).
func (m *Manager) VerifyHash(field, plaintext string, doc *bson.Document) (bool, error) {
	if !m.config.IsHashField(field) {
		return false, mainyerr.Newf(mainyerr.KindBadQuery, "field %q is not configured for hashing", field)
	}
	v, ok := doc.Get(field)
	if !ok {
		return false, nil
	}
	stored, ok := v.DocumentVal()
	if !ok {
		return false, nil
	}
	saltB64, _ := getString(stored, "salt")
	hashB64, _ := getString(stored, "hash")
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, mainyerr.Wrap(mainyerr.KindCorruptStore, "invalid stored hash salt", err)
	}
	recomputed := hashWithSalt(plaintext, salt)
	return base64.StdEncoding.EncodeToString(recomputed) == hashB64, nil
}

func hashString(s string) (*bson.Document, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, mainyerr.Wrap(mainyerr.KindCryptoUnavailable, "failed to generate hash salt", err)
	}
	digest := hashWithSalt(s, salt)
	doc := bson.NewDocument()
	doc.Set("hash", bson.String(base64.StdEncoding.EncodeToString(digest)))
	doc.Set("salt", bson.String(base64.StdEncoding.EncodeToString(salt)))
	doc.Set("algorithm", bson.String(algorithmSHA))
	return doc, nil
}

func hashWithSalt(s string, salt []byte) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(s))
	return h.Sum(nil)
}

func (m *Manager) encryptString(s string) (*bson.Document, error) {
	m.cipherMu.Lock()
	defer m.cipherMu.Unlock()

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, mainyerr.Wrap(mainyerr.KindCryptoUnavailable, "failed to generate IV", err)
	}
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, mainyerr.Wrap(mainyerr.KindCryptoUnavailable, "failed to construct AES cipher", err)
	}
	padded := pkcs7Pad([]byte(s), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)

	doc := bson.NewDocument()
	doc.Set("ciphertext", bson.String(base64.StdEncoding.EncodeToString(ciphertext)))
	doc.Set("iv", bson.String(base64.StdEncoding.EncodeToString(iv)))
	doc.Set("algorithm", bson.String(algorithmAES))
	return doc, nil
}

func (m *Manager) decryptString(stored *bson.Document) (string, error) {
	m.cipherMu.Lock()
	defer m.cipherMu.Unlock()

	ctB64, _ := getString(stored, "ciphertext")
	ivB64, _ := getString(stored, "iv")
	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", mainyerr.Wrap(mainyerr.KindCorruptStore, "invalid stored ciphertext", err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", mainyerr.Wrap(mainyerr.KindCorruptStore, "invalid stored IV", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", mainyerr.New(mainyerr.KindCorruptStore, "ciphertext is not a multiple of the AES block size")
	}
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", mainyerr.Wrap(mainyerr.KindCryptoUnavailable, "failed to construct AES cipher", err)
	}
	padded := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(padded, ciphertext)
	plain, err := pkcs7Unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, mainyerr.New(mainyerr.KindCorruptStore, "cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, mainyerr.New(mainyerr.KindCorruptStore, "invalid PKCS#7 padding")
	}
	return data[:len(data)-padLen], nil
}

func getString(d *bson.Document, field string) (string, bool) {
	v, ok := d.Get(field)
	if !ok {
		return "", false
	}
	return v.Str()
}
