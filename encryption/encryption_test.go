package encryption

import (
	"testing"

	"github.com/dddevid/mainydb/bson"
	"github.com/dddevid/mainydb/diag"
)

func TestHashFieldRoundtripAndVerify(t *testing.T) {
	config := NewConfig([]string{"password"}, nil)
	mgr, err := NewManager(config, nil, diag.NewCapturingSink())
	if err != nil {
		t.Fatal(err)
	}
	doc := bson.DocumentFromPairs("password", bson.String("hunter2"))
	enc, err := mgr.EncryptDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := enc.Get("password")
	if !ok {
		t.Fatal("expected password field present")
	}
	if v.Kind() != bson.KindDocument {
		t.Fatalf("expected stored hash to be a document, got %v", v.Kind())
	}

	ok2, err := mgr.VerifyHash("password", "hunter2", enc)
	if err != nil {
		t.Fatal(err)
	}
	if !ok2 {
		t.Fatal("expected hash verification to succeed for correct plaintext")
	}
	ok3, err := mgr.VerifyHash("password", "wrong", enc)
	if err != nil {
		t.Fatal(err)
	}
	if ok3 {
		t.Fatal("expected hash verification to fail for incorrect plaintext")
	}
}

func TestCipherFieldRoundtrip(t *testing.T) {
	config := NewConfig(nil, []string{"ssn"})
	mgr, err := NewManager(config, []byte("a-passphrase"), diag.NewCapturingSink())
	if err != nil {
		t.Fatal(err)
	}
	doc := bson.DocumentFromPairs("ssn", bson.String("123-45-6789"))
	enc, err := mgr.EncryptDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := enc.Get("ssn")
	if v.Kind() != bson.KindDocument {
		t.Fatalf("expected ciphertext document, got %v", v.Kind())
	}

	dec, err := mgr.DecryptDocument(enc)
	if err != nil {
		t.Fatal(err)
	}
	plain, _ := dec.Get("ssn")
	s, _ := plain.Str()
	if s != "123-45-6789" {
		t.Fatalf("got %q after decrypt, want original plaintext", s)
	}
}

func TestKeyFromEnvReadsConfiguredVariable(t *testing.T) {
	if _, ok := KeyFromEnv(); ok {
		t.Fatal("expected no key before MAINYDB_ENCRYPTION_KEY is set")
	}
	t.Setenv("MAINYDB_ENCRYPTION_KEY", "a-passphrase")
	key, ok := KeyFromEnv()
	if !ok || string(key) != "a-passphrase" {
		t.Fatalf("got %q ok=%v, want a-passphrase", key, ok)
	}
}

func TestNewManagerPrefersEnvKeyOverAutoGeneration(t *testing.T) {
	t.Setenv("MAINYDB_ENCRYPTION_KEY", "a-passphrase")
	config := NewConfig(nil, []string{"ssn"})
	sink := diag.NewCapturingSink()
	mgr, err := NewManager(config, nil, sink)
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.Warnings) != 0 {
		t.Fatalf("expected no auto-generation warning when env key is set, got %v", sink.Warnings)
	}
	doc := bson.DocumentFromPairs("ssn", bson.String("123-45-6789"))
	enc, err := mgr.EncryptDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := mgr.DecryptDocument(enc)
	if err != nil {
		t.Fatal(err)
	}
	plain, _ := dec.Get("ssn")
	s, _ := plain.Str()
	if s != "123-45-6789" {
		t.Fatalf("got %q after decrypt, want original plaintext", s)
	}
}

func TestAutoGeneratedKeyWarns(t *testing.T) {
	config := NewConfig(nil, []string{"ssn"})
	sink := diag.NewCapturingSink()
	if _, err := NewManager(config, nil, sink); err != nil {
		t.Fatal(err)
	}
	if len(sink.Warnings) != 1 {
		t.Fatalf("expected exactly one warning for auto-generated key, got %d", len(sink.Warnings))
	}
}

func TestRawThirtyTwoByteKeyUsedDirectly(t *testing.T) {
	config := NewConfig(nil, []string{"ssn"})
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	mgr, err := NewManager(config, raw, diag.NewCapturingSink())
	if err != nil {
		t.Fatal(err)
	}
	doc := bson.DocumentFromPairs("ssn", bson.String("secret"))
	enc, err := mgr.EncryptDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := mgr.DecryptDocument(enc)
	if err != nil {
		t.Fatal(err)
	}
	s, _ := mustGet(t, dec, "ssn").Str()
	if s != "secret" {
		t.Fatalf("got %q, want secret", s)
	}
}

func mustGet(t *testing.T, d *bson.Document, field string) bson.Value {
	t.Helper()
	v, ok := d.Get(field)
	if !ok {
		t.Fatalf("expected field %q", field)
	}
	return v
}
