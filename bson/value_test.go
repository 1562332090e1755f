package bson

import "testing"

func TestValueEqualCrossKindNumeric(t *testing.T) {
	if !Int(3).Equal(Float(3.0)) {
		t.Fatal("expected int(3) == float(3.0)")
	}
	if Int(3).Equal(String("3")) {
		t.Fatal("expected int(3) != string(\"3\")")
	}
}

func TestValueCompareOrdering(t *testing.T) {
	vals := []Value{Null(), Int(1), String("a"), Bool(true)}
	for i := 0; i < len(vals)-1; i++ {
		if vals[i].Compare(vals[i+1]) >= 0 {
			t.Fatalf("expected kind-rank ordering between %v and %v", vals[i], vals[i+1])
		}
	}
}

func TestDocumentOrderPreservedOnRoundtrip(t *testing.T) {
	d := NewDocument()
	d.Set("b", Int(2))
	d.Set("a", Int(1))
	d.Set("c", Int(3))

	got := d.Keys()
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("key count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDocumentEqualIgnoresOrder(t *testing.T) {
	a := DocumentFromPairs("x", Int(1), "y", Int(2))
	b := DocumentFromPairs("y", Int(2), "x", Int(1))
	if !a.Equal(b) {
		t.Fatal("expected documents with same fields in different order to be equal")
	}
}

func TestBinaryDetectionFromNonPath(t *testing.T) {
	if _, ok := DetectBinary("just a string, not a path"); ok {
		t.Fatal("expected DetectBinary to reject a non-path string")
	}
}
