package peerid

import "testing"

func TestNew_HasCorrectPrefixAndLength(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if string(id[:len(Prefix)]) != Prefix {
		t.Fatalf("prefix = %q, want %q", id[:len(Prefix)], Prefix)
	}
	if len(id) != 20 {
		t.Fatalf("len(id) = %d, want 20", len(id))
	}
}

func TestNew_TailIsAlphanumeric(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	for _, b := range id[len(Prefix):] {
		found := false
		for _, a := range []byte(alphanumeric) {
			if b == a {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("tail byte %q is not alphanumeric", b)
		}
	}
}

func TestNew_Randomized(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if a == b {
		t.Fatalf("two calls to New produced identical IDs; expected randomized tail")
	}
}
