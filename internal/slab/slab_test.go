package slab

import "testing"

func TestInsertGet(t *testing.T) {
	s := New[string]()
	tok := s.Insert("hello")
	if tok.IsZero() {
		t.Fatal("expected a non-zero token from Insert")
	}
	v, ok := s.Get(tok)
	if !ok || v != "hello" {
		t.Fatalf("Get(%v) = %q, %v; want \"hello\", true", tok, v, ok)
	}
}

func TestRemoveInvalidatesToken(t *testing.T) {
	s := New[int]()
	tok := s.Insert(42)
	s.Remove(tok)
	if _, ok := s.Get(tok); ok {
		t.Fatal("expected Get to fail after Remove")
	}
}

func TestGenerationPreventsStaleAlias(t *testing.T) {
	s := New[int]()
	tokA := s.Insert(1)
	s.Remove(tokA)
	tokB := s.Insert(2)

	if tokA.index != tokB.index {
		t.Skip("slot was not recycled; nothing to assert")
	}
	if _, ok := s.Get(tokA); ok {
		t.Fatal("stale token from a removed slot must not resolve after the slot is recycled")
	}
	v, ok := s.Get(tokB)
	if !ok || v != 2 {
		t.Fatalf("Get(tokB) = %v, %v; want 2, true", v, ok)
	}
}

func TestZeroTokenNeverResolves(t *testing.T) {
	s := New[int]()
	s.Insert(7)
	var zero Token
	if _, ok := s.Get(zero); ok {
		t.Fatal("the zero Token must never resolve to a real entry")
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	s := New[int]()
	tok := s.Insert(9)
	if got := Unpack(tok.Pack()); got != tok {
		t.Fatalf("Unpack(Pack(tok)) = %v, want %v", got, tok)
	}
}
