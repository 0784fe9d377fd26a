package store

import (
	"testing"
)

func TestMemoryBasicOps(t *testing.T) {
	m := NewMemory()
	if _, err := m.Get("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.Set("k1", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	v, err := m.Get("k1")
	if err != nil || string(v) != "v1" {
		t.Fatalf("get = %q, %v", v, err)
	}
	// returned slice is a copy
	v[0] = 'X'
	v2, _ := m.Get("k1")
	if string(v2) != "v1" {
		t.Fatal("Get must return a copy")
	}
	if err := m.Delete("k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get("k1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryListOrdered(t *testing.T) {
	m := NewMemory()
	_ = m.Set("outbox:00000000000000000002:b", []byte("2"))
	_ = m.Set("outbox:00000000000000000001:a", []byte("1"))
	_ = m.Set("other", []byte("x"))

	entries, err := m.List("outbox:")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Key >= entries[1].Key {
		t.Fatalf("entries not in ascending key order: %q, %q", entries[0].Key, entries[1].Key)
	}
}

func TestPebbleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPebble(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	if !p.Ready() {
		t.Fatal("expected open store to be ready")
	}
	if _, err := p.Get("nothing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := p.Set("conv_a", []byte(`[{"id":"1"}]`)); err != nil {
		t.Fatal(err)
	}
	if err := p.Set("conv_b", []byte(`[]`)); err != nil {
		t.Fatal(err)
	}
	if err := p.Set("zz_other", []byte(`x`)); err != nil {
		t.Fatal(err)
	}

	got, err := p.Get("conv_a")
	if err != nil || string(got) != `[{"id":"1"}]` {
		t.Fatalf("get = %q, %v", got, err)
	}
	entries, err := p.List("conv_")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Key != "conv_a" {
		t.Fatalf("prefix scan wrong: %+v", entries)
	}
}
