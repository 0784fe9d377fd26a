package migrate

import (
	"context"
	"testing"

	"autosync/pkg/store"
)

const (
	prefix   = "autocare_messages"
	usersKey = "autocare_known_users"
)

func TestFreshDatabase(t *testing.T) {
	kv := store.NewMemory()
	applied, err := Run(context.Background(), kv, prefix, usersKey)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("fresh database should record its version")
	}
	raw, err := kv.Get("schema:version")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "1" {
		t.Fatalf("version = %q", raw)
	}
	if _, err := kv.Get("schema:migrating"); err != store.ErrNotFound {
		t.Fatalf("migration marker left behind: %v", err)
	}
}

func TestLegacyKeysMoved(t *testing.T) {
	kv := store.NewMemory()
	_ = kv.Set("messages_u1", []byte(`[{"id":"a"}]`))
	_ = kv.Set("messages_u2", []byte(`[{"id":"b"}]`))
	_ = kv.Set("known_users", []byte(`[{"id":"u1"}]`))
	_ = kv.Set("unrelated", []byte("x"))

	applied, err := Run(context.Background(), kv, prefix, usersKey)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("applied = false")
	}

	for _, k := range []string{"messages_u1", "messages_u2", "known_users"} {
		if _, err := kv.Get(k); err != store.ErrNotFound {
			t.Fatalf("legacy key %q survived: %v", k, err)
		}
	}
	raw, err := kv.Get(prefix + "_u1")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `[{"id":"a"}]` {
		t.Fatalf("moved value = %q", raw)
	}
	if _, err := kv.Get(usersKey); err != nil {
		t.Fatalf("users key not moved: %v", err)
	}
	if _, err := kv.Get("unrelated"); err != nil {
		t.Fatalf("unrelated key touched: %v", err)
	}
}

func TestExistingTargetNotOverwritten(t *testing.T) {
	kv := store.NewMemory()
	_ = kv.Set("messages_u1", []byte("legacy"))
	_ = kv.Set(prefix+"_u1", []byte("current"))

	if _, err := Run(context.Background(), kv, prefix, usersKey); err != nil {
		t.Fatal(err)
	}
	raw, err := kv.Get(prefix + "_u1")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "current" {
		t.Fatalf("target overwritten: %q", raw)
	}
}

func TestRerunIsNoop(t *testing.T) {
	kv := store.NewMemory()
	if _, err := Run(context.Background(), kv, prefix, usersKey); err != nil {
		t.Fatal(err)
	}
	applied, err := Run(context.Background(), kv, prefix, usersKey)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("second run applied work")
	}
}

func TestNewerSchemaRefused(t *testing.T) {
	kv := store.NewMemory()
	_ = kv.Set("schema:version", []byte("99"))
	if _, err := Run(context.Background(), kv, prefix, usersKey); err == nil {
		t.Fatal("newer schema opened")
	}
}

func TestCorruptVersionRefused(t *testing.T) {
	kv := store.NewMemory()
	_ = kv.Set("schema:version", []byte("one"))
	if _, err := Run(context.Background(), kv, prefix, usersKey); err == nil {
		t.Fatal("corrupt version accepted")
	}
}

func TestCancelledContext(t *testing.T) {
	kv := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, kv, prefix, usersKey); err == nil {
		t.Fatal("cancelled context ignored")
	}
}
