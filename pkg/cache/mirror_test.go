package cache

import (
	"encoding/json"
	"testing"

	"autosync/pkg/models"
	"autosync/pkg/store"
)

func TestKeyContract(t *testing.T) {
	m := New(store.NewMemory())
	if got := m.Key("u1"); got != "autocare_messages_u1" {
		t.Fatalf("default key = %q", got)
	}
	m2 := New(store.NewMemory(), WithPrefix("custom"), WithUsersKey("roster"))
	if got := m2.Key("u1"); got != "custom_u1" {
		t.Fatalf("custom key = %q", got)
	}
}

func TestPutAndReadBack(t *testing.T) {
	kv := store.NewMemory()
	m := New(kv)
	msgs := []models.Message{
		{ID: "m1", Text: "hello", Sender: models.SenderUser, CreatedAt: 100},
		{ID: "m2", Text: "pending one", Sender: models.SenderUser, CreatedAt: 200, Pending: true},
	}
	if err := m.PutMessages("u1", msgs); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := m.Messages("u1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[1].ID != "m2" || !got[1].Pending {
		t.Fatalf("round trip lost data: %+v", got)
	}

	// the stored value is the canonical JSON array the dashboard reads
	raw, err := kv.Get("autocare_messages_u1")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("stored value is not a JSON array: %v", err)
	}
	if decoded[1]["pending"] != true {
		t.Fatalf("pending flag missing from stored record: %v", decoded[1])
	}
	if decoded[1]["senderType"] != "user" {
		t.Fatalf("canonical field name senderType missing: %v", decoded[1])
	}
}

func TestMissingAndCorruptReadAsEmpty(t *testing.T) {
	kv := store.NewMemory()
	m := New(kv)

	got, err := m.Messages("nobody")
	if err != nil || len(got) != 0 {
		t.Fatalf("missing key should read empty, got %v err %v", got, err)
	}

	if err := kv.Set("autocare_messages_bad", []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	got, err = m.Messages("bad")
	if err != nil || len(got) != 0 {
		t.Fatalf("corrupt entry should read empty, got %v err %v", got, err)
	}

	if err := kv.Set("autocare_known_users", []byte("42")); err != nil {
		t.Fatal(err)
	}
	users, err := m.KnownUsers()
	if err != nil || len(users) != 0 {
		t.Fatalf("corrupt roster should read empty, got %v err %v", users, err)
	}
}

func TestConversationsScan(t *testing.T) {
	kv := store.NewMemory()
	m := New(kv)
	_ = m.PutMessages("u1", []models.Message{{ID: "a", Text: "x", CreatedAt: 1}})
	_ = m.PutMessages("u2", []models.Message{{ID: "b", Text: "y", CreatedAt: 2}})
	_ = kv.Set("autocare_messages_u3", []byte("corrupt"))
	_ = kv.Set("unrelated_key", []byte("[]"))

	convs, err := m.Conversations()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d: %v", len(convs), convs)
	}
	if _, ok := convs["u3"]; ok {
		t.Fatal("corrupt conversation should be skipped")
	}
}

func TestRememberUserFrontAndDedup(t *testing.T) {
	m := New(store.NewMemory())
	if err := m.PutKnownUsers([]models.KnownUser{{ID: "old", Name: "Old"}}); err != nil {
		t.Fatal(err)
	}
	changed, err := m.RememberUser(models.KnownUser{ID: "new", Name: "New"})
	if err != nil || !changed {
		t.Fatalf("expected roster change, got %v err %v", changed, err)
	}
	changed, err = m.RememberUser(models.KnownUser{ID: "new", Name: "New"})
	if err != nil || changed {
		t.Fatalf("duplicate should not change roster, got %v err %v", changed, err)
	}
	users, _ := m.KnownUsers()
	if len(users) != 2 || users[0].ID != "new" {
		t.Fatalf("new entry should be at the front: %v", users)
	}
}
