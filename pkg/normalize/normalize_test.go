package normalize

import (
	"strings"
	"testing"
	"time"

	"autosync/pkg/models"
)

func TestMessageMixedFieldNames(t *testing.T) {
	raw := map[string]any{
		"_id":       "legacy-1",
		"text":      "Need an oil change",
		"sender":    "USER",
		"timestamp": "2025-03-01T10:00:00Z",
		"userId":    "u1",
		"name":      "Dana",
		"email":     "dana@example.com",
	}
	m := Message(raw)
	if m == nil {
		t.Fatal("expected a message, got nil")
	}
	if m.ID != "legacy-1" {
		t.Fatalf("legacy _id not coalesced: %q", m.ID)
	}
	if m.Sender != models.SenderUser {
		t.Fatalf("sender role not normalized: %q", m.Sender)
	}
	want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	if m.CreatedAt != want {
		t.Fatalf("timestamp = %d, want %d", m.CreatedAt, want)
	}
	if m.SenderID != "u1" || m.SenderName != "Dana" {
		t.Fatalf("sender metadata not coalesced: %+v", m)
	}
}

func TestMessageNewerNameWins(t *testing.T) {
	raw := map[string]any{
		"id":         "new-1",
		"_id":        "old-1",
		"text":       "hi",
		"senderType": "admin",
		"sender":     "user",
		"createdAt":  float64(1700000000000),
		"timestamp":  float64(1600000000000),
	}
	m := Message(raw)
	if m == nil {
		t.Fatal("expected a message")
	}
	if m.ID != "new-1" {
		t.Fatalf("id precedence wrong: %q", m.ID)
	}
	if m.Sender != models.SenderAdmin {
		t.Fatalf("senderType should win over sender: %q", m.Sender)
	}
	if m.CreatedAt != 1700000000000 {
		t.Fatalf("createdAt should win over timestamp: %d", m.CreatedAt)
	}
}

func TestMessageGeneratesDefaults(t *testing.T) {
	before := time.Now().UnixMilli()
	m := Message(map[string]any{"text": "hello"})
	if m == nil {
		t.Fatal("expected a message")
	}
	if m.ID == "" || !strings.HasPrefix(m.ID, "msg-") {
		t.Fatalf("expected generated id, got %q", m.ID)
	}
	if m.CreatedAt < before {
		t.Fatalf("expected current-time default, got %d", m.CreatedAt)
	}
	if m.Sender != models.SenderUser {
		t.Fatalf("default role should be user, got %q", m.Sender)
	}

	m2 := Message(map[string]any{"text": "again"})
	if m2.ID == m.ID {
		t.Fatalf("generated ids collided: %q", m.ID)
	}
}

func TestMessageMalformed(t *testing.T) {
	cases := []map[string]any{
		nil,
		{},
		{"text": ""},
		{"text": "   "},
		{"text": 42},
		{"id": "x", "senderType": "user"},
	}
	for i, raw := range cases {
		if m := Message(raw); m != nil {
			t.Fatalf("case %d: malformed input produced %+v", i, m)
		}
	}
}

func TestMessagesStableSort(t *testing.T) {
	raws := []map[string]any{
		{"text": "third", "createdAt": float64(300)},
		{"text": "tie-a", "createdAt": float64(100)},
		{"text": "dropped"}, // no timestamp is fine; this one has text so it stays
		{"text": ""},        // malformed, dropped
		{"text": "tie-b", "createdAt": float64(100)},
	}
	out := Messages(raws)
	if len(out) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(out))
	}
	// tie at 100: input order preserved
	if out[0].Text != "tie-a" || out[1].Text != "tie-b" {
		t.Fatalf("stable tie-break violated: %q then %q", out[0].Text, out[1].Text)
	}
	if out[2].Text != "third" {
		t.Fatalf("ascending order violated: %q", out[2].Text)
	}
	for i := 1; i < len(out); i++ {
		if out[i].CreatedAt < out[i-1].CreatedAt {
			t.Fatalf("not ascending at %d: %d < %d", i, out[i].CreatedAt, out[i-1].CreatedAt)
		}
	}
}

func TestMessagesReversedPageSortsAscending(t *testing.T) {
	// reverse-chronological page, as some backend builds return
	raws := []map[string]any{
		{"text": "newest", "createdAt": float64(3000)},
		{"text": "middle", "createdAt": float64(2000)},
		{"text": "oldest", "createdAt": float64(1000)},
	}
	out := Messages(raws)
	if out[0].Text != "oldest" || out[2].Text != "newest" {
		t.Fatalf("unexpected order: %v", []string{out[0].Text, out[1].Text, out[2].Text})
	}
}

func TestWhenTimestampShapes(t *testing.T) {
	cases := []struct {
		in   any
		want int64
	}{
		{"2024-01-15T12:30:00Z", time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC).UnixMilli()},
		{float64(1700000000), 1700000000000},    // unix seconds
		{float64(1700000000000), 1700000000000}, // unix millis
		{"1700000000", 1700000000000},           // numeric string seconds
		{"1700000000000", 1700000000000},        // numeric string millis
	}
	for i, c := range cases {
		got, ok := when(c.in)
		if !ok {
			t.Fatalf("case %d: when(%v) not ok", i, c.in)
		}
		if got != c.want {
			t.Fatalf("case %d: when(%v) = %d, want %d", i, c.in, got, c.want)
		}
	}
	if _, ok := when("not a time"); ok {
		t.Fatal("garbage string should not parse")
	}
	if _, ok := when(nil); ok {
		t.Fatal("nil should not parse")
	}
}

func TestFromAnyList(t *testing.T) {
	v := []any{
		map[string]any{"text": "a", "createdAt": float64(2)},
		"not an object",
		map[string]any{"text": "b", "createdAt": float64(1)},
	}
	out := FromAnyList(v)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Text != "b" {
		t.Fatalf("expected sorted output, got %q first", out[0].Text)
	}
	if got := FromAnyList("nope"); len(got) != 0 {
		t.Fatalf("non-array input should yield empty, got %d", len(got))
	}
}
