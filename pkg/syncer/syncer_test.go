package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"autosync/pkg/cache"
	"autosync/pkg/models"
	"autosync/pkg/outbox"
	"autosync/pkg/store"
)

// fakeUpstream scripts the backend per test.
type fakeUpstream struct {
	mu       sync.Mutex
	mine     []models.Message
	mineErr  error
	all      []models.Message
	allErr   error
	perUser  map[string][]models.Message
	userErrs map[string]error
	sendFn   func(text, recipientID string) (*models.Message, *models.Message, error)

	userFetches []string
}

func (f *fakeUpstream) FetchMine(context.Context) ([]models.Message, error) {
	return f.mine, f.mineErr
}

func (f *fakeUpstream) FetchUser(_ context.Context, userID string) ([]models.Message, error) {
	f.mu.Lock()
	f.userFetches = append(f.userFetches, userID)
	f.mu.Unlock()
	if err := f.userErrs[userID]; err != nil {
		return nil, err
	}
	if msgs, ok := f.perUser[userID]; ok {
		return msgs, nil
	}
	return nil, errors.New("detail not scripted")
}

func (f *fakeUpstream) FetchAdminAll(context.Context) ([]models.Message, error) {
	return f.all, f.allErr
}

func (f *fakeUpstream) Send(_ context.Context, text, recipientID string) (*models.Message, *models.Message, error) {
	if f.sendFn != nil {
		return f.sendFn(text, recipientID)
	}
	return nil, nil, errors.New("send not scripted")
}

type fakeQueue struct {
	mu      sync.Mutex
	entries []outbox.Entry
	err     error
}

func (q *fakeQueue) Add(e outbox.Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.entries = append(q.entries, e)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	added []string
}

func (n *fakeNotifier) Add(typ, title, message string) models.Notification {
	n.mu.Lock()
	n.added = append(n.added, typ+": "+title)
	n.mu.Unlock()
	return models.Notification{ID: "n", Type: typ, Title: title, Message: message}
}

func userService(up Upstream, mirror *cache.Mirror, q Queue, n Notifier) *Service {
	return New(Config{Session: Session{UserID: "u1", Name: "Dana"}}, up, mirror, q, n)
}

func adminService(up Upstream, mirror *cache.Mirror, q Queue, n Notifier) *Service {
	return New(Config{Session: Session{Admin: true, UserID: "adm"}}, up, mirror, q, n)
}

func msg(id, text, sender, senderID string, at int64) models.Message {
	return models.Message{ID: id, Text: text, Sender: sender, SenderID: senderID, CreatedAt: at}
}

func TestUserLoadSuccess(t *testing.T) {
	up := &fakeUpstream{mine: []models.Message{
		msg("b", "second", models.SenderAdmin, "adm", 200),
		msg("a", "first", models.SenderUser, "u1", 100),
	}}
	mirror := cache.New(store.NewMemory())
	s := userService(up, mirror, nil, nil)

	s.LoadConversations(context.Background())

	if st := s.State("u1"); st != StateLoaded {
		t.Fatalf("state = %q", st)
	}
	got := s.Messages("u1")
	if len(got) != 2 || got[0].ID != "a" {
		t.Fatalf("messages = %+v", got)
	}
	// mirrored for the next outage
	cached, _ := mirror.Messages("u1")
	if len(cached) != 2 {
		t.Fatalf("mirror holds %d messages", len(cached))
	}
}

func TestUserLoadFallsBackToMirror(t *testing.T) {
	kv := store.NewMemory()
	mirror := cache.New(kv)
	_ = mirror.PutMessages("u1", []models.Message{msg("old", "cached line", models.SenderUser, "u1", 50)})

	up := &fakeUpstream{mineErr: errors.New("connection refused")}
	s := userService(up, mirror, nil, nil)
	s.LoadConversations(context.Background())

	if st := s.State("u1"); st != StateLocalFallback {
		t.Fatalf("state = %q, want local_fallback", st)
	}
	got := s.Messages("u1")
	if len(got) != 1 || got[0].ID != "old" {
		t.Fatalf("fallback messages = %+v", got)
	}
}

func TestFallbackThenSuccessfulRefresh(t *testing.T) {
	mirror := cache.New(store.NewMemory())
	up := &fakeUpstream{mineErr: errors.New("down")}
	s := userService(up, mirror, nil, nil)

	s.LoadConversations(context.Background())
	if st := s.State("u1"); st != StateLocalFallback {
		t.Fatalf("state = %q", st)
	}

	up.mineErr = nil
	up.mine = []models.Message{msg("m", "back online", models.SenderUser, "u1", 10)}
	s.RefreshMessages(context.Background())
	if st := s.State("u1"); st != StateLoaded {
		t.Fatalf("state after refresh = %q, want loaded", st)
	}
}

func TestProfilePayloadSkipsFetch(t *testing.T) {
	up := &fakeUpstream{mineErr: errors.New("must not be called")}
	s := New(Config{
		Session: Session{UserID: "u1"},
		Profile: []models.Message{msg("p1", "from profile", models.SenderUser, "u1", 10)},
	}, up, cache.New(store.NewMemory()), nil, nil)

	s.LoadConversations(context.Background())
	if st := s.State("u1"); st != StateLoaded {
		t.Fatalf("state = %q", st)
	}
	if got := s.Messages("u1"); len(got) != 1 || got[0].ID != "p1" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestAdminLoadAuthoritativeFanout(t *testing.T) {
	// summary has one provisional message per user; the per-user fetch
	// for A is authoritative with three, the fetch for B fails.
	up := &fakeUpstream{
		all: []models.Message{
			msg("s1", "summary a", models.SenderUser, "userA", 100),
			msg("s2", "summary b", models.SenderUser, "userB", 110),
		},
		perUser: map[string][]models.Message{
			"userA": {
				msg("a1", "one", models.SenderUser, "userA", 10),
				msg("a2", "two", models.SenderAdmin, "adm", 20),
				msg("a3", "three", models.SenderUser, "userA", 30),
			},
		},
		userErrs: map[string]error{"userB": errors.New("detail fetch failed")},
	}
	s := adminService(up, cache.New(store.NewMemory()), nil, nil)
	s.LoadConversations(context.Background())

	a := s.Messages("userA")
	if len(a) != 3 || a[0].ID != "a1" || a[2].ID != "a3" {
		t.Fatalf("conversation A = %+v", a)
	}
	b := s.Messages("userB")
	if len(b) != 1 || b[0].ID != "s2" {
		t.Fatalf("conversation B should keep provisional data: %+v", b)
	}
	if st := s.State("userA"); st != StateLoaded {
		t.Fatalf("state A = %q", st)
	}
	if st := s.State("userB"); st != StateLoaded {
		t.Fatalf("state B = %q (isolated failure still counts as loaded)", st)
	}
	if len(up.userFetches) != 2 {
		t.Fatalf("expected 2 detail fetches, got %v", up.userFetches)
	}
}

func TestAdminGroupingFallsBackToSenderRecipient(t *testing.T) {
	up := &fakeUpstream{
		all: []models.Message{
			// no conversationId: user message groups by sender
			msg("m1", "from user", models.SenderUser, "userA", 10),
			// admin message groups by recipient
			{ID: "m2", Text: "to user", Sender: models.SenderAdmin, SenderID: "adm", RecipientID: "userA", CreatedAt: 20},
			// explicit conversationId wins
			{ID: "m3", Text: "explicit", Sender: models.SenderUser, SenderID: "ignored", ConversationID: "userB", CreatedAt: 30},
		},
	}
	s := adminService(up, cache.New(store.NewMemory()), nil, nil)
	s.LoadConversations(context.Background())

	if got := s.Messages("userA"); len(got) != 2 {
		t.Fatalf("conversation userA = %+v", got)
	}
	if got := s.Messages("userB"); len(got) != 1 || got[0].ID != "m3" {
		t.Fatalf("conversation userB = %+v", got)
	}
}

func TestAdminLoadFailureUsesFullMirror(t *testing.T) {
	kv := store.NewMemory()
	mirror := cache.New(kv)
	_ = mirror.PutMessages("userA", []models.Message{msg("c1", "cached", models.SenderUser, "userA", 5)})
	_ = mirror.PutKnownUsers([]models.KnownUser{{ID: "userA", Name: "Ana"}})

	up := &fakeUpstream{allErr: errors.New("502")}
	s := adminService(up, mirror, nil, nil)
	s.LoadConversations(context.Background())

	if st := s.State("userA"); st != StateLocalFallback {
		t.Fatalf("state = %q", st)
	}
	if got := s.Messages("userA"); len(got) != 1 {
		t.Fatalf("messages = %+v", got)
	}
	users := s.KnownUsers()
	if len(users) != 1 || users[0].Name != "Ana" {
		t.Fatalf("roster = %+v", users)
	}
}

func TestSendConfirmedWithAutoReply(t *testing.T) {
	confirmed := msg("srv-1", "Need an oil change", models.SenderUser, "u1", 100)
	reply := msg("srv-2", "We got your request", models.SenderAdmin, "adm", 101)
	up := &fakeUpstream{sendFn: func(text, recipientID string) (*models.Message, *models.Message, error) {
		if recipientID != "" {
			t.Fatalf("user send must not carry a recipient, got %q", recipientID)
		}
		return &confirmed, &reply, nil
	}}
	mirror := cache.New(store.NewMemory())
	q := &fakeQueue{}
	s := userService(up, mirror, q, nil)

	m, ar, err := s.SendMessage(context.Background(), "Need an oil change")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m.ID != "srv-1" || m.Pending {
		t.Fatalf("confirmed = %+v", m)
	}
	if ar == nil || ar.ID != "srv-2" {
		t.Fatalf("auto-reply = %+v", ar)
	}

	got := s.Messages("u1")
	if len(got) != 2 || got[0].ID != "srv-1" || got[1].ID != "srv-2" {
		t.Fatalf("conversation = %+v", got)
	}
	if len(q.entries) != 0 {
		t.Fatalf("successful send must not reach the outbox: %+v", q.entries)
	}
}

func TestSendFailureAppendsPending(t *testing.T) {
	up := &fakeUpstream{sendFn: func(string, string) (*models.Message, *models.Message, error) {
		return nil, nil, errors.New("connection refused")
	}}
	kv := store.NewMemory()
	mirror := cache.New(kv)
	q := &fakeQueue{}
	n := &fakeNotifier{}
	s := userService(up, mirror, q, n)

	before := time.Now().UnixMilli()
	m, ar, err := s.SendMessage(context.Background(), "Need an oil change")
	if err != nil {
		t.Fatalf("degraded send must not fail the caller: %v", err)
	}
	if ar != nil {
		t.Fatalf("no auto-reply on failure, got %+v", ar)
	}
	if !m.Pending || m.Text != "Need an oil change" || m.Sender != models.SenderUser {
		t.Fatalf("pending record = %+v", m)
	}
	if m.CreatedAt < before {
		t.Fatalf("pending timestamp in the past: %d", m.CreatedAt)
	}

	got := s.Messages("u1")
	if len(got) != 1 || !got[0].Pending {
		t.Fatalf("conversation = %+v", got)
	}
	// same record in local persistence under the conversation's key
	cached, _ := mirror.Messages("u1")
	if len(cached) != 1 || cached[0].ID != m.ID || !cached[0].Pending {
		t.Fatalf("mirror = %+v", cached)
	}
	// and a durable outbox entry
	if len(q.entries) != 1 || q.entries[0].ID != m.ID || q.entries[0].Text != m.Text {
		t.Fatalf("outbox = %+v", q.entries)
	}
	if len(n.added) != 1 {
		t.Fatalf("queued-send notification missing: %v", n.added)
	}
}

func TestSendEmptyText(t *testing.T) {
	s := userService(&fakeUpstream{}, cache.New(store.NewMemory()), nil, nil)
	if _, _, err := s.SendMessage(context.Background(), "   "); err != ErrEmptyText {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestAdminSendRequiresTarget(t *testing.T) {
	s := adminService(&fakeUpstream{}, cache.New(store.NewMemory()), nil, nil)
	if _, _, err := s.SendMessage(context.Background(), "hi"); err != ErrAdminTarget {
		t.Fatalf("expected ErrAdminTarget, got %v", err)
	}
	if _, _, err := s.SendMessageToUser(context.Background(), "", "hi"); err != ErrAdminTarget {
		t.Fatalf("expected ErrAdminTarget for empty target, got %v", err)
	}
}

func TestAdminSendRoutesToTargetConversation(t *testing.T) {
	confirmed := models.Message{ID: "srv-9", Text: "On our way", Sender: models.SenderAdmin, CreatedAt: 10}
	up := &fakeUpstream{sendFn: func(text, recipientID string) (*models.Message, *models.Message, error) {
		if recipientID != "userA" {
			t.Fatalf("recipient = %q", recipientID)
		}
		return &confirmed, nil, nil
	}}
	s := adminService(up, cache.New(store.NewMemory()), nil, nil)

	if _, _, err := s.SendMessageToUser(context.Background(), "userA", "On our way"); err != nil {
		t.Fatal(err)
	}
	if got := s.Messages("userA"); len(got) != 1 || got[0].ID != "srv-9" {
		t.Fatalf("conversation = %+v", got)
	}
}

func TestConfirmPendingReplacesInPlace(t *testing.T) {
	up := &fakeUpstream{sendFn: func(string, string) (*models.Message, *models.Message, error) {
		return nil, nil, errors.New("down")
	}}
	mirror := cache.New(store.NewMemory())
	s := userService(up, mirror, &fakeQueue{}, nil)

	m, _, _ := s.SendMessage(context.Background(), "queued text")
	if !m.Pending {
		t.Fatalf("setup: expected pending, got %+v", m)
	}
	stBefore := s.State("u1")

	confirmed := models.Message{ID: "srv-5", Text: "queued text", Sender: models.SenderUser, CreatedAt: m.CreatedAt}
	reply := models.Message{ID: "srv-6", Text: "auto", Sender: models.SenderAdmin, CreatedAt: m.CreatedAt + 1}
	s.ConfirmPending("u1", m.ID, &confirmed, &reply)

	got := s.Messages("u1")
	if len(got) != 2 {
		t.Fatalf("conversation = %+v", got)
	}
	if got[0].ID != "srv-5" || got[0].Pending {
		t.Fatalf("pending record not replaced: %+v", got[0])
	}
	if got[1].ID != "srv-6" {
		t.Fatalf("auto-reply not appended: %+v", got[1])
	}
	if st := s.State("u1"); st != stBefore {
		t.Fatalf("confirmation changed load state %q -> %q", stBefore, st)
	}
	cached, _ := mirror.Messages("u1")
	if len(cached) != 2 || cached[0].ID != "srv-5" {
		t.Fatalf("mirror = %+v", cached)
	}
}

func TestReloadCarriesPendingForward(t *testing.T) {
	up := &fakeUpstream{sendFn: func(string, string) (*models.Message, *models.Message, error) {
		return nil, nil, errors.New("down")
	}}
	s := userService(up, cache.New(store.NewMemory()), &fakeQueue{}, nil)

	m, _, _ := s.SendMessage(context.Background(), "queued while offline")

	up.mine = []models.Message{msg("srv-1", "older server line", models.SenderUser, "u1", 1)}
	s.LoadConversations(context.Background())

	got := s.Messages("u1")
	if len(got) != 2 {
		t.Fatalf("reload dropped the pending record: %+v", got)
	}
	if !got[1].Pending || got[1].ID != m.ID {
		t.Fatalf("pending record missing after reload: %+v", got)
	}
}

func TestDuplicateIDLastWriteWins(t *testing.T) {
	s := userService(&fakeUpstream{}, cache.New(store.NewMemory()), nil, nil)
	s.fold("u1", msg("dup", "first delivery", models.SenderUser, "u1", 100))
	s.fold("u1", msg("dup", "second delivery", models.SenderUser, "u1", 100))

	got := s.Messages("u1")
	if len(got) != 1 {
		t.Fatalf("duplicate id produced %d records", len(got))
	}
	if got[0].Text != "second delivery" {
		t.Fatalf("last write should win: %q", got[0].Text)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := userService(&fakeUpstream{}, cache.New(store.NewMemory()), nil, nil)
	s.fold("u1", msg("a", "original", models.SenderUser, "u1", 1))

	snap := s.Messages("u1")
	snap[0].Text = "mutated"
	if got := s.Messages("u1"); got[0].Text != "original" {
		t.Fatal("snapshot mutation leaked into service state")
	}

	convs := s.Conversations()
	convs["u1"][0].Text = "mutated again"
	if got := s.Messages("u1"); got[0].Text != "original" {
		t.Fatal("conversations snapshot mutation leaked")
	}
}

func TestSelectionState(t *testing.T) {
	s := adminService(&fakeUpstream{}, cache.New(store.NewMemory()), nil, nil)
	if got := s.SelectedUser(); got != "" {
		t.Fatalf("initial selection = %q", got)
	}
	s.SelectUser("userA")
	if got := s.SelectedUser(); got != "userA" {
		t.Fatalf("selection = %q", got)
	}
}

func TestSummaryCountsPending(t *testing.T) {
	s := userService(&fakeUpstream{}, cache.New(store.NewMemory()), nil, nil)
	s.fold("u1", msg("a", "one", models.SenderUser, "u1", 10))
	s.fold("u1", models.Message{ID: "b", Text: "two", Sender: models.SenderUser, CreatedAt: 20, Pending: true})

	rows := s.Summary()
	if len(rows) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	r := rows[0]
	if r.UserID != "u1" || r.Messages != 2 || r.Pending != 1 || r.LastActivity != 20 {
		t.Fatalf("summary = %+v", r)
	}
}
