// Package syncer owns the canonical conversation state for one session.
// It is the only writer of conversations and the known-user directory:
// loads, sends, outbox confirmations and bridge events all funnel
// through it, and everything else reads snapshots.
package syncer

import (
	"context"
	"sync"

	"autosync/pkg/cache"
	"autosync/pkg/metrics"
	"autosync/pkg/models"
	"autosync/pkg/normalize"
	"autosync/pkg/outbox"
)

// Per-conversation load states.
const (
	StateEmpty         = "empty"
	StateLoading       = "loading"
	StateLoaded        = "loaded"
	StateLocalFallback = "local_fallback"
)

// Upstream is the slice of the backend client the syncer needs.
// *client.Client satisfies it; tests substitute a fake.
type Upstream interface {
	FetchMine(ctx context.Context) ([]models.Message, error)
	FetchUser(ctx context.Context, userID string) ([]models.Message, error)
	FetchAdminAll(ctx context.Context) ([]models.Message, error)
	Send(ctx context.Context, text, recipientID string) (confirmed, autoReply *models.Message, err error)
}

// Queue receives durable entries for sends the upstream did not
// acknowledge. *outbox.Outbox satisfies it.
type Queue interface {
	Add(e outbox.Entry) error
}

// Notifier receives locally synthesized notifications. *notify.Center
// satisfies it.
type Notifier interface {
	Add(typ, title, message string) models.Notification
}

// Session is the identity the syncer acts as.
type Session struct {
	Admin  bool
	UserID string
	Name   string
	Email  string
}

type Config struct {
	Session Session
	// FanoutConcurrency bounds parallel per-user detail fetches during an
	// admin load. Defaults to 4.
	FanoutConcurrency int
	// Profile holds messages attached to the login profile payload. A
	// non-admin session uses them instead of fetching when non-empty.
	Profile []models.Message
}

// Service is the message synchronization service. One RWMutex guards
// the maps; the admin fan-out in load.go is the only place work runs in
// parallel, and each of its folds touches a single user's entry.
type Service struct {
	cfg      Config
	up       Upstream
	mirror   *cache.Mirror
	queue    Queue
	notifier Notifier

	mu       sync.RWMutex
	convs    map[string][]models.Message
	states   map[string]string
	users    []models.KnownUser
	selected string
}

func New(cfg Config, up Upstream, mirror *cache.Mirror, queue Queue, notifier Notifier) *Service {
	if cfg.FanoutConcurrency <= 0 {
		cfg.FanoutConcurrency = 4
	}
	return &Service{
		cfg:    cfg,
		up:     up,
		mirror: mirror,
		queue:  queue,
		convs:  make(map[string][]models.Message),
		states: make(map[string]string),

		notifier: notifier,
	}
}

// Session returns the identity the service was built with.
func (s *Service) Session() Session { return s.cfg.Session }

// SelectUser sets the admin UI focus. Pure client state, no backend
// effect.
func (s *Service) SelectUser(id string) {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
}

// SelectedUser returns the current admin UI focus.
func (s *Service) SelectedUser() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Messages returns a copy of one conversation.
func (s *Service) Messages(convID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.convs[convID]))
	copy(out, s.convs[convID])
	return out
}

// Conversations returns a copy of every conversation.
func (s *Service) Conversations() map[string][]models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]models.Message, len(s.convs))
	for id, msgs := range s.convs {
		cp := make([]models.Message, len(msgs))
		copy(cp, msgs)
		out[id] = cp
	}
	return out
}

// KnownUsers returns a copy of the user directory, most recently active
// first.
func (s *Service) KnownUsers() []models.KnownUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.KnownUser, len(s.users))
	copy(out, s.users)
	return out
}

// State returns the load state of one conversation.
func (s *Service) State(convID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[convID]; ok {
		return st
	}
	return StateEmpty
}

// Summary returns one row per conversation for the listing endpoint.
func (s *Service) Summary() []models.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConversationSummary, 0, len(s.convs))
	for id, msgs := range s.convs {
		row := models.ConversationSummary{UserID: id, State: s.states[id], Messages: len(msgs)}
		if row.State == "" {
			row.State = StateEmpty
		}
		for _, m := range msgs {
			if m.Pending {
				row.Pending++
			}
			if m.CreatedAt > row.LastActivity {
				row.LastActivity = m.CreatedAt
			}
		}
		out = append(out, row)
	}
	return out
}

// upsertLocked inserts m into msgs keeping CreatedAt order. A message
// with the same ID is replaced in place (last-write-wins), which keeps
// redelivered bridge events and re-synced loads idempotent.
func upsertLocked(msgs []models.Message, m models.Message) []models.Message {
	for i := range msgs {
		if msgs[i].ID == m.ID {
			msgs[i] = m
			normalize.Sort(msgs)
			return msgs
		}
	}
	// fast path: already in order, append at the end
	if n := len(msgs); n == 0 || msgs[n-1].CreatedAt <= m.CreatedAt {
		return append(msgs, m)
	}
	msgs = append(msgs, m)
	normalize.Sort(msgs)
	return msgs
}

func (s *Service) updateGauges() {
	metrics.Conversations.Set(float64(len(s.convs)))
	metrics.KnownUsers.Set(float64(len(s.users)))
}
