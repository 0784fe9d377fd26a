package cache

import (
	"encoding/json"
	"strings"

	"autosync/pkg/logger"
	"autosync/pkg/models"
	"autosync/pkg/store"
)

const (
	// DefaultPrefix is the key prefix for per-conversation message arrays.
	DefaultPrefix = "autocare_messages"
	// DefaultUsersKey holds the roster of users the admin has seen.
	DefaultUsersKey = "autocare_known_users"
)

// Mirror persists conversation snapshots and the known-user roster in
// the local KV so the dashboard still has data when the upstream API is
// unreachable. Corrupt or missing entries read as empty: the mirror is
// a fallback, never a source of errors.
type Mirror struct {
	kv       store.KV
	prefix   string
	usersKey string
	maxValue int64
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithPrefix overrides the conversation key prefix.
func WithPrefix(p string) Option {
	return func(m *Mirror) {
		if p != "" {
			m.prefix = p
		}
	}
}

// WithUsersKey overrides the known-user roster key.
func WithUsersKey(k string) Option {
	return func(m *Mirror) {
		if k != "" {
			m.usersKey = k
		}
	}
}

// WithMaxValueSize caps the encoded size of a single entry. Writes over
// the cap are skipped with a warning. Zero means unlimited.
func WithMaxValueSize(n int64) Option {
	return func(m *Mirror) { m.maxValue = n }
}

func New(kv store.KV, opts ...Option) *Mirror {
	m := &Mirror{kv: kv, prefix: DefaultPrefix, usersKey: DefaultUsersKey}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Key returns the KV key for a conversation.
func (m *Mirror) Key(conversationID string) string {
	return m.prefix + "_" + conversationID
}

// Messages loads the cached snapshot for one conversation. Missing or
// unreadable entries return an empty slice and a nil error.
func (m *Mirror) Messages(conversationID string) ([]models.Message, error) {
	raw, err := m.kv.Get(m.Key(conversationID))
	if err != nil {
		if err == store.ErrNotFound {
			return []models.Message{}, nil
		}
		return []models.Message{}, err
	}
	var msgs []models.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		logger.Warn("cache_entry_corrupt", "key", m.Key(conversationID), "error", err)
		return []models.Message{}, nil
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// PutMessages replaces the cached snapshot for one conversation.
func (m *Mirror) PutMessages(conversationID string, msgs []models.Message) error {
	if msgs == nil {
		msgs = []models.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	if m.maxValue > 0 && int64(len(b)) > m.maxValue {
		logger.Warn("cache_entry_too_large", "key", m.Key(conversationID), "bytes", len(b), "max", m.maxValue)
		return nil
	}
	return m.kv.Set(m.Key(conversationID), b)
}

// AppendMessage adds one message to the cached conversation.
func (m *Mirror) AppendMessage(conversationID string, msg models.Message) error {
	msgs, err := m.Messages(conversationID)
	if err != nil {
		return err
	}
	return m.PutMessages(conversationID, append(msgs, msg))
}

// DropConversation removes a cached conversation.
func (m *Mirror) DropConversation(conversationID string) error {
	return m.kv.Delete(m.Key(conversationID))
}

// Conversations loads every cached conversation keyed by conversation
// id. Corrupt entries are skipped.
func (m *Mirror) Conversations() (map[string][]models.Message, error) {
	entries, err := m.kv.List(m.prefix + "_")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.Message, len(entries))
	for _, e := range entries {
		id := strings.TrimPrefix(e.Key, m.prefix+"_")
		if id == "" {
			continue
		}
		var msgs []models.Message
		if err := json.Unmarshal(e.Value, &msgs); err != nil {
			logger.Warn("cache_entry_corrupt", "key", e.Key, "error", err)
			continue
		}
		out[id] = msgs
	}
	return out, nil
}

// KnownUsers loads the user roster. Missing or unreadable entries read
// as empty.
func (m *Mirror) KnownUsers() ([]models.KnownUser, error) {
	raw, err := m.kv.Get(m.usersKey)
	if err != nil {
		if err == store.ErrNotFound {
			return []models.KnownUser{}, nil
		}
		return []models.KnownUser{}, err
	}
	var users []models.KnownUser
	if err := json.Unmarshal(raw, &users); err != nil {
		logger.Warn("cache_users_corrupt", "key", m.usersKey, "error", err)
		return []models.KnownUser{}, nil
	}
	if users == nil {
		users = []models.KnownUser{}
	}
	return users, nil
}

// PutKnownUsers replaces the user roster.
func (m *Mirror) PutKnownUsers(users []models.KnownUser) error {
	if users == nil {
		users = []models.KnownUser{}
	}
	b, err := json.Marshal(users)
	if err != nil {
		return err
	}
	if m.maxValue > 0 && int64(len(b)) > m.maxValue {
		logger.Warn("cache_entry_too_large", "key", m.usersKey, "bytes", len(b), "max", m.maxValue)
		return nil
	}
	return m.kv.Set(m.usersKey, b)
}

// RememberUser puts u at the front of the roster if it is not already
// known. Returns true when the roster changed.
func (m *Mirror) RememberUser(u models.KnownUser) (bool, error) {
	if u.ID == "" {
		return false, nil
	}
	users, err := m.KnownUsers()
	if err != nil {
		return false, err
	}
	for _, k := range users {
		if k.ID == u.ID {
			return false, nil
		}
	}
	users = append([]models.KnownUser{u}, users...)
	return true, m.PutKnownUsers(users)
}
