package models

// ConversationSummary is the snapshot row returned by the local API for
// conversation listings. State mirrors the per-conversation load state
// ("empty", "loading", "loaded", "local_fallback").
type ConversationSummary struct {
	UserID   string `json:"userId"`
	State    string `json:"state"`
	Messages int    `json:"messages"`
	Pending  int    `json:"pending"`
	// LastActivity is the newest message's createdAt, unix milliseconds.
	LastActivity int64 `json:"lastActivity,omitempty"`
}
