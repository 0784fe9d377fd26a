package models

// KnownUser is the admin-facing directory entry for a user that has
// exchanged at least one message. The set is deduplicated by ID and new
// entries are inserted at the front (most recently active first).
type KnownUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}
