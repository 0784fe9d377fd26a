package models

// Notification is a transient, session-local record shown in the
// dashboard bell. Only Read ever mutates after creation.
type Notification struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Read    bool   `json:"read"`
	// CreatedAt is unix milliseconds, used only for display ordering.
	CreatedAt int64 `json:"createdAt"`
}

// Notification types.
const (
	NotifMessage  = "message"
	NotifPayment  = "payment"
	NotifLocation = "location"
	NotifFleet    = "fleet"
	NotifSystem   = "system"
)
