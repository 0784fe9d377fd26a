// Package notify keeps the transient notification list the dashboard
// shows. Entries live in memory only; nothing here survives a restart
// and nothing is acknowledged to the backend.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"autosync/pkg/bridge"
	"autosync/pkg/logger"
	"autosync/pkg/models"
	"autosync/pkg/utils"
)

const DefaultMax = 200

// Center is the mutex-guarded notification list, newest first.
type Center struct {
	mu    sync.RWMutex
	max   int
	items []models.Notification
}

func NewCenter(max int) *Center {
	if max <= 0 {
		max = DefaultMax
	}
	return &Center{max: max}
}

// Add synthesizes a notification from a local action and returns it.
func (c *Center) Add(typ, title, message string) models.Notification {
	n := models.Notification{
		ID:        utils.GenID("ntf"),
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now().UnixMilli(),
	}
	c.mu.Lock()
	c.items = append([]models.Notification{n}, c.items...)
	if len(c.items) > c.max {
		c.items = c.items[:c.max]
	}
	c.mu.Unlock()
	logger.Debug("notification_added", "type", typ, "title", title)
	return n
}

// FromEvent maps a bridge event onto its notification template. The
// second return is false for events with no template.
func (c *Center) FromEvent(ev bridge.Event, payload map[string]any) (models.Notification, bool) {
	who := payloadString(payload, "userName", "senderName", "userId", "senderId")
	if who == "" {
		who = "customer"
	}
	switch ev {
	case bridge.EvMessageReceived:
		sender := payloadString(payload, "senderName", "senderId")
		if sender == "" {
			sender = "customer"
		}
		text := truncate(payloadString(payload, "text"), 80)
		return c.Add(models.NotifMessage, "New message", fmt.Sprintf("%s: %s", sender, text)), true
	case bridge.EvPaymentInitiated:
		return c.Add(models.NotifPayment, "Payment initiated", fmt.Sprintf("%s started a payment of %s", who, amount(payload))), true
	case bridge.EvPaymentCompleted:
		return c.Add(models.NotifPayment, "Payment completed", fmt.Sprintf("%s completed a payment of %s", who, amount(payload))), true
	case bridge.EvLocationShared:
		return c.Add(models.NotifLocation, "Location shared", fmt.Sprintf("%s shared their location", who)), true
	case bridge.EvTruckAdded:
		return c.Add(models.NotifFleet, "Truck added", fmt.Sprintf("%s joined the fleet", truckName(payload))), true
	case bridge.EvTruckUpdated:
		return c.Add(models.NotifFleet, "Truck updated", fmt.Sprintf("%s was updated", truckName(payload))), true
	}
	return models.Notification{}, false
}

// List returns a copy, newest first.
func (c *Center) List() []models.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Unread counts entries not yet marked read.
func (c *Center) Unread() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, it := range c.items {
		if !it.Read {
			n++
		}
	}
	return n
}

// MarkRead flips one entry to read. Returns false if id is unknown.
func (c *Center) MarkRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].Read = true
			return true
		}
	}
	return false
}

// MarkAllRead flips every entry to read and returns how many changed.
func (c *Center) MarkAllRead() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.items {
		if !c.items[i].Read {
			c.items[i].Read = true
			n++
		}
	}
	return n
}

// Dismiss removes one entry. Returns false if id is unknown.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

func payloadString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func amount(payload map[string]any) string {
	if f, ok := payload["amount"].(float64); ok {
		return fmt.Sprintf("$%.2f", f)
	}
	return "an unknown amount"
}

func truckName(payload map[string]any) string {
	if s := payloadString(payload, "name", "id"); s != "" {
		return s
	}
	return "a truck"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
