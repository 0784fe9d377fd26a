package bridge

import (
	"autosync/pkg/validation"
)

// Event is a typed wire event name. The bridge only dispatches names
// declared here; anything else coming off the wire is dropped.
type Event string

const (
	EvMessageReceived  Event = "message-received"
	EvPaymentInitiated Event = "payment-initiated"
	EvPaymentCompleted Event = "payment-completed"
	EvLocationShared   Event = "location-shared"
	EvTruckAdded       Event = "truck-added"
	EvTruckUpdated     Event = "truck-updated"
)

// Events lists every dispatchable event.
func Events() []Event {
	return []Event{
		EvMessageReceived,
		EvPaymentInitiated,
		EvPaymentCompleted,
		EvLocationShared,
		EvTruckAdded,
		EvTruckUpdated,
	}
}

// Known reports whether name is a declared event.
func Known(name string) bool {
	for _, e := range Events() {
		if string(e) == name {
			return true
		}
	}
	return false
}

// payloadRules is the schema applied to each event's payload before
// dispatch. Timestamps are deliberately untyped here: the backend has
// emitted both strings and numbers, and the normalizer accepts either.
var payloadRules = map[Event]validation.Rules{
	EvMessageReceived: {
		Required: []string{"text"},
		Types: map[string]string{
			"text":           "string",
			"conversationId": "string",
			"senderId":       "string",
			"senderName":     "string",
			"senderEmail":    "string",
			"recipientId":    "string",
		},
		MaxLen: map[string]int{"text": 4096},
	},
	EvPaymentInitiated: {
		Required: []string{"userId"},
		Types: map[string]string{
			"userId":   "string",
			"userName": "string",
			"amount":   "number",
		},
	},
	EvPaymentCompleted: {
		Required: []string{"userId"},
		Types: map[string]string{
			"userId":   "string",
			"userName": "string",
			"amount":   "number",
		},
	},
	EvLocationShared: {
		Required: []string{"userId"},
		Types: map[string]string{
			"userId":    "string",
			"userName":  "string",
			"latitude":  "number",
			"longitude": "number",
		},
	},
	EvTruckAdded: {
		Types: map[string]string{
			"id":   "string",
			"name": "string",
		},
	},
	EvTruckUpdated: {
		Types: map[string]string{
			"id":   "string",
			"name": "string",
		},
	},
}

// ValidatePayload checks an event payload against its schema.
func ValidatePayload(ev Event, payload map[string]any) error {
	rules, ok := payloadRules[ev]
	if !ok {
		return nil
	}
	return validation.Check(payload, rules)
}
