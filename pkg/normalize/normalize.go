// Package normalize turns loosely shaped message payloads from the
// upstream API and the real-time bridge into the canonical Message
// form. Field names drifted across backend revisions, so every reader
// goes through the coalescing rules here. Functions never panic and
// never return errors: entries that cannot be normalized are dropped
// and counted.
package normalize

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"autosync/pkg/logger"
	"autosync/pkg/metrics"
	"autosync/pkg/models"
	"autosync/pkg/utils"
)

// Message normalizes one raw payload. Returns nil when the entry is
// unusable (nil map or blank text). Precedence per field is newest
// backend name first, then the legacy name, then a generated default.
func Message(raw map[string]any) *models.Message {
	if raw == nil {
		return drop("nil entry")
	}
	text := stringField(raw, "text")
	if text == "" {
		return drop("blank text")
	}
	m := &models.Message{
		ID:             stringField(raw, "id", "_id"),
		ConversationID: stringField(raw, "conversationId"),
		Text:           text,
		Sender:         senderRole(raw),
		SenderID:       stringField(raw, "senderId", "userId"),
		SenderName:     stringField(raw, "senderName", "name"),
		SenderEmail:    stringField(raw, "senderEmail", "email"),
		RecipientID:    stringField(raw, "recipientId", "recipient"),
		Pending:        boolField(raw, "pending"),
	}
	if m.ID == "" {
		m.ID = utils.GenMessageID()
	}
	if ts, ok := when(raw["createdAt"]); ok {
		m.CreatedAt = ts
	} else if ts, ok := when(raw["timestamp"]); ok {
		m.CreatedAt = ts
	} else {
		m.CreatedAt = time.Now().UnixMilli()
	}
	return m
}

// Messages normalizes a batch and returns it ordered by CreatedAt.
// Unusable entries are dropped.
func Messages(raws []map[string]any) []models.Message {
	out := make([]models.Message, 0, len(raws))
	for _, r := range raws {
		if m := Message(r); m != nil {
			out = append(out, *m)
		}
	}
	Sort(out)
	return out
}

// FromAny normalizes a decoded JSON value expected to be an object.
func FromAny(v any) *models.Message {
	raw, ok := v.(map[string]any)
	if !ok {
		return drop("not an object")
	}
	return Message(raw)
}

// FromAnyList normalizes a decoded JSON value expected to be an array
// of objects. Anything else yields an empty slice.
func FromAnyList(v any) []models.Message {
	switch t := v.(type) {
	case nil:
		return []models.Message{}
	case []map[string]any:
		return Messages(t)
	case []any:
		out := make([]models.Message, 0, len(t))
		for _, e := range t {
			if m := FromAny(e); m != nil {
				out = append(out, *m)
			}
		}
		Sort(out)
		return out
	default:
		drop("not an array")
		return []models.Message{}
	}
}

// Sort orders messages ascending by CreatedAt. Messages with equal
// timestamps keep their input order.
func Sort(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt < msgs[j].CreatedAt
	})
}

func drop(reason string) *models.Message {
	metrics.NormalizeDropped.Inc()
	logger.Debug("normalize_dropped", "reason", reason)
	return nil
}

func senderRole(raw map[string]any) string {
	role := strings.ToLower(stringField(raw, "senderType", "sender"))
	if role == models.SenderAdmin {
		return models.SenderAdmin
	}
	return models.SenderUser
}

func stringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			if v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10)
			}
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func boolField(raw map[string]any, key string) bool {
	b, _ := raw[key].(bool)
	return b
}

// when parses a timestamp of any of the shapes the backend has emitted:
// RFC 3339 strings, Unix seconds, Unix milliseconds, and either of
// those as a numeric string.
func when(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return unixMillis(t), true
	case int64:
		return unixMillis(float64(t)), true
	case int:
		return unixMillis(float64(t)), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return unixMillis(f), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UnixMilli(), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return unixMillis(f), true
		}
		return 0, false
	case time.Time:
		return t.UnixMilli(), true
	default:
		return 0, false
	}
}

// unixMillis treats magnitudes past 1e12 as already in milliseconds
// and everything smaller as seconds.
func unixMillis(f float64) int64 {
	if f >= 1e12 || f <= -1e12 {
		return int64(f)
	}
	return int64(f * 1000)
}
