package app

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"autosync/pkg/auth"
	"autosync/pkg/logger"
	"autosync/pkg/outbox"
	"autosync/pkg/utils"
	"autosync/pkg/validation"
)

const maxBodyBytes = 1 << 20

// envelope mirrors the upstream response shape so the dashboard speaks
// one format end to end.
func ok(w http.ResponseWriter, data any) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (a *App) listConversations(w http.ResponseWriter, _ *http.Request) {
	rows := a.svc.Summary()
	sort.Slice(rows, func(i, j int) bool { return rows[i].LastActivity > rows[j].LastActivity })
	ok(w, rows)
}

func (a *App) conversationMessages(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if userID == "" {
		utils.JSONError(w, http.StatusBadRequest, "user id required")
		return
	}
	if status, msg := auth.AuthorizeUserAccess(r, userID); status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	ok(w, a.svc.Messages(userID))
}

// ownMessages returns the session user's conversation. Admin sessions
// have no own conversation; they read via the selected user or an
// explicit ?user= query.
func (a *App) ownMessages(w http.ResponseWriter, r *http.Request) {
	convID := a.session.UserID
	if a.session.IsAdmin() {
		convID = r.URL.Query().Get("user")
		if convID == "" {
			convID = a.svc.SelectedUser()
		}
		if convID == "" {
			utils.JSONError(w, http.StatusBadRequest, "admin sessions must select a user or pass ?user=")
			return
		}
	}
	ok(w, a.svc.Messages(convID))
}

var postMessageRules = validation.Rules{
	Required: []string{"text"},
	Types:    map[string]string{"text": "string", "recipientId": "string"},
	MaxLen:   map[string]int{"text": 4000},
}

func (a *App) postMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	if err := validation.Check(body, postMessageRules); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	text, _ := body["text"].(string)
	recipient, _ := body["recipientId"].(string)

	var appended, autoReply any
	if a.session.IsAdmin() {
		target := recipient
		if target == "" {
			target = a.svc.SelectedUser()
		}
		if target == "" {
			utils.JSONError(w, http.StatusBadRequest, "recipientId required for admin sends")
			return
		}
		m, ar, err := a.svc.SendMessageToUser(r.Context(), target, text)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		appended = m
		if ar != nil {
			autoReply = ar
		}
	} else {
		m, ar, err := a.svc.SendMessage(r.Context(), text)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		appended = m
		if ar != nil {
			autoReply = ar
		}
	}

	resp := map[string]any{"success": true, "data": appended}
	if autoReply != nil {
		resp["autoReply"] = autoReply
	}
	_ = utils.JSONWrite(w, http.StatusOK, resp)
}

func (a *App) refreshNow(w http.ResponseWriter, r *http.Request) {
	a.svc.RefreshMessages(r.Context())
	a.ob.Sweep(r.Context())
	logger.Info("manual_refresh", "remote", r.RemoteAddr)
	ok(w, map[string]any{"refreshed": true})
}

func (a *App) listUsers(w http.ResponseWriter, _ *http.Request) {
	ok(w, a.svc.KnownUsers())
}

func (a *App) getSelection(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]string{"userId": a.svc.SelectedUser()})
}

func (a *App) putSelection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "body must be a JSON object with userId")
		return
	}
	a.svc.SelectUser(body.UserID)
	ok(w, map[string]string{"userId": body.UserID})
}

func (a *App) listNotifications(w http.ResponseWriter, _ *http.Request) {
	ok(w, a.center.List())
}

func (a *App) readNotification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !a.center.MarkRead(id) {
		utils.JSONError(w, http.StatusNotFound, "unknown notification")
		return
	}
	ok(w, map[string]string{"id": id})
}

func (a *App) readAllNotifications(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]int{"marked": a.center.MarkAllRead()})
}

func (a *App) dismissNotification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !a.center.Dismiss(id) {
		utils.JSONError(w, http.StatusNotFound, "unknown notification")
		return
	}
	ok(w, map[string]string{"id": id})
}

func (a *App) listOutbox(w http.ResponseWriter, _ *http.Request) {
	entries, err := a.ob.Pending()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "outbox scan failed")
		return
	}
	if entries == nil {
		entries = []outbox.Entry{}
	}
	ok(w, entries)
}

func (a *App) statusHandler(w http.ResponseWriter, _ *http.Request) {
	ok(w, a.statusSnapshot())
}

func (a *App) statusSnapshot() map[string]any {
	out := map[string]any{
		"role":          a.session.Role,
		"userId":        a.session.UserID,
		"conversations": len(a.svc.Conversations()),
		"pendingOutbox": a.ob.Depth(),
		"selectedUser":  a.svc.SelectedUser(),
		"version":       a.version,
	}
	out["bridgeConnected"] = a.br != nil && a.br.Connected()
	if a.sen != nil {
		out["online"] = a.sen.Online()
	} else {
		out["online"] = false
	}
	if a.pebble != nil {
		out["cache"] = a.pebble.Metrics()
	}
	return out
}
