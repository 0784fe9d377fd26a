package syncer

import (
	"autosync/pkg/logger"
	"autosync/pkg/models"
	"autosync/pkg/normalize"
)

// OnMessageReceived folds one pushed message-received payload into
// state. The effect is admin-only: a user session's own conversation is
// refreshed by its private group pushes through the same path, but the
// known-user directory only ever grows on the admin side. Redelivered
// duplicates are harmless: the fold is last-write-wins by message ID.
// The signature matches bridge.Handler so the app can subscribe it
// directly.
func (s *Service) OnMessageReceived(payload map[string]any) {
	m := normalize.Message(payload)
	if m == nil {
		logger.Debug("push_message_dropped")
		return
	}

	convID := m.ConversationID
	if convID == "" {
		if m.Sender == models.SenderAdmin {
			convID = m.RecipientID
		} else {
			convID = m.SenderID
		}
	}
	if !s.cfg.Session.Admin {
		// a user session holds exactly one conversation: its own
		convID = s.cfg.Session.UserID
	}
	if convID == "" {
		logger.Debug("push_message_unroutable", "id", m.ID)
		return
	}

	s.fold(convID, *m)

	if s.cfg.Session.Admin && m.Sender != models.SenderAdmin {
		u := models.KnownUser{ID: convID, Name: m.SenderName, Email: m.SenderEmail}
		s.mu.Lock()
		added := s.rememberUserLocked(u, true)
		userSnapshot := append([]models.KnownUser(nil), s.users...)
		s.updateGauges()
		s.mu.Unlock()
		if added {
			if err := s.mirror.PutKnownUsers(userSnapshot); err != nil {
				logger.Error("mirror_users_failed", "error", err)
			}
		}
	}

	s.mirrorConversation(convID, s.Messages(convID))
	logger.Debug("push_message_folded", "conversation", convID, "id", m.ID)
}

// rememberUserLocked adds u to the directory if its ID is new. front
// places new entries before existing ones (most recently active first,
// the order the admin list shows). Existing entries are kept in place,
// backfilling name and email when they were unknown. Callers hold s.mu.
func (s *Service) rememberUserLocked(u models.KnownUser, front bool) bool {
	if u.ID == "" {
		return false
	}
	for i := range s.users {
		if s.users[i].ID == u.ID {
			if s.users[i].Name == "" && u.Name != "" {
				s.users[i].Name = u.Name
				s.users[i].Email = u.Email
			}
			return false
		}
	}
	if front {
		s.users = append([]models.KnownUser{u}, s.users...)
	} else {
		s.users = append(s.users, u)
	}
	return true
}
