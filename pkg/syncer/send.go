package syncer

import (
	"context"
	"errors"
	"strings"
	"time"

	"autosync/pkg/logger"
	"autosync/pkg/metrics"
	"autosync/pkg/models"
	"autosync/pkg/outbox"
	"autosync/pkg/utils"
)

// ErrEmptyText is the only way a send fails from the caller's point of
// view. Upstream outages degrade to a pending local append instead.
var ErrEmptyText = errors.New("message text required")

// ErrAdminTarget is returned when an admin send omits the target user.
var ErrAdminTarget = errors.New("admin sends require a target user id")

// SendMessage submits text from a user session. The admin pool is the
// implicit recipient and the user's own conversation receives the
// result.
func (s *Service) SendMessage(ctx context.Context, text string) (*models.Message, *models.Message, error) {
	if s.cfg.Session.Admin {
		return nil, nil, ErrAdminTarget
	}
	return s.send(ctx, s.cfg.Session.UserID, "", text)
}

// SendMessageToUser submits text from an admin session to one user's
// conversation.
func (s *Service) SendMessageToUser(ctx context.Context, userID, text string) (*models.Message, *models.Message, error) {
	if userID == "" {
		return nil, nil, ErrAdminTarget
	}
	return s.send(ctx, userID, userID, text)
}

// send runs one delivery attempt. On success the confirmed message and
// any auto-reply are appended and mirrored. On failure a pending
// message is appended, mirrored, and queued for retry; the caller still
// gets the appended record and a nil error.
func (s *Service) send(ctx context.Context, convID, recipientID, text string) (*models.Message, *models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, ErrEmptyText
	}

	confirmed, autoReply, err := s.up.Send(ctx, text, recipientID)
	if err == nil && confirmed != nil {
		s.fold(convID, *confirmed)
		if autoReply != nil {
			s.fold(convID, *autoReply)
		}
		s.mirrorConversation(convID, s.Messages(convID))
		logger.Flow("message_sent", "conversation", convID, "id", confirmed.ID)
		return confirmed, autoReply, nil
	}
	if err == nil {
		// success envelope without a decodable message; treat as unconfirmed
		err = errors.New("upstream confirmed without a message payload")
	}

	pending := s.appendPending(convID, recipientID, text)
	metrics.SendFallbacks.Inc()
	logger.Warn("send_degraded", "conversation", convID, "id", pending.ID, "error", err)
	return pending, nil, nil
}

// appendPending creates the optimistic local record, mirrors it, and
// places the durable outbox entry.
func (s *Service) appendPending(convID, recipientID, text string) *models.Message {
	role := models.SenderUser
	if s.cfg.Session.Admin {
		role = models.SenderAdmin
	}
	m := models.Message{
		ID:             utils.GenMessageID(),
		ConversationID: convID,
		Text:           text,
		Sender:         role,
		SenderID:       s.cfg.Session.UserID,
		SenderName:     s.cfg.Session.Name,
		SenderEmail:    s.cfg.Session.Email,
		RecipientID:    recipientID,
		CreatedAt:      time.Now().UnixMilli(),
		Pending:        true,
	}
	s.fold(convID, m)
	s.mirrorConversation(convID, s.Messages(convID))

	if s.queue != nil {
		e := outbox.Entry{
			ID:             m.ID,
			ConversationID: convID,
			RecipientID:    recipientID,
			Text:           text,
		}
		if err := s.queue.Add(e); err != nil {
			logger.Error("outbox_enqueue_failed", "id", m.ID, "error", err)
		}
	}
	if s.notifier != nil {
		s.notifier.Add(models.NotifSystem, "Message queued", "Backend unreachable; your message will be resent automatically.")
	}
	logger.Flow("message_pending", "conversation", convID, "id", m.ID)
	return &m
}

// ConfirmPending replaces a pending record with the backend-confirmed
// one after an outbox redelivery. The confirmed message keeps the
// pending record's slot by ID and the conversation's load state is
// untouched.
func (s *Service) ConfirmPending(convID, localID string, confirmed, autoReply *models.Message) {
	if confirmed == nil {
		return
	}
	s.mu.Lock()
	msgs := s.convs[convID]
	replaced := false
	for i := range msgs {
		if msgs[i].ID == localID {
			c := *confirmed
			c.ConversationID = convID
			c.Pending = false
			msgs[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		msgs = upsertLocked(msgs, *confirmed)
	}
	if autoReply != nil {
		msgs = upsertLocked(msgs, *autoReply)
	}
	s.convs[convID] = msgs
	snapshot := append([]models.Message(nil), msgs...)
	s.mu.Unlock()

	s.mirrorConversation(convID, snapshot)
	logger.Flow("message_confirmed", "conversation", convID, "local_id", localID, "id", confirmed.ID)
}

// fold inserts one message into a conversation, creating it as LOADED
// when new. Appends preserve an existing LOADED/LOCAL_FALLBACK state.
func (s *Service) fold(convID string, m models.Message) {
	if m.ConversationID == "" {
		m.ConversationID = convID
	}
	s.mu.Lock()
	s.convs[convID] = upsertLocked(s.convs[convID], m)
	if st, ok := s.states[convID]; !ok || st == StateEmpty || st == StateLoading {
		s.states[convID] = StateLoaded
	}
	s.updateGauges()
	s.mu.Unlock()
}
