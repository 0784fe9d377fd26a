package syncer

import (
	"context"
	"sync"

	"autosync/pkg/logger"
	"autosync/pkg/metrics"
	"autosync/pkg/models"
	"autosync/pkg/normalize"
)

// LoadConversations performs a full load for this session. Admin
// sessions fetch the all-messages summary, group it per user, then
// issue one authoritative per-user fetch for every discovered user.
// User sessions load their own conversation, preferring the profile
// payload when one was attached at login. Any failure degrades to the
// local mirror; the caller never sees an error for an upstream outage.
func (s *Service) LoadConversations(ctx context.Context) {
	if s.cfg.Session.Admin {
		s.loadAdmin(ctx)
		return
	}
	s.loadUser(ctx)
}

// RefreshMessages re-runs the full load. Idempotent and safe to call
// mid-flight: an in-flight load is not cancelled, so the last
// completing response wins.
func (s *Service) RefreshMessages(ctx context.Context) {
	s.LoadConversations(ctx)
}

func (s *Service) loadUser(ctx context.Context) {
	own := s.cfg.Session.UserID
	s.setState(own, StateLoading)

	var msgs []models.Message
	if len(s.cfg.Profile) > 0 {
		msgs = make([]models.Message, len(s.cfg.Profile))
		copy(msgs, s.cfg.Profile)
		normalize.Sort(msgs)
		logger.Info("load_from_profile", "conversation", own, "count", len(msgs))
	} else {
		var err error
		msgs, err = s.up.FetchMine(ctx)
		if err != nil {
			logger.Warn("load_failed", "conversation", own, "error", err)
			s.fallbackUser(own)
			return
		}
	}

	s.mu.Lock()
	s.convs[own] = mergePending(msgs, s.convs[own])
	s.states[own] = StateLoaded
	snapshot := append([]models.Message(nil), s.convs[own]...)
	s.updateGauges()
	s.mu.Unlock()

	s.mirrorConversation(own, snapshot)
	logger.Info("load_done", "conversation", own, "count", len(snapshot))
}

// fallbackUser degrades one conversation to the cached snapshot.
func (s *Service) fallbackUser(own string) {
	metrics.LocalFallbacks.Inc()
	msgs, err := s.mirror.Messages(own)
	if err != nil {
		logger.Error("fallback_read_failed", "conversation", own, "error", err)
		msgs = []models.Message{}
	}
	s.mu.Lock()
	s.convs[own] = msgs
	s.states[own] = StateLocalFallback
	s.updateGauges()
	s.mu.Unlock()
	logger.Info("fallback_local", "conversation", own, "count", len(msgs))
}

func (s *Service) loadAdmin(ctx context.Context) {
	all, err := s.up.FetchAdminAll(ctx)
	if err != nil {
		logger.Warn("admin_load_failed", "error", err)
		s.fallbackAdmin()
		return
	}

	provisional, roster := groupByUser(all, s.cfg.Session.UserID)
	for id := range provisional {
		s.setState(id, StateLoading)
	}

	// The summary endpoint may be partial, so every discovered user gets
	// one authoritative per-conversation fetch. Failures are isolated:
	// that user keeps the provisional grouping, siblings are unaffected.
	authoritative := s.fanout(ctx, keysOf(provisional))

	s.mu.Lock()
	for id, msgs := range provisional {
		if auth, ok := authoritative[id]; ok {
			msgs = auth
		}
		s.convs[id] = mergePending(msgs, s.convs[id])
		s.states[id] = StateLoaded
	}
	for _, u := range roster {
		s.rememberUserLocked(u, false)
	}
	convSnapshot := make(map[string][]models.Message, len(provisional))
	for id := range provisional {
		convSnapshot[id] = append([]models.Message(nil), s.convs[id]...)
	}
	userSnapshot := append([]models.KnownUser(nil), s.users...)
	s.updateGauges()
	s.mu.Unlock()

	for id, msgs := range convSnapshot {
		s.mirrorConversation(id, msgs)
	}
	if err := s.mirror.PutKnownUsers(userSnapshot); err != nil {
		logger.Error("mirror_users_failed", "error", err)
	}
	logger.Info("admin_load_done", "conversations", len(convSnapshot), "users", len(userSnapshot))
}

// fallbackAdmin degrades to the full local mirror.
func (s *Service) fallbackAdmin() {
	metrics.LocalFallbacks.Inc()
	convs, err := s.mirror.Conversations()
	if err != nil {
		logger.Error("fallback_scan_failed", "error", err)
		convs = map[string][]models.Message{}
	}
	users, uerr := s.mirror.KnownUsers()
	if uerr != nil {
		users = []models.KnownUser{}
	}
	s.mu.Lock()
	for id, msgs := range convs {
		normalize.Sort(msgs)
		s.convs[id] = msgs
		s.states[id] = StateLocalFallback
	}
	s.users = users
	s.updateGauges()
	s.mu.Unlock()
	logger.Info("fallback_local_mirror", "conversations", len(convs), "users", len(users))
}

// fanout fetches every user's conversation with bounded concurrency and
// returns the ones that succeeded.
func (s *Service) fanout(ctx context.Context, userIDs []string) map[string][]models.Message {
	var (
		mu  sync.Mutex
		out = make(map[string][]models.Message, len(userIDs))
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.FanoutConcurrency)
	)
	for _, id := range userIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()
			msgs, err := s.up.FetchUser(ctx, userID)
			if err != nil {
				logger.Warn("detail_fetch_failed", "conversation", userID, "error", err)
				return
			}
			mu.Lock()
			out[userID] = msgs
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return out
}

// groupByUser splits the admin summary into per-user conversations and
// collects the user roster. The grouping key is the explicit
// conversation id when present; otherwise the non-admin side of the
// exchange, which is the sender for user messages and the recipient for
// admin ones.
func groupByUser(all []models.Message, adminID string) (map[string][]models.Message, []models.KnownUser) {
	convs := make(map[string][]models.Message)
	var roster []models.KnownUser
	seen := make(map[string]bool)

	for _, m := range all {
		key := m.ConversationID
		if key == "" {
			if m.Sender == models.SenderAdmin {
				key = m.RecipientID
			} else {
				key = m.SenderID
			}
		}
		if key == "" || key == adminID {
			continue
		}
		convs[key] = append(convs[key], m)

		u := models.KnownUser{ID: key}
		if m.Sender != models.SenderAdmin && m.SenderID == key {
			u.Name = m.SenderName
			u.Email = m.SenderEmail
		}
		if !seen[key] {
			seen[key] = true
			roster = append(roster, u)
		} else if u.Name != "" {
			// backfill metadata found on a later message
			for i := range roster {
				if roster[i].ID == key && roster[i].Name == "" {
					roster[i].Name = u.Name
					roster[i].Email = u.Email
				}
			}
		}
	}
	for _, msgs := range convs {
		normalize.Sort(msgs)
	}
	return convs, roster
}

// mergePending carries locally pending messages forward into a freshly
// loaded conversation so a reload cannot silently drop queued input.
// Records the upstream now knows about replace their pending twins by
// ID.
func mergePending(loaded, prev []models.Message) []models.Message {
	if len(prev) == 0 {
		return loaded
	}
	have := make(map[string]bool, len(loaded))
	for _, m := range loaded {
		have[m.ID] = true
	}
	changed := false
	for _, m := range prev {
		if m.Pending && !have[m.ID] {
			loaded = append(loaded, m)
			changed = true
		}
	}
	if changed {
		normalize.Sort(loaded)
	}
	return loaded
}

func (s *Service) setState(convID, state string) {
	s.mu.Lock()
	s.states[convID] = state
	s.mu.Unlock()
}

func (s *Service) mirrorConversation(convID string, msgs []models.Message) {
	if err := s.mirror.PutMessages(convID, msgs); err != nil {
		logger.Error("mirror_write_failed", "conversation", convID, "error", err)
	}
}

func keysOf(m map[string][]models.Message) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
