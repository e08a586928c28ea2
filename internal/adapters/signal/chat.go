package signal

import (
	"github.com/nhan2892005/study-space-media/internal/domain"
)

// handleChatMessage authorizes, persists (fire-and-forget) and fans the
// message out to every session currently in the channel, sender
// included. Per-channel send order is preserved by each connection's
// ordered send queue.
func (ctl *Controller) handleChatMessage(s *Session, req Request) {
	p, err := decode[messagePayload](ctl, req.Data)
	if err != nil {
		ctl.replyErr(s, req.ID, codeBadRequest, "bad message payload")
		return
	}

	s.mu.Lock()
	if s.state != StateInRoom && s.state != StateAuthenticated {
		s.mu.Unlock()
		ctl.replyErr(s, req.ID, codeNotAuthenticated, "not authenticated")
		return
	}
	user := s.user
	s.mu.Unlock()

	channelID := domain.ChannelID(p.ChannelID)
	msg, err := ctl.chat.Compose(s.ctx, user, channelID, p.Content)
	if err != nil {
		ctl.replyFail(s, req.ID, err)
		return
	}

	ctl.reply(s, req.ID, map[string]any{"id": msg.ID})
	for _, peer := range ctl.sessionsInRoom(channelID, "") {
		ctl.send(peer, push{Event: "new-message", Data: msg})
	}
}
