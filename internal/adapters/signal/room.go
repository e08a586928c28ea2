package signal

import (
	"github.com/nhan2892005/study-space-media/internal/domain"
)

type peerSummary struct {
	SocketID string        `json:"socketId"`
	PeerID   domain.UserID `json:"peerId"`
	Username string        `json:"username"`
	Tags     []string      `json:"tags"` // producer tags, e.g. "camera", "screen"
}

// handleJoin verifies membership, acquires the room's router from the
// registry and moves the session to InRoom. A session already in a room
// is moved out of it first.
func (ctl *Controller) handleJoin(s *Session, req Request) {
	p, err := decode[joinChannelPayload](ctl, req.Data)
	if err != nil {
		ctl.replyErr(s, req.ID, codeBadRequest, "bad join payload")
		return
	}

	s.mu.Lock()
	if s.state == StateClosed || s.state == StateConnected {
		s.mu.Unlock()
		ctl.replyErr(s, req.ID, codeNotAuthenticated, "not authenticated")
		return
	}
	user := s.user
	wasInRoom := s.state == StateInRoom
	s.mu.Unlock()

	if wasInRoom {
		ctl.leaveRoom(s)
	}

	channelID := domain.ChannelID(p.ChannelID)
	ok, err := ctl.membership.IsMember(s.ctx, user.ID, channelID)
	if err != nil {
		ctl.replyFail(s, req.ID, err)
		return
	}
	if !ok {
		ctl.replyErr(s, req.ID, codeNotMember, "not a member of channel")
		return
	}

	router, err := ctl.media.GetOrCreateRouter(p.ChannelID)
	if err != nil {
		// Capacity failures are terminal for this join attempt; the
		// client decides whether to retry.
		ctl.replyFail(s, req.ID, err)
		return
	}

	s.mu.Lock()
	s.roomID = channelID
	s.router = router
	s.state = StateInRoom
	s.mu.Unlock()

	peers := ctl.peersSnapshot(channelID, s.id)
	ctl.logger.Info().
		Str("sid", s.id).
		Str("user", string(user.ID)).
		Str("channel", p.ChannelID).
		Msg("joined channel")

	ctl.reply(s, req.ID, map[string]any{
		"channelId": p.ChannelID,
		"socketId":  s.id,
		"peers":     peers,
	})
	ctl.pushRoom(channelID, s.id, "member-joined", peerSummary{
		SocketID: s.id,
		PeerID:   user.ID,
		Username: user.Username,
	})
}

func (ctl *Controller) peersSnapshot(roomID domain.ChannelID, except string) []peerSummary {
	sessions := ctl.sessionsInRoom(roomID, except)
	out := make([]peerSummary, 0, len(sessions))
	for _, peer := range sessions {
		peer.mu.Lock()
		ps := peerSummary{
			SocketID: peer.id,
			PeerID:   peer.user.ID,
			Username: peer.user.Username,
		}
		for _, tag := range peer.producers {
			ps.Tags = append(ps.Tags, tag)
		}
		peer.mu.Unlock()
		out = append(out, ps)
	}
	return out
}

func (ctl *Controller) handleLeave(s *Session, req Request) {
	if _, err := decode[leaveChannelPayload](ctl, req.Data); err != nil {
		ctl.replyErr(s, req.ID, codeBadRequest, "bad leave payload")
		return
	}
	ctl.leaveRoom(s)
	ctl.reply(s, req.ID, map[string]any{})
}

// leaveRoom tears down the session's media state: both transports are
// closed (cascading to producers/consumers), the registry reference is
// released and peers are told explicitly rather than left to infer the
// departure from silent consumers.
func (ctl *Controller) leaveRoom(s *Session) {
	s.mu.Lock()
	if s.state != StateInRoom {
		s.mu.Unlock()
		return
	}
	roomID := s.roomID
	router := s.router
	user := s.user
	sendT, recvT := s.sendTransport, s.recvTransport
	hadProducers := len(s.producers) > 0

	s.roomID = ""
	s.router = nil
	s.sendTransport = ""
	s.recvTransport = ""
	s.producers = make(map[string]string)
	s.consumers = make(map[string]struct{})
	s.state = StateAuthenticated
	s.mu.Unlock()

	if router != nil {
		if sendT != "" {
			_ = router.CloseTransport(s.id, sendT)
		}
		if recvT != "" {
			_ = router.CloseTransport(s.id, recvT)
		}
	}
	ctl.media.Release(string(roomID), router)

	if hadProducers {
		ctl.pushRoom(roomID, s.id, "user-left-stream", map[string]any{
			"channelId": string(roomID),
			"socketId":  s.id,
			"peerId":    user.ID,
		})
	}
	ctl.pushRoom(roomID, s.id, "peerLeft", map[string]any{
		"socketId": s.id,
		"peerId":   user.ID,
	})
	ctl.logger.Info().
		Str("sid", s.id).
		Str("channel", string(roomID)).
		Msg("left channel")
}
