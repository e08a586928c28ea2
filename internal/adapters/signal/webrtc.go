package signal

import (
	"github.com/nhan2892005/study-space-media/internal/media"
)

func (ctl *Controller) handleGetCapabilities(s *Session, req Request) {
	p, err := decode[getCapsPayload](ctl, req.Data)
	if err != nil {
		ctl.replyErr(s, req.ID, codeBadRequest, "bad payload")
		return
	}
	router, ok := s.roomView(p.ChannelID)
	if !ok {
		ctl.replyErr(s, req.ID, codeBadRequest, "not in channel")
		return
	}
	ctl.reply(s, req.ID, map[string]any{
		"rtpCapabilities": router.Capabilities(),
	})
}

// handleCreateTransport allocates a transport for the caller. A session
// has at most one transport per direction; a second request replaces and
// closes the prior one.
func (ctl *Controller) handleCreateTransport(s *Session, req Request) {
	p, err := decode[createTransportPayload](ctl, req.Data)
	if err != nil {
		ctl.replyErr(s, req.ID, codeBadRequest, "bad payload")
		return
	}
	router, ok := s.roomView(p.ChannelID)
	if !ok {
		ctl.replyErr(s, req.ID, codeBadRequest, "not in channel")
		return
	}
	direction := media.Direction(p.Direction)

	s.mu.Lock()
	var prior string
	switch direction {
	case media.DirectionSend:
		prior = s.sendTransport
	case media.DirectionRecv:
		prior = s.recvTransport
	}
	s.mu.Unlock()
	if prior != "" {
		_ = router.CloseTransport(s.id, prior)
		// The cascade just closed everything on the old transport; the
		// session's bookkeeping must not keep the dead ids.
		s.mu.Lock()
		switch direction {
		case media.DirectionSend:
			s.producers = make(map[string]string)
		case media.DirectionRecv:
			s.consumers = make(map[string]struct{})
		}
		s.mu.Unlock()
	}

	t, err := router.CreateTransport(s.id, direction)
	if err != nil {
		ctl.replyFail(s, req.ID, err)
		return
	}

	// Transport failure is recoverable: the owner is told so the client
	// can recreate the transport; the session itself survives.
	t.OnClosed(func(state media.TransportState) {
		if state != media.TransportFailed {
			return
		}
		ctl.send(s, push{Event: "transportClosed", Data: map[string]any{
			"transportId": t.ID(),
			"state":       string(state),
		}})
	})

	s.mu.Lock()
	switch direction {
	case media.DirectionSend:
		s.sendTransport = t.ID()
	case media.DirectionRecv:
		s.recvTransport = t.ID()
	}
	s.mu.Unlock()

	ctl.reply(s, req.ID, t.Info())
}

func (ctl *Controller) handleConnectTransport(s *Session, req Request) {
	p, err := decode[connectTransportPayload](ctl, req.Data)
	if err != nil {
		ctl.replyErr(s, req.ID, codeBadRequest, "bad payload")
		return
	}
	router, ok := s.roomView("")
	if !ok {
		ctl.replyErr(s, req.ID, codeBadRequest, "not in channel")
		return
	}
	if err := router.ConnectTransport(s.id, p.TransportID, p.DTLSParameters); err != nil {
		ctl.replyFail(s, req.ID, err)
		return
	}
	ctl.reply(s, req.ID, map[string]any{})
}

// handleProduce registers the caller's new track and pushes a
// newProducer event to every other session in the room. The push is sent
// only after the producer is fully registered, so a consume triggered by
// it can never race ahead of the produce.
func (ctl *Controller) handleProduce(s *Session, req Request) {
	p, err := decode[producePayload](ctl, req.Data)
	if err != nil {
		ctl.replyErr(s, req.ID, codeBadRequest, "bad payload")
		return
	}
	router, ok := s.roomView(p.ChannelID)
	if !ok {
		ctl.replyErr(s, req.ID, codeBadRequest, "not in channel")
		return
	}

	s.mu.Lock()
	user := s.user
	roomID := s.roomID
	s.mu.Unlock()

	producer, err := router.Produce(s.id, string(user.ID), p.TransportID, media.Kind(p.Kind), p.RtpParameters, p.Tag)
	if err != nil {
		ctl.replyFail(s, req.ID, err)
		return
	}

	s.mu.Lock()
	s.producers[producer.ID()] = p.Tag
	s.mu.Unlock()

	ctl.reply(s, req.ID, map[string]any{"id": producer.ID()})
	ctl.pushRoom(roomID, s.id, "newProducer", map[string]any{
		"producerId":           producer.ID(),
		"producerPeerId":       user.ID,
		"producerPeerSocketId": s.id,
		"kind":                 string(producer.Kind()),
		"tag":                  p.Tag,
	})
}

func (ctl *Controller) handleCloseProducer(s *Session, req Request) {
	p, err := decode[closeProducerPayload](ctl, req.Data)
	if err != nil {
		ctl.replyErr(s, req.ID, codeBadRequest, "bad payload")
		return
	}
	router, ok := s.roomView("")
	if !ok {
		ctl.replyErr(s, req.ID, codeBadRequest, "not in channel")
		return
	}
	if err := router.CloseProducer(s.id, p.ProducerID); err != nil {
		ctl.replyFail(s, req.ID, err)
		return
	}

	s.mu.Lock()
	delete(s.producers, p.ProducerID)
	user := s.user
	roomID := s.roomID
	s.mu.Unlock()

	ctl.reply(s, req.ID, map[string]any{})
	ctl.pushRoom(roomID, s.id, "producerClosed", map[string]any{
		"producerId": p.ProducerID,
		"peerId":     user.ID,
		"socketId":   s.id,
	})
}

func (ctl *Controller) handleConsume(s *Session, req Request) {
	p, err := decode[consumePayload](ctl, req.Data)
	if err != nil {
		ctl.replyErr(s, req.ID, codeBadRequest, "bad payload")
		return
	}
	router, ok := s.roomView(p.ChannelID)
	if !ok {
		ctl.replyErr(s, req.ID, codeBadRequest, "not in channel")
		return
	}
	consumer, err := router.Consume(s.id, p.TransportID, p.ProducerID, p.RtpCapabilities)
	if err != nil {
		ctl.replyFail(s, req.ID, err)
		return
	}

	s.mu.Lock()
	s.consumers[consumer.ID()] = struct{}{}
	s.mu.Unlock()

	ctl.reply(s, req.ID, map[string]any{
		"id":            consumer.ID(),
		"producerId":    consumer.ProducerID(),
		"kind":          string(consumer.Kind()),
		"rtpParameters": consumer.Params(),
	})
}

func (ctl *Controller) handleResumeConsumer(s *Session, req Request) {
	p, err := decode[resumeConsumerPayload](ctl, req.Data)
	if err != nil {
		ctl.replyErr(s, req.ID, codeBadRequest, "bad payload")
		return
	}
	router, ok := s.roomView("")
	if !ok {
		ctl.replyErr(s, req.ID, codeBadRequest, "not in channel")
		return
	}
	if err := router.ResumeConsumer(s.id, p.ConsumerID); err != nil {
		ctl.replyFail(s, req.ID, err)
		return
	}
	ctl.reply(s, req.ID, map[string]any{})
}

// handleStreamPresence relays the client's stream start/stop notice to
// the rest of the channel.
func (ctl *Controller) handleStreamPresence(s *Session, req Request, event string) {
	p, err := decode[streamPresencePayload](ctl, req.Data)
	if err != nil {
		ctl.replyErr(s, req.ID, codeBadRequest, "bad payload")
		return
	}
	_, ok := s.roomView(p.ChannelID)
	if !ok {
		ctl.replyErr(s, req.ID, codeBadRequest, "not in channel")
		return
	}

	s.mu.Lock()
	user := s.user
	roomID := s.roomID
	s.mu.Unlock()

	ctl.reply(s, req.ID, map[string]any{})
	ctl.pushRoom(roomID, s.id, event, map[string]any{
		"channelId": p.ChannelID,
		"socketId":  s.id,
		"peerId":    user.ID,
		"username":  user.Username,
	})
}
