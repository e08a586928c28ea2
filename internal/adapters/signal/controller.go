package signal

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nhan2892005/study-space-media/internal/chat"
	"github.com/nhan2892005/study-space-media/internal/config"
	"github.com/nhan2892005/study-space-media/internal/core"
	"github.com/nhan2892005/study-space-media/internal/domain"
	"github.com/nhan2892005/study-space-media/internal/media"
)

// Controller owns every live signaling session and drives the media
// registry on their behalf. It is the single place that mutates the
// session map; all access goes through its methods.
type Controller struct {
	cfg        *config.Config
	identity   core.Identity
	membership core.Membership
	chat       *chat.Service
	media      *media.Registry
	validate   *validator.Validate
	logger     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewController(cfg *config.Config, identity core.Identity, membership core.Membership, chatSvc *chat.Service, registry *media.Registry) *Controller {
	return &Controller{
		cfg:        cfg,
		identity:   identity,
		membership: membership,
		chat:       chatSvc,
		media:      registry,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     log.With().Str("module", "signal").Logger(),
		sessions:   make(map[string]*Session),
	}
}

// Attach authenticates the connection and registers a session for it.
// An identity failure terminates the connection before any state is
// allocated.
func (ctl *Controller) Attach(ctx context.Context, token string, conn core.SignalConnection) (*Session, error) {
	s := &Session{
		id:        uuid.NewString(),
		ctx:       ctx,
		conn:      conn,
		state:     StateConnected,
		producers: make(map[string]string),
		consumers: make(map[string]struct{}),
	}
	s.touch()

	user, err := ctl.identity.Authenticate(ctx, token)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		conn.Close()
		return nil, err
	}

	s.mu.Lock()
	s.user = user
	s.state = StateAuthenticated
	s.mu.Unlock()

	ctl.mu.Lock()
	ctl.sessions[s.id] = s
	ctl.mu.Unlock()

	ctl.logger.Info().
		Str("sid", s.id).
		Str("user", string(user.ID)).
		Msg("session attached")

	ctl.send(s, push{Event: "ready", Data: map[string]any{
		"socketId": s.id,
		"user":     user,
	}})
	return s, nil
}

// Detach runs the full cleanup path for a session, whether it left
// politely or the connection just dropped.
func (ctl *Controller) Detach(s *Session) {
	ctl.mu.Lock()
	delete(ctl.sessions, s.id)
	ctl.mu.Unlock()

	ctl.leaveRoom(s)

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.conn.Close()
	ctl.logger.Info().Str("sid", s.id).Msg("session detached")
}

// HandleMessage dispatches one inbound frame. Every request-style call
// is answered; malformed payloads are rejected at the boundary.
func (ctl *Controller) HandleMessage(s *Session, data []byte) {
	s.touch()

	var req Request
	if err := json.Unmarshal(data, &req); err != nil || req.Type == "" {
		ctl.logger.Warn().Str("sid", s.id).Msg("malformed envelope")
		ctl.send(s, response{OK: false, Error: &wireError{Code: codeBadRequest, Message: "malformed envelope"}})
		return
	}

	switch req.Type {
	case "ping":
		ctl.reply(s, req.ID, map[string]any{})
	case "join-channel":
		ctl.handleJoin(s, req)
	case "leave-channel":
		ctl.handleLeave(s, req)
	case "getRouterRtpCapabilities":
		ctl.handleGetCapabilities(s, req)
	case "createWebRtcTransport":
		ctl.handleCreateTransport(s, req)
	case "connectTransport":
		ctl.handleConnectTransport(s, req)
	case "produce":
		ctl.handleProduce(s, req)
	case "closeProducer":
		ctl.handleCloseProducer(s, req)
	case "consume":
		ctl.handleConsume(s, req)
	case "resumeConsumer":
		ctl.handleResumeConsumer(s, req)
	case "message":
		ctl.handleChatMessage(s, req)
	case "streamStarted":
		ctl.handleStreamPresence(s, req, "user-joined-stream")
	case "streamStopped":
		ctl.handleStreamPresence(s, req, "user-left-stream")
	default:
		ctl.logger.Warn().Str("sid", s.id).Str("type", req.Type).Msg("unknown request")
		ctl.replyErr(s, req.ID, codeBadRequest, "unknown request type")
	}
}

func (ctl *Controller) send(s *Session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		ctl.logger.Error().Err(err).Str("sid", s.id).Msg("marshal outbound")
		return
	}
	if err := s.conn.TrySend(b); err != nil {
		ctl.logger.Warn().Err(err).Str("sid", s.id).Msg("send dropped")
	}
}

func (ctl *Controller) reply(s *Session, id uint64, data any) {
	ctl.send(s, response{ID: id, OK: true, Data: data})
}

func (ctl *Controller) replyErr(s *Session, id uint64, code, msg string) {
	ctl.send(s, response{ID: id, OK: false, Error: &wireError{Code: code, Message: msg}})
}

func (ctl *Controller) replyFail(s *Session, id uint64, err error) {
	ctl.replyErr(s, id, errCode(err), err.Error())
}

// sessionsInRoom snapshots the sessions currently in a room, optionally
// excluding one session id.
func (ctl *Controller) sessionsInRoom(roomID domain.ChannelID, except string) []*Session {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	out := make([]*Session, 0, len(ctl.sessions))
	for sid, s := range ctl.sessions {
		if sid == except {
			continue
		}
		if s.Room() == roomID && s.State() == StateInRoom {
			out = append(out, s)
		}
	}
	return out
}

// pushRoom fans a fire-and-forget event out to every InRoom session of
// the room, except the named one. At-most-once, no acknowledgment.
func (ctl *Controller) pushRoom(roomID domain.ChannelID, except, event string, data any) {
	for _, peer := range ctl.sessionsInRoom(roomID, except) {
		ctl.send(peer, push{Event: event, Data: data})
	}
}
