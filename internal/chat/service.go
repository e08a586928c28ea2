// Package chat validates and persists channel messages. Fan-out to the
// connected sessions is done by the signaling layer; this service never
// blocks the real-time path on durability.
package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nhan2892005/study-space-media/internal/core"
	"github.com/nhan2892005/study-space-media/internal/domain"
)

type Service struct {
	membership core.Membership
	store      core.ChatStore
	logger     zerolog.Logger
}

func NewService(membership core.Membership, store core.ChatStore) *Service {
	return &Service{
		membership: membership,
		store:      store,
		logger:     log.With().Str("module", "chat").Logger(),
	}
}

// Compose authorizes the author against channel membership, builds the
// message and hands it to the store fire-and-forget. The returned
// message is what the caller broadcasts.
func (s *Service) Compose(ctx context.Context, author *domain.User, channel domain.ChannelID, content string) (*domain.Message, error) {
	ok, err := s.membership.IsMember(ctx, author.ID, channel)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return nil, core.ErrNotMember
	}

	msg, err := domain.NewMessage(channel, author, content)
	if err != nil {
		return nil, err
	}

	// Persist off the hot path. A lost write costs one history entry,
	// never a delayed broadcast.
	go func() {
		if err := s.store.SaveMessage(context.WithoutCancel(ctx), msg); err != nil {
			s.logger.Error().Err(err).
				Str("channel", string(channel)).
				Str("message_id", string(msg.ID)).
				Msg("save message failed")
		}
	}()

	return msg, nil
}
