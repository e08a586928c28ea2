// Package platform holds development implementations of the external
// collaborators. Production deployments replace these with clients of
// the identity, membership and persistence services.
package platform

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nhan2892005/study-space-media/internal/core"
	"github.com/nhan2892005/study-space-media/internal/domain"
)

// TokenIdentity treats the client token itself as the principal: the
// token is both user id and display name. Good enough for local runs.
type TokenIdentity struct{}

func (TokenIdentity) Authenticate(_ context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, core.ErrUnauthenticated
	}
	return &domain.User{ID: domain.UserID(token), Username: token}, nil
}

// AllowAllMembership admits every user to every channel.
type AllowAllMembership struct{}

func (AllowAllMembership) IsMember(context.Context, domain.UserID, domain.ChannelID) (bool, error) {
	return true, nil
}

// StaticMembership admits only explicitly granted pairs.
type StaticMembership struct {
	mu      sync.RWMutex
	allowed map[domain.ChannelID]map[domain.UserID]struct{}
}

func NewStaticMembership() *StaticMembership {
	return &StaticMembership{allowed: make(map[domain.ChannelID]map[domain.UserID]struct{})}
}

func (m *StaticMembership) Grant(user domain.UserID, channel domain.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowed[channel] == nil {
		m.allowed[channel] = make(map[domain.UserID]struct{})
	}
	m.allowed[channel][user] = struct{}{}
}

func (m *StaticMembership) IsMember(_ context.Context, user domain.UserID, channel domain.ChannelID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.allowed[channel][user]
	return ok, nil
}

// LogChatStore discards history after logging it. The platform's real
// store lives behind the same interface.
type LogChatStore struct{}

func (LogChatStore) SaveMessage(_ context.Context, msg *domain.Message) error {
	log.Debug().
		Str("module", "platform.chat").
		Str("channel", string(msg.ChannelID)).
		Str("author", string(msg.AuthorID)).
		Msg("message persisted")
	return nil
}

// MemoryBlobStore keeps uploaded blobs in memory.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (b *MemoryBlobStore) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[key] = cp
	return nil
}

func (b *MemoryBlobStore) Get(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	return data, ok
}
