// Package core declares the seams between the real-time media layer and
// the rest of the platform. Implementations live in adapters; nothing in
// here touches the network itself.
package core

import (
	"context"
	"errors"

	"github.com/nhan2892005/study-space-media/internal/domain"
)

// Frame is a raw outbound payload (an encoded signaling frame).
type Frame []byte

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotMember       = errors.New("not a member of channel")
)

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues a frame without blocking. Enqueued frames are
	// delivered in order; a full queue returns an error (backpressure).
	TrySend(Frame) error
	Close()
}

// Identity supplies the authenticated principal for a connection.
// The media layer trusts it and does no authentication itself.
type Identity interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Membership answers whether a user may enter a channel. Consulted,
// never mutated, by this layer.
type Membership interface {
	IsMember(ctx context.Context, user domain.UserID, channel domain.ChannelID) (bool, error)
}

// ChatStore persists chat history. Calls are fire-and-forget: the
// real-time path never blocks on durability.
type ChatStore interface {
	SaveMessage(ctx context.Context, msg *domain.Message) error
}

// BlobStore is an opaque sink for uploaded media and recordings.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
}
